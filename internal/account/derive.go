package account

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultSenderDerivation is the blueprint of pre-funded sender accounts.
const DefaultSenderDerivation = "//Sender/"

const maxDeriveRounds = 8

// DeriveKey derives the index-th key of a derivation blueprint as
// keccak256(derivation + index), rehashing in the negligible case that the
// digest is not a valid secp256k1 scalar.
func DeriveKey(derivation string, index int) (*ecdsa.PrivateKey, error) {
	seed := crypto.Keccak256([]byte(derivation + strconv.Itoa(index)))
	for range maxDeriveRounds {
		key, err := crypto.ToECDSA(seed)
		if err == nil {
			return key, nil
		}
		seed = crypto.Keccak256(seed)
	}
	return nil, fmt.Errorf("derive %s%d: no valid key", derivation, index)
}

// DeriveAccount derives the index-th account of a blueprint.
func DeriveAccount(derivation string, index int) (*Account, error) {
	key, err := DeriveKey(derivation, index)
	if err != nil {
		return nil, err
	}
	return NewAccount(key), nil
}

// DeriveAccounts derives accounts 0..n-1 of a blueprint.
func DeriveAccounts(derivation string, n int) ([]*Account, error) {
	out := make([]*Account, 0, n)
	for i := range n {
		acc, err := DeriveAccount(derivation, i)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

// FundingAlloc builds a genesis alloc crediting each of the n derived senders with balance.
func FundingAlloc(derivation string, n int, balance *big.Int) (types.GenesisAlloc, error) {
	accounts, err := DeriveAccounts(derivation, n)
	if err != nil {
		return nil, err
	}
	alloc := make(types.GenesisAlloc, n)
	for _, acc := range accounts {
		alloc[acc.Address] = types.Account{Balance: new(big.Int).Set(balance)}
	}
	return alloc, nil
}
