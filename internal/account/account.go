// Package account holds the benchmark's sender keys and the deterministic
// receiver address scheme.
package account

import (
	"context"
	"crypto/ecdsa"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NonceSource reads an account nonce from the chain.
type NonceSource interface {
	GetNonce(ctx context.Context, address string, tag string) (uint64, error)
}

// Account holds a sender's key and the local mirror of its next nonce.
type Account struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
	nonce      uint64
	mu         sync.Mutex
}

// NewAccount creates an account from a private key.
func NewAccount(privateKey *ecdsa.PrivateKey) *Account {
	return &Account{
		PrivateKey: privateKey,
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// NewAccountFromHex creates an account from a hex-encoded private key.
func NewAccountFromHex(hexKey string) (*Account, error) {
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, err
	}
	return NewAccount(privateKey), nil
}

// Resync loads the latest nonce from the chain into the local mirror.
func (a *Account) Resync(ctx context.Context, src NonceSource) error {
	nonce, err := src.GetNonce(ctx, a.Address.Hex(), "latest")
	if err != nil {
		return err
	}
	a.SetNonce(nonce)
	return nil
}

// SetNonce sets the nonce value directly.
func (a *Account) SetNonce(nonce uint64) {
	a.mu.Lock()
	a.nonce = nonce
	a.mu.Unlock()
}

// PeekNonce returns the current nonce without incrementing.
func (a *Account) PeekNonce() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonce
}

// NextNonce returns the current nonce and increments it atomically.
func (a *Account) NextNonce() uint64 {
	a.mu.Lock()
	nonce := a.nonce
	a.nonce++
	a.mu.Unlock()
	return nonce
}

// Advance moves the mirror forward by n, after n nonces were consumed by a presigned batch.
func (a *Account) Advance(n uint64) {
	a.mu.Lock()
	a.nonce += n
	a.mu.Unlock()
}
