package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ReceiverAddress derives a receiver from a numeric seed. The seed is written as a
// zero-padded decimal string of address width and those bytes are the address, so
// distinct seeds below 10^20 always give distinct receivers.
func ReceiverAddress(seed uint64) common.Address {
	var addr common.Address
	copy(addr[:], fmt.Sprintf("%0*d", common.AddressLength, seed))
	return addr
}

// GenerateReceivers returns the n receivers for seeds shift .. shift+n-1.
func GenerateReceivers(n int, shift uint64) []common.Address {
	out := make([]common.Address, n)
	for i := range out {
		out[i] = ReceiverAddress(shift + uint64(i))
	}
	return out
}

// ReceiverShift is the first receiver seed of a sender in a sharded run.
func ReceiverShift(senderIndex, n int) uint64 {
	return uint64(senderIndex) * uint64(n)
}
