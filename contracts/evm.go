package contracts

import (
	"github.com/ethereum/go-ethereum/common"
)

// FilterEVM keeps only identifiers that are 20-byte hex addresses and
// rewrites them in EIP-55 checksum form. Identifiers that differ only in
// case collapse into one entry.
func FilterEVM(s Set) Set {
	out := make(Set, len(s))
	for id := range s {
		if common.IsHexAddress(id) {
			out.Add(common.HexToAddress(id).Hex())
		}
	}
	return out
}
