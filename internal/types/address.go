// Package types holds the wire-level data model shared by every component:
// addresses, stake/delegate deltas, history records and the total-amount
// aggregate. It has no dependency on storage or chain packages.
package types

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AddressLen is the fixed width of both address flavors used by the protocol.
const AddressLen = 20

// HashLen is the fixed width of type-id / code-hash references.
const HashLen = 32

// Address is a 20-byte base-chain address. Conversion to/from the EVM-style
// flavor is always explicit; the core never mixes the two implicitly.
type Address [AddressLen]byte

// EVMAddress is a 20-byte EVM-style address (an alias shape of go-ethereum's
// common.Address, kept distinct at the type level).
type EVMAddress [AddressLen]byte

// Hash is a 32-byte type-id / code-hash reference.
type Hash [HashLen]byte

// ToEVM converts a base-chain address to its EVM-style counterpart. The
// conversion is a straight byte copy: both flavors are 20-byte identifiers
// over the same key space.
func (a Address) ToEVM() EVMAddress {
	return EVMAddress(a)
}

// FromEVM converts an EVM-style address to a base-chain address.
func FromEVM(e EVMAddress) Address {
	return Address(e)
}

// CommonAddress adapts to go-ethereum's common.Address, used when talking to
// the EVM-flavored parts of the wire contract (signing, RLP helpers).
func (e EVMAddress) CommonAddress() common.Address {
	return common.Address(e)
}

// AddressFromCommon builds an EVMAddress from a go-ethereum common.Address.
func AddressFromCommon(c common.Address) EVMAddress {
	return EVMAddress(c)
}

// Bytes returns the address as a byte slice.
func (a Address) Bytes() []byte { return a[:] }

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte { return h[:] }

// String renders the address as 0x-prefixed hex.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String renders the hash as 0x-prefixed hex.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// ParseAddress decodes a 0x-prefixed or bare hex string into an Address.
func ParseAddress(s string) (Address, error) {
	b, err := decodeFixedHex(s, AddressLen)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// ParseHash decodes a 0x-prefixed or bare hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	b, err := decodeFixedHex(s, HashLen)
	if err != nil {
		return Hash{}, fmt.Errorf("parse hash %q: %w", s, err)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

func decodeFixedHex(s string, width int) ([]byte, error) {
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != width {
		return nil, fmt.Errorf("expected %d bytes, got %d", width, len(b))
	}
	return b, nil
}

// AddressLess reports whether a sorts before b, used for the stable
// tie-break on staker address bytes during top-K eviction.
func AddressLess(a, b Address) bool {
	for i := 0; i < AddressLen; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
