package types

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
)

// DeltaEncodedLen is the exact wire length of an encoded Delta: 1 direction
// byte followed by a 16-byte little-endian u128.
const DeltaEncodedLen = 17

// DelegateDeltaEncodedLen is the exact wire length of an encoded
// DelegateDelta: 20 bytes of staker address followed by a 17-byte Delta.
const DelegateDeltaEncodedLen = AddressLen + DeltaEncodedLen

// Delta is a signed stake/delegate change expressed as a direction flag plus
// an unsigned magnitude, since the protocol's u128 amounts have no native
// sign bit on the wire.
type Delta struct {
	IsIncrease bool
	Amount     *big.Int // non-negative, fits in 128 bits
}

// NewDelta builds a Delta from a direction and a uint64 magnitude, a
// convenience for call sites and tests that don't need full u128 range.
func NewDelta(isIncrease bool, amount uint64) Delta {
	return Delta{IsIncrease: isIncrease, Amount: new(big.Int).SetUint64(amount)}
}

// Signed returns +Amount if increasing, -Amount if decreasing.
func (d Delta) Signed() *big.Int {
	v := new(big.Int).Set(d.amountOrZero())
	if !d.IsIncrease {
		v.Neg(v)
	}
	return v
}

func (d Delta) amountOrZero() *big.Int {
	if d.Amount == nil {
		return big.NewInt(0)
	}
	return d.Amount
}

// Encode writes the 17-byte wire form: 1 byte direction (0 = increase,
// 1 = decrease) followed by 16 bytes little-endian u128.
func (d Delta) Encode() []byte {
	out := make([]byte, DeltaEncodedLen)
	if !d.IsIncrease {
		out[0] = 1
	}
	putU128LE(out[1:17], d.amountOrZero())
	return out
}

// DecodeDelta parses the 17-byte wire form produced by Encode.
func DecodeDelta(raw []byte) (Delta, error) {
	if len(raw) != DeltaEncodedLen {
		return Delta{}, fmt.Errorf("delta: invalid length %d, want %d", len(raw), DeltaEncodedLen)
	}
	amount := getU128LE(raw[1:17])
	return Delta{IsIncrease: raw[0] == 0, Amount: amount}, nil
}

// Sub returns the signed subtraction a.Sub(b), i.e. signed(a) - signed(b),
// re-expressed in {is_increase, amount} form.
func (d Delta) Sub(other Delta) Delta {
	diff := new(big.Int).Sub(d.Signed(), other.Signed())
	if diff.Sign() >= 0 {
		return Delta{IsIncrease: true, Amount: diff}
	}
	return Delta{IsIncrease: false, Amount: diff.Neg(diff)}
}

// DelegateDelta pairs a staker address with the delta a delegator applied
// against that staker's backing.
type DelegateDelta struct {
	Staker Address
	Delta  Delta
}

// Encode writes the 37-byte wire form: 20-byte staker address followed by
// the 17-byte Delta encoding.
func (d DelegateDelta) Encode() []byte {
	out := make([]byte, DelegateDeltaEncodedLen)
	copy(out[0:AddressLen], d.Staker[:])
	copy(out[AddressLen:], d.Delta.Encode())
	return out
}

// DecodeDelegateDelta parses the 37-byte wire form produced by Encode.
func DecodeDelegateDelta(raw []byte) (DelegateDelta, error) {
	if len(raw) != DelegateDeltaEncodedLen {
		return DelegateDelta{}, fmt.Errorf("delegate delta: invalid length %d, want %d", len(raw), DelegateDeltaEncodedLen)
	}
	var staker Address
	copy(staker[:], raw[0:AddressLen])
	delta, err := DecodeDelta(raw[AddressLen:])
	if err != nil {
		return DelegateDelta{}, err
	}
	return DelegateDelta{Staker: staker, Delta: delta}, nil
}

// DelegateDeltas is an ordered map keyed by staker address, canonically
// encoded in key order so that independent encoders agree byte-for-byte.
type DelegateDeltas struct {
	entries map[Address]Delta
}

// NewDelegateDeltas builds an empty DelegateDeltas map.
func NewDelegateDeltas() *DelegateDeltas {
	return &DelegateDeltas{entries: make(map[Address]Delta)}
}

// Set records (or replaces) the delta owed to staker.
func (m *DelegateDeltas) Set(staker Address, d Delta) {
	m.entries[staker] = d
}

// Get returns the delta recorded for staker, if any.
func (m *DelegateDeltas) Get(staker Address) (Delta, bool) {
	d, ok := m.entries[staker]
	return d, ok
}

// Len returns the number of stakers tracked.
func (m *DelegateDeltas) Len() int { return len(m.entries) }

// sortedStakers returns the staker keys in ascending byte order.
func (m *DelegateDeltas) sortedStakers() []Address {
	out := make([]Address, 0, len(m.entries))
	for a := range m.entries {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return AddressLess(out[i], out[j]) })
	return out
}

// Encode writes the canonical form: a 4-byte little-endian count followed by
// each entry's 37-byte encoding, iterated in staker key order.
func (m *DelegateDeltas) Encode() []byte {
	stakers := m.sortedStakers()
	out := make([]byte, 4, 4+len(stakers)*DelegateDeltaEncodedLen)
	binary.LittleEndian.PutUint32(out, uint32(len(stakers)))
	for _, staker := range stakers {
		dd := DelegateDelta{Staker: staker, Delta: m.entries[staker]}
		out = append(out, dd.Encode()...)
	}
	return out
}

// DecodeDelegateDeltas parses the canonical form produced by Encode,
// indexing each entry at 4 + i*37 as the wire format prescribes.
func DecodeDelegateDeltas(raw []byte) (*DelegateDeltas, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("delegate deltas: truncated count header")
	}
	count := int(binary.LittleEndian.Uint32(raw[0:4]))
	m := NewDelegateDeltas()
	for i := 0; i < count; i++ {
		off := 4 + i*DelegateDeltaEncodedLen
		end := off + DelegateDeltaEncodedLen
		if end > len(raw) {
			return nil, fmt.Errorf("delegate deltas: truncated entry %d", i)
		}
		dd, err := DecodeDelegateDelta(raw[off:end])
		if err != nil {
			return nil, fmt.Errorf("delegate deltas: entry %d: %w", i, err)
		}
		m.entries[dd.Staker] = dd.Delta
	}
	return m, nil
}

// Each iterates entries in staker key order.
func (m *DelegateDeltas) Each(fn func(staker Address, delta Delta)) {
	for _, staker := range m.sortedStakers() {
		fn(staker, m.entries[staker])
	}
}

func putU128LE(dst []byte, v *big.Int) {
	b := v.Bytes() // big-endian, no leading zeros
	for i := 0; i < len(b) && i < 16; i++ {
		dst[i] = b[len(b)-1-i]
	}
}

func getU128LE(src []byte) *big.Int {
	be := make([]byte, len(src))
	for i, b := range src {
		be[len(src)-1-i] = b
	}
	return new(big.Int).SetBytes(be)
}
