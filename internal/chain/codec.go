package chain

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// TokenAmountBytes is the fixed width of the leading total-amount field in
// every AT cell's data: a little-endian u128.
const TokenAmountBytes = 16

// ATCellData is the "first 16 bytes u128 total amount, remainder structured
// payload" layout shared by stake-AT and delegate-AT cells.
type ATCellData struct {
	raw []byte
}

// ParseATCellData wraps raw cell data for fixed-width field access.
func ParseATCellData(raw []byte) (ATCellData, error) {
	if len(raw) < TokenAmountBytes {
		return ATCellData{}, fmt.Errorf("chain: at-cell data too short: %d bytes", len(raw))
	}
	return ATCellData{raw: raw}, nil
}

// TotalAmount returns the cell's total token amount (the first 16 bytes).
func (d ATCellData) TotalAmount() *big.Int {
	return leU128(d.raw[:TokenAmountBytes])
}

// Payload returns the structured payload following the total-amount field.
func (d ATCellData) Payload() []byte {
	return d.raw[TokenAmountBytes:]
}

// TokenCellData rebuilds the "total amount ∥ payload" encoding for an
// output, mirroring the Rust helper of the same name in tx-builder's
// ckb/helper module.
func TokenCellData(total *big.Int, payload []byte) []byte {
	out := make([]byte, TokenAmountBytes+len(payload))
	putLEU128(out[:TokenAmountBytes], total)
	copy(out[TokenAmountBytes:], payload)
	return out
}

// StakeDeltaItemBytes is the fixed width of one stake-delta item embedded in
// a stake-AT cell's payload: an 8-byte little-endian inauguration epoch
// followed by a 17-byte Delta.
const StakeDeltaItemBytes = 8 + types.DeltaEncodedLen

// StakeDeltaItem is the delta an individual stake-AT cell carries: the
// epoch at which it takes effect, plus the signed change in amount.
type StakeDeltaItem struct {
	InaugurationEpoch uint64
	Delta             types.Delta
}

// ParseStakeDeltaItem reads the delta item from a stake-AT (or delegate
// sub-entry) payload's leading bytes.
func ParseStakeDeltaItem(payload []byte) (StakeDeltaItem, error) {
	if len(payload) < StakeDeltaItemBytes {
		return StakeDeltaItem{}, fmt.Errorf("chain: stake delta item too short: %d bytes", len(payload))
	}
	epoch := binary.LittleEndian.Uint64(payload[:8])
	delta, err := types.DecodeDelta(payload[8:StakeDeltaItemBytes])
	if err != nil {
		return StakeDeltaItem{}, fmt.Errorf("chain: stake delta item: %w", err)
	}
	return StakeDeltaItem{InaugurationEpoch: epoch, Delta: delta}, nil
}

// Encode writes the item back to its 25-byte wire form.
func (item StakeDeltaItem) Encode() []byte {
	out := make([]byte, StakeDeltaItemBytes)
	binary.LittleEndian.PutUint64(out[:8], item.InaugurationEpoch)
	copy(out[8:], item.Delta.Encode())
	return out
}

// ClearStakeDelta zeroes the embedded delta item in a stake-AT payload,
// used when the aggregation builder rebuilds a staker's output cell with
// its delta consumed.
func ClearStakeDelta(payload []byte) ([]byte, error) {
	if len(payload) < StakeDeltaItemBytes {
		return nil, fmt.Errorf("chain: clear stake delta: payload too short")
	}
	out := append([]byte{}, payload...)
	zero := StakeDeltaItem{InaugurationEpoch: 0, Delta: types.NewDelta(true, 0)}.Encode()
	copy(out[:StakeDeltaItemBytes], zero)
	return out, nil
}

// DelegateEntryBytes is the fixed width of one per-staker entry embedded in
// a delegate-AT cell's payload: a 20-byte staker address followed by a
// stake-delta item.
const DelegateEntryBytes = types.AddressLen + StakeDeltaItemBytes

// DelegateEntry is one staker's delta inside a delegator's delegate-AT
// cell.
type DelegateEntry struct {
	Staker types.Address
	Item   StakeDeltaItem
}

// ParseDelegateEntries decodes a delegate-AT payload's per-staker entries:
// a 4-byte little-endian count followed by that many fixed-width entries.
func ParseDelegateEntries(payload []byte) ([]DelegateEntry, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("chain: delegate entries: truncated count header")
	}
	count := int(binary.LittleEndian.Uint32(payload[:4]))
	entries := make([]DelegateEntry, 0, count)
	for i := 0; i < count; i++ {
		off := 4 + i*DelegateEntryBytes
		end := off + DelegateEntryBytes
		if end > len(payload) {
			return nil, fmt.Errorf("chain: delegate entries: truncated entry %d", i)
		}
		var staker types.Address
		copy(staker[:], payload[off:off+types.AddressLen])
		item, err := ParseStakeDeltaItem(payload[off+types.AddressLen : end])
		if err != nil {
			return nil, fmt.Errorf("chain: delegate entries: entry %d: %w", i, err)
		}
		entries = append(entries, DelegateEntry{Staker: staker, Item: item})
	}
	return entries, nil
}

// EncodeDelegateEntries is the inverse of ParseDelegateEntries.
func EncodeDelegateEntries(entries []DelegateEntry) []byte {
	out := make([]byte, 4, 4+len(entries)*DelegateEntryBytes)
	binary.LittleEndian.PutUint32(out, uint32(len(entries)))
	for _, e := range entries {
		out = append(out, e.Staker.Bytes()...)
		out = append(out, e.Item.Encode()...)
	}
	return out
}

// StakeAddrFromArgs extracts the staker address embedded in a stake-AT (or
// withdraw-AT) cell's lock args: the first 20 bytes.
func StakeAddrFromArgs(args []byte) (types.Address, error) {
	if len(args) < types.AddressLen {
		return types.Address{}, fmt.Errorf("chain: stake args too short: %d bytes", len(args))
	}
	var a types.Address
	copy(a[:], args[:types.AddressLen])
	return a, nil
}

// DelegatorAddrFromArgs extracts the delegator address embedded in a
// delegate-AT cell's lock args: the first 20 bytes, the same accessor shape
// as StakeAddrFromArgs.
func DelegatorAddrFromArgs(args []byte) (types.Address, error) {
	return StakeAddrFromArgs(args)
}

func leU128(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i, c := range b {
		be[len(b)-1-i] = c
	}
	return new(big.Int).SetBytes(be)
}

func putLEU128(dst []byte, v *big.Int) {
	if v == nil {
		return
	}
	b := v.Bytes()
	for i := 0; i < len(b) && i < len(dst); i++ {
		dst[i] = b[len(b)-1-i]
	}
}
