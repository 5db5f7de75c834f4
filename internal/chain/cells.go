package chain

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// ParseMetadataEpoch extracts the epoch a metadata cell announces: the first
// 8 bytes of its data, little-endian.
func ParseMetadataEpoch(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("chain: metadata cell data too short: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint64(data[:8]), nil
}

// SMTCellRoot extracts the 32-byte SMT commitment a stake/delegate SMT
// singleton cell carries as its data prefix.
func SMTCellRoot(data []byte) ([32]byte, error) {
	if len(data) < 32 {
		return [32]byte{}, fmt.Errorf("chain: smt cell data too short: %d bytes", len(data))
	}
	var root [32]byte
	copy(root[:], data[:32])
	return root, nil
}

// SMTCellData rebuilds an SMT singleton cell's data around a new root,
// preserving any trailing bytes the cell carried.
func SMTCellData(old []byte, root [32]byte) []byte {
	out := append([]byte{}, old...)
	if len(out) < 32 {
		out = make([]byte, 32)
	}
	copy(out[:32], root[:])
	return out
}

// WithdrawRecordBytes is the fixed width of one pending-withdrawal record in
// a withdraw-AT cell's payload: an 8-byte little-endian unlock epoch followed
// by a 16-byte little-endian u128 amount.
const WithdrawRecordBytes = 8 + TokenAmountBytes

// WithdrawRecord is one pending withdrawal: the epoch at which it unlocks
// plus its amount.
type WithdrawRecord struct {
	UnlockEpoch uint64
	Amount      *big.Int
}

// ParseWithdrawRecords decodes a withdraw-AT payload: a 4-byte little-endian
// count followed by that many fixed-width records.
func ParseWithdrawRecords(payload []byte) ([]WithdrawRecord, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("chain: withdraw records: truncated count header")
	}
	count := int(binary.LittleEndian.Uint32(payload[:4]))
	out := make([]WithdrawRecord, 0, count)
	for i := 0; i < count; i++ {
		off := 4 + i*WithdrawRecordBytes
		end := off + WithdrawRecordBytes
		if end > len(payload) {
			return nil, fmt.Errorf("chain: withdraw records: truncated record %d", i)
		}
		out = append(out, WithdrawRecord{
			UnlockEpoch: binary.LittleEndian.Uint64(payload[off : off+8]),
			Amount:      leU128(payload[off+8 : end]),
		})
	}
	return out, nil
}

// EncodeWithdrawRecords is the inverse of ParseWithdrawRecords.
func EncodeWithdrawRecords(records []WithdrawRecord) []byte {
	out := make([]byte, 4, 4+len(records)*WithdrawRecordBytes)
	binary.LittleEndian.PutUint32(out, uint32(len(records)))
	for _, r := range records {
		var eb [8]byte
		binary.LittleEndian.PutUint64(eb[:], r.UnlockEpoch)
		out = append(out, eb[:]...)
		amt := make([]byte, TokenAmountBytes)
		putLEU128(amt, r.Amount)
		out = append(out, amt...)
	}
	return out
}

// DelegateRequirement is the per-staker constraint cell consumed by the
// delegate aggregation builder and the getDelegateRequirement RPC: a minimum
// backing threshold, the delegator-set size cap, and the staker's commission
// rate in basis points.
type DelegateRequirement struct {
	Threshold        *big.Int
	MaxDelegatorSize uint32
	CommissionRate   uint16
}

// DelegateRequirementBytes is the fixed width of an encoded requirement:
// 16-byte threshold, 4-byte size cap, 2-byte commission rate.
const DelegateRequirementBytes = TokenAmountBytes + 4 + 2

// ParseDelegateRequirement decodes a requirement cell's data.
func ParseDelegateRequirement(data []byte) (DelegateRequirement, error) {
	if len(data) < DelegateRequirementBytes {
		return DelegateRequirement{}, fmt.Errorf("chain: delegate requirement too short: %d bytes", len(data))
	}
	return DelegateRequirement{
		Threshold:        leU128(data[:TokenAmountBytes]),
		MaxDelegatorSize: binary.LittleEndian.Uint32(data[TokenAmountBytes : TokenAmountBytes+4]),
		CommissionRate:   binary.LittleEndian.Uint16(data[TokenAmountBytes+4 : DelegateRequirementBytes]),
	}, nil
}

// Encode writes the requirement back to its fixed-width wire form.
func (r DelegateRequirement) Encode() []byte {
	out := make([]byte, DelegateRequirementBytes)
	putLEU128(out[:TokenAmountBytes], r.Threshold)
	binary.LittleEndian.PutUint32(out[TokenAmountBytes:TokenAmountBytes+4], r.MaxDelegatorSize)
	binary.LittleEndian.PutUint16(out[TokenAmountBytes+4:], r.CommissionRate)
	return out
}

// requirementTag distinguishes a staker's delegate-requirement cell from the
// staker's own delegate-AT cells sharing the same lock code hash.
const requirementTag = 0x01

// RequirementLock builds the lock script locating staker's
// delegate-requirement cell.
func RequirementLock(delegateCodeHash types.Hash, staker types.Address) Script {
	args := append(append([]byte{}, staker.Bytes()...), requirementTag)
	return Script{CodeHash: delegateCodeHash, HashType: "type", Args: args}
}
