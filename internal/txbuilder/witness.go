// Package txbuilder assembles the on-chain transactions that commit new SMT
// roots: the compound aggregation transactions for the stake and delegate
// trees, plus the single-cell builders the RPC operation endpoints delegate
// to.
package txbuilder

import (
	"encoding/binary"
	"math/big"
	"sort"

	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// Witness tags distinguishing the lock scripts an aggregation transaction's
// inputs run under.
const (
	witnessTagSMT = iota
	witnessTagStakeLock
	witnessTagDelegateLock
	witnessTagWithdrawLock
	witnessTagCapacity
)

// smtWitness encodes the aggregation witness carried alongside the SMT
// singleton input: the input index, the pre-update leaf set, and the old and
// new top-tree proofs.
func smtWitness(index uint32, leaves map[types.Address]*big.Int, oldProof, newProof []byte) []byte {
	stakers := make([]types.Address, 0, len(leaves))
	for a := range leaves {
		stakers = append(stakers, a)
	}
	sort.Slice(stakers, func(i, j int) bool { return types.AddressLess(stakers[i], stakers[j]) })

	out := []byte{witnessTagSMT}
	var ib [4]byte
	binary.LittleEndian.PutUint32(ib[:], index)
	out = append(out, ib[:]...)
	var cb [4]byte
	binary.LittleEndian.PutUint32(cb[:], uint32(len(stakers)))
	out = append(out, cb[:]...)
	for _, s := range stakers {
		out = append(out, s.Bytes()...)
		out = append(out, u128LE(leaves[s])...)
	}
	out = appendLenPrefixed(out, oldProof)
	out = appendLenPrefixed(out, newProof)
	return out
}

func appendLenPrefixed(dst, blob []byte) []byte {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(blob)))
	dst = append(dst, lb[:]...)
	return append(dst, blob...)
}

func stakeLockWitness() []byte    { return []byte{witnessTagStakeLock} }
func delegateLockWitness() []byte { return []byte{witnessTagDelegateLock} }
func withdrawLockWitness() []byte { return []byte{witnessTagWithdrawLock} }

// capacityWitness is the placeholder the operator's signature replaces once
// the transaction is balanced.
func capacityWitness() []byte { return []byte{witnessTagCapacity} }

func u128LE(v *big.Int) []byte {
	out := make([]byte, 16)
	if v == nil {
		return out
	}
	b := v.Bytes()
	for i := 0; i < len(b) && i < 16; i++ {
		out[i] = b[len(b)-1-i]
	}
	return out
}
