// Package smt implements the sparse-Merkle-tree ledger backing the stake,
// delegate and reward trees: a persistent, epoch-keyed store of u128
// leaves with top-level root commitment and proof generation over an
// embedded goleveldb backing store.
package smt

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
)

const pathBits = 256

// emptyHashes[h] is the root of an entirely empty subtree of height h
// (h == 0 is a leaf level). Computed once; used so sparse trees never walk
// the 2^256 empty space explicitly.
var emptyHashes [pathBits + 1][32]byte

func init() {
	emptyHashes[0] = [32]byte{} // empty leaf: all-zero, not hashed
	for h := 1; h <= pathBits; h++ {
		emptyHashes[h] = hashPair(emptyHashes[h-1], emptyHashes[h-1])
	}
}

func hashPair(l, r [32]byte) [32]byte {
	h := sha256.New()
	h.Write(l[:])
	h.Write(r[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PathOf hashes a raw key into its 256-bit position in the sparse tree.
func PathOf(key []byte) [32]byte {
	return sha256.Sum256(key)
}

// leafHash commits a non-empty leaf to its path and value so two different
// keys never collide on an equal-value leaf hash.
func leafHash(path [32]byte, amount *big.Int) [32]byte {
	h := sha256.New()
	h.Write(path[:])
	h.Write(u128LEBytes(amount))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func u128LEBytes(v *big.Int) []byte {
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

func bitAt(path [32]byte, index int) byte {
	return (path[index/8] >> uint(7-index%8)) & 1
}

type pathLeaf struct {
	path   [32]byte
	amount *big.Int
}

// merkleRoot computes the root of a sparse tree from a sorted (by path) set
// of non-empty leaves, partitioning by bit from the top. Depth reduces fast
// on any realistically sparse leaf set since empty sides short-circuit to a
// precomputed empty-subtree hash.
func merkleRoot(leaves []pathLeaf) [32]byte {
	if len(leaves) == 0 {
		return emptyHashes[pathBits]
	}
	return subtreeRoot(leaves, 0, pathBits)
}

func subtreeRoot(leaves []pathLeaf, bitIndex, height int) [32]byte {
	if len(leaves) == 0 {
		return emptyHashes[height]
	}
	if height == 0 {
		return leafHash(leaves[0].path, leaves[0].amount)
	}
	split := 0
	for split < len(leaves) && bitAt(leaves[split].path, bitIndex) == 0 {
		split++
	}
	left := subtreeRoot(leaves[:split], bitIndex+1, height-1)
	right := subtreeRoot(leaves[split:], bitIndex+1, height-1)
	return hashPair(left, right)
}

// proofStep is one level of an inclusion/exclusion proof: the sibling hash
// encountered while descending toward the target path.
type proofStep struct {
	sibling [32]byte
}

// merkleProof returns, for a target path, the sibling hash at every level
// from the root down to the leaf, plus the leaf's own committed value (the
// all-zero hash if the path is absent). Combined with the root this is
// sufficient to verify inclusion or absence.
func merkleProof(leaves []pathLeaf, target [32]byte) ([]proofStep, [32]byte) {
	steps := make([]proofStep, 0, pathBits)
	cur := leaves
	bitIndex := 0
	for height := pathBits; height > 0; height-- {
		split := 0
		for split < len(cur) && bitAt(cur[split].path, bitIndex) == 0 {
			split++
		}
		left, right := cur[:split], cur[split:]
		if bitAt(target, bitIndex) == 0 {
			steps = append(steps, proofStep{sibling: subtreeRoot(right, bitIndex+1, height-1)})
			cur = left
		} else {
			steps = append(steps, proofStep{sibling: subtreeRoot(left, bitIndex+1, height-1)})
			cur = right
		}
		bitIndex++
	}
	var leafVal [32]byte
	if len(cur) == 1 {
		leafVal = leafHash(cur[0].path, cur[0].amount)
	}
	return steps, leafVal
}

func epochPath(epoch uint64) [32]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], epoch)
	return PathOf(b[:])
}
