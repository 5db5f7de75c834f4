// Package chain models the base-chain wire contract as plain structs plus
// a thin JSON-RPC client. The on-chain cell-data binary schema itself
// stays opaque: this package only exposes fixed-width accessors over it.
package chain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// Script is a CKB-style lock/type script: a code hash, a hash-type tag, and
// an argument blob whose interpretation is owned by the script itself.
type Script struct {
	CodeHash types.Hash `json:"code_hash"`
	HashType string     `json:"hash_type"`
	Args     []byte     `json:"args"`
}

// Equal reports whether two scripts reference the same code and args.
func (s Script) Equal(o Script) bool {
	if s.CodeHash != o.CodeHash || s.HashType != o.HashType || len(s.Args) != len(o.Args) {
		return false
	}
	for i := range s.Args {
		if s.Args[i] != o.Args[i] {
			return false
		}
	}
	return true
}

// OutPoint references a prior cell by its creating transaction and output
// index.
type OutPoint struct {
	TxHash types.Hash `json:"tx_hash"`
	Index  uint32     `json:"index"`
}

// ParseOutPoint decodes the "0xtxhash:index" form used in configuration for
// fixed cell deps.
func ParseOutPoint(s string) (OutPoint, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return OutPoint{}, fmt.Errorf("chain: out-point %q: missing index separator", s)
	}
	hash, err := types.ParseHash(s[:i])
	if err != nil {
		return OutPoint{}, fmt.Errorf("chain: out-point %q: %w", s, err)
	}
	index, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return OutPoint{}, fmt.Errorf("chain: out-point %q: %w", s, err)
	}
	return OutPoint{TxHash: hash, Index: uint32(index)}, nil
}

// CellOutput is a cell's lock/type/capacity triple, without its data.
type CellOutput struct {
	Capacity uint64  `json:"capacity"`
	Lock     Script  `json:"lock"`
	Type     *Script `json:"type,omitempty"`
}

// Cell is a located, materialized cell: its position plus its current
// output and data.
type Cell struct {
	OutPoint    OutPoint   `json:"out_point"`
	Output      CellOutput `json:"output"`
	Data        []byte     `json:"data"`
	BlockNumber uint64     `json:"block_number"`
}

// Transaction is a base-chain transaction as the classifier and tx builder
// need to see it.
type Transaction struct {
	Hash        types.Hash   `json:"hash"`
	Inputs      []OutPoint   `json:"inputs"`
	Outputs     []CellOutput `json:"outputs"`
	OutputsData [][]byte     `json:"outputs_data"`
	Witnesses   [][]byte     `json:"witnesses"`
	CellDeps    []OutPoint   `json:"cell_deps"`
}

// Block is a fetched block: its header fields plus the transactions in
// order.
type Block struct {
	Number       uint64        `json:"number"`
	Hash         types.Hash    `json:"hash"`
	Timestamp    uint64        `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
}
