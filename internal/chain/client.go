package chain

import (
	"context"

	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// Client is the base-chain RPC surface the sync puller and the aggregation
// tx builder depend on. The concrete implementation is a thin JSON-RPC
// HTTP client (see httpclient.go).
type Client interface {
	// GetIndexerTip returns the indexer's current tip block number.
	GetIndexerTip(ctx context.Context) (uint64, error)
	// GetBlockByNumber fetches a full block by its number.
	GetBlockByNumber(ctx context.Context, number uint64) (*Block, error)
	// SendTransaction submits a signed transaction and returns its hash.
	SendTransaction(ctx context.Context, tx *Transaction) (types.Hash, error)
	// GetCellByLock looks up the live cell matching lock (and, if non-nil,
	// the given type script). Returns (nil, nil) if no such cell exists.
	GetCellByLock(ctx context.Context, lock Script, typ *Script) (*Cell, error)
	// GetCellByType looks up the live singleton cell carrying the given
	// type script. Returns (nil, nil) if no such cell exists.
	GetCellByType(ctx context.Context, typ Script) (*Cell, error)
}
