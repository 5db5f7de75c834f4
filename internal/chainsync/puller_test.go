package chainsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

type fakeChain struct {
	tip     uint64
	blocks  map[uint64]*chain.Block
	fetched []uint64
}

func (f *fakeChain) GetIndexerTip(context.Context) (uint64, error) { return f.tip, nil }

func (f *fakeChain) GetBlockByNumber(_ context.Context, n uint64) (*chain.Block, error) {
	f.fetched = append(f.fetched, n)
	if b, ok := f.blocks[n]; ok {
		return b, nil
	}
	return &chain.Block{Number: n}, nil
}

func (f *fakeChain) SendTransaction(context.Context, *chain.Transaction) (types.Hash, error) {
	return types.Hash{}, nil
}

func (f *fakeChain) GetCellByLock(context.Context, chain.Script, *chain.Script) (*chain.Cell, error) {
	return nil, nil
}

func (f *fakeChain) GetCellByType(context.Context, chain.Script) (*chain.Cell, error) {
	return nil, nil
}

var _ chain.Client = (*fakeChain)(nil)

func TestPullerRespectsConfirmationLag(t *testing.T) {
	f := newDispatcherFixture(t)
	fc := &fakeChain{tip: 100, blocks: map[uint64]*chain.Block{}}

	p, err := NewPuller(fc, f.d, f.history, 70)
	require.NoError(t, err)

	// 100 - 24 = 76: blocks 70..75 are confirmed, 76 is not.
	for {
		advanced, err := p.step(context.Background())
		require.NoError(t, err)
		if !advanced {
			break
		}
	}
	assert.Equal(t, []uint64{70, 71, 72, 73, 74, 75}, fc.fetched)
	assert.Equal(t, uint64(76), p.CurrentNumber())
}

func TestPullerResumesFromHistory(t *testing.T) {
	f := newDispatcherFixture(t)
	require.NoError(t, f.history.InsertHistory(types.HistoryRecord{
		TxHash: "0x01", TxBlock: 90, Address: addr(0xAA), Amount: 100,
		Operation: types.OpStake, Event: types.EventAdd, Epoch: 1, Timestamp: 1,
	}))

	p, err := NewPuller(&fakeChain{}, f.d, f.history, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), p.CurrentNumber())
}

func TestPullerIdleBelowLag(t *testing.T) {
	f := newDispatcherFixture(t)
	fc := &fakeChain{tip: 20}

	p, err := NewPuller(fc, f.d, f.history, 0)
	require.NoError(t, err)
	advanced, err := p.step(context.Background())
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Empty(t, fc.fetched)
}
