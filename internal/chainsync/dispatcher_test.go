package chainsync

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/historydb"
	"github.com/synnergy-chain/stake-smt-indexer/internal/kvstore"
	"github.com/synnergy-chain/stake-smt-indexer/internal/smt"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

type dispatcherFixture struct {
	d       *Dispatcher
	history *historydb.Store
	kv      *kvstore.Store
	stake   *smt.StakeStore
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	dir := t.TempDir()

	history, err := historydb.Open(filepath.Join(dir, "history.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	kv, err := kvstore.Open(filepath.Join(dir, "kv"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	stake, err := smt.OpenStake(filepath.Join(dir, "stake"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = stake.Close() })

	delegate, err := smt.OpenDelegate(filepath.Join(dir, "delegate"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = delegate.Close() })

	d, err := NewDispatcher(testIDs(), history, kv, stake, delegate)
	require.NoError(t, err)
	return &dispatcherFixture{d: d, history: history, kv: kv, stake: stake}
}

func blockOf(number uint64, txs ...*chain.Transaction) *chain.Block {
	b := &chain.Block{Number: number, Timestamp: 1700000000}
	for i, tx := range txs {
		tx.Hash[0] = byte(number)
		tx.Hash[1] = byte(i)
		b.Transactions = append(b.Transactions, *tx)
	}
	return b
}

func TestEpochRollover(t *testing.T) {
	f := newDispatcherFixture(t)
	ids := testIDs()

	// Seed a leaf at the prior epoch so the carry-over is observable.
	require.NoError(t, f.stake.NewEpoch(14))
	require.NoError(t, f.stake.Insert(14, addr(0xAA), types.NewDelta(true, 500).Amount, true))

	meta, metaData := metadataOutput(ids, 15)
	require.NoError(t, f.d.HandleBlock(blockOf(100, txOf(meta, metaData))))

	assert.Equal(t, uint64(15), f.d.CurrentEpoch())

	epoch, ok, err := f.kv.GetCurrentEpoch()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(15), epoch)

	carried, ok, err := f.stake.GetAmount(15, addr(0xAA))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(500), carried.Int64())
}

func TestEpochNeverDecreases(t *testing.T) {
	f := newDispatcherFixture(t)
	ids := testIDs()

	meta15, data15 := metadataOutput(ids, 15)
	require.NoError(t, f.d.HandleBlock(blockOf(100, txOf(meta15, data15))))

	meta10, data10 := metadataOutput(ids, 10)
	err := f.d.HandleBlock(blockOf(101, txOf(meta10, data10)))
	require.Error(t, err)
	assert.Equal(t, uint64(15), f.d.CurrentEpoch())
}

func TestStakeUpdateRecordsHistoryAndLeaf(t *testing.T) {
	f := newDispatcherFixture(t)
	ids := testIDs()
	aa := addr(0xAA)

	meta, metaData := metadataOutput(ids, 10)
	require.NoError(t, f.d.HandleBlock(blockOf(99, txOf(meta, metaData))))

	out, data := stakeATOutput(ids, aa, 500,
		chain.StakeDeltaItem{InaugurationEpoch: 12, Delta: types.NewDelta(true, 500)})
	require.NoError(t, f.d.HandleBlock(blockOf(100, txOf(out, data))))

	// The history row and the SMT leaf moved together.
	records, err := f.history.HistoryByAddress(aa, types.OpStake, nil, historydb.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(500), records[0].Amount)
	assert.Equal(t, types.EventAdd, records[0].Event)
	assert.Equal(t, uint64(10), records[0].Epoch)

	leaf, ok, err := f.stake.GetAmount(10, aa)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(500), leaf.Int64())

	delta, ok, err := f.kv.GetStake(aa)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, delta.IsIncrease)
	assert.Equal(t, int64(500), delta.Amount.Int64())
}

func TestDelegateUpdateRecordsPerEntry(t *testing.T) {
	f := newDispatcherFixture(t)
	ids := testIDs()
	delegator, s1, s2 := addr(0xDD), addr(0x01), addr(0x02)

	meta, metaData := metadataOutput(ids, 10)
	require.NoError(t, f.d.HandleBlock(blockOf(99, txOf(meta, metaData))))

	payload := chain.EncodeDelegateEntries([]chain.DelegateEntry{
		{Staker: s1, Item: chain.StakeDeltaItem{InaugurationEpoch: 12, Delta: types.NewDelta(true, 100)}},
		{Staker: s2, Item: chain.StakeDeltaItem{InaugurationEpoch: 12, Delta: types.NewDelta(true, 200)}},
	})
	out := chain.CellOutput{
		Lock: chain.Script{CodeHash: ids.DelegateATCodeHash, HashType: "type", Args: delegator.Bytes()},
		Type: &chain.Script{CodeHash: ids.XudtOwner, HashType: "type", Args: ids.AxonTokenArgs.Bytes()},
	}
	data := chain.TokenCellData(types.NewDelta(true, 300).Amount, payload)
	require.NoError(t, f.d.HandleBlock(blockOf(100, txOf(out, data))))

	deltas, ok, err := f.kv.GetDelegate(delegator)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, deltas.Len())
	d1, ok := deltas.Get(s1)
	require.True(t, ok)
	assert.Equal(t, int64(100), d1.Amount.Int64())
}

func TestAggregationTxIsSkipped(t *testing.T) {
	f := newDispatcherFixture(t)
	ids := testIDs()
	aa := addr(0xAA)

	stake, stakeData := stakeATOutput(ids, aa, 500,
		chain.StakeDeltaItem{InaugurationEpoch: 12, Delta: types.NewDelta(true, 500)})
	smtOut, smtData := smtOutput(ids, ids.StakeSMTCodeHash)
	require.NoError(t, f.d.HandleBlock(blockOf(100, txOf(stake, stakeData, smtOut, smtData))))

	records, err := f.history.HistoryByAddress(aa, types.OpStake, nil, historydb.Pagination{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, records)
}
