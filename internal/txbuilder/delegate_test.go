package txbuilder

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/smt"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

func newDelegateHarness(t *testing.T) (*fakeClient, *smt.DelegateStore, *DelegateAggregator) {
	t.Helper()
	ids := testIDs()
	client := newFakeClient()

	smtCell := &chain.Cell{
		OutPoint: chain.OutPoint{Index: 0},
		Output: chain.CellOutput{
			Capacity: 1000,
			Lock:     chain.Script{CodeHash: ids.XudtOwner, HashType: "type"},
			Type:     &chain.Script{CodeHash: ids.DelegateSMTCodeHash, HashType: "type", Args: ids.IssuanceTypeID.Bytes()},
		},
		Data: make([]byte, 32),
	}
	client.byType[scriptKey(*smtCell.Output.Type)] = smtCell

	for _, typeID := range []types.Hash{ids.CheckpointTypeID, ids.MetadataTypeID} {
		typ := chain.Script{CodeHash: ids.MetadataCodeHash, HashType: "type", Args: typeID.Bytes()}
		client.byType[scriptKey(typ)] = &chain.Cell{OutPoint: chain.OutPoint{Index: 7}}
	}

	key, operatorLock, err := NewOperatorKey(testKeyHex, ids.XudtOwner)
	require.NoError(t, err)
	client.byLock[scriptKey(operatorLock)] = &chain.Cell{
		OutPoint: chain.OutPoint{Index: 9},
		Output:   chain.CellOutput{Capacity: 5000, Lock: operatorLock},
	}

	store, err := smt.OpenDelegate(filepath.Join(t.TempDir(), "delegate"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return client, store, NewDelegateAggregator(client, ids, Deps{}, key, operatorLock, store)
}

func registerRequirement(client *fakeClient, staker types.Address, maxSize uint32) {
	ids := testIDs()
	req := chain.DelegateRequirement{
		Threshold:        big.NewInt(1),
		MaxDelegatorSize: maxSize,
		CommissionRate:   500,
	}
	client.byLock[scriptKey(chain.RequirementLock(ids.DelegateATCodeHash, staker))] = &chain.Cell{
		Data: req.Encode(),
	}
}

func delegateCell(delegator types.Address, total uint64, entries []chain.DelegateEntry) chain.Cell {
	ids := testIDs()
	return chain.Cell{
		OutPoint: chain.OutPoint{TxHash: types.Hash{31: delegator[0]}, Index: 1},
		Output: chain.CellOutput{
			Capacity: 500,
			Lock:     chain.Script{CodeHash: ids.DelegateATCodeHash, HashType: "type", Args: delegator.Bytes()},
			Type:     &chain.Script{CodeHash: ids.XudtOwner, HashType: "type", Args: ids.AxonTokenArgs.Bytes()},
		},
		Data: chain.TokenCellData(new(big.Int).SetUint64(total), chain.EncodeDelegateEntries(entries)),
	}
}

func TestDelegateBuildTxBasic(t *testing.T) {
	client, store, agg := newDelegateHarness(t)
	staker, delegator := addr(0x01), addr(0xDD)
	registerRequirement(client, staker, 100)

	tx, evicted, err := agg.BuildTx(context.Background(), 10, []chain.Cell{
		delegateCell(delegator, 300, []chain.DelegateEntry{
			{Staker: staker, Item: item(true, 300, 12)},
		}),
	})
	require.NoError(t, err)
	require.Empty(t, evicted)

	leaf, ok, err := store.GetAmount(12, smt.DelegateKey{Staker: staker, Delegator: delegator})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(300), leaf.Int64())

	// smt, delegate-at, capacity.
	require.Len(t, tx.Inputs, 3)
}

func TestDelegateBuildTxEvictsOverCap(t *testing.T) {
	client, store, agg := newDelegateHarness(t)
	staker := addr(0x01)
	d1, d2, d3 := addr(0xD1), addr(0xD2), addr(0xD3)
	registerRequirement(client, staker, 2)

	require.NoError(t, store.Set(12, smt.DelegateKey{Staker: staker, Delegator: d1}, big.NewInt(50)))
	require.NoError(t, store.Set(12, smt.DelegateKey{Staker: staker, Delegator: d2}, big.NewInt(200)))
	client.byLock[scriptKey(chain.Script{
		CodeHash: testIDs().DelegateATCodeHash, HashType: "type", Args: d1.Bytes(),
	})] = &chain.Cell{
		OutPoint: chain.OutPoint{Index: 4},
		Output: chain.CellOutput{
			Capacity: 500,
			Lock:     chain.Script{CodeHash: testIDs().DelegateATCodeHash, HashType: "type", Args: d1.Bytes()},
		},
		Data: chain.TokenCellData(big.NewInt(50), chain.EncodeDelegateEntries(nil)),
	}

	_, evicted, err := agg.BuildTx(context.Background(), 10, []chain.Cell{
		delegateCell(d3, 100, []chain.DelegateEntry{
			{Staker: staker, Item: item(true, 100, 12)},
		}),
	})
	require.NoError(t, err)

	// Three delegators against a cap of two: the smallest backing goes.
	require.Equal(t, map[smt.DelegateKey]bool{
		{Staker: staker, Delegator: d1}: true,
	}, evicted)

	leaves, err := store.GetSubLeaves(12)
	require.NoError(t, err)
	require.Len(t, leaves, 2)
	assert.NotContains(t, leaves, smt.DelegateKey{Staker: staker, Delegator: d1})
}

func TestDelegateBuildTxStaleEntrySkipped(t *testing.T) {
	client, store, agg := newDelegateHarness(t)
	staker, delegator := addr(0x01), addr(0xDD)
	registerRequirement(client, staker, 100)

	_, _, err := agg.BuildTx(context.Background(), 10, []chain.Cell{
		delegateCell(delegator, 300, []chain.DelegateEntry{
			{Staker: staker, Item: item(true, 300, 11)},
		}),
	})
	require.NoError(t, err)

	_, ok, err := store.GetAmount(12, smt.DelegateKey{Staker: staker, Delegator: delegator})
	require.NoError(t, err)
	assert.False(t, ok)
}
