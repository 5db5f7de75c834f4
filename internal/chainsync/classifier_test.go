package chainsync

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/config"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

func testIDs() *config.ChainIDs {
	ids := &config.ChainIDs{}
	ids.AxonTokenArgs[0] = 0x01
	ids.XudtOwner[0] = 0x02
	ids.IssuanceTypeID[0] = 0x03
	ids.MetadataTypeID[0] = 0x04
	ids.CheckpointTypeID[0] = 0x05
	ids.StakeATCodeHash[0] = 0x06
	ids.DelegateATCodeHash[0] = 0x07
	ids.StakeSMTCodeHash[0] = 0x0A
	ids.DelegateSMTCodeHash[0] = 0x0B
	ids.MetadataCodeHash[0] = 0x08
	ids.WithdrawCodeHash[0] = 0x09
	return ids
}

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func metadataOutput(ids *config.ChainIDs, epoch uint64) (chain.CellOutput, []byte) {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, epoch)
	return chain.CellOutput{
		Lock: chain.Script{CodeHash: ids.XudtOwner, HashType: "type"},
		Type: &chain.Script{CodeHash: ids.MetadataCodeHash, HashType: "type", Args: ids.MetadataTypeID.Bytes()},
	}, data
}

func stakeATOutput(ids *config.ChainIDs, staker types.Address, total uint64, item chain.StakeDeltaItem) (chain.CellOutput, []byte) {
	return chain.CellOutput{
		Lock: chain.Script{CodeHash: ids.StakeATCodeHash, HashType: "type", Args: staker.Bytes()},
		Type: &chain.Script{CodeHash: ids.XudtOwner, HashType: "type", Args: ids.AxonTokenArgs.Bytes()},
	}, chain.TokenCellData(new(big.Int).SetUint64(total), item.Encode())
}

func smtOutput(ids *config.ChainIDs, codeHash types.Hash) (chain.CellOutput, []byte) {
	return chain.CellOutput{
		Lock: chain.Script{CodeHash: ids.XudtOwner, HashType: "type"},
		Type: &chain.Script{CodeHash: codeHash, HashType: "type", Args: ids.IssuanceTypeID.Bytes()},
	}, make([]byte, 32)
}

func txOf(pairs ...any) *chain.Transaction {
	tx := &chain.Transaction{}
	for i := 0; i < len(pairs); i += 2 {
		tx.Outputs = append(tx.Outputs, pairs[i].(chain.CellOutput))
		tx.OutputsData = append(tx.OutputsData, pairs[i+1].([]byte))
	}
	return tx
}

func TestClassifyEpochRollover(t *testing.T) {
	ids := testIDs()
	c := NewClassifier(ids)
	out, data := metadataOutput(ids, 15)

	verdict, err := c.Classify(txOf(out, data))
	require.NoError(t, err)
	assert.Equal(t, TxEpochRollover, verdict.Kind)
	assert.Equal(t, uint64(15), verdict.Epoch)
}

func TestClassifyStakeUpdate(t *testing.T) {
	ids := testIDs()
	c := NewClassifier(ids)
	out, data := stakeATOutput(ids, addr(0xAA), 500, chain.StakeDeltaItem{InaugurationEpoch: 12, Delta: types.NewDelta(true, 500)})

	verdict, err := c.Classify(txOf(out, data))
	require.NoError(t, err)
	assert.Equal(t, TxStakeUpdate, verdict.Kind)
	assert.Equal(t, 0, verdict.CellIndex)
}

func TestClassifyAggregationBeatsStakeUpdate(t *testing.T) {
	ids := testIDs()
	c := NewClassifier(ids)
	stake, stakeData := stakeATOutput(ids, addr(0xAA), 500, chain.StakeDeltaItem{Delta: types.NewDelta(true, 0)})
	smtOut, smtData := smtOutput(ids, ids.StakeSMTCodeHash)

	verdict, err := c.Classify(txOf(stake, stakeData, smtOut, smtData))
	require.NoError(t, err)
	assert.Equal(t, TxAggregationStake, verdict.Kind)
}

func TestClassifyRolloverBeatsAggregation(t *testing.T) {
	ids := testIDs()
	c := NewClassifier(ids)
	meta, metaData := metadataOutput(ids, 16)
	stake, stakeData := stakeATOutput(ids, addr(0xAA), 500, chain.StakeDeltaItem{Delta: types.NewDelta(true, 0)})
	smtOut, smtData := smtOutput(ids, ids.StakeSMTCodeHash)

	verdict, err := c.Classify(txOf(stake, stakeData, smtOut, smtData, meta, metaData))
	require.NoError(t, err)
	assert.Equal(t, TxEpochRollover, verdict.Kind)
	assert.Equal(t, uint64(16), verdict.Epoch)
}

func TestClassifyIgnoresUnrelated(t *testing.T) {
	ids := testIDs()
	c := NewClassifier(ids)
	out := chain.CellOutput{Lock: chain.Script{CodeHash: types.Hash{0xFF}}}

	verdict, err := c.Classify(txOf(out, []byte{}))
	require.NoError(t, err)
	assert.Equal(t, TxIgnored, verdict.Kind)
}
