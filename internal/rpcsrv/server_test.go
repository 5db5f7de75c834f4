package rpcsrv

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/config"
	"github.com/synnergy-chain/stake-smt-indexer/internal/historydb"
	"github.com/synnergy-chain/stake-smt-indexer/internal/kvstore"
	"github.com/synnergy-chain/stake-smt-indexer/internal/txbuilder"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

type fixedEpoch uint64

func (f fixedEpoch) CurrentEpoch() uint64 { return uint64(f) }

type fixedBlock uint64

func (f fixedBlock) CurrentNumber() uint64 { return uint64(f) }

type stubClient struct {
	sent []*chain.Transaction
}

func (s *stubClient) GetIndexerTip(context.Context) (uint64, error) { return 0, nil }
func (s *stubClient) GetBlockByNumber(context.Context, uint64) (*chain.Block, error) {
	return nil, nil
}
func (s *stubClient) SendTransaction(_ context.Context, tx *chain.Transaction) (types.Hash, error) {
	s.sent = append(s.sent, tx)
	return types.Hash{0x11}, nil
}
func (s *stubClient) GetCellByLock(context.Context, chain.Script, *chain.Script) (*chain.Cell, error) {
	return nil, nil
}
func (s *stubClient) GetCellByType(context.Context, chain.Script) (*chain.Cell, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *historydb.Store, *kvstore.Store) {
	t.Helper()
	dir := t.TempDir()

	history, err := historydb.Open(filepath.Join(dir, "history.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	kv, err := kvstore.Open(filepath.Join(dir, "kv"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	ids := &config.ChainIDs{}
	client := &stubClient{}
	builders := txbuilder.NewSingleCellBuilders(client, ids)
	return New(fixedEpoch(15), fixedBlock(1234), history, kv, client, ids, builders), history, kv
}

func call(t *testing.T, s *Server, method string, params any) rpcResponse {
	t.Helper()
	body := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		body["params"] = params
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func TestGetChainState(t *testing.T) {
	s, history, _ := newTestServer(t)
	require.NoError(t, history.InsertHistory(types.HistoryRecord{
		TxHash: "0x01", TxBlock: 100, Address: addr(0xAA), Amount: 500,
		Operation: types.OpStake, Event: types.EventAdd, Epoch: 15, Timestamp: 1,
	}))

	resp := call(t, s, "getChainState", nil)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]any)
	assert.Equal(t, float64(15), result["epoch"])
	assert.Equal(t, float64(1234), result["block_number"])
	assert.Equal(t, float64(500), result["total_stake_amount"])
}

func TestGetStakeState(t *testing.T) {
	s, history, _ := newTestServer(t)
	a := addr(0xAA)
	require.NoError(t, history.InsertHistory(types.HistoryRecord{
		TxHash: "0x01", TxBlock: 100, Address: a, Amount: 500,
		Operation: types.OpStake, Event: types.EventAdd, Epoch: 15, Timestamp: 1,
	}))

	resp := call(t, s, "getStakeState", map[string]any{"address": a.String()})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]any)
	assert.Equal(t, float64(500), result["stake_amount"])
}

func TestGetStakeHistoryPaginated(t *testing.T) {
	s, history, _ := newTestServer(t)
	a := addr(0xAA)
	for i := 0; i < 5; i++ {
		require.NoError(t, history.InsertHistory(types.HistoryRecord{
			TxHash: "0x0" + string(rune('1'+i)), TxBlock: 100 + uint64(i), Address: a, Amount: 100,
			Operation: types.OpStake, Event: types.EventAdd, Epoch: 15, Timestamp: int64(i),
		}))
	}

	resp := call(t, s, "getStakeHistory", map[string]any{"address": a.String(), "offset": 0, "limit": 3})
	require.Nil(t, resp.Error)
	rows := resp.Result.([]any)
	assert.Len(t, rows, 3)
}

func TestGetDelegateRecords(t *testing.T) {
	s, _, kv := newTestServer(t)
	delegator, staker := addr(0xDD), addr(0x01)
	dd := types.NewDelegateDeltas()
	dd.Set(staker, types.NewDelta(true, 200))
	require.NoError(t, kv.PutDelegate(delegator, dd))

	resp := call(t, s, "getDelegateRecords", map[string]any{"address": delegator.String()})
	require.Nil(t, resp.Error)
	rows := resp.Result.([]any)
	require.Len(t, rows, 1)
	row := rows[0].(map[string]any)
	assert.Equal(t, staker.String(), row["staker"])
	assert.Equal(t, "200", row["amount"])
}

func TestUnknownMethod(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := call(t, s, "noSuchMethod", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestSendTransaction(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := call(t, s, "sendTransaction", chain.Transaction{})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]any)
	assert.NotEmpty(t, result["tx_hash"])
}
