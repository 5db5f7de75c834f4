// Package rpcsrv serves the north-bound JSON-RPC 2.0 interface over HTTP:
// read-only queries against the core's stores plus the operation endpoints
// that delegate to the single-cell transaction builders. It never mutates
// local state; its only side effect is submitting transactions to the base
// chain.
package rpcsrv

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/config"
	"github.com/synnergy-chain/stake-smt-indexer/internal/historydb"
	"github.com/synnergy-chain/stake-smt-indexer/internal/kvstore"
	"github.com/synnergy-chain/stake-smt-indexer/internal/syncerr"
	"github.com/synnergy-chain/stake-smt-indexer/internal/txbuilder"
)

// EpochSource exposes the sync task's epoch marker to read-only handlers.
type EpochSource interface {
	CurrentEpoch() uint64
}

// BlockSource exposes the sync task's block position.
type BlockSource interface {
	CurrentNumber() uint64
}

// Server is the JSON-RPC 2.0 endpoint.
type Server struct {
	epochs   EpochSource
	blocks   BlockSource
	history  *historydb.Store
	kv       *kvstore.Store
	client   chain.Client
	ids      *config.ChainIDs
	builders txbuilder.CellBuilders
	log      *logrus.Entry

	methods map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// New wires the server against the core's read surfaces.
func New(epochs EpochSource, blocks BlockSource, history *historydb.Store, kv *kvstore.Store, client chain.Client, ids *config.ChainIDs, builders txbuilder.CellBuilders) *Server {
	s := &Server{
		epochs:   epochs,
		blocks:   blocks,
		history:  history,
		kv:       kv,
		client:   client,
		ids:      ids,
		builders: builders,
		log:      logrus.WithField("component", "rpcsrv"),
	}
	s.methods = map[string]handlerFunc{
		"getChainState":              s.getChainState,
		"getStakeRate":               s.getStakeRate,
		"getStakeState":              s.getStakeState,
		"getRewardState":             s.getRewardState,
		"getStakeHistory":            s.getStakeHistory,
		"getDelegateHistory":         s.getDelegateHistory,
		"getRewardHistory":           s.getRewardHistory,
		"getStakeAmountByEpoch":      s.getStakeAmountByEpoch,
		"getTopStakeAddress":         s.getTopStakeAddress,
		"getLatestStakeTransactions": s.getLatestStakeTransactions,
		"getDelegateRecords":         s.getDelegateRecords,
		"getDelegateRequirement":     s.getDelegateRequirement,
		"stake":                      s.stake,
		"unstake":                    s.unstake,
		"delegate":                   s.delegate,
		"undelegate":                 s.undelegate,
		"withdrawStake":              s.withdrawStake,
		"withdrawRewards":            s.withdrawRewards,
		"sendTransaction":            s.sendTransaction,
	}
	return s
}

// Router returns the HTTP router: a single JSON-RPC dispatch endpoint plus a
// liveness probe.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.serveRPC).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

// Serve blocks serving HTTP on addr until the listener fails or ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	s.log.WithField("addr", addr).Info("rpc server listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC   string                `json:"jsonrpc"`
	ID        json.RawMessage       `json:"id"`
	RequestID string                `json:"request_id,omitempty"`
	Result    any                   `json:"result,omitempty"`
	Error     *syncerr.JSONRPCError `json:"error,omitempty"`
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &syncerr.JSONRPCError{Code: -32700, Message: "parse error"},
		})
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, RequestID: uuid.NewString()}
	handler, ok := s.methods[req.Method]
	if !ok {
		resp.Error = &syncerr.JSONRPCError{Code: -32601, Message: "method not found: " + req.Method}
		writeResponse(w, resp)
		return
	}

	result, err := handler(r.Context(), req.Params)
	if err != nil {
		s.log.WithError(err).WithField("method", req.Method).Warn("rpc call failed")
		resp.Error = syncerr.ToJSONRPC(err)
	} else {
		resp.Result = result
	}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
