package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// HTTPClient is a thin JSON-RPC 2.0 client over net/http.
type HTTPClient struct {
	url string
	hc  *http.Client
}

// NewHTTPClient builds a client against the base-chain RPC endpoint at url.
func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{url: url, hc: &http.Client{Timeout: 10 * time.Second}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method string, params []any, out any) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("chain: marshal request %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("chain: build request %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("chain: call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("chain: decode response %s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("chain: %s rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("chain: unmarshal result %s: %w", method, err)
		}
	}
	return nil
}

// GetIndexerTip implements Client.
func (c *HTTPClient) GetIndexerTip(ctx context.Context) (uint64, error) {
	var out struct {
		BlockNumber uint64 `json:"block_number"`
	}
	if err := c.call(ctx, "get_indexer_tip", nil, &out); err != nil {
		return 0, err
	}
	return out.BlockNumber, nil
}

// GetBlockByNumber implements Client.
func (c *HTTPClient) GetBlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var block Block
	if err := c.call(ctx, "get_block_by_number", []any{number}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// SendTransaction implements Client.
func (c *HTTPClient) SendTransaction(ctx context.Context, tx *Transaction) (types.Hash, error) {
	var out struct {
		Hash types.Hash `json:"hash"`
	}
	if err := c.call(ctx, "send_transaction", []any{tx}, &out); err != nil {
		return types.Hash{}, err
	}
	return out.Hash, nil
}

// GetCellByLock implements Client.
func (c *HTTPClient) GetCellByLock(ctx context.Context, lock Script, typ *Script) (*Cell, error) {
	var cell *Cell
	if err := c.call(ctx, "get_cell_by_lock", []any{lock, typ}, &cell); err != nil {
		return nil, err
	}
	return cell, nil
}

// GetCellByType implements Client.
func (c *HTTPClient) GetCellByType(ctx context.Context, typ Script) (*Cell, error) {
	var cell *Cell
	if err := c.call(ctx, "get_cell_by_type", []any{typ}, &cell); err != nil {
		return nil, err
	}
	return cell, nil
}

var _ Client = (*HTTPClient)(nil)
