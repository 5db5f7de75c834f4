package rpcsrv

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/historydb"
	"github.com/synnergy-chain/stake-smt-indexer/internal/syncerr"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

func decodeParams(params json.RawMessage, into any) error {
	if len(params) == 0 {
		return syncerr.Decode(fmt.Errorf("missing params"))
	}
	if err := json.Unmarshal(params, into); err != nil {
		return syncerr.Decode(err)
	}
	return nil
}

type addressParams struct {
	Address string `json:"address"`
}

type pagedAddressParams struct {
	Address string `json:"address"`
	Event   *int   `json:"event,omitempty"`
	Offset  int64  `json:"offset"`
	Limit   int64  `json:"limit"`
}

func (p pagedAddressParams) pagination() historydb.Pagination {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}
	return historydb.Pagination{Offset: p.Offset, Limit: limit}
}

func (s *Server) getChainState(_ context.Context, _ json.RawMessage) (any, error) {
	epoch := s.epochs.CurrentEpoch()
	totalStake, err := s.history.SumTotalStake()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"epoch":              epoch,
		"period":             epoch,
		"block_number":       s.blocks.CurrentNumber(),
		"total_stake_amount": totalStake,
	}, nil
}

func (s *Server) getStakeRate(_ context.Context, params json.RawMessage) (any, error) {
	var p addressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := types.ParseAddress(p.Address)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	total, err := s.history.GetTotalAmount(addr)
	if err != nil {
		return nil, err
	}
	sum := total.Stake + total.Delegate
	var stakeRate, delegateRate float64
	if sum > 0 {
		stakeRate = float64(total.Stake) / float64(sum)
		delegateRate = float64(total.Delegate) / float64(sum)
	}
	return map[string]any{
		"address":       addr.String(),
		"stake_rate":    stakeRate,
		"delegate_rate": delegateRate,
	}, nil
}

func (s *Server) getStakeState(_ context.Context, params json.RawMessage) (any, error) {
	var p addressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := types.ParseAddress(p.Address)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	total, err := s.history.GetTotalAmount(addr)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"address":             addr.String(),
		"stake_amount":        total.Stake,
		"delegate_amount":     total.Delegate,
		"withdrawable_amount": total.Withdrawable,
	}, nil
}

func (s *Server) getRewardState(_ context.Context, params json.RawMessage) (any, error) {
	var p addressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := types.ParseAddress(p.Address)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	total, err := s.history.GetTotalAmount(addr)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"address":       addr.String(),
		"lock_amount":   total.RewardLock,
		"unlock_amount": total.RewardUnlock,
	}, nil
}

func (s *Server) historyByOperation(params json.RawMessage, op types.Operation) (any, error) {
	var p pagedAddressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := types.ParseAddress(p.Address)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	var event *types.Event
	if p.Event != nil {
		e := types.Event(*p.Event)
		event = &e
	}
	records, err := s.history.HistoryByAddress(addr, op, event, p.pagination())
	if err != nil {
		return nil, err
	}
	return recordsToJSON(records), nil
}

func (s *Server) getStakeHistory(_ context.Context, params json.RawMessage) (any, error) {
	return s.historyByOperation(params, types.OpStake)
}

func (s *Server) getDelegateHistory(_ context.Context, params json.RawMessage) (any, error) {
	return s.historyByOperation(params, types.OpDelegate)
}

func (s *Server) getRewardHistory(_ context.Context, params json.RawMessage) (any, error) {
	var p pagedAddressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := types.ParseAddress(p.Address)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	records, err := s.history.RewardHistory(addr, p.pagination())
	if err != nil {
		return nil, err
	}
	return recordsToJSON(records), nil
}

func (s *Server) getStakeAmountByEpoch(_ context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Start     uint64 `json:"start"`
		End       uint64 `json:"end"`
		Operation int    `json:"operation"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.End < p.Start {
		return nil, syncerr.Decode(fmt.Errorf("epoch range end %d before start %d", p.End, p.Start))
	}
	sums, err := s.history.SumByOperationEpochRange(types.Operation(p.Operation), p.Start, p.End)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(sums))
	for e := p.Start; e <= p.End; e++ {
		out = append(out, map[string]any{"epoch": e, "amount": sums[e]})
	}
	return out, nil
}

func (s *Server) getTopStakeAddress(_ context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Limit int `json:"limit"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Limit <= 0 {
		p.Limit = 10
	}
	totals, err := s.history.TopByStake(p.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(totals))
	for _, t := range totals {
		out = append(out, map[string]any{
			"address":      t.Address.String(),
			"stake_amount": t.Stake,
		})
	}
	return out, nil
}

func (s *Server) getLatestStakeTransactions(_ context.Context, params json.RawMessage) (any, error) {
	var p pagedAddressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	records, err := s.history.LatestStakeTransactions(p.pagination())
	if err != nil {
		return nil, err
	}
	return recordsToJSON(records), nil
}

func (s *Server) getDelegateRecords(_ context.Context, params json.RawMessage) (any, error) {
	var p addressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := types.ParseAddress(p.Address)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	deltas, ok, err := s.kv.GetDelegate(addr)
	if err != nil {
		return nil, err
	}
	out := []map[string]any{}
	if ok {
		deltas.Each(func(staker types.Address, d types.Delta) {
			out = append(out, map[string]any{
				"staker":      staker.String(),
				"is_increase": d.IsIncrease,
				"amount":      d.Amount.String(),
			})
		})
	}
	return out, nil
}

func (s *Server) getDelegateRequirement(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Staker string `json:"staker"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	staker, err := types.ParseAddress(p.Staker)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	cell, err := s.client.GetCellByLock(ctx, chain.RequirementLock(s.ids.DelegateATCodeHash, staker), nil)
	if err != nil {
		return nil, syncerr.Transient(err)
	}
	if cell == nil {
		return nil, syncerr.NotFound(fmt.Errorf("delegate requirement cell for %s", staker))
	}
	req, err := chain.ParseDelegateRequirement(cell.Data)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	return map[string]any{
		"threshold":          req.Threshold.String(),
		"max_delegator_size": req.MaxDelegatorSize,
		"commission_rate":    req.CommissionRate,
	}, nil
}

type stakeOpParams struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

func (s *Server) buildStakeOp(ctx context.Context, params json.RawMessage, increase bool) (any, error) {
	var p stakeOpParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := types.ParseAddress(p.Address)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	item := chain.StakeDeltaItem{Delta: types.NewDelta(increase, p.Amount)}
	if increase {
		return s.builders.Stake(ctx, addr, s.epochs.CurrentEpoch(), item)
	}
	return s.builders.Unstake(ctx, addr, s.epochs.CurrentEpoch(), item)
}

func (s *Server) stake(ctx context.Context, params json.RawMessage) (any, error) {
	return s.buildStakeOp(ctx, params, true)
}

func (s *Server) unstake(ctx context.Context, params json.RawMessage) (any, error) {
	return s.buildStakeOp(ctx, params, false)
}

type delegateOpParams struct {
	Address string `json:"address"`
	Entries []struct {
		Staker string `json:"staker"`
		Amount uint64 `json:"amount"`
	} `json:"entries"`
}

func (s *Server) buildDelegateOp(ctx context.Context, params json.RawMessage, increase bool) (any, error) {
	var p delegateOpParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := types.ParseAddress(p.Address)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	entries := make([]chain.DelegateEntry, 0, len(p.Entries))
	for _, e := range p.Entries {
		staker, err := types.ParseAddress(e.Staker)
		if err != nil {
			return nil, syncerr.Decode(err)
		}
		entries = append(entries, chain.DelegateEntry{
			Staker: staker,
			Item:   chain.StakeDeltaItem{Delta: types.NewDelta(increase, e.Amount)},
		})
	}
	if increase {
		return s.builders.Delegate(ctx, addr, s.epochs.CurrentEpoch(), entries)
	}
	return s.builders.Undelegate(ctx, addr, s.epochs.CurrentEpoch(), entries)
}

func (s *Server) delegate(ctx context.Context, params json.RawMessage) (any, error) {
	return s.buildDelegateOp(ctx, params, true)
}

func (s *Server) undelegate(ctx context.Context, params json.RawMessage) (any, error) {
	return s.buildDelegateOp(ctx, params, false)
}

func (s *Server) withdrawStake(ctx context.Context, params json.RawMessage) (any, error) {
	var p addressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := types.ParseAddress(p.Address)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	return s.builders.Withdraw(ctx, addr, s.epochs.CurrentEpoch())
}

func (s *Server) withdrawRewards(ctx context.Context, params json.RawMessage) (any, error) {
	var p addressParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	addr, err := types.ParseAddress(p.Address)
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	return s.builders.WithdrawRewards(ctx, addr, s.epochs.CurrentEpoch())
}

func (s *Server) sendTransaction(ctx context.Context, params json.RawMessage) (any, error) {
	var tx chain.Transaction
	if err := decodeParams(params, &tx); err != nil {
		return nil, err
	}
	hash, err := s.client.SendTransaction(ctx, &tx)
	if err != nil {
		return nil, syncerr.Transient(err)
	}
	return map[string]any{"tx_hash": hash.String()}, nil
}

func recordsToJSON(records []types.HistoryRecord) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, map[string]any{
			"id":        r.ID,
			"tx_hash":   r.TxHash,
			"tx_block":  r.TxBlock,
			"address":   r.Address.String(),
			"amount":    r.Amount,
			"operation": int(r.Operation),
			"event":     int(r.Event),
			"epoch":     r.Epoch,
			"status":    int(r.Status),
			"timestamp": r.Timestamp,
		})
	}
	return out
}
