package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/config"
	"github.com/synnergy-chain/stake-smt-indexer/internal/smt"
	"github.com/synnergy-chain/stake-smt-indexer/internal/syncerr"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// DelegateAggregator is the delegate-tree counterpart of StakeAggregator,
// keyed one level deeper at (staker, delegator). Quorum-based eviction is
// replaced by each staker's max-delegator-size constraint, read from that
// staker's delegate-requirement cell.
type DelegateAggregator struct {
	client       chain.Client
	ids          *config.ChainIDs
	deps         Deps
	operatorKey  *ecdsa.PrivateKey
	operatorLock chain.Script
	smt          *smt.DelegateStore
	log          *logrus.Entry
}

// NewDelegateAggregator wires a delegate aggregation builder.
func NewDelegateAggregator(client chain.Client, ids *config.ChainIDs, deps Deps, operatorKey *ecdsa.PrivateKey, operatorLock chain.Script, store *smt.DelegateStore) *DelegateAggregator {
	return &DelegateAggregator{
		client:       client,
		ids:          ids,
		deps:         deps,
		operatorKey:  operatorKey,
		operatorLock: operatorLock,
		smt:          store,
		log:          logrus.WithField("component", "delegate-aggregator"),
	}
}

type delegateFoldState struct {
	oldSMT   map[smt.DelegateKey]*big.Int
	newSMT   map[smt.DelegateKey]*big.Int
	withdraw map[types.Address]*big.Int
	inputs   map[types.Address]chain.Cell
	order    []types.Address
}

// BuildTx folds the pending delegate-AT cell updates into the inauguration
// epoch's working set, trims each staker's delegator set to its cap, and
// assembles the signed aggregation transaction. Returns the evicted
// (staker, delegator) pairs, true where the pair held a leaf before this
// batch.
func (b *DelegateAggregator) BuildTx(ctx context.Context, currentEpoch uint64, candidates []chain.Cell) (*chain.Transaction, map[smt.DelegateKey]bool, error) {
	target := currentEpoch + InaugurationOffset

	smtCell, err := fetchSMTCell(ctx, b.client, b.ids, b.ids.DelegateSMTCodeHash)
	if err != nil {
		return nil, nil, err
	}

	oldSMT, err := b.smt.GetSubLeaves(target)
	if err != nil {
		return nil, nil, syncerr.Transient(err)
	}

	st := &delegateFoldState{
		oldSMT:   oldSMT,
		newSMT:   make(map[smt.DelegateKey]*big.Int, len(oldSMT)),
		withdraw: make(map[types.Address]*big.Int),
		inputs:   make(map[types.Address]chain.Cell),
	}
	for k, v := range oldSMT {
		st.newSMT[k] = new(big.Int).Set(v)
	}

	if err := b.fold(st, target, candidates); err != nil {
		return nil, nil, err
	}

	nonTop, err := b.evictOverCap(ctx, st)
	if err != nil {
		return nil, nil, err
	}

	oldProof, err := b.smt.GenerateTopProof([]uint64{target})
	if err != nil {
		return nil, nil, syncerr.Transient(err)
	}

	for k, v := range st.newSMT {
		if err := b.smt.Set(target, k, v); err != nil {
			return nil, nil, syncerr.Transient(err)
		}
	}
	for k, wasOld := range nonTop {
		if !wasOld {
			continue
		}
		if err := b.smt.Delete(target, k); err != nil {
			return nil, nil, syncerr.Transient(err)
		}
	}

	newRoot, err := b.smt.GetTopRoot()
	if err != nil {
		return nil, nil, syncerr.Transient(err)
	}
	newProof, err := b.smt.GenerateTopProof([]uint64{target})
	if err != nil {
		return nil, nil, syncerr.Transient(err)
	}

	tx, err := b.assemble(ctx, smtCell, st, target, newRoot, oldProof.Encode(), newProof.Encode())
	if err != nil {
		return nil, nil, err
	}
	if err := balanceAndSign(ctx, b.client, b.operatorLock, b.operatorKey, tx); err != nil {
		return nil, nil, err
	}
	b.log.WithFields(logrus.Fields{
		"epoch": currentEpoch, "inauguration": target,
		"leaves": len(st.newSMT), "evicted": len(nonTop),
	}).Info("built delegate aggregation tx")
	return tx, nonTop, nil
}

func (b *DelegateAggregator) fold(st *delegateFoldState, target uint64, candidates []chain.Cell) error {
	for _, cell := range candidates {
		data, err := chain.ParseATCellData(cell.Data)
		if err != nil {
			return syncerr.Decode(err)
		}
		entries, err := chain.ParseDelegateEntries(data.Payload())
		if err != nil {
			return syncerr.Decode(err)
		}
		delegator, err := chain.DelegatorAddrFromArgs(cell.Output.Lock.Args)
		if err != nil {
			return syncerr.Decode(err)
		}

		applied := false
		for _, entry := range entries {
			if entry.Item.InaugurationEpoch < target {
				b.log.WithFields(logrus.Fields{
					"delegator": delegator, "staker": entry.Staker,
					"inauguration": entry.Item.InaugurationEpoch, "target": target,
				}).Warn("skipping stale delegate entry")
				continue
			}
			applied = true
			key := smt.DelegateKey{Staker: entry.Staker, Delegator: delegator}
			cur, exists := st.newSMT[key]
			amt := entry.Item.Delta.Amount
			switch {
			case !exists:
				if !entry.Item.Delta.IsIncrease {
					return syncerr.Invariant(fmt.Errorf("new delegation %s -> %s with decrease", delegator, entry.Staker))
				}
				st.newSMT[key] = new(big.Int).Set(amt)
			case entry.Item.Delta.IsIncrease:
				cur.Add(cur, amt)
			case amt.Cmp(cur) >= 0:
				addWithdraw(st.withdraw, delegator, cur)
			default:
				cur.Sub(cur, amt)
				addWithdraw(st.withdraw, delegator, amt)
			}
		}
		if !applied {
			continue
		}
		if _, seen := st.inputs[delegator]; !seen {
			st.order = append(st.order, delegator)
		}
		st.inputs[delegator] = cell
	}
	return nil
}

func addWithdraw(m map[types.Address]*big.Int, delegator types.Address, amt *big.Int) {
	if cur, ok := m[delegator]; ok {
		cur.Add(cur, amt)
		return
	}
	m[delegator] = new(big.Int).Set(amt)
}

// evictOverCap trims each staker's delegator set down to that staker's
// max-delegator-size, smallest backings first with a stable tie-break on
// delegator address bytes.
func (b *DelegateAggregator) evictOverCap(ctx context.Context, st *delegateFoldState) (map[smt.DelegateKey]bool, error) {
	byStaker := make(map[types.Address][]smt.DelegateKey)
	for k := range st.newSMT {
		byStaker[k.Staker] = append(byStaker[k.Staker], k)
	}

	nonTop := make(map[smt.DelegateKey]bool)
	for staker, keys := range byStaker {
		req, err := b.fetchRequirement(ctx, staker)
		if err != nil {
			return nil, err
		}
		maxSize := int(req.MaxDelegatorSize)
		if len(keys) <= maxSize {
			continue
		}
		sort.SliceStable(keys, func(i, j int) bool {
			c := st.newSMT[keys[i]].Cmp(st.newSMT[keys[j]])
			if c != 0 {
				return c < 0
			}
			return types.AddressLess(keys[i].Delegator, keys[j].Delegator)
		})
		for _, k := range keys[:len(keys)-maxSize] {
			_, wasOld := st.oldSMT[k]
			nonTop[k] = wasOld
			delete(st.newSMT, k)
			if !wasOld {
				continue
			}
			if _, have := st.inputs[k.Delegator]; !have {
				cell, err := fetchATCell(ctx, b.client, b.ids, b.ids.DelegateATCodeHash, k.Delegator)
				if err != nil {
					return nil, err
				}
				st.inputs[k.Delegator] = *cell
				st.order = append(st.order, k.Delegator)
			}
			addWithdraw(st.withdraw, k.Delegator, st.oldSMT[k])
		}
	}
	return nonTop, nil
}

// fetchRequirement reads a staker's delegate-requirement cell.
func (b *DelegateAggregator) fetchRequirement(ctx context.Context, staker types.Address) (chain.DelegateRequirement, error) {
	cell, err := b.client.GetCellByLock(ctx, chain.RequirementLock(b.ids.DelegateATCodeHash, staker), nil)
	if err != nil {
		return chain.DelegateRequirement{}, syncerr.Transient(err)
	}
	if cell == nil {
		return chain.DelegateRequirement{}, syncerr.NotFound(fmt.Errorf("delegate requirement cell for %s", staker))
	}
	req, err := chain.ParseDelegateRequirement(cell.Data)
	if err != nil {
		return chain.DelegateRequirement{}, syncerr.Decode(err)
	}
	return req, nil
}

func (b *DelegateAggregator) assemble(ctx context.Context, smtCell *chain.Cell, st *delegateFoldState, target uint64, newRoot [32]byte, oldProof, newProof []byte) (*chain.Transaction, error) {
	tx := &chain.Transaction{}

	tx.Inputs = append(tx.Inputs, smtCell.OutPoint)
	tx.Outputs = append(tx.Outputs, smtCell.Output)
	tx.OutputsData = append(tx.OutputsData, chain.SMTCellData(smtCell.Data, newRoot))
	tx.Witnesses = append(tx.Witnesses, smtWitness(0, flattenByDelegator(st.oldSMT), oldProof, newProof))

	hasWithdraw := false
	for _, delegator := range st.order {
		cell, ok := st.inputs[delegator]
		if !ok {
			continue
		}
		tx.Inputs = append(tx.Inputs, cell.OutPoint)
		tx.Witnesses = append(tx.Witnesses, delegateLockWitness())

		data, err := chain.ParseATCellData(cell.Data)
		if err != nil {
			return nil, syncerr.Decode(err)
		}
		oldTotal := data.TotalAmount()
		newTotal := new(big.Int).Set(oldTotal)
		w := st.withdraw[delegator]
		if w != nil {
			newTotal.Sub(newTotal, w)
		}
		entries, err := chain.ParseDelegateEntries(data.Payload())
		if err != nil {
			return nil, syncerr.Decode(err)
		}
		for i := range entries {
			entries[i].Item = chain.StakeDeltaItem{Delta: types.NewDelta(true, 0)}
		}
		tx.Outputs = append(tx.Outputs, cell.Output)
		tx.OutputsData = append(tx.OutputsData, chain.TokenCellData(newTotal, chain.EncodeDelegateEntries(entries)))

		if w == nil {
			continue
		}
		hasWithdraw = true
		wCell, err := fetchWithdrawCell(ctx, b.client, b.ids, delegator)
		if err != nil {
			return nil, err
		}
		oldWTotal := big.NewInt(0)
		var records []chain.WithdrawRecord
		wOutput := chain.CellOutput{
			Capacity: cell.Output.Capacity,
			Lock:     chain.Script{CodeHash: b.ids.WithdrawCodeHash, HashType: "type", Args: delegator.Bytes()},
			Type:     cell.Output.Type,
		}
		if wCell != nil {
			tx.Inputs = append(tx.Inputs, wCell.OutPoint)
			tx.Witnesses = append(tx.Witnesses, withdrawLockWitness())
			wData, err := chain.ParseATCellData(wCell.Data)
			if err != nil {
				return nil, syncerr.Decode(err)
			}
			oldWTotal = wData.TotalAmount()
			if records, err = chain.ParseWithdrawRecords(wData.Payload()); err != nil {
				return nil, syncerr.Decode(err)
			}
			wOutput = wCell.Output
		}
		records = append(records, chain.WithdrawRecord{UnlockEpoch: target, Amount: new(big.Int).Set(w)})
		tx.Outputs = append(tx.Outputs, wOutput)
		tx.OutputsData = append(tx.OutputsData,
			chain.TokenCellData(new(big.Int).Add(oldWTotal, w), chain.EncodeWithdrawRecords(records)))
	}

	tx.CellDeps = append(tx.CellDeps, b.deps.DelegateLock, b.deps.Xudt)
	if hasWithdraw {
		tx.CellDeps = append(tx.CellDeps, b.deps.WithdrawLock)
	}
	live, err := liveCellDeps(ctx, b.client, b.ids)
	if err != nil {
		return nil, err
	}
	tx.CellDeps = append(tx.CellDeps, live...)
	return tx, nil
}

// flattenByDelegator sums the delegate working set down to per-delegator
// totals for the SMT witness's leaf listing.
func flattenByDelegator(leaves map[smt.DelegateKey]*big.Int) map[types.Address]*big.Int {
	out := make(map[types.Address]*big.Int)
	for k, v := range leaves {
		if cur, ok := out[k.Delegator]; ok {
			cur.Add(cur, v)
			continue
		}
		out[k.Delegator] = new(big.Int).Set(v)
	}
	return out
}
