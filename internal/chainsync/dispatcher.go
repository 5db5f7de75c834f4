package chainsync

import (
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/config"
	"github.com/synnergy-chain/stake-smt-indexer/internal/historydb"
	"github.com/synnergy-chain/stake-smt-indexer/internal/kvstore"
	"github.com/synnergy-chain/stake-smt-indexer/internal/smt"
	"github.com/synnergy-chain/stake-smt-indexer/internal/syncerr"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// Dispatcher applies classified transactions to the durable stores. It is
// single-threaded: one block at a time, transactions in block order, each
// history row inserted before the matching SMT/KV mutation.
type Dispatcher struct {
	classifier  *Classifier
	history     *historydb.Store
	kv          *kvstore.Store
	stakeSMT    *smt.StakeStore
	delegateSMT *smt.DelegateStore
	log         *logrus.Entry

	// currentEpoch is written only by this dispatcher's handler loop and
	// read by the RPC layer with Load semantics.
	currentEpoch atomic.Uint64

	// pending batches accumulated since the last rollover, handed to the
	// aggregation builders at the next epoch boundary.
	aggregators     *Aggregators
	pendingStake    []chain.Cell
	pendingDelegate []chain.Cell
}

// NewDispatcher wires the dispatcher against its stores. The epoch marker is
// recovered from the KV store so it stays monotonic across restarts.
func NewDispatcher(ids *config.ChainIDs, history *historydb.Store, kv *kvstore.Store, stakeSMT *smt.StakeStore, delegateSMT *smt.DelegateStore) (*Dispatcher, error) {
	d := &Dispatcher{
		classifier:  NewClassifier(ids),
		history:     history,
		kv:          kv,
		stakeSMT:    stakeSMT,
		delegateSMT: delegateSMT,
		log:         logrus.WithField("component", "dispatcher"),
	}
	epoch, ok, err := kv.GetCurrentEpoch()
	if err != nil {
		return nil, fmt.Errorf("dispatcher: recover epoch: %w", err)
	}
	if ok {
		d.currentEpoch.Store(epoch)
	}
	return d, nil
}

// CurrentEpoch returns the last epoch observed from a metadata transaction.
func (d *Dispatcher) CurrentEpoch() uint64 {
	return d.currentEpoch.Load()
}

// HandleBlock classifies and applies every transaction in block, in order.
// Handler failures are logged and the block is not retried, except invariant
// violations, which propagate up to terminate the sync task.
func (d *Dispatcher) HandleBlock(block *chain.Block) error {
	for i := range block.Transactions {
		tx := &block.Transactions[i]
		verdict, err := d.classifier.Classify(tx)
		if err != nil {
			d.log.WithError(err).WithField("tx", tx.Hash).Error("classify failed")
			continue
		}
		if err := d.handle(block, tx, verdict); err != nil {
			if syncerr.IsInvariant(err) {
				return err
			}
			d.log.WithError(err).WithFields(logrus.Fields{
				"block": block.Number, "tx": tx.Hash,
			}).Error("handler failed")
		}
	}
	return nil
}

func (d *Dispatcher) handle(block *chain.Block, tx *chain.Transaction, verdict Classified) error {
	switch verdict.Kind {
	case TxEpochRollover:
		return d.handleRollover(verdict.Epoch)
	case TxStakeUpdate:
		return d.handleStakeUpdate(block, tx, verdict.CellIndex)
	case TxDelegateUpdate:
		return d.handleDelegateUpdate(block, tx, verdict.CellIndex)
	case TxAggregationStake, TxAggregationDelegate:
		// Applied locally when the aggregation tx was built; re-applying
		// would double-count.
		return nil
	default:
		return nil
	}
}

// handleRollover drains the pending aggregation batches against the epoch
// that is ending, then advances the epoch marker, initializes the new
// epoch's SMT working sets, and persists the marker. The atomic store
// happens before the store writes so later handlers in the same block
// already see the new epoch.
func (d *Dispatcher) handleRollover(epoch uint64) error {
	if epoch < d.currentEpoch.Load() {
		return syncerr.Invariant(fmt.Errorf("epoch rollover to %d below current %d", epoch, d.currentEpoch.Load()))
	}
	if err := d.runAggregation(d.currentEpoch.Load()); err != nil {
		return err
	}
	d.currentEpoch.Store(epoch)
	if err := d.stakeSMT.NewEpoch(epoch); err != nil {
		return err
	}
	if err := d.delegateSMT.NewEpoch(epoch); err != nil {
		return err
	}
	if err := d.kv.PutCurrentEpoch(epoch); err != nil {
		return err
	}
	d.log.WithField("epoch", epoch).Info("epoch rollover")
	return nil
}

func (d *Dispatcher) handleStakeUpdate(block *chain.Block, tx *chain.Transaction, cellIndex int) error {
	epoch := d.currentEpoch.Load()
	out := tx.Outputs[cellIndex]
	data, err := chain.ParseATCellData(tx.OutputsData[cellIndex])
	if err != nil {
		return syncerr.Decode(err)
	}
	item, err := chain.ParseStakeDeltaItem(data.Payload())
	if err != nil {
		return syncerr.Decode(err)
	}
	staker, err := chain.StakeAddrFromArgs(out.Lock.Args)
	if err != nil {
		return syncerr.Decode(err)
	}

	old, _, err := d.stakeSMT.GetAmount(epoch, staker)
	if err != nil {
		return syncerr.Transient(err)
	}
	if old == nil {
		old = big.NewInt(0)
	}
	newTotal, err := applyDelta(old, item.Delta)
	if err != nil {
		return syncerr.Invariant(fmt.Errorf("stake update %s: %w", staker, err))
	}

	event := types.EventRedeem
	if item.Delta.IsIncrease {
		event = types.EventAdd
	}
	rec := types.HistoryRecord{
		TxHash:    tx.Hash.String(),
		TxBlock:   block.Number,
		Address:   staker,
		Amount:    newTotal.Int64(),
		Operation: types.OpStake,
		Event:     event,
		Epoch:     epoch,
		Status:    types.StatusCommitted,
		Timestamp: int64(block.Timestamp),
	}
	if err := d.history.InsertHistory(rec); err != nil {
		return syncerr.Transient(err)
	}

	if err := d.stakeSMT.Insert(epoch, staker, item.Delta.Amount, item.Delta.IsIncrease); err != nil {
		return syncerr.Invariant(err)
	}
	if err := d.kv.PutStake(staker, item.Delta); err != nil {
		return err
	}
	d.pendingStake = append(d.pendingStake, pendingCell(tx, cellIndex))
	return nil
}

func (d *Dispatcher) handleDelegateUpdate(block *chain.Block, tx *chain.Transaction, cellIndex int) error {
	epoch := d.currentEpoch.Load()
	out := tx.Outputs[cellIndex]
	data, err := chain.ParseATCellData(tx.OutputsData[cellIndex])
	if err != nil {
		return syncerr.Decode(err)
	}
	entries, err := chain.ParseDelegateEntries(data.Payload())
	if err != nil {
		return syncerr.Decode(err)
	}
	delegator, err := chain.DelegatorAddrFromArgs(out.Lock.Args)
	if err != nil {
		return syncerr.Decode(err)
	}

	merged, ok, err := d.kv.GetDelegate(delegator)
	if err != nil {
		return syncerr.Transient(err)
	}
	if !ok {
		merged = types.NewDelegateDeltas()
	}

	for _, entry := range entries {
		key := smt.DelegateKey{Staker: entry.Staker, Delegator: delegator}
		old, _, err := d.delegateSMT.GetAmount(epoch, key)
		if err != nil {
			return syncerr.Transient(err)
		}
		if old == nil {
			old = big.NewInt(0)
		}
		newTotal, err := applyDelta(old, entry.Item.Delta)
		if err != nil {
			return syncerr.Invariant(fmt.Errorf("delegate update %s -> %s: %w", delegator, entry.Staker, err))
		}

		event := types.EventRedeem
		if entry.Item.Delta.IsIncrease {
			event = types.EventAdd
		}
		rec := types.HistoryRecord{
			TxHash:    tx.Hash.String(),
			TxBlock:   block.Number,
			Address:   delegator,
			Amount:    newTotal.Int64(),
			Operation: types.OpDelegate,
			Event:     event,
			Epoch:     epoch,
			Status:    types.StatusCommitted,
			Timestamp: int64(block.Timestamp),
		}
		if err := d.history.InsertHistory(rec); err != nil {
			return syncerr.Transient(err)
		}

		if err := d.delegateSMT.Insert(epoch, key, entry.Item.Delta.Amount, entry.Item.Delta.IsIncrease); err != nil {
			return syncerr.Invariant(err)
		}
		merged.Set(entry.Staker, entry.Item.Delta)
	}

	if err := d.kv.PutDelegate(delegator, merged); err != nil {
		return err
	}
	d.pendingDelegate = append(d.pendingDelegate, pendingCell(tx, cellIndex))
	return nil
}

// applyDelta returns old ± delta.amount, failing on underflow.
func applyDelta(old *big.Int, delta types.Delta) (*big.Int, error) {
	if delta.IsIncrease {
		return new(big.Int).Add(old, delta.Amount), nil
	}
	if old.Cmp(delta.Amount) < 0 {
		return nil, fmt.Errorf("underflow: have %s, decrease %s", old, delta.Amount)
	}
	return new(big.Int).Sub(old, delta.Amount), nil
}
