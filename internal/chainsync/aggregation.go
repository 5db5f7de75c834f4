package chainsync

import (
	"context"

	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/syncerr"
	"github.com/synnergy-chain/stake-smt-indexer/internal/txbuilder"
)

// Aggregators bundles the two aggregation builders the dispatcher drives at
// each epoch boundary, plus the client used to submit the built
// transactions.
type Aggregators struct {
	Stake    *txbuilder.StakeAggregator
	Delegate *txbuilder.DelegateAggregator
	Client   chain.Client
}

// SetAggregators arms epoch-boundary aggregation. Without it the dispatcher
// only indexes (useful for read-only deployments and tests).
func (d *Dispatcher) SetAggregators(a *Aggregators) {
	d.aggregators = a
}

// pendingCell materializes a classified AT output as a candidate cell for
// the next aggregation batch.
func pendingCell(tx *chain.Transaction, index int) chain.Cell {
	return chain.Cell{
		OutPoint: chain.OutPoint{TxHash: tx.Hash, Index: uint32(index)},
		Output:   tx.Outputs[index],
		Data:     tx.OutputsData[index],
	}
}

// runAggregation drains the pending batches against the epoch that is about
// to roll over. Build or submit failures are logged and the batch dropped;
// only invariant violations propagate, since those mean the local ledger
// itself is wrong. One aggregation runs at a time: the dispatcher's
// single-threaded handler loop is the serialization point.
func (d *Dispatcher) runAggregation(epoch uint64) error {
	if d.aggregators == nil {
		return nil
	}
	ctx := context.Background()

	if len(d.pendingStake) > 0 {
		tx, nonTop, err := d.aggregators.Stake.BuildTx(ctx, epoch, d.pendingStake)
		if err != nil {
			if syncerr.IsInvariant(err) {
				return err
			}
			d.log.WithError(err).Error("stake aggregation build failed")
		} else {
			if hash, err := d.aggregators.Client.SendTransaction(ctx, tx); err != nil {
				d.log.WithError(err).Error("stake aggregation submit failed")
			} else {
				d.log.WithField("tx", hash).WithField("evicted", len(nonTop)).
					Info("submitted stake aggregation")
			}
		}
		d.pendingStake = nil
	}

	if len(d.pendingDelegate) > 0 {
		tx, evicted, err := d.aggregators.Delegate.BuildTx(ctx, epoch, d.pendingDelegate)
		if err != nil {
			if syncerr.IsInvariant(err) {
				return err
			}
			d.log.WithError(err).Error("delegate aggregation build failed")
		} else {
			if hash, err := d.aggregators.Client.SendTransaction(ctx, tx); err != nil {
				d.log.WithError(err).Error("delegate aggregation submit failed")
			} else {
				d.log.WithField("tx", hash).WithField("evicted", len(evicted)).
					Info("submitted delegate aggregation")
			}
		}
		d.pendingDelegate = nil
	}
	return nil
}
