package chainsync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/historydb"
	"github.com/synnergy-chain/stake-smt-indexer/internal/syncerr"
)

const (
	// ConfirmationLag is the fixed safety margin against re-orgs; a deeper
	// re-org is outside the failure model and requires an operator restart.
	ConfirmationLag = 24
	// PollInterval is how long the puller sleeps when caught up with the
	// confirmed tip, and after a failed RPC call.
	PollInterval = 3 * time.Second
)

// Puller tails the base-chain indexer: it fetches blocks strictly in order,
// ConfirmationLag behind the tip, and hands each to the dispatcher.
type Puller struct {
	client        chain.Client
	dispatcher    *Dispatcher
	currentNumber uint64
	log           *logrus.Entry
}

// NewPuller builds a puller resuming from max(history.tx_block) if any
// history exists, else from startNumber.
func NewPuller(client chain.Client, dispatcher *Dispatcher, history *historydb.Store, startNumber uint64) (*Puller, error) {
	current := startNumber
	if block, ok, err := history.MaxTxBlock(); err != nil {
		return nil, err
	} else if ok {
		current = block
	}
	return &Puller{
		client:        client,
		dispatcher:    dispatcher,
		currentNumber: current,
		log:           logrus.WithField("component", "puller"),
	}, nil
}

// CurrentNumber returns the next block number the puller will process.
func (p *Puller) CurrentNumber() uint64 { return p.currentNumber }

// Run loops until ctx is cancelled or the dispatcher reports an invariant
// violation. RPC errors are logged and retried after the poll sleep, with no
// backoff; block processing is strictly sequential.
func (p *Puller) Run(ctx context.Context) error {
	p.log.WithField("start", p.currentNumber).Info("sync started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		advanced, err := p.step(ctx)
		if err != nil {
			if syncerr.IsInvariant(err) {
				return err
			}
			p.log.WithError(err).WithField("block", p.currentNumber).Error("sync step failed")
		}
		if !advanced || err != nil {
			if err := sleep(ctx, PollInterval); err != nil {
				return err
			}
		}
	}
}

// step processes at most one block, reporting whether it advanced.
func (p *Puller) step(ctx context.Context) (bool, error) {
	tip, err := p.client.GetIndexerTip(ctx)
	if err != nil {
		return false, syncerr.Transient(err)
	}
	if tip < ConfirmationLag || tip-ConfirmationLag <= p.currentNumber {
		return false, nil
	}
	block, err := p.client.GetBlockByNumber(ctx, p.currentNumber)
	if err != nil {
		return false, syncerr.Transient(err)
	}
	if err := p.dispatcher.HandleBlock(block); err != nil {
		return false, err
	}
	p.currentNumber++
	return true, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
