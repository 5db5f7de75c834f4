package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/config"
	"github.com/synnergy-chain/stake-smt-indexer/internal/smt"
	"github.com/synnergy-chain/stake-smt-indexer/internal/syncerr"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// StakeAggregator builds the periodic stake aggregation transaction: it
// folds a batch of individual stake-AT cell updates into the inauguration
// epoch's SMT working set, selects the top-K stakers, evicts the rest, and
// assembles the compound transaction committing the new root on-chain.
type StakeAggregator struct {
	client       chain.Client
	ids          *config.ChainIDs
	deps         Deps
	operatorKey  *ecdsa.PrivateKey
	operatorLock chain.Script
	quorum       uint64
	smt          *smt.StakeStore
	log          *logrus.Entry
}

// NewStakeAggregator wires a stake aggregation builder.
func NewStakeAggregator(client chain.Client, ids *config.ChainIDs, deps Deps, operatorKey *ecdsa.PrivateKey, operatorLock chain.Script, quorum uint64, store *smt.StakeStore) *StakeAggregator {
	return &StakeAggregator{
		client:       client,
		ids:          ids,
		deps:         deps,
		operatorKey:  operatorKey,
		operatorLock: operatorLock,
		quorum:       quorum,
		smt:          store,
		log:          logrus.WithField("component", "stake-aggregator"),
	}
}

// NewOperatorKey parses a hex-encoded secp256k1 private key and derives the
// operator's lock script under the given code hash.
func NewOperatorKey(hexKey string, lockCodeHash types.Hash) (*ecdsa.PrivateKey, chain.Script, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, chain.Script{}, fmt.Errorf("txbuilder: parse operator key: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	lock := chain.Script{CodeHash: lockCodeHash, HashType: "type", Args: addr.Bytes()}
	return key, lock, nil
}

// foldState is the working state of one aggregation build.
type foldState struct {
	oldSMT   map[types.Address]*big.Int
	newSMT   map[types.Address]*big.Int
	withdraw map[types.Address]*big.Int
	inputs   map[types.Address]chain.Cell
	order    []types.Address
}

// BuildTx runs the aggregation algorithm for currentEpoch over the pending
// candidate cells and returns the assembled, signed transaction plus the
// evicted stakers (true if the staker held a leaf before this batch). The
// off-chain SMT is updated atomically with the transaction's intent; on a
// failed submission the operator must restart to re-derive state.
func (b *StakeAggregator) BuildTx(ctx context.Context, currentEpoch uint64, candidates []chain.Cell) (*chain.Transaction, map[types.Address]bool, error) {
	target := currentEpoch + InaugurationOffset

	smtCell, err := fetchSMTCell(ctx, b.client, b.ids, b.ids.StakeSMTCodeHash)
	if err != nil {
		return nil, nil, err
	}

	oldSMT, err := b.smt.GetSubLeaves(target)
	if err != nil {
		return nil, nil, syncerr.Transient(err)
	}

	st := &foldState{
		oldSMT:   oldSMT,
		newSMT:   make(map[types.Address]*big.Int, len(oldSMT)),
		withdraw: make(map[types.Address]*big.Int),
		inputs:   make(map[types.Address]chain.Cell),
	}
	for s, v := range oldSMT {
		st.newSMT[s] = new(big.Int).Set(v)
	}

	if err := b.fold(st, target, candidates); err != nil {
		return nil, nil, err
	}

	nonTop, err := b.evictNonTop(ctx, st)
	if err != nil {
		return nil, nil, err
	}

	oldProof, err := b.smt.GenerateTopProof([]uint64{target})
	if err != nil {
		return nil, nil, syncerr.Transient(err)
	}

	if err := b.commit(target, st, nonTop); err != nil {
		return nil, nil, err
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
		"stakers": len(st.newSMT), "evicted": len(nonTop),
	}).Info("built stake aggregation tx")
	return tx, nonTop, nil
}

// fold applies each candidate cell's delta to the working leaf set. Stale
// candidates (inaugurating before the target epoch) are skipped. A duplicate
// staker is last-writer-wins for the cell; every delta still applies in
// input order.
func (b *StakeAggregator) fold(st *foldState, target uint64, candidates []chain.Cell) error {
	for _, cell := range candidates {
		data, err := chain.ParseATCellData(cell.Data)
		if err != nil {
			return syncerr.Decode(err)
		}
		item, err := chain.ParseStakeDeltaItem(data.Payload())
		if err != nil {
			return syncerr.Decode(err)
		}
		staker, err := chain.StakeAddrFromArgs(cell.Output.Lock.Args)
		if err != nil {
			return syncerr.Decode(err)
		}
		if item.InaugurationEpoch < target {
			b.log.WithFields(logrus.Fields{
				"staker": staker, "inauguration": item.InaugurationEpoch, "target": target,
			}).Warn("skipping stale candidate")
			continue
		}

		if _, seen := st.inputs[staker]; !seen {
			st.order = append(st.order, staker)
		}
		st.inputs[staker] = cell

		cur, exists := st.newSMT[staker]
		amt := item.Delta.Amount
		switch {
		case !exists:
			if !item.Delta.IsIncrease {
				return syncerr.Invariant(fmt.Errorf("new entrant %s with decrease", staker))
			}
			st.newSMT[staker] = new(big.Int).Set(amt)
		case item.Delta.IsIncrease:
			cur.Add(cur, amt)
		case amt.Cmp(cur) >= 0:
			// Full withdrawal up to the current balance. The leaf keeps its
			// value; the excess is reflected only through the cell's total
			// amount accounting downstream.
			st.withdraw[staker] = new(big.Int).Set(cur)
		default:
			cur.Sub(cur, amt)
			st.withdraw[staker] = new(big.Int).Set(amt)
		}
	}
	return nil
}

// evictNonTop trims the working set down to K = 3*quorum stakers, ascending
// by amount with a stable tie-break on address bytes. An evicted staker that
// held a leaf but is not in the batch has its live stake-AT cell pulled into
// the inputs for a full withdrawal; a brand-new entrant that failed to make
// the cut needs no on-chain change at all.
func (b *StakeAggregator) evictNonTop(ctx context.Context, st *foldState) (map[types.Address]bool, error) {
	nonTop := make(map[types.Address]bool)
	k := int(3 * b.quorum)
	if len(st.newSMT) <= k {
		return nonTop, nil
	}

	sorted := make([]types.Address, 0, len(st.newSMT))
	for s := range st.newSMT {
		sorted = append(sorted, s)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		c := st.newSMT[sorted[i]].Cmp(st.newSMT[sorted[j]])
		if c != 0 {
			return c < 0
		}
		return types.AddressLess(sorted[i], sorted[j])
	})

	for _, s := range sorted[:len(sorted)-k] {
		_, wasOld := st.oldSMT[s]
		nonTop[s] = wasOld
		delete(st.newSMT, s)

		if wasOld {
			if _, have := st.inputs[s]; !have {
				cell, err := fetchATCell(ctx, b.client, b.ids, b.ids.StakeATCodeHash, s)
				if err != nil {
					return nil, err
				}
				st.inputs[s] = *cell
				st.order = append(st.order, s)
				st.withdraw[s] = new(big.Int).Set(st.oldSMT[s])
			}
			continue
		}
		if _, have := st.inputs[s]; have {
			delete(st.inputs, s)
			delete(st.withdraw, s)
			for i, o := range st.order {
				if o == s {
					st.order = append(st.order[:i], st.order[i+1:]...)
					break
				}
			}
		}
	}
	return nonTop, nil
}

// commit writes the post-eviction working set into the off-chain store:
// every retained staker's leaf is overwritten with its new value, every
// evicted pre-existing leaf is removed so the local root matches the root
// the on-chain cell will carry.
func (b *StakeAggregator) commit(target uint64, st *foldState, nonTop map[types.Address]bool) error {
	for s, v := range st.newSMT {
		if err := b.smt.Set(target, s, v); err != nil {
			return syncerr.Transient(err)
		}
	}
	for s, wasOld := range nonTop {
		if !wasOld {
			continue
		}
		if err := b.smt.Delete(target, s); err != nil {
			return syncerr.Transient(err)
		}
	}
	return nil
}

// assemble lays out inputs, outputs, cell data and witnesses per the
// aggregation transaction shape: the SMT singleton first, then each staker's
// stake-AT cell (with its delta cleared and any withdrawal deducted), then
// withdraw-AT cells accumulating the newly unlockable amounts.
func (b *StakeAggregator) assemble(ctx context.Context, smtCell *chain.Cell, st *foldState, target uint64, newRoot [32]byte, oldProof, newProof []byte) (*chain.Transaction, error) {
	tx := &chain.Transaction{}

	tx.Inputs = append(tx.Inputs, smtCell.OutPoint)
	tx.Outputs = append(tx.Outputs, smtCell.Output)
	tx.OutputsData = append(tx.OutputsData, chain.SMTCellData(smtCell.Data, newRoot))
	tx.Witnesses = append(tx.Witnesses, smtWitness(0, st.oldSMT, oldProof, newProof))

	hasWithdraw := false
	for _, staker := range st.order {
		cell, ok := st.inputs[staker]
		if !ok {
			continue
		}
		tx.Inputs = append(tx.Inputs, cell.OutPoint)
		tx.Witnesses = append(tx.Witnesses, stakeLockWitness())

		data, err := chain.ParseATCellData(cell.Data)
		if err != nil {
			return nil, syncerr.Decode(err)
		}
		oldTotal := data.TotalAmount()
		newTotal := new(big.Int).Set(oldTotal)
		w := st.withdraw[staker]
		if w != nil {
			newTotal.Sub(newTotal, w)
		}
		cleared, err := chain.ClearStakeDelta(data.Payload())
		if err != nil {
			return nil, syncerr.Decode(err)
		}
		tx.Outputs = append(tx.Outputs, cell.Output)
		tx.OutputsData = append(tx.OutputsData, chain.TokenCellData(newTotal, cleared))

		if w == nil {
			continue
		}
		hasWithdraw = true
		wCell, err := fetchWithdrawCell(ctx, b.client, b.ids, staker)
		if err != nil {
			return nil, err
		}
		oldWTotal := big.NewInt(0)
		var records []chain.WithdrawRecord
		wOutput := chain.CellOutput{
			Capacity: cell.Output.Capacity,
			Lock:     chain.Script{CodeHash: b.ids.WithdrawCodeHash, HashType: "type", Args: staker.Bytes()},
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

	tx.CellDeps = append(tx.CellDeps, b.deps.StakeLock, b.deps.Xudt)
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
