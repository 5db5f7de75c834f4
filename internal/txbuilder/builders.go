package txbuilder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/config"
	"github.com/synnergy-chain/stake-smt-indexer/internal/syncerr"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

func errNoWithdrawCell(user types.Address) error {
	return syncerr.NotFound(fmt.Errorf("withdraw cell for %s", user))
}

// CellBuilders is the single-cell transaction-builder contract the RPC
// operation endpoints delegate to. Each call returns an unsigned transaction
// for the user to sign and submit.
type CellBuilders interface {
	Stake(ctx context.Context, user types.Address, currentEpoch uint64, item chain.StakeDeltaItem) (*chain.Transaction, error)
	Unstake(ctx context.Context, user types.Address, currentEpoch uint64, item chain.StakeDeltaItem) (*chain.Transaction, error)
	Delegate(ctx context.Context, user types.Address, currentEpoch uint64, entries []chain.DelegateEntry) (*chain.Transaction, error)
	Undelegate(ctx context.Context, user types.Address, currentEpoch uint64, entries []chain.DelegateEntry) (*chain.Transaction, error)
	Withdraw(ctx context.Context, user types.Address, currentEpoch uint64) (*chain.Transaction, error)
	WithdrawRewards(ctx context.Context, user types.Address, currentEpoch uint64) (*chain.Transaction, error)
}

// SingleCellBuilders is the thin live implementation of CellBuilders: each
// builder spends the user's current AT cell (if any) and re-emits it with
// the requested delta embedded.
type SingleCellBuilders struct {
	client chain.Client
	ids    *config.ChainIDs
}

// NewSingleCellBuilders wires the single-cell builders.
func NewSingleCellBuilders(client chain.Client, ids *config.ChainIDs) *SingleCellBuilders {
	return &SingleCellBuilders{client: client, ids: ids}
}

var _ CellBuilders = (*SingleCellBuilders)(nil)

// rebuildStakeCell spends the user's stake-AT cell and emits it with item as
// its pending delta. A user with no prior cell gets a fresh output.
func (s *SingleCellBuilders) rebuildStakeCell(ctx context.Context, user types.Address, item chain.StakeDeltaItem) (*chain.Transaction, error) {
	tx := &chain.Transaction{CellDeps: []chain.OutPoint{}}
	total := big.NewInt(0)
	output := chain.CellOutput{
		Lock: chain.Script{CodeHash: s.ids.StakeATCodeHash, HashType: "type", Args: user.Bytes()},
		Type: &chain.Script{CodeHash: s.ids.XudtOwner, HashType: "type", Args: s.ids.AxonTokenArgs.Bytes()},
	}

	cell, err := fetchATCell(ctx, s.client, s.ids, s.ids.StakeATCodeHash, user)
	if err != nil && syncerr.IsTransient(err) {
		return nil, err
	}
	if err == nil {
		data, err := chain.ParseATCellData(cell.Data)
		if err != nil {
			return nil, err
		}
		total = data.TotalAmount()
		output = cell.Output
		tx.Inputs = append(tx.Inputs, cell.OutPoint)
		tx.Witnesses = append(tx.Witnesses, stakeLockWitness())
	}

	if item.Delta.IsIncrease {
		total = new(big.Int).Add(total, item.Delta.Amount)
	}
	tx.Outputs = append(tx.Outputs, output)
	tx.OutputsData = append(tx.OutputsData, chain.TokenCellData(total, item.Encode()))
	tx.CellDeps = append(tx.CellDeps, chain.OutPoint{})
	return tx, nil
}

// Stake builds the transaction locking additional collateral.
func (s *SingleCellBuilders) Stake(ctx context.Context, user types.Address, currentEpoch uint64, item chain.StakeDeltaItem) (*chain.Transaction, error) {
	item.InaugurationEpoch = currentEpoch + InaugurationOffset
	item.Delta.IsIncrease = true
	return s.rebuildStakeCell(ctx, user, item)
}

// Unstake builds the transaction scheduling a stake decrease.
func (s *SingleCellBuilders) Unstake(ctx context.Context, user types.Address, currentEpoch uint64, item chain.StakeDeltaItem) (*chain.Transaction, error) {
	item.InaugurationEpoch = currentEpoch + InaugurationOffset
	item.Delta.IsIncrease = false
	return s.rebuildStakeCell(ctx, user, item)
}

// rebuildDelegateCell is the delegate counterpart of rebuildStakeCell.
func (s *SingleCellBuilders) rebuildDelegateCell(ctx context.Context, user types.Address, entries []chain.DelegateEntry) (*chain.Transaction, error) {
	tx := &chain.Transaction{CellDeps: []chain.OutPoint{}}
	total := big.NewInt(0)
	output := chain.CellOutput{
		Lock: chain.Script{CodeHash: s.ids.DelegateATCodeHash, HashType: "type", Args: user.Bytes()},
		Type: &chain.Script{CodeHash: s.ids.XudtOwner, HashType: "type", Args: s.ids.AxonTokenArgs.Bytes()},
	}

	cell, err := fetchATCell(ctx, s.client, s.ids, s.ids.DelegateATCodeHash, user)
	if err != nil && syncerr.IsTransient(err) {
		return nil, err
	}
	if err == nil {
		data, err := chain.ParseATCellData(cell.Data)
		if err != nil {
			return nil, err
		}
		total = data.TotalAmount()
		output = cell.Output
		tx.Inputs = append(tx.Inputs, cell.OutPoint)
		tx.Witnesses = append(tx.Witnesses, delegateLockWitness())
	}

	for _, e := range entries {
		if e.Item.Delta.IsIncrease {
			total = new(big.Int).Add(total, e.Item.Delta.Amount)
		}
	}
	tx.Outputs = append(tx.Outputs, output)
	tx.OutputsData = append(tx.OutputsData, chain.TokenCellData(total, chain.EncodeDelegateEntries(entries)))
	tx.CellDeps = append(tx.CellDeps, chain.OutPoint{})
	return tx, nil
}

// Delegate builds the transaction backing the named stakers.
func (s *SingleCellBuilders) Delegate(ctx context.Context, user types.Address, currentEpoch uint64, entries []chain.DelegateEntry) (*chain.Transaction, error) {
	for i := range entries {
		entries[i].Item.InaugurationEpoch = currentEpoch + InaugurationOffset
		entries[i].Item.Delta.IsIncrease = true
	}
	return s.rebuildDelegateCell(ctx, user, entries)
}

// Undelegate builds the transaction scheduling delegation decreases.
func (s *SingleCellBuilders) Undelegate(ctx context.Context, user types.Address, currentEpoch uint64, entries []chain.DelegateEntry) (*chain.Transaction, error) {
	for i := range entries {
		entries[i].Item.InaugurationEpoch = currentEpoch + InaugurationOffset
		entries[i].Item.Delta.IsIncrease = false
	}
	return s.rebuildDelegateCell(ctx, user, entries)
}

// Withdraw builds the transaction claiming every withdraw record whose
// unlock epoch is at or before currentEpoch.
func (s *SingleCellBuilders) Withdraw(ctx context.Context, user types.Address, currentEpoch uint64) (*chain.Transaction, error) {
	cell, err := fetchWithdrawCell(ctx, s.client, s.ids, user)
	if err != nil {
		return nil, err
	}
	if cell == nil {
		return nil, errNoWithdrawCell(user)
	}
	data, err := chain.ParseATCellData(cell.Data)
	if err != nil {
		return nil, err
	}
	records, err := chain.ParseWithdrawRecords(data.Payload())
	if err != nil {
		return nil, err
	}

	remaining := data.TotalAmount()
	kept := records[:0]
	for _, r := range records {
		if r.UnlockEpoch <= currentEpoch {
			remaining = new(big.Int).Sub(remaining, r.Amount)
			continue
		}
		kept = append(kept, r)
	}

	tx := &chain.Transaction{
		Inputs:      []chain.OutPoint{cell.OutPoint},
		Outputs:     []chain.CellOutput{cell.Output},
		OutputsData: [][]byte{chain.TokenCellData(remaining, chain.EncodeWithdrawRecords(kept))},
		Witnesses:   [][]byte{withdrawLockWitness()},
	}
	return tx, nil
}

// WithdrawRewards returns the same transaction as Withdraw: it rebuilds the
// user's withdraw cell. No separate reward cell is read or claimed.
func (s *SingleCellBuilders) WithdrawRewards(ctx context.Context, user types.Address, currentEpoch uint64) (*chain.Transaction, error) {
	return s.Withdraw(ctx, user, currentEpoch)
}
