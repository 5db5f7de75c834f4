package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/config"
	"github.com/synnergy-chain/stake-smt-indexer/internal/syncerr"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// InaugurationOffset is how many epochs after submission a stake or delegate
// change takes effect: decisions made at epoch e inaugurate at e + 2.
const InaugurationOffset = 2

// Deps are the fixed code-cell out-points every aggregation transaction
// references. Checkpoint and metadata cell deps are resolved live at build
// time, not listed here.
type Deps struct {
	StakeLock    chain.OutPoint
	DelegateLock chain.OutPoint
	WithdrawLock chain.OutPoint
	Xudt         chain.OutPoint
}

// ParseDeps converts the configuration's string out-points into a Deps set.
func ParseDeps(cfg config.CellDeps) (Deps, error) {
	var (
		d   Deps
		err error
	)
	parse := func(name, s string, dst *chain.OutPoint) {
		if err != nil || s == "" {
			return
		}
		var op chain.OutPoint
		if op, err = chain.ParseOutPoint(s); err != nil {
			err = fmt.Errorf("cell dep %s: %w", name, err)
			return
		}
		*dst = op
	}
	parse("stake_lock", cfg.StakeLock, &d.StakeLock)
	parse("delegate_lock", cfg.DelegateLock, &d.DelegateLock)
	parse("withdraw_lock", cfg.WithdrawLock, &d.WithdrawLock)
	parse("xudt", cfg.Xudt, &d.Xudt)
	return d, err
}

// fetchSMTCell locates the singleton SMT commitment cell for the given SMT
// type-script code hash (stake or delegate): the type script under that
// hash carrying the issuance type-id args.
func fetchSMTCell(ctx context.Context, client chain.Client, ids *config.ChainIDs, codeHash types.Hash) (*chain.Cell, error) {
	typ := chain.Script{CodeHash: codeHash, HashType: "type", Args: ids.IssuanceTypeID.Bytes()}
	cell, err := client.GetCellByType(ctx, typ)
	if err != nil {
		return nil, syncerr.Transient(err)
	}
	if cell == nil {
		return nil, syncerr.NotFound(fmt.Errorf("smt cell for code hash %s", codeHash))
	}
	return cell, nil
}

// fetchATCell locates a user's live AT cell under the given lock code hash.
func fetchATCell(ctx context.Context, client chain.Client, ids *config.ChainIDs, codeHash types.Hash, user types.Address) (*chain.Cell, error) {
	lock := chain.Script{CodeHash: codeHash, HashType: "type", Args: user.Bytes()}
	typ := &chain.Script{CodeHash: ids.XudtOwner, HashType: "type", Args: ids.AxonTokenArgs.Bytes()}
	cell, err := client.GetCellByLock(ctx, lock, typ)
	if err != nil {
		return nil, syncerr.Transient(err)
	}
	if cell == nil {
		return nil, syncerr.NotFound(fmt.Errorf("at cell for %s under code hash %s", user, codeHash))
	}
	return cell, nil
}

// fetchWithdrawCell locates a user's current withdraw-AT cell, returning
// (nil, nil) if the user has never withdrawn.
func fetchWithdrawCell(ctx context.Context, client chain.Client, ids *config.ChainIDs, user types.Address) (*chain.Cell, error) {
	lock := chain.Script{CodeHash: ids.WithdrawCodeHash, HashType: "type", Args: user.Bytes()}
	cell, err := client.GetCellByLock(ctx, lock, nil)
	if err != nil {
		return nil, syncerr.Transient(err)
	}
	return cell, nil
}

// liveCellDeps resolves the checkpoint and metadata singleton deps at build
// time, since those cells move with every rollover.
func liveCellDeps(ctx context.Context, client chain.Client, ids *config.ChainIDs) ([]chain.OutPoint, error) {
	var out []chain.OutPoint
	for _, typeID := range []types.Hash{ids.CheckpointTypeID, ids.MetadataTypeID} {
		typ := chain.Script{CodeHash: ids.MetadataCodeHash, HashType: "type", Args: typeID.Bytes()}
		cell, err := client.GetCellByType(ctx, typ)
		if err != nil {
			return nil, syncerr.Transient(err)
		}
		if cell == nil {
			return nil, syncerr.NotFound(fmt.Errorf("singleton cell for type id %s", typeID))
		}
		out = append(out, cell.OutPoint)
	}
	return out, nil
}

// balanceAndSign appends the operator's capacity input and change output,
// then signs the operator input group: the placeholder capacity witness is
// replaced by a secp256k1 signature over the keccak digest of the serialized
// transaction.
func balanceAndSign(ctx context.Context, client chain.Client, operatorLock chain.Script, key *ecdsa.PrivateKey, tx *chain.Transaction) error {
	capCell, err := client.GetCellByLock(ctx, operatorLock, nil)
	if err != nil {
		return syncerr.Transient(err)
	}
	if capCell == nil {
		return syncerr.NotFound(fmt.Errorf("operator capacity cell"))
	}
	tx.Inputs = append(tx.Inputs, capCell.OutPoint)
	tx.Outputs = append(tx.Outputs, chain.CellOutput{Capacity: capCell.Output.Capacity, Lock: operatorLock})
	tx.OutputsData = append(tx.OutputsData, []byte{})
	tx.Witnesses = append(tx.Witnesses, capacityWitness())

	raw, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("txbuilder: serialize for signing: %w", err)
	}
	sig, err := crypto.Sign(crypto.Keccak256(raw), key)
	if err != nil {
		return fmt.Errorf("txbuilder: sign: %w", err)
	}
	tx.Witnesses[len(tx.Witnesses)-1] = sig
	return nil
}
