// Package chainsync tails the base chain: the puller fetches confirmed
// blocks in order, the classifier pattern-matches each transaction's output
// cells against the protocol's script identifiers, and the dispatcher
// mutates the durable stores (history DB, KV status store, SMTs) in block
// order.
package chainsync

import (
	"github.com/synnergy-chain/stake-smt-indexer/internal/chain"
	"github.com/synnergy-chain/stake-smt-indexer/internal/config"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// TxKind is the classification of one base-chain transaction.
type TxKind int

const (
	// TxIgnored carries no protocol cells this service tracks.
	TxIgnored TxKind = iota
	// TxEpochRollover carries the metadata singleton cell announcing a new
	// epoch.
	TxEpochRollover
	// TxAggregationStake is a stake-SMT aggregation transaction. Its SMT
	// effect was applied locally when the tx was built, so the dispatcher
	// skips it.
	TxAggregationStake
	// TxAggregationDelegate is the delegate-SMT counterpart.
	TxAggregationDelegate
	// TxStakeUpdate carries an individual staker's stake-AT cell update.
	TxStakeUpdate
	// TxDelegateUpdate carries an individual delegator's delegate-AT cell
	// update.
	TxDelegateUpdate
)

// Classified is the classifier's verdict for one transaction: its kind plus
// the fields that kind carries.
type Classified struct {
	Kind TxKind
	// Epoch is set for TxEpochRollover.
	Epoch uint64
	// CellIndex is set for TxStakeUpdate/TxDelegateUpdate: the output index
	// of the AT cell to apply.
	CellIndex int
}

// Classifier pattern-matches transactions against the chain identifiers
// fixed at startup.
type Classifier struct {
	ids *config.ChainIDs
}

// NewClassifier builds a classifier over the given identifier bundle.
func NewClassifier(ids *config.ChainIDs) *Classifier {
	return &Classifier{ids: ids}
}

// Classify inspects tx's outputs and returns exactly one verdict, applying
// the fixed priority: epoch rollover, then stake aggregation, then delegate
// aggregation, then stake update, then delegate update.
func (c *Classifier) Classify(tx *chain.Transaction) (Classified, error) {
	if idx, ok := c.findMetadataOutput(tx); ok {
		epoch, err := chain.ParseMetadataEpoch(tx.OutputsData[idx])
		if err != nil {
			return Classified{}, err
		}
		return Classified{Kind: TxEpochRollover, Epoch: epoch}, nil
	}

	stakeIdx, hasStakeAT := c.findATOutput(tx, c.ids.StakeATCodeHash)
	delegateIdx, hasDelegateAT := c.findATOutput(tx, c.ids.DelegateATCodeHash)

	if hasStakeAT && c.hasSMTOutput(tx, c.ids.StakeSMTCodeHash) {
		return Classified{Kind: TxAggregationStake}, nil
	}
	if hasDelegateAT && c.hasSMTOutput(tx, c.ids.DelegateSMTCodeHash) {
		return Classified{Kind: TxAggregationDelegate}, nil
	}
	if hasStakeAT {
		return Classified{Kind: TxStakeUpdate, CellIndex: stakeIdx}, nil
	}
	if hasDelegateAT {
		return Classified{Kind: TxDelegateUpdate, CellIndex: delegateIdx}, nil
	}
	return Classified{Kind: TxIgnored}, nil
}

// findMetadataOutput locates the metadata singleton: a type script with the
// metadata code hash and the metadata type-id args.
func (c *Classifier) findMetadataOutput(tx *chain.Transaction) (int, bool) {
	for i, out := range tx.Outputs {
		if out.Type == nil {
			continue
		}
		if out.Type.CodeHash == c.ids.MetadataCodeHash && argsEqualHash(out.Type.Args, c.ids.MetadataTypeID) {
			return i, true
		}
	}
	return 0, false
}

// findATOutput locates an asset-token output: type args carrying the axon
// token identifier and a lock under the given code hash.
func (c *Classifier) findATOutput(tx *chain.Transaction, lockCodeHash types.Hash) (int, bool) {
	for i, out := range tx.Outputs {
		if out.Type == nil {
			continue
		}
		if argsEqualHash(out.Type.Args, c.ids.AxonTokenArgs) && out.Lock.CodeHash == lockCodeHash {
			return i, true
		}
	}
	return 0, false
}

// hasSMTOutput reports whether tx carries the SMT singleton for the given
// code hash: a type script under that hash with the issuance type-id args.
func (c *Classifier) hasSMTOutput(tx *chain.Transaction, codeHash types.Hash) bool {
	for _, out := range tx.Outputs {
		if out.Type == nil {
			continue
		}
		if out.Type.CodeHash == codeHash && argsEqualHash(out.Type.Args, c.ids.IssuanceTypeID) {
			return true
		}
	}
	return false
}

func argsEqualHash(args []byte, h types.Hash) bool {
	if len(args) != len(h) {
		return false
	}
	for i := range h {
		if args[i] != h[i] {
			return false
		}
	}
	return true
}
