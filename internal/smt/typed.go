package smt

import (
	"math/big"

	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

// StakeStore is the SMT instance keyed at the sub-level by staker address.
type StakeStore struct{ *Store }

// OpenStake opens the stake SMT directory.
func OpenStake(dir string) (*StakeStore, error) {
	s, err := Open(dir, "stake")
	if err != nil {
		return nil, err
	}
	return &StakeStore{s}, nil
}

// GetAmount returns the staker's leaf value at epoch, if any.
func (s *StakeStore) GetAmount(epoch uint64, staker types.Address) (*big.Int, bool, error) {
	return s.Store.GetAmount(epoch, staker.Bytes())
}

// GetSubLeaves returns the full staker->amount leaf set at epoch.
func (s *StakeStore) GetSubLeaves(epoch uint64) (map[types.Address]*big.Int, error) {
	raw, err := s.Store.GetSubLeaves(epoch)
	if err != nil {
		return nil, err
	}
	out := make(map[types.Address]*big.Int, len(raw))
	for k, v := range raw {
		var a types.Address
		copy(a[:], []byte(k))
		out[a] = v
	}
	return out, nil
}

// Insert applies increase/decrease updates keyed by staker address.
func (s *StakeStore) Insert(epoch uint64, staker types.Address, amount *big.Int, isIncrease bool) error {
	return s.Store.Insert(epoch, []LeafUpdate{{Key: staker.Bytes(), Amount: amount, IsIncrease: isIncrease}})
}

// Set overwrites the staker's leaf value directly.
func (s *StakeStore) Set(epoch uint64, staker types.Address, amount *big.Int) error {
	return s.Store.Set(epoch, staker.Bytes(), amount)
}

// Delete removes the staker's leaf from epoch's working set.
func (s *StakeStore) Delete(epoch uint64, staker types.Address) error {
	return s.Store.Delete(epoch, staker.Bytes())
}

// DelegateKey identifies a delegate-SMT leaf at the (staker, delegator)
// sub-level.
type DelegateKey struct {
	Staker    types.Address
	Delegator types.Address
}

func (k DelegateKey) bytes() []byte {
	out := make([]byte, 0, types.AddressLen*2)
	out = append(out, k.Staker.Bytes()...)
	out = append(out, k.Delegator.Bytes()...)
	return out
}

func delegateKeyFromBytes(b []byte) DelegateKey {
	var k DelegateKey
	copy(k.Staker[:], b[0:types.AddressLen])
	copy(k.Delegator[:], b[types.AddressLen:2*types.AddressLen])
	return k
}

// DelegateStore is the SMT instance keyed at the sub-level by
// (epoch, staker, delegator).
type DelegateStore struct{ *Store }

// OpenDelegate opens the delegate SMT directory.
func OpenDelegate(dir string) (*DelegateStore, error) {
	s, err := Open(dir, "delegate")
	if err != nil {
		return nil, err
	}
	return &DelegateStore{s}, nil
}

// GetAmount returns the (staker, delegator) leaf value at epoch, if any.
func (s *DelegateStore) GetAmount(epoch uint64, key DelegateKey) (*big.Int, bool, error) {
	return s.Store.GetAmount(epoch, key.bytes())
}

// GetSubLeaves returns the full (staker, delegator)->amount leaf set at epoch.
func (s *DelegateStore) GetSubLeaves(epoch uint64) (map[DelegateKey]*big.Int, error) {
	raw, err := s.Store.GetSubLeaves(epoch)
	if err != nil {
		return nil, err
	}
	out := make(map[DelegateKey]*big.Int, len(raw))
	for k, v := range raw {
		out[delegateKeyFromBytes([]byte(k))] = v
	}
	return out, nil
}

// Insert applies an increase/decrease update at (epoch, staker, delegator).
func (s *DelegateStore) Insert(epoch uint64, key DelegateKey, amount *big.Int, isIncrease bool) error {
	return s.Store.Insert(epoch, []LeafUpdate{{Key: key.bytes(), Amount: amount, IsIncrease: isIncrease}})
}

// Set overwrites the (staker, delegator) leaf value directly.
func (s *DelegateStore) Set(epoch uint64, key DelegateKey, amount *big.Int) error {
	return s.Store.Set(epoch, key.bytes(), amount)
}

// Delete removes the (staker, delegator) leaf from epoch's working set.
func (s *DelegateStore) Delete(epoch uint64, key DelegateKey) error {
	return s.Store.Delete(epoch, key.bytes())
}

// RewardStore is the SMT instance tracking locked/unlocked reward leaves,
// keyed by address like StakeStore.
type RewardStore struct{ *Store }

// OpenReward opens the reward SMT directory.
func OpenReward(dir string) (*RewardStore, error) {
	s, err := Open(dir, "reward")
	if err != nil {
		return nil, err
	}
	return &RewardStore{s}, nil
}

// Insert applies an increase/decrease update keyed by address.
func (s *RewardStore) Insert(epoch uint64, addr types.Address, amount *big.Int, isIncrease bool) error {
	return s.Store.Insert(epoch, []LeafUpdate{{Key: addr.Bytes(), Amount: amount, IsIncrease: isIncrease}})
}

// GetAmount returns the address's leaf value at epoch, if any.
func (s *RewardStore) GetAmount(epoch uint64, addr types.Address) (*big.Int, bool, error) {
	return s.Store.GetAmount(epoch, addr.Bytes())
}
