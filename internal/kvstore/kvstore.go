// Package kvstore is the key-value status store: two column families
// (stake, delegate) plus a reserved current_epoch key, all synchronous
// point get/put over an embedded goleveldb instance.
package kvstore

import (
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

const (
	stakeColumn     = "stake/"
	delegateColumn  = "delegate/"
	currentEpochKey = "current_epoch"
)

// Store is the embedded KV status store.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) the on-disk KV store at dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// PutStake records the last observed Delta for a staker.
func (s *Store) PutStake(staker types.Address, d types.Delta) error {
	key := append([]byte(stakeColumn), staker.Bytes()...)
	if err := s.db.Put(key, d.Encode(), nil); err != nil {
		return fmt.Errorf("kvstore: put stake %s: %w", staker, err)
	}
	return nil
}

// GetStake returns the last observed Delta for a staker, if any.
func (s *Store) GetStake(staker types.Address) (types.Delta, bool, error) {
	key := append([]byte(stakeColumn), staker.Bytes()...)
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return types.Delta{}, false, nil
	}
	if err != nil {
		return types.Delta{}, false, fmt.Errorf("kvstore: get stake %s: %w", staker, err)
	}
	d, err := types.DecodeDelta(v)
	if err != nil {
		return types.Delta{}, false, fmt.Errorf("kvstore: decode stake %s: %w", staker, err)
	}
	return d, true, nil
}

// PutDelegate records the merged DelegateDeltas for a delegator.
func (s *Store) PutDelegate(delegator types.Address, dd *types.DelegateDeltas) error {
	key := append([]byte(delegateColumn), delegator.Bytes()...)
	if err := s.db.Put(key, dd.Encode(), nil); err != nil {
		return fmt.Errorf("kvstore: put delegate %s: %w", delegator, err)
	}
	return nil
}

// GetDelegate returns the merged DelegateDeltas for a delegator, if any.
func (s *Store) GetDelegate(delegator types.Address) (*types.DelegateDeltas, bool, error) {
	key := append([]byte(delegateColumn), delegator.Bytes()...)
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: get delegate %s: %w", delegator, err)
	}
	dd, err := types.DecodeDelegateDeltas(v)
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: decode delegate %s: %w", delegator, err)
	}
	return dd, true, nil
}

// PutCurrentEpoch persists the 8-byte little-endian epoch marker.
func (s *Store) PutCurrentEpoch(epoch uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], epoch)
	if err := s.db.Put([]byte(currentEpochKey), b[:], nil); err != nil {
		return fmt.Errorf("kvstore: put current_epoch: %w", err)
	}
	return nil
}

// GetCurrentEpoch returns the persisted epoch marker, if any.
func (s *Store) GetCurrentEpoch() (uint64, bool, error) {
	v, err := s.db.Get([]byte(currentEpochKey), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("kvstore: get current_epoch: %w", err)
	}
	if len(v) != 8 {
		return 0, false, fmt.Errorf("kvstore: current_epoch: invalid length %d", len(v))
	}
	return binary.LittleEndian.Uint64(v), true, nil
}
