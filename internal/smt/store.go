package smt

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store is a persistent sparse Merkle tree keyed by epoch, backed by an
// embedded goleveldb instance. One Store backs each of the stake, delegate
// and reward trees; which instance it is only affects the log field and
// the directory it opens.
type Store struct {
	db   *leveldb.DB
	name string
	log  *logrus.Entry

	mu sync.Mutex // serializes writes to a single epoch's leaf set
}

// Open opens (or creates) the on-disk tree at dir.
func Open(dir, name string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("smt %s: open %s: %w", name, dir, err)
	}
	return &Store{
		db:   db,
		name: name,
		log:  logrus.WithField("component", "smt").WithField("tree", name),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// LeafUpdate is one per-leaf mutation passed to Insert.
type LeafUpdate struct {
	Key        []byte
	Amount     *big.Int
	IsIncrease bool
}

func leafKey(epoch uint64, key []byte) []byte {
	out := make([]byte, 0, 5+8+len(key))
	out = append(out, "leaf/"...)
	var eb [8]byte
	binary.BigEndian.PutUint64(eb[:], epoch)
	out = append(out, eb[:]...)
	out = append(out, key...)
	return out
}

func leafPrefix(epoch uint64) []byte {
	out := make([]byte, 0, 5+8)
	out = append(out, "leaf/"...)
	var eb [8]byte
	binary.BigEndian.PutUint64(eb[:], epoch)
	return append(out, eb[:]...)
}

func epochMarkerKey(epoch uint64) []byte {
	var eb [8]byte
	binary.BigEndian.PutUint64(eb[:], epoch)
	return append([]byte("epoch/"), eb[:]...)
}

// NewEpoch initializes epoch's working leaf set by cloning epoch-1's leaves
// (inaugurated committee carry-over). Idempotent: a second call for an
// epoch that already has a marker is a no-op.
func (s *Store) NewEpoch(epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.db.Has(epochMarkerKey(epoch), nil); err != nil {
		return fmt.Errorf("smt %s: new_epoch %d: %w", s.name, epoch, err)
	} else if ok {
		return nil
	}

	batch := new(leveldb.Batch)
	batch.Put(epochMarkerKey(epoch), []byte{1})

	if epoch > 0 {
		prev := leafPrefix(epoch - 1)
		it := s.db.NewIterator(util.BytesPrefix(prev), nil)
		defer it.Release()
		for it.Next() {
			suffix := it.Key()[len(prev):]
			newKey := append(append([]byte{}, leafPrefix(epoch)...), suffix...)
			val := append([]byte{}, it.Value()...)
			batch.Put(newKey, val)
		}
		if err := it.Error(); err != nil {
			return fmt.Errorf("smt %s: new_epoch %d: scan prior epoch: %w", s.name, epoch, err)
		}
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("smt %s: new_epoch %d: %w", s.name, epoch, err)
	}
	s.log.WithField("epoch", epoch).Info("initialized epoch working set")
	return nil
}

// Insert adds or subtracts at each named leaf for epoch. A decrease below
// zero is a fatal underflow at this layer.
func (s *Store) Insert(epoch uint64, updates []LeafUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	for _, u := range updates {
		cur, err := s.getLocked(epoch, u.Key)
		if err != nil {
			return err
		}
		var next *big.Int
		if u.IsIncrease {
			next = new(big.Int).Add(cur, u.Amount)
		} else {
			if cur.Cmp(u.Amount) < 0 {
				return fmt.Errorf("smt %s: underflow at epoch %d key %x: have %s, decrease %s",
					s.name, epoch, u.Key, cur, u.Amount)
			}
			next = new(big.Int).Sub(cur, u.Amount)
		}
		batch.Put(leafKey(epoch, u.Key), u128ToBytes(next))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("smt %s: insert epoch %d: %w", s.name, epoch, err)
	}
	return nil
}

// Set overwrites a leaf's value directly (used by the aggregation builder
// once it has computed the final post-eviction amount for a staker).
func (s *Store) Set(epoch uint64, key []byte, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Put(leafKey(epoch, key), u128ToBytes(amount), nil); err != nil {
		return fmt.Errorf("smt %s: set epoch %d key %x: %w", s.name, epoch, key, err)
	}
	return nil
}

// Delete removes a leaf entirely from epoch's working set.
func (s *Store) Delete(epoch uint64, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(leafKey(epoch, key), nil); err != nil {
		return fmt.Errorf("smt %s: delete epoch %d key %x: %w", s.name, epoch, key, err)
	}
	return nil
}

func (s *Store) getLocked(epoch uint64, key []byte) (*big.Int, error) {
	v, err := s.db.Get(leafKey(epoch, key), nil)
	if err == leveldb.ErrNotFound {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("smt %s: get epoch %d key %x: %w", s.name, epoch, key, err)
	}
	return bytesToU128(v), nil
}

// GetAmount returns the leaf value for (epoch, key), if present.
func (s *Store) GetAmount(epoch uint64, key []byte) (*big.Int, bool, error) {
	v, err := s.db.Get(leafKey(epoch, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("smt %s: get_amount epoch %d key %x: %w", s.name, epoch, key, err)
	}
	return bytesToU128(v), true, nil
}

// GetSubLeaves returns the full leaf set at epoch, keyed by the raw key
// bytes used on Insert/Set (string-cast for map use).
func (s *Store) GetSubLeaves(epoch uint64) (map[string]*big.Int, error) {
	prefix := leafPrefix(epoch)
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	out := make(map[string]*big.Int)
	for it.Next() {
		key := append([]byte{}, it.Key()[len(prefix):]...)
		out[string(key)] = bytesToU128(it.Value())
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("smt %s: get_sub_leaves epoch %d: %w", s.name, epoch, err)
	}
	return out, nil
}

// epochLeaves returns the sorted pathLeaf set for the sub-tree rooted at
// epoch, used both to compute that epoch's sub-root and, transitively, the
// top-level tree's leaf at that epoch's path.
func (s *Store) epochLeaves(epoch uint64) ([]pathLeaf, error) {
	raw, err := s.GetSubLeaves(epoch)
	if err != nil {
		return nil, err
	}
	leaves := make([]pathLeaf, 0, len(raw))
	for k, v := range raw {
		leaves = append(leaves, pathLeaf{path: PathOf([]byte(k)), amount: v})
	}
	sort.Slice(leaves, func(i, j int) bool { return lessPath(leaves[i].path, leaves[j].path) })
	return leaves, nil
}

func lessPath(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// subRoot returns the sub-tree root (the commitment over an epoch's leaves)
// used as the value of that epoch's leaf in the top-level tree.
func (s *Store) subRoot(epoch uint64) ([32]byte, error) {
	leaves, err := s.epochLeaves(epoch)
	if err != nil {
		return [32]byte{}, err
	}
	return merkleRoot(leaves), nil
}

// knownEpochs lists every epoch that has ever been initialized or written
// to, used to build the top-level (epoch-indexed) tree.
func (s *Store) knownEpochs() ([]uint64, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte("epoch/")), nil)
	defer it.Release()
	var out []uint64
	for it.Next() {
		suffix := it.Key()[len("epoch/"):]
		if len(suffix) != 8 {
			continue
		}
		out = append(out, binary.BigEndian.Uint64(suffix))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("smt %s: knownEpochs: %w", s.name, err)
	}
	return out, nil
}

// topLeaves builds the leaf set of the top-level tree: one leaf per known
// epoch, valued at that epoch's sub-tree root (treated as a u128 for the
// shared leafHash helper by reinterpreting the 32-byte root as its
// big-endian integer value).
func (s *Store) topLeaves() ([]pathLeaf, error) {
	epochs, err := s.knownEpochs()
	if err != nil {
		return nil, err
	}
	leaves := make([]pathLeaf, 0, len(epochs))
	for _, e := range epochs {
		root, err := s.subRoot(e)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, pathLeaf{path: epochPath(e), amount: new(big.Int).SetBytes(root[:])})
	}
	sort.Slice(leaves, func(i, j int) bool { return lessPath(leaves[i].path, leaves[j].path) })
	return leaves, nil
}

// GetTopRoot returns the root of the top-level (epoch-indexed) tree.
func (s *Store) GetTopRoot() ([32]byte, error) {
	leaves, err := s.topLeaves()
	if err != nil {
		return [32]byte{}, err
	}
	return merkleRoot(leaves), nil
}

// TopProof is the opaque proof payload returned by GenerateTopProof: for
// each requested epoch, its sub-root and the sibling path up to the
// top-level root.
type TopProof struct {
	Root    [32]byte
	Entries []TopProofEntry
}

// TopProofEntry is one epoch's membership (or non-membership) proof against
// the top-level tree.
type TopProofEntry struct {
	Epoch    uint64
	SubRoot  [32]byte
	Present  bool
	Siblings [][32]byte
}

// GenerateTopProof returns a Merkle proof that the given epochs' sub-roots
// are (or are not) committed in the top-level tree.
func (s *Store) GenerateTopProof(epochs []uint64) (*TopProof, error) {
	leaves, err := s.topLeaves()
	if err != nil {
		return nil, err
	}
	root := merkleRoot(leaves)

	known, err := s.knownEpochs()
	if err != nil {
		return nil, err
	}
	knownSet := make(map[uint64]bool, len(known))
	for _, e := range known {
		knownSet[e] = true
	}

	out := &TopProof{Root: root}
	for _, epoch := range epochs {
		target := epochPath(epoch)
		steps, _ := merkleProof(leaves, target)
		siblings := make([][32]byte, len(steps))
		for i, st := range steps {
			siblings[i] = st.sibling
		}
		var subRoot [32]byte
		if knownSet[epoch] {
			subRoot, err = s.subRoot(epoch)
			if err != nil {
				return nil, err
			}
		}
		out.Entries = append(out.Entries, TopProofEntry{
			Epoch:    epoch,
			SubRoot:  subRoot,
			Present:  knownSet[epoch],
			Siblings: siblings,
		})
	}
	return out, nil
}

// Encode serializes a TopProof to the opaque byte form carried in
// aggregation-tx witnesses.
func (p *TopProof) Encode() []byte {
	buf := make([]byte, 0, 32+4+len(p.Entries)*(8+32+1+4))
	buf = append(buf, p.Root[:]...)
	var cnt [4]byte
	binary.LittleEndian.PutUint32(cnt[:], uint32(len(p.Entries)))
	buf = append(buf, cnt[:]...)
	for _, e := range p.Entries {
		var eb [8]byte
		binary.LittleEndian.PutUint64(eb[:], e.Epoch)
		buf = append(buf, eb[:]...)
		buf = append(buf, e.SubRoot[:]...)
		if e.Present {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		var sc [4]byte
		binary.LittleEndian.PutUint32(sc[:], uint32(len(e.Siblings)))
		buf = append(buf, sc[:]...)
		for _, sib := range e.Siblings {
			buf = append(buf, sib[:]...)
		}
	}
	return buf
}

func u128ToBytes(v *big.Int) []byte {
	return u128LEBytes(v)
}

func bytesToU128(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i, c := range b {
		be[len(b)-1-i] = c
	}
	return new(big.Int).SetBytes(be)
}
