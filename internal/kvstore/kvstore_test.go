package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kv"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStakeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	var staker types.Address
	staker[0] = 0xAA

	_, ok, err := s.GetStake(staker)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.PutStake(staker, types.NewDelta(true, 500)))
	d, ok, err := s.GetStake(staker)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, d.IsIncrease)
	require.Equal(t, int64(500), d.Amount.Int64())
}

func TestDelegateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	var delegator, staker types.Address
	delegator[0], staker[0] = 0xBB, 0xCC

	dd := types.NewDelegateDeltas()
	dd.Set(staker, types.NewDelta(false, 10))
	require.NoError(t, s.PutDelegate(delegator, dd))

	got, ok, err := s.GetDelegate(delegator)
	require.NoError(t, err)
	require.True(t, ok)
	d, ok := got.Get(staker)
	require.True(t, ok)
	require.False(t, d.IsIncrease)
	require.Equal(t, int64(10), d.Amount.Int64())
}

func TestCurrentEpochRoundTrip(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetCurrentEpoch()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.PutCurrentEpoch(15))
	epoch, ok, err := s.GetCurrentEpoch()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(15), epoch)
}
