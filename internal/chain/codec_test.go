package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/synnergy-chain/stake-smt-indexer/internal/types"
)

func TestTokenCellDataRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	raw := TokenCellData(big.NewInt(12345), payload)

	d, err := ParseATCellData(raw)
	require.NoError(t, err)
	require.Equal(t, int64(12345), d.TotalAmount().Int64())
	require.Equal(t, payload, d.Payload())
}

func TestStakeDeltaItemRoundTrip(t *testing.T) {
	item := StakeDeltaItem{InaugurationEpoch: 12, Delta: types.NewDelta(true, 500)}
	enc := item.Encode()
	require.Len(t, enc, StakeDeltaItemBytes)

	got, err := ParseStakeDeltaItem(enc)
	require.NoError(t, err)
	require.Equal(t, uint64(12), got.InaugurationEpoch)
	require.True(t, got.Delta.IsIncrease)
	require.Equal(t, int64(500), got.Delta.Amount.Int64())
}

func TestClearStakeDelta(t *testing.T) {
	item := StakeDeltaItem{InaugurationEpoch: 12, Delta: types.NewDelta(true, 500)}
	payload := append(item.Encode(), 0xFF) // extra trailing structured bytes
	cleared, err := ClearStakeDelta(payload)
	require.NoError(t, err)

	got, err := ParseStakeDeltaItem(cleared)
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.InaugurationEpoch)
	require.Equal(t, int64(0), got.Delta.Amount.Int64())
	require.Equal(t, byte(0xFF), cleared[len(cleared)-1])
}

func TestDelegateEntriesRoundTrip(t *testing.T) {
	var s1, s2 types.Address
	s1[0], s2[0] = 0x01, 0x02
	entries := []DelegateEntry{
		{Staker: s1, Item: StakeDeltaItem{InaugurationEpoch: 10, Delta: types.NewDelta(true, 100)}},
		{Staker: s2, Item: StakeDeltaItem{InaugurationEpoch: 11, Delta: types.NewDelta(false, 50)}},
	}
	enc := EncodeDelegateEntries(entries)
	got, err := ParseDelegateEntries(enc)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, s1, got[0].Staker)
	require.Equal(t, uint64(11), got[1].Item.InaugurationEpoch)
}

func TestStakeAddrFromArgs(t *testing.T) {
	args := make([]byte, types.AddressLen+5)
	args[0] = 0xAA
	addr, err := StakeAddrFromArgs(args)
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), addr[0])
}
