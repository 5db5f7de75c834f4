package types

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaRoundTrip(t *testing.T) {
	cases := []Delta{
		NewDelta(true, 0),
		NewDelta(true, 500),
		NewDelta(false, 900),
		{IsIncrease: true, Amount: new(big.Int).Lsh(big.NewInt(1), 127)},
	}
	for _, d := range cases {
		enc := d.Encode()
		require.Len(t, enc, DeltaEncodedLen)
		got, err := DecodeDelta(enc)
		require.NoError(t, err)
		assert.Equal(t, d.IsIncrease, got.IsIncrease)
		assert.Equal(t, 0, d.Amount.Cmp(got.Amount))
	}
}

func TestDecodeDeltaBadLength(t *testing.T) {
	_, err := DecodeDelta(make([]byte, 5))
	require.Error(t, err)
}

func TestDelegateDeltaRoundTrip(t *testing.T) {
	var staker Address
	staker[0] = 0xAA
	dd := DelegateDelta{Staker: staker, Delta: NewDelta(false, 200)}
	enc := dd.Encode()
	require.Len(t, enc, DelegateDeltaEncodedLen)
	got, err := DecodeDelegateDelta(enc)
	require.NoError(t, err)
	assert.Equal(t, dd.Staker, got.Staker)
	assert.Equal(t, dd.Delta.IsIncrease, got.Delta.IsIncrease)
	assert.Equal(t, 0, dd.Delta.Amount.Cmp(got.Delta.Amount))
}

func TestDelegateDeltasRoundTripAndOrder(t *testing.T) {
	m := NewDelegateDeltas()
	var a, b, c Address
	a[0], b[0], c[0] = 0x01, 0x02, 0x03
	m.Set(c, NewDelta(true, 3))
	m.Set(a, NewDelta(true, 1))
	m.Set(b, NewDelta(false, 2))

	enc := m.Encode()
	assert.Equal(t, 4+3*DelegateDeltaEncodedLen, len(enc))

	got, err := DecodeDelegateDeltas(enc)
	require.NoError(t, err)
	assert.Equal(t, m.Len(), got.Len())

	var order []Address
	got.Each(func(staker Address, _ Delta) { order = append(order, staker) })
	require.Len(t, order, 3)
	assert.True(t, AddressLess(order[0], order[1]))
	assert.True(t, AddressLess(order[1], order[2]))
}

func BenchmarkDeltaEncode(b *testing.B) {
	d := NewDelta(false, 123456789)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = d.Encode()
	}
}

func BenchmarkDelegateDeltasEncode(b *testing.B) {
	m := NewDelegateDeltas()
	for i := 0; i < 32; i++ {
		var a Address
		a[0] = byte(i)
		m.Set(a, NewDelta(i%2 == 0, uint64(i)*100))
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = m.Encode()
	}
}

func TestDeltaSubIsSignedSubtraction(t *testing.T) {
	cases := []struct{ a, b Delta }{
		{NewDelta(true, 500), NewDelta(true, 200)},
		{NewDelta(true, 200), NewDelta(true, 500)},
		{NewDelta(false, 500), NewDelta(true, 200)},
		{NewDelta(true, 500), NewDelta(false, 200)},
		{NewDelta(false, 100), NewDelta(false, 100)},
	}
	for _, c := range cases {
		got := c.a.Sub(c.b)
		want := new(big.Int).Sub(c.a.Signed(), c.b.Signed())
		assert.Equal(t, 0, got.Signed().Cmp(want), "a=%+v b=%+v", c.a, c.b)
	}
}
