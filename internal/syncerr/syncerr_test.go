package syncerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrappingRoundTrips(t *testing.T) {
	base := errors.New("boom")
	err := Invariant(base)
	require.True(t, IsInvariant(err))
	require.ErrorIs(t, err, base)
}

func TestToJSONRPC(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{NotFound(errors.New("x")), -32001},
		{Decode(errors.New("x")), -32002},
		{Invariant(errors.New("x")), -32003},
		{Transient(errors.New("x")), -32004},
		{errors.New("plain"), -32000},
	}
	for _, c := range cases {
		got := ToJSONRPC(c.err)
		assert.Equal(t, c.code, got.Code)
	}
}
