package merkle

import (
	"math"
	"testing"

	"github.com/holiman/uint256"

	"github.com/stretchr/testify/require"
)

func TestRootHistoryWindow(t *testing.T) {
	h := NewRootHistory()
	r := uint256.NewInt(42)
	require.False(t, h.IsValid(r, 3600, 0))

	rec := h.Record(r, 1000)
	require.Equal(t, uint64(0), rec.Epoch)
	require.True(t, h.IsValid(r, 3600, 1000))
	require.True(t, h.IsValid(r, 3600, 4600))
	require.False(t, h.IsValid(r, 3600, 4601))

	// no window: recorded roots never expire
	require.True(t, h.IsValid(r, 0, math.MaxUint64))

	require.False(t, h.IsValid(uint256.NewInt(43), 0, 1000))
	require.False(t, h.IsValid(nil, 0, 1000))
}

func TestRootHistoryDuplicateRoot(t *testing.T) {
	h := NewRootHistory()
	a, b := uint256.NewInt(1), uint256.NewInt(2)
	h.Record(a, 10)
	h.Record(b, 20)
	rec := h.Record(a, 30)

	require.Equal(t, uint64(2), rec.Epoch)
	require.Equal(t, uint64(3), h.Epoch())
	require.Equal(t, 2, h.Len())

	got, ok := h.Lookup(a)
	require.True(t, ok)
	require.Equal(t, uint64(30), got.Timestamp)
	require.True(t, h.IsValid(a, 5, 35))
}

func TestRootHistoryOverflowIsValid(t *testing.T) {
	h := NewRootHistory()
	r := uint256.NewInt(9)
	h.Record(r, math.MaxUint64-10)
	require.True(t, h.IsValid(r, 100, math.MaxUint64))
}

func TestRestoreRootHistory(t *testing.T) {
	h := NewRootHistory()
	for i := uint64(1); i <= 4; i++ {
		h.Record(uint256.NewInt(i), 100*i)
	}
	h2 := RestoreRootHistory(h.Records(), h.Epoch())
	require.Equal(t, h.Len(), h2.Len())
	require.Equal(t, h.Epoch(), h2.Epoch())
	for _, rec := range h.Records() {
		got, ok := h2.Lookup(&rec.Root)
		require.True(t, ok)
		require.Equal(t, rec, got)
	}
}
