package sharedchunk

import (
	"testing"

	"github.com/ghetzel/shmipc/mempool"
	"github.com/stretchr/testify/require"
)

func allocate(t *testing.T) (*mempool.Collection, *mempool.Chunk) {
	t.Helper()
	arena := make([]byte, 1024)
	pool, err := mempool.New(1, 1, arena, 256, 4)
	require.NoError(t, err)
	col := mempool.NewCollection([]*mempool.MemPool{pool})

	chunk, err := col.Allocate(32, 8, 0, 0)
	require.NoError(t, err)
	return col, chunk
}

func TestCloneIncrementsRefCount(t *testing.T) {
	col, chunk := allocate(t)
	sc := New(chunk, col.Release)
	require.EqualValues(t, 1, sc.Header().RefCount())

	clone := sc.Clone()
	require.EqualValues(t, 2, sc.Header().RefCount())

	require.NoError(t, sc.Release())
	require.EqualValues(t, 1, sc.Header().RefCount())
	require.NoError(t, clone.Release())
}

func TestReleaseReturnsChunkToPoolAtZero(t *testing.T) {
	col, chunk := allocate(t)
	pool := col.Pools()[0]
	require.EqualValues(t, 1, pool.Used())

	sc := New(chunk, col.Release)
	require.NoError(t, sc.Release())
	require.EqualValues(t, 0, pool.Used())
}

func TestDoubleReleaseIsRejected(t *testing.T) {
	col, chunk := allocate(t)
	sc := New(chunk, col.Release)

	require.NoError(t, sc.Release())
	require.ErrorIs(t, sc.Release(), ErrAlreadyReleased)
}

func TestClonesAreIndependentHandles(t *testing.T) {
	col, chunk := allocate(t)
	pool := col.Pools()[0]

	sc := New(chunk, col.Release)
	a := sc.Clone()
	b := sc.Clone()

	require.NoError(t, sc.Release())
	require.NoError(t, a.Release())
	require.EqualValues(t, 1, pool.Used())

	require.NoError(t, b.Release())
	require.EqualValues(t, 0, pool.Used())
}
