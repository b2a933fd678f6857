package chunklist

import (
	"sync"
	"testing"

	"github.com/ghetzel/shmipc/errcode"
	"github.com/ghetzel/shmipc/mempool"
	"github.com/ghetzel/shmipc/sharedchunk"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, capacity int) *mempool.Collection {
	t.Helper()
	arena := make([]byte, 256*uint64(capacity))
	pool, err := mempool.New(1, 1, arena, 256, capacity)
	require.NoError(t, err)
	return mempool.NewCollection([]*mempool.MemPool{pool})
}

func newShare(t *testing.T, col *mempool.Collection) *sharedchunk.SharedChunk {
	t.Helper()
	chunk, err := col.Allocate(32, 8, 0, 0)
	require.NoError(t, err)
	return sharedchunk.New(chunk, col.Release)
}

func TestInsertThenRemoveRoundTrips(t *testing.T) {
	col := newPool(t, 4)
	share := newShare(t, col)
	list := New(4)

	token, err := list.Insert(share)
	require.NoError(t, err)
	require.EqualValues(t, 2, share.Header().RefCount()) // share + list's clone

	got, err := list.Remove(token)
	require.NoError(t, err)
	require.Same(t, share.Header(), got.Header())

	require.NoError(t, got.Release())
	require.NoError(t, share.Release())
}

func TestInsertFailsWhenFull(t *testing.T) {
	col := newPool(t, 1)
	share := newShare(t, col)
	list := New(1)

	_, err := list.Insert(share)
	require.NoError(t, err)

	_, err = list.Insert(share)
	require.ErrorIs(t, err, errcode.NoFreeSpace)
}

func TestRemoveInvalidIndex(t *testing.T) {
	list := New(2)
	_, err := list.Remove(UsedChunk{Index: 99})
	require.ErrorIs(t, err, errcode.InvalidIndex)
}

func TestRemoveAlreadyFreed(t *testing.T) {
	col := newPool(t, 2)
	share := newShare(t, col)
	list := New(2)

	token, err := list.Insert(share)
	require.NoError(t, err)

	got, err := list.Remove(token)
	require.NoError(t, err)
	require.NoError(t, got.Release())

	_, err = list.Remove(token)
	require.ErrorIs(t, err, errcode.ChunkAlreadyFreed)

	require.NoError(t, share.Release())
}

func TestRemoveWrongChunkReferenced(t *testing.T) {
	col := newPool(t, 2)
	shareA := newShare(t, col)
	shareB := newShare(t, col)
	list := New(2)

	tokenA, err := list.Insert(shareA)
	require.NoError(t, err)

	wrongToken := UsedChunk{Header: shareB.Header(), Index: tokenA.Index}
	_, err = list.Remove(wrongToken)
	require.ErrorIs(t, err, errcode.WrongChunkReferenced)

	got, err := list.Remove(tokenA)
	require.NoError(t, err)
	require.NoError(t, got.Release())
	require.NoError(t, shareA.Release())
	require.NoError(t, shareB.Release())
}

func TestDuplicateInsertYieldsTwoIndependentTokens(t *testing.T) {
	col := newPool(t, 4)
	share := newShare(t, col)
	list := New(4)

	tokenA, err := list.Insert(share)
	require.NoError(t, err)
	tokenB, err := list.Insert(share)
	require.NoError(t, err)
	require.False(t, tokenA.Equal(tokenB))
	require.EqualValues(t, 3, share.Header().RefCount())

	gotA, err := list.Remove(tokenA)
	require.NoError(t, err)
	gotB, err := list.Remove(tokenB)
	require.NoError(t, err)

	require.NoError(t, gotA.Release())
	require.NoError(t, gotB.Release())
	require.NoError(t, share.Release())
}

func TestFreelistAccountingAfterKInsertsAndRemoves(t *testing.T) {
	const capacity = 16
	col := newPool(t, capacity)
	list := New(capacity)

	for k := 0; k < capacity; k++ {
		share := newShare(t, col)
		token, err := list.Insert(share)
		require.NoError(t, err)
		got, err := list.Remove(token)
		require.NoError(t, err)
		require.NoError(t, got.Release())
		require.NoError(t, share.Release())
	}

	share := newShare(t, col)
	_, err := list.Insert(share)
	require.NoError(t, err)
	require.NoError(t, share.Release())
}

func TestCleanupReturnsOutstandingChunksToPool(t *testing.T) {
	const capacity = 8
	col := newPool(t, capacity)
	pool := col.Pools()[0]
	list := New(capacity)

	shares := make([]*sharedchunk.SharedChunk, 0, capacity)
	for i := 0; i < capacity; i++ {
		share := newShare(t, col)
		_, err := list.Insert(share)
		require.NoError(t, err)
		require.NoError(t, share.Release()) // the list now holds the only share
		shares = append(shares, share)
	}
	require.EqualValues(t, capacity, pool.Used())

	list.Cleanup()
	require.EqualValues(t, 0, pool.Used())

	for _, share := range shares {
		require.ErrorIs(t, share.Release(), sharedchunk.ErrAlreadyReleased)
	}
}

func TestConcurrentFillExhaustsAndCleansUp(t *testing.T) {
	const capacity = 100_000
	col := newPool(t, capacity)
	pool := col.Pools()[0]
	list := New(capacity)

	shares := make([]*sharedchunk.SharedChunk, capacity)
	for i := range shares {
		shares[i] = newShare(t, col)
	}

	var wg sync.WaitGroup
	perWorker := capacity / 8
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for i := start; i < start+perWorker; i++ {
				_, err := list.Insert(shares[i])
				require.NoError(t, err)
			}
		}(w * perWorker)
	}
	wg.Wait()

	_, err := list.Insert(shares[0])
	require.ErrorIs(t, err, errcode.NoFreeSpace)

	// drop the callers' own shares, so the list holds the only share of each chunk
	for _, share := range shares {
		require.NoError(t, share.Release())
	}

	list.Cleanup()
	require.EqualValues(t, 0, pool.Used())
}

func TestSingleProducerSingleConsumerDrainsToZero(t *testing.T) {
	const n = 20_000
	col := newPool(t, n)
	pool := col.Pools()[0]
	list := New(n)

	tokens := make(chan UsedChunk, n)
	shares := make([]*sharedchunk.SharedChunk, n)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(tokens)
		for i := 0; i < n; i++ {
			shares[i] = newShare(t, col)
			token, err := list.Insert(shares[i])
			require.NoError(t, err)
			tokens <- token
		}
	}()
	go func() {
		defer wg.Done()
		for token := range tokens {
			got, err := list.Remove(token)
			require.NoError(t, err)
			require.NoError(t, got.Release())
		}
	}()
	wg.Wait()

	for _, share := range shares {
		require.NoError(t, share.Release())
	}
	require.EqualValues(t, 0, pool.Used())
}
