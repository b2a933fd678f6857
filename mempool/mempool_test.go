package mempool

import (
	"sync"
	"testing"

	"github.com/ghetzel/shmipc/errcode"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, chunkSize uint32, capacity int) *MemPool {
	t.Helper()
	arena := make([]byte, uint64(chunkSize)*uint64(capacity))
	pool, err := New(1, 1, arena, chunkSize, capacity)
	require.NoError(t, err)
	return pool
}

func TestAllocateWritesHeaderAndPayload(t *testing.T) {
	pool := newTestPool(t, 256, 4)

	chunk, err := pool.allocate(64, 8, 0, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, chunk.Header.RefCount())
	require.EqualValues(t, 1, pool.Used())

	payload := chunk.Payload()
	require.Len(t, payload, 64)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.EqualValues(t, 3, chunk.Payload()[3])
}

func TestAllocateUntilExhausted(t *testing.T) {
	pool := newTestPool(t, 128, 2)

	_, err := pool.allocate(16, 8, 0, 0)
	require.NoError(t, err)
	_, err = pool.allocate(16, 8, 0, 0)
	require.NoError(t, err)

	_, err = pool.allocate(16, 8, 0, 0)
	require.ErrorIs(t, err, errcode.RunningOutOfChunks)
}

func TestReleaseReturnsSlotToFreelist(t *testing.T) {
	pool := newTestPool(t, 128, 1)

	chunk, err := pool.allocate(16, 8, 0, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, pool.Used())

	pool.release(chunk.Index())
	require.EqualValues(t, 0, pool.Used())

	_, err = pool.allocate(16, 8, 0, 0)
	require.NoError(t, err)
}

func TestUserHeaderAndPayloadDoNotOverlap(t *testing.T) {
	pool := newTestPool(t, 512, 1)

	chunk, err := pool.allocate(64, 16, 32, 8)
	require.NoError(t, err)

	uh := chunk.UserHeaderPointer()
	pl := chunk.PayloadPointer()
	require.NotNil(t, uh)
	require.NotNil(t, pl)
	require.Greater(t, uintptr(pl), uintptr(uh))
}

func TestConcurrentAllocateRelease(t *testing.T) {
	const capacity = 5000
	pool := newTestPool(t, 128, capacity)

	var wg sync.WaitGroup
	errs := make(chan error, capacity)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				c, err := pool.allocate(16, 8, 0, 0)
				if err != nil {
					return
				}
				pool.release(c.Index())
			}
		}()
	}
	wg.Wait()
	close(errs)

	require.EqualValues(t, 0, pool.Used())
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	pool := newTestPool(t, 128, 8)
	a := pool.nextSequenceNumber()
	b := pool.nextSequenceNumber()
	require.Greater(t, b, a)
}
