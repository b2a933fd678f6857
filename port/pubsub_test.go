package port

import (
	"testing"

	"github.com/ghetzel/shmipc/mempool"
	"github.com/stretchr/testify/require"
)

func newTestPools(t *testing.T, chunkSize uint32, capacity int) *mempool.Collection {
	t.Helper()
	arena := make([]byte, uint64(chunkSize)*uint64(capacity))
	pool, err := mempool.New(1, 1, arena, chunkSize, capacity)
	require.NoError(t, err)
	return mempool.NewCollection([]*mempool.MemPool{pool})
}

func TestPublishDeliversToConnectedSubscriber(t *testing.T) {
	pools := newTestPools(t, 128, 8)
	pub := NewPublisher(pools, 4)
	pub.Offer()

	sub := NewSubscriber(4, DiscardOldestData, 4)
	sub.Connect(pub)
	require.Equal(t, Connected, sub.ConnectionState())

	share, err := pub.Loan(16, 8, 0, 0)
	require.NoError(t, err)
	copy(share.Chunk().Payload(), []byte("hello"))

	delivered := pub.Publish(share)
	require.Equal(t, 1, delivered)

	got, err := sub.Take()
	require.NoError(t, err)
	require.Equal(t, "hello", string(got.Chunk().Payload()[:5]))
	require.NoError(t, sub.Release(got))
}

func TestPublishWithNoSubscribersDeliversZero(t *testing.T) {
	pools := newTestPools(t, 128, 8)
	pub := NewPublisher(pools, 4)
	pub.Offer()

	share, err := pub.Loan(16, 8, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, pub.Publish(share))
}

func TestDiscardOldestDataDropsOldestOnOverflow(t *testing.T) {
	pools := newTestPools(t, 128, 16)
	pub := NewPublisher(pools, 8)
	sub := NewSubscriber(2, DiscardOldestData, 8)
	sub.Connect(pub)

	for i := 0; i < 3; i++ {
		share, err := pub.Loan(8, 8, 0, 0)
		require.NoError(t, err)
		pub.Publish(share)
	}

	require.Equal(t, 2, sub.queue.len())
}

func TestBlockProducerRejectsOnOverflow(t *testing.T) {
	pools := newTestPools(t, 128, 16)
	pub := NewPublisher(pools, 8)
	sub := NewSubscriber(1, BlockProducer, 8)
	sub.Connect(pub)

	share1, err := pub.Loan(8, 8, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, pub.Publish(share1))

	share2, err := pub.Loan(8, 8, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, pub.Publish(share2))
}

func TestDisconnectDrainsQueueAndStopsDelivery(t *testing.T) {
	pools := newTestPools(t, 128, 8)
	pub := NewPublisher(pools, 4)
	sub := NewSubscriber(4, DiscardOldestData, 4)
	sub.Connect(pub)

	share, err := pub.Loan(8, 8, 0, 0)
	require.NoError(t, err)
	pub.Publish(share)
	require.True(t, sub.HasChunks())

	sub.Disconnect()
	require.Equal(t, NotConnected, sub.ConnectionState())
	require.False(t, sub.HasChunks())

	share2, err := pub.Loan(8, 8, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 0, pub.Publish(share2))
}

func TestReleaseWithoutPublishingReturnsChunkToPool(t *testing.T) {
	pools := newTestPools(t, 128, 1)
	pub := NewPublisher(pools, 4)

	share, err := pub.Loan(8, 8, 0, 0)
	require.NoError(t, err)
	require.NoError(t, pub.ReleaseWithoutPublishing(share))

	require.EqualValues(t, 0, pools.Pools()[0].Used())
}
