package port

import (
	"sync"

	"github.com/ghetzel/shmipc/chunklist"
	"github.com/ghetzel/shmipc/errcode"
	"github.com/ghetzel/shmipc/sharedchunk"
)

// QueueFullPolicy decides what a receiving port does when an incoming chunk
// would overflow its queue capacity.
type QueueFullPolicy int

const (
	// DiscardOldestData drops the oldest queued chunk to make room.
	DiscardOldestData QueueFullPolicy = iota
	// BlockProducer refuses the new chunk, leaving the queue as-is; the
	// sender observes this in its delivery count (see Publisher.Publish).
	BlockProducer
)

// queue is a receiving port's bounded FIFO of delivered-but-not-yet-taken
// chunks. It is guarded by a plain mutex: unlike mempool/chunklist, this path
// is not required to be lock-free or crash-safe — only the chunk a process
// is holding, tracked separately in its chunklist.List, needs that guarantee.
type queue struct {
	mu       sync.Mutex
	items    []*sharedchunk.SharedChunk
	capacity int
	policy   QueueFullPolicy
}

func newQueue(capacity int, policy QueueFullPolicy) *queue {
	return &queue{capacity: capacity, policy: policy}
}

// push enqueues share. Under DiscardOldestData, a full queue drops and
// releases its oldest entry to make room; under BlockProducer, push returns
// false and the caller must release share itself (delivery failed).
func (q *queue) push(share *sharedchunk.SharedChunk) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		if q.policy == BlockProducer {
			return false
		}
		oldest := q.items[0]
		q.items = q.items[1:]
		oldest.Release()
	}
	q.items = append(q.items, share)
	return true
}

// pop dequeues the oldest available chunk, if any.
func (q *queue) pop() (*sharedchunk.SharedChunk, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, errcode.NoChunkAvailable
	}
	share := q.items[0]
	q.items = q.items[1:]
	return share, nil
}

// len reports the number of chunks currently queued.
func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain releases every queued chunk, for port teardown.
func (q *queue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, share := range q.items {
		share.Release()
	}
	q.items = nil
}

// heldLimit bounds how many chunks a single receiver may hold (taken from its
// queue but not yet released) at once, backed by its chunklist.List capacity.
func heldLimit(held *chunklist.List) int { return held.Capacity() }
