package mempool

import (
	"fmt"
	"sort"

	"github.com/ghetzel/shmipc/errcode"
)

// Collection is a MemPoolCollection: one MemPool per configured chunk size,
// ordered smallest first so Allocate always finds the smallest pool that fits
// a given payload layout. A Segment owns exactly one Collection.
type Collection struct {
	pools []*MemPool
	byID  map[uint32]*MemPool
}

// NewCollection builds a Collection from pools, sorting them by chunk size.
// Pool ids must be unique; duplicate ids are a programmer error and panic,
// since Collections are only ever built once at segment-construction time
// from a trusted config.
func NewCollection(pools []*MemPool) *Collection {
	sorted := append([]*MemPool(nil), pools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkSize() < sorted[j].ChunkSize() })

	byID := make(map[uint32]*MemPool, len(sorted))
	for _, p := range sorted {
		if _, exists := byID[p.ID()]; exists {
			panic("mempool: duplicate pool id in collection")
		}
		byID[p.ID()] = p
	}

	return &Collection{pools: sorted, byID: byID}
}

// Pools returns the collection's pools, ordered smallest chunk size first.
func (c *Collection) Pools() []*MemPool { return c.pools }

// Allocate picks the smallest pool whose chunk size can hold the requested
// payload/user-header layout and allocates one chunk from it.
func (c *Collection) Allocate(payloadSize, payloadAlign, userHeaderSize, userHeaderAlign uint32) (*Chunk, error) {
	for _, pool := range c.pools {
		if pool.layoutFits(payloadSize, payloadAlign, userHeaderSize, userHeaderAlign) {
			chunk, err := pool.allocate(payloadSize, payloadAlign, userHeaderSize, userHeaderAlign)
			if err != nil {
				// this pool is full; a larger pool might still fit the layout.
				continue
			}
			return chunk, nil
		}
	}
	// either nothing fit, or every pool that fit was exhausted; distinguish
	// the two so callers get the right errcode.
	for _, pool := range c.pools {
		if pool.layoutFits(payloadSize, payloadAlign, userHeaderSize, userHeaderAlign) {
			return nil, errcode.RunningOutOfChunks
		}
	}
	return nil, errcode.PayloadTooLarge
}

// Release returns the chunk identified by (originPoolID, index) to its pool.
func (c *Collection) Release(originPoolID uint32, index int) error {
	pool, ok := c.byID[originPoolID]
	if !ok {
		return fmt.Errorf("mempool: no pool with id %d in this collection", originPoolID)
	}
	pool.release(index)
	return nil
}

// NextSequenceNumber assigns the next monotonic sequence number for the given
// origin pool. Publisher.Loan takes one for every chunk it loans.
func (c *Collection) NextSequenceNumber(originPoolID uint32) (uint64, error) {
	pool, ok := c.byID[originPoolID]
	if !ok {
		return 0, fmt.Errorf("mempool: no pool with id %d in this collection", originPoolID)
	}
	return pool.nextSequenceNumber(), nil
}
