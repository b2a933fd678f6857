// Package lockfree provides the single lock-free primitive this module needs: a
// fixed-capacity freelist of small integer indices, implemented as a CAS-looped
// singly-linked list over a pre-allocated "next" array. The head packs a 1-based
// index and a generation counter into one uint64 so a single atomic word carries
// both, which sidesteps ABA the same way a tagged pointer would.
//
// This is deliberately the only piece of hand-rolled concurrency primitive in the
// module; everywhere else reaches for sync/atomic's typed wrappers or
// golang.org/x/sync directly.
package lockfree

import (
	"runtime"
	"sync/atomic"
)

const emptyIndex = 0 // 1-based; 0 means "no index"

// FreeList is a concurrent multi-producer/multi-consumer stack of indices in
// [0, capacity). It never blocks; Pop spins briefly under contention.
type FreeList struct {
	head atomic.Uint64 // (index+1)<<32 | generation
	next []uint64       // next[i] holds the packed head value linking to the next free index
	cap  int
}

// New returns a FreeList of the given capacity with every index initially free.
func New(capacity int) *FreeList {
	fl := &FreeList{
		next: make([]uint64, capacity),
		cap:  capacity,
	}
	fl.Reset()
	return fl
}

// Cap returns the freelist's fixed capacity.
func (fl *FreeList) Cap() int { return fl.cap }

// Reset reinitializes the freelist so that every index from 0 to Cap()-1 is free
// again, chained in ascending order. Not safe to call concurrently with Push/Pop;
// intended for the used-chunk-list janitor's cleanup() only.
func (fl *FreeList) Reset() {
	for i := 0; i < fl.cap; i++ {
		if i == fl.cap-1 {
			fl.next[i] = pack(emptyIndex, 0)
		} else {
			fl.next[i] = pack(i+2, 0)
		}
	}
	if fl.cap == 0 {
		fl.head.Store(pack(emptyIndex, 0))
	} else {
		fl.head.Store(pack(1, 0))
	}
}

func pack(oneBasedIndex int, generation uint32) uint64 {
	return uint64(uint32(oneBasedIndex))<<32 | uint64(generation)
}

func unpack(v uint64) (oneBasedIndex int, generation uint32) {
	return int(v >> 32), uint32(v)
}

// Pop removes and returns a free index, and true. If the freelist is empty it
// returns (0, false).
func (fl *FreeList) Pop() (int, bool) {
	for {
		old := fl.head.Load()
		oldIdx, _ := unpack(old)
		if oldIdx == emptyIndex {
			return 0, false
		}

		newHead := atomic.LoadUint64(&fl.next[oldIdx-1])
		if fl.head.CompareAndSwap(old, newHead) {
			return oldIdx - 1, true
		}
		runtime.Gosched()
	}
}

// Push returns index to the freelist. index must be in [0, Cap()) and must not
// already be free (the caller, e.g. mempool.MemPool or chunklist.List,
// is the sole owner of that invariant).
func (fl *FreeList) Push(index int) {
	oneBased := index + 1
	for {
		old := fl.head.Load()
		_, gen := unpack(old)
		atomic.StoreUint64(&fl.next[index], old)
		newHead := pack(oneBased, gen+1)
		if fl.head.CompareAndSwap(old, newHead) {
			return
		}
		runtime.Gosched()
	}
}
