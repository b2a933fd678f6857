// Package chunklist implements UsedChunkList, the crash-safety core of the
// module: a per-port, fixed-capacity registry of every chunk a port currently
// holds. If the owning process dies while holding chunks, a broker janitor
// sweeps this list and returns every chunk it still references to its pool —
// this is what prevents a crashed publisher or subscriber from leaking the
// pool dry.
package chunklist

import (
	"sync/atomic"

	"github.com/ghetzel/shmipc/errcode"
	"github.com/ghetzel/shmipc/internal/lockfree"
	"github.com/ghetzel/shmipc/mempool"
	"github.com/ghetzel/shmipc/sharedchunk"
)

// UsedChunk is an opaque token identifying one slot in a UsedChunkList. Two
// tokens are equal iff both the header pointer and the slot index match.
type UsedChunk struct {
	Header *mempool.ChunkHeader
	Index  uint32
}

// Equal reports whether two tokens refer to the same slot of the same list.
func (u UsedChunk) Equal(other UsedChunk) bool {
	return u.Header == other.Header && u.Index == other.Index
}

// List is a fixed-capacity, lock-free registry of chunks currently held by a
// port. Every slot is a single atomic pointer word, so concurrent inserts,
// removes, and an in-flight janitor cleanup never observe a torn slot value.
type List struct {
	slots []atomic.Pointer[sharedchunk.SharedChunk]
	free  *lockfree.FreeList

	// sync is cleared (released) by every insert/remove, and read (acquired)
	// by Cleanup before it starts sweeping. It is a write barrier for the
	// janitor, not a mutual-exclusion lock on the hot insert/remove path.
	sync atomic.Bool
}

// New returns an empty list with room for capacity chunks.
func New(capacity int) *List {
	return &List{
		slots: make([]atomic.Pointer[sharedchunk.SharedChunk], capacity),
		free:  lockfree.New(capacity),
	}
}

// Capacity returns the list's fixed capacity.
func (l *List) Capacity() int { return len(l.slots) }

// Insert records chunk as held by this port's owner and returns a token that
// must later be passed to Remove. The list takes its own share of chunk (its
// reference count rises by one); the caller's own handle is untouched and
// must still be released independently.
//
// Inserting the same chunk twice is permitted and yields two independent
// tokens, each of which must be removed separately — this module preserves
// that behavior rather than silently deduplicating.
func (l *List) Insert(chunk *sharedchunk.SharedChunk) (UsedChunk, error) {
	idx, ok := l.free.Pop()
	if !ok {
		return UsedChunk{}, errcode.NoFreeSpace
	}

	share := chunk.Clone()
	l.slots[idx].Store(share)
	l.sync.Store(false)

	return UsedChunk{Header: chunk.Header(), Index: uint32(idx)}, nil
}

// Remove takes back the share identified by token, returning the SharedChunk
// so the caller can Release it (or hand it onward, e.g. into a receive
// queue). The slot becomes free for reuse as soon as Remove returns.
func (l *List) Remove(token UsedChunk) (*sharedchunk.SharedChunk, error) {
	if token.Index >= uint32(len(l.slots)) {
		return nil, errcode.InvalidIndex
	}

	slot := &l.slots[token.Index]
	share := slot.Load()
	if share == nil {
		return nil, errcode.ChunkAlreadyFreed
	}
	if share.Header() != token.Header {
		return nil, errcode.WrongChunkReferenced
	}

	if !slot.CompareAndSwap(share, nil) {
		// another Remove beat us to this slot between Load and CompareAndSwap
		return nil, errcode.ChunkAlreadyFreed
	}

	l.free.Push(int(token.Index))
	l.sync.Store(false)

	return share, nil
}

// Cleanup drops every chunk still referenced by this list and reinitializes
// the freelist so the list is empty afterwards. It is unsafe to call
// concurrently with Insert/Remove; it is meant to be called by a broker
// janitor only after the list's owning process is confirmed dead.
func (l *List) Cleanup() {
	_ = l.sync.Load() // acquire: pairs with the release-store every insert/remove performs

	for i := range l.slots {
		if share := l.slots[i].Swap(nil); share != nil {
			_ = share.Release()
		}
	}
	l.free.Reset()
}
