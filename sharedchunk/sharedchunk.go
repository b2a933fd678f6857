// Package sharedchunk implements SharedChunk, a reference-counted handle over
// a mempool.Chunk. Because the same chunk may be referenced by handles living
// in different processes, the reference count it manipulates lives inside the
// ChunkHeader in shared memory (mempool.ChunkHeader), not in any per-handle
// Go state — every mutation is an atomic operation on that shared counter.
package sharedchunk

import (
	"fmt"
	"sync/atomic"

	"github.com/ghetzel/shmipc/mempool"
)

// Releaser returns a chunk, identified by its origin pool and slot index, to
// its pool. It is normally mempool.Collection.Release.
type Releaser func(originPoolID uint32, index int) error

// SharedChunk is a single share of a chunk. Cloning it shares ownership (one
// more reference); Release drops this share, returning the chunk to its pool
// when the reference count reaches 0. A SharedChunk must be released exactly
// once; Release is idempotent-safe (a second call is a no-op returning
// ErrAlreadyReleased) but every live handle must still be released by someone.
type SharedChunk struct {
	chunk    *mempool.Chunk
	release  Releaser
	released atomic.Bool
}

// ErrAlreadyReleased is returned by Release when called more than once on the
// same handle.
var ErrAlreadyReleased = fmt.Errorf("sharedchunk: already released")

// New wraps a freshly allocated chunk (reference count 1) as its first share.
func New(chunk *mempool.Chunk, release Releaser) *SharedChunk {
	return &SharedChunk{chunk: chunk, release: release}
}

// Chunk exposes the underlying mempool.Chunk for payload/user-header access.
// It remains valid only until this handle (or the last clone of it) is
// released.
func (s *SharedChunk) Chunk() *mempool.Chunk { return s.chunk }

// Header is a shortcut for Chunk().Header.
func (s *SharedChunk) Header() *mempool.ChunkHeader { return s.chunk.Header }

// Clone returns a new, independent SharedChunk sharing the same underlying
// chunk; the chunk's reference count is incremented by one. The clone must be
// released independently of the handle it was cloned from.
func (s *SharedChunk) Clone() *SharedChunk {
	s.chunk.Retain()
	return &SharedChunk{chunk: s.chunk, release: s.release}
}

// Release drops this share. When the reference count transitions to 0, the
// chunk is returned to its origin pool.
func (s *SharedChunk) Release() error {
	if !s.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}

	if remaining := s.chunk.ReleaseRef(); remaining == 0 {
		return s.release(s.chunk.Header.OriginPoolID, s.chunk.Index())
	}
	return nil
}
