package mempool

import (
	"sync/atomic"
	"unsafe"
)

// ChunkHeader is constructed in place at the head of every chunk. It carries
// everything needed to interpret and eventually release the chunk without
// consulting anything outside the chunk itself, which is what lets a consumer
// in a different process make sense of a chunk it was only ever handed a
// relative pointer to.
//
// Layout: ChunkHeader, then (if UserHeaderSize > 0) the user header padded up
// to UserHeaderAlignment, then the payload padded up to PayloadAlignment.
type ChunkHeader struct {
	PayloadSize         uint32
	PayloadAlignment    uint32
	UserHeaderSize      uint32
	UserHeaderAlignment uint32
	OriginPoolID        uint32
	ChunkSize           uint32 // total chunk size, lets a sweeping janitor find the pool without a second lookup
	SequenceNumber      uint64 // assigned by Publisher.Loan when the chunk is loaned, not when it is published

	// refCount is manipulated exclusively through atomic operations; it lives
	// in shared memory and may be observed or mutated by any process holding
	// a SharedChunk over this header.
	refCount int32
}

// headerSize is the in-memory size of ChunkHeader, used to compute the offset
// at which the optional user header (or the payload, if there is none) begins.
const headerSize = uint32(unsafe.Sizeof(ChunkHeader{}))

func refCountPtr(h *ChunkHeader) *int32 {
	return (*int32)(unsafe.Pointer(&h.refCount))
}

// RefCount returns the current reference count. It is a snapshot; by the time
// the caller observes it, concurrent Clone/Release calls elsewhere may have
// already changed it.
func (h *ChunkHeader) RefCount() int32 {
	return atomic.LoadInt32(refCountPtr(h))
}

// retain atomically increments the reference count and returns the new value.
func (h *ChunkHeader) retain() int32 {
	return atomic.AddInt32(refCountPtr(h), 1)
}

// release atomically decrements the reference count and returns the new value.
// Callers must not decrement past 0; mempool and sharedchunk enforce this by
// construction (release is only ever called once per outstanding share).
func (h *ChunkHeader) release() int32 {
	return atomic.AddInt32(refCountPtr(h), -1)
}

// userHeaderOffset returns the byte offset from the start of the chunk to the
// user header region (or, if UserHeaderSize is 0, to wherever the payload
// would start absent alignment).
func (h *ChunkHeader) userHeaderOffset() uint32 {
	if h.UserHeaderSize == 0 {
		return headerSize
	}
	return alignUp(headerSize, h.UserHeaderAlignment)
}

// payloadOffset returns the byte offset from the start of the chunk to the
// user payload.
func (h *ChunkHeader) payloadOffset() uint32 {
	return alignUp(h.userHeaderOffset()+h.UserHeaderSize, h.PayloadAlignment)
}

func alignUp(n, align uint32) uint32 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
