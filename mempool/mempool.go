// Package mempool implements fixed-size chunk allocation out of a pre-sized
// arena: a MemPool carves one contiguous byte range into ChunkSize-sized
// slots, each of which holds a ChunkHeader followed by an optional user
// header and a payload. Allocation and release are O(1) and lock-free.
package mempool

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/ghetzel/shmipc/errcode"
	"github.com/ghetzel/shmipc/internal/lockfree"
	"github.com/ghetzel/shmipc/relptr"
)

// MemPool is a fixed-capacity array of equally-sized chunks. It is always
// carved out of a larger, already-mapped arena (typically a segment's
// attached shared memory); MemPool itself never calls mmap.
type MemPool struct {
	id        uint32
	segmentID relptr.SegmentID
	base      unsafe.Pointer
	chunkSize uint32
	capacity  int

	free *lockfree.FreeList
	used atomic.Int64

	sequence atomic.Uint64
}

// New carves a MemPool of capacity chunks, each chunkSize bytes, out of arena.
// arena must already be mapped (e.g. via shm.Segment.Attach) and must be at
// least chunkSize*capacity bytes; base and segmentID are what every Chunk
// handed out by this pool resolves its relative pointer against.
func New(id uint32, segmentID relptr.SegmentID, arena []byte, chunkSize uint32, capacity int) (*MemPool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("mempool: capacity must be > 0")
	}
	if chunkSize < headerSize {
		return nil, fmt.Errorf("mempool: chunk size %d is smaller than the chunk header (%d bytes)", chunkSize, headerSize)
	}
	need := uint64(chunkSize) * uint64(capacity)
	if uint64(len(arena)) < need {
		return nil, fmt.Errorf("mempool: arena of %d bytes too small for %d chunks of %d bytes", len(arena), capacity, chunkSize)
	}

	return &MemPool{
		id:        id,
		segmentID: segmentID,
		base:      unsafe.Pointer(&arena[0]),
		chunkSize: chunkSize,
		capacity:  capacity,
		free:      lockfree.New(capacity),
	}, nil
}

// ID is this pool's origin pool identifier, stored in every chunk it hands out
// so release() can find its way home regardless of which process calls it.
func (p *MemPool) ID() uint32 { return p.id }

// ChunkSize is the fixed size, in bytes, of every chunk in this pool.
func (p *MemPool) ChunkSize() uint32 { return p.chunkSize }

// Capacity is the total number of chunks this pool was constructed with.
func (p *MemPool) Capacity() int { return p.capacity }

// Used returns the number of chunks currently allocated (capacity - free).
func (p *MemPool) Used() int { return int(p.used.Load()) }

// layoutFits reports whether a chunk of this pool's size can hold the given
// payload/user-header layout.
func (p *MemPool) layoutFits(payloadSize, payloadAlign, userHeaderSize, userHeaderAlign uint32) bool {
	h := ChunkHeader{
		UserHeaderSize:      userHeaderSize,
		UserHeaderAlignment: userHeaderAlign,
		PayloadAlignment:    payloadAlign,
	}
	end := h.payloadOffset() + payloadSize
	return end <= p.chunkSize
}

// allocate pops a free slot and constructs a ChunkHeader in place at its
// start. It never blocks; if the pool is exhausted it returns
// errcode.RunningOutOfChunks.
func (p *MemPool) allocate(payloadSize, payloadAlign, userHeaderSize, userHeaderAlign uint32) (*Chunk, error) {
	idx, ok := p.free.Pop()
	if !ok {
		return nil, errcode.RunningOutOfChunks
	}

	chunkBase := unsafe.Add(p.base, uintptr(idx)*uintptr(p.chunkSize))
	header := (*ChunkHeader)(chunkBase)
	*header = ChunkHeader{
		PayloadSize:         payloadSize,
		PayloadAlignment:    payloadAlign,
		UserHeaderSize:      userHeaderSize,
		UserHeaderAlignment: userHeaderAlign,
		OriginPoolID:        p.id,
		ChunkSize:           p.chunkSize,
		SequenceNumber:      0,
	}
	atomic.StoreInt32(refCountPtr(header), 1)

	p.used.Add(1)

	return &Chunk{
		Header: header,
		Ptr:    relptr.From(p.segmentID, p.base, chunkBase),
		base:   chunkBase,
		index:  idx,
	}, nil
}

// release returns the chunk at index to this pool's freelist. It is only
// valid to call once the chunk's reference count has reached 0.
func (p *MemPool) release(index int) {
	p.free.Push(index)
	p.used.Add(-1)
}

// nextSequenceNumber assigns this pool's next monotonic sequence number,
// consumed by Publisher.Loan when a chunk is loaned.
func (p *MemPool) nextSequenceNumber() uint64 {
	return p.sequence.Add(1)
}
