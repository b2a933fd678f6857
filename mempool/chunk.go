package mempool

import (
	"unsafe"

	"github.com/ghetzel/shmipc/relptr"
)

// Chunk is a single allocated chunk: a ChunkHeader resolved in this process's
// address space, plus the offsets needed to reach the optional user header and
// the payload. It is handed out by Collection.Allocate (via MemPool.allocate)
// and returned by release;
// nothing else constructs one.
type Chunk struct {
	Header *ChunkHeader
	Ptr    relptr.Ptr // this chunk's header, addressable from any process

	base  unsafe.Pointer // process-local base of the chunk (== segment base + chunk offset)
	index int
}

// UserHeaderPointer returns the address of the user header region, or nil if
// UserHeaderSize is 0.
func (c *Chunk) UserHeaderPointer() unsafe.Pointer {
	if c.Header.UserHeaderSize == 0 {
		return nil
	}
	return unsafe.Add(c.base, c.Header.userHeaderOffset())
}

// PayloadPointer returns the address of the user payload.
func (c *Chunk) PayloadPointer() unsafe.Pointer {
	return unsafe.Add(c.base, c.Header.payloadOffset())
}

// Payload returns the payload as a byte slice of exactly PayloadSize bytes,
// backed directly by shared memory — no copy.
func (c *Chunk) Payload() []byte {
	return unsafe.Slice((*byte)(c.PayloadPointer()), int(c.Header.PayloadSize))
}

// Index is this chunk's slot index within its origin pool.
func (c *Chunk) Index() int { return c.index }

// AssignSequenceNumber stamps this chunk with a sequence number obtained from
// Collection.NextSequenceNumber. Publisher.Loan calls it when the chunk is
// loaned, so sequence numbers follow loan order, not publish order.
func (c *Chunk) AssignSequenceNumber(n uint64) { c.Header.SequenceNumber = n }

// Retain atomically increments the chunk's reference count and returns the new
// value. Used by sharedchunk.SharedChunk.Clone.
func (c *Chunk) Retain() int32 { return c.Header.retain() }

// ReleaseRef atomically decrements the chunk's reference count and returns the
// new value. Used by sharedchunk.SharedChunk.Release.
func (c *Chunk) ReleaseRef() int32 { return c.Header.release() }
