package port

import (
	"unsafe"

	"github.com/ghetzel/shmipc/mempool"
	"github.com/google/uuid"
)

const (
	requestHeaderSize  = unsafe.Sizeof(RequestHeader{})
	requestHeaderAlign = unsafe.Alignof(RequestHeader{})

	responseHeaderSize  = unsafe.Sizeof(ResponseHeader{})
	responseHeaderAlign = unsafe.Alignof(ResponseHeader{})
)

// RequestHeader rides in a request chunk's user-header region, identifying
// which client queue a response should be routed back to.
type RequestHeader struct {
	// ClientQueueID identifies the requesting client's response queue,
	// system-wide, so a server replying from any process routes the response
	// to the right client without a direct pointer back to it.
	ClientQueueID uuid.UUID
	// SequenceID lets a client match a response to the request it sent.
	SequenceID uint64
}

// ResponseHeader rides in a response chunk's user-header region.
type ResponseHeader struct {
	// SequenceID echoes the RequestHeader.SequenceID it answers.
	SequenceID uint64
}

// NewRequestHeader builds a RequestHeader for a fresh request, stamping it
// with clientQueueID (assigned once, at client construction) and the given
// monotonic sequence number.
func NewRequestHeader(clientQueueID uuid.UUID, sequenceID uint64) RequestHeader {
	return RequestHeader{ClientQueueID: clientQueueID, SequenceID: sequenceID}
}

// NewResponseHeader builds a ResponseHeader answering req.
func NewResponseHeader(req RequestHeader) ResponseHeader {
	return ResponseHeader{SequenceID: req.SequenceID}
}

// writeRequestHeader stamps hdr into chunk's user-header region in place.
func writeRequestHeader(chunk *mempool.Chunk, hdr RequestHeader) {
	*(*RequestHeader)(chunk.UserHeaderPointer()) = hdr
}

// readRequestHeader reads the RequestHeader stamped into chunk's user-header
// region.
func readRequestHeader(chunk *mempool.Chunk) RequestHeader {
	return *(*RequestHeader)(chunk.UserHeaderPointer())
}

// writeResponseHeader stamps hdr into chunk's user-header region in place.
func writeResponseHeader(chunk *mempool.Chunk, hdr ResponseHeader) {
	*(*ResponseHeader)(chunk.UserHeaderPointer()) = hdr
}

// readResponseHeader reads the ResponseHeader stamped into chunk's
// user-header region.
func readResponseHeader(chunk *mempool.Chunk) ResponseHeader {
	return *(*ResponseHeader)(chunk.UserHeaderPointer())
}
