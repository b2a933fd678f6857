package port

import (
	"sync"

	"github.com/ghetzel/shmipc/errcode"
	"github.com/ghetzel/shmipc/mempool"
	"github.com/ghetzel/shmipc/sharedchunk"
	"github.com/google/uuid"
)

// Server is the response side of the client/server contract surface: it
// offers itself for clients to connect to, accumulates incoming requests in
// a bounded queue, and routes loaned response chunks back to the requesting
// client's own queue by the RequestHeader.ClientQueueID it carries.
type Server struct {
	pools *mempool.Collection
	offer offerFSM

	requests *queue

	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
}

// NewServer constructs a Server drawing response chunks from pools, with a
// request queue of the given capacity/policy.
func NewServer(pools *mempool.Collection, requestQueueCapacity int, policy QueueFullPolicy) *Server {
	return &Server{
		pools:    pools,
		requests: newQueue(requestQueueCapacity, policy),
		clients:  make(map[uuid.UUID]*Client),
	}
}

// Offer makes this server discoverable to connecting clients.
func (s *Server) Offer() { s.offer.Offer() }

// StopOffer withdraws discoverability.
func (s *Server) StopOffer() { s.offer.StopOffer() }

// OfferState reports whether this server currently offers itself.
func (s *Server) OfferState() OfferState { return s.offer.Load() }

func (s *Server) registerClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c
}

func (s *Server) unregisterClient(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
}

// TakeRequest removes the oldest queued request. It errors with
// errcode.NoPendingRequestsAndServerDoesNotOffer if the queue is empty and
// the server is not currently offered.
func (s *Server) TakeRequest() (*sharedchunk.SharedChunk, error) {
	share, err := s.requests.pop()
	if err != nil {
		if s.OfferState() != Offered {
			return nil, errcode.NoPendingRequestsAndServerDoesNotOffer
		}
		return nil, err
	}
	return share, nil
}

// LoanResponse allocates a response chunk answering req, ready to be filled
// in and sent with Send.
func (s *Server) LoanResponse(req RequestHeader, payloadSize, payloadAlign uint32) (*sharedchunk.SharedChunk, error) {
	chunk, err := s.pools.Allocate(payloadSize, payloadAlign, uint32(responseHeaderSize), uint32(responseHeaderAlign))
	if err != nil {
		return nil, err
	}
	writeResponseHeader(chunk, NewResponseHeader(req))
	return sharedchunk.New(chunk, s.pools.Release), nil
}

// Send routes share to the connected client whose queue id is clientQueueID
// (normally the ClientQueueID of the RequestHeader being answered).
func (s *Server) Send(share *sharedchunk.SharedChunk, clientQueueID uuid.UUID) error {
	if s.OfferState() != Offered {
		share.Release()
		return errcode.NotOffered
	}

	s.mu.RLock()
	client, ok := s.clients[clientQueueID]
	s.mu.RUnlock()
	if !ok {
		share.Release()
		return errcode.ClientNotAvailable
	}

	if !client.deliverResponse(share) {
		share.Release()
		return errcode.ClientNotAvailable
	}
	return nil
}

// RequestHeaderOf extracts the RequestHeader stamped into a chunk taken from
// this server's request queue.
func RequestHeaderOf(share *sharedchunk.SharedChunk) RequestHeader {
	return readRequestHeader(share.Chunk())
}

// ResponseHeaderOf extracts the ResponseHeader stamped into a chunk taken
// from a client's response queue.
func ResponseHeaderOf(share *sharedchunk.SharedChunk) ResponseHeader {
	return readResponseHeader(share.Chunk())
}
