package port

import (
	"sync"

	"github.com/ghetzel/shmipc/errcode"
	"github.com/ghetzel/shmipc/mempool"
	"github.com/ghetzel/shmipc/sharedchunk"
	"github.com/google/uuid"
)

// Client is the request side of the client/server contract surface. Each
// Client owns a response queue identified by a unique id (ClientQueueID),
// so a Server can route a response back to the right client regardless of
// which process handles the request.
type Client struct {
	id    uuid.UUID
	pools *mempool.Collection

	conn   connectionFSM
	server *Server

	responses *queue
	sequence  uint64
	seqMu     sync.Mutex
}

// NewClient constructs a Client drawing request chunks from pools, with a
// response queue of the given capacity/policy.
func NewClient(pools *mempool.Collection, responseQueueCapacity int, policy QueueFullPolicy) *Client {
	return &Client{
		id:        uuid.New(),
		pools:     pools,
		responses: newQueue(responseQueueCapacity, policy),
	}
}

// ID returns this client's queue identity, carried in every request's
// RequestHeader so the answering server can find its response queue.
func (c *Client) ID() uuid.UUID { return c.id }

// Connect requests a connection to srv, per the NOT_CONNECTED ->
// CONNECT_REQUESTED -> CONNECTED handshake.
func (c *Client) Connect(srv *Server) {
	c.conn.RequestConnect()
	c.server = srv
	srv.registerClient(c)
	c.conn.ConfirmConnect()
}

// Disconnect tears down the connection to srv.
func (c *Client) Disconnect() {
	c.conn.RequestDisconnect()
	if c.server != nil {
		c.server.unregisterClient(c.id)
		c.server = nil
	}
	c.responses.drain()
	c.conn.ConfirmDisconnect()
}

// ConnectionState reports this client's view of its connection.
func (c *Client) ConnectionState() ConnectionState { return c.conn.Load() }

// LoanRequest allocates a request chunk stamped with this client's
// RequestHeader, ready to be filled in and sent with Send.
func (c *Client) LoanRequest(payloadSize, payloadAlign uint32) (*sharedchunk.SharedChunk, error) {
	var hdr RequestHeader
	chunk, err := c.pools.Allocate(payloadSize, payloadAlign, uint32(requestHeaderSize), uint32(requestHeaderAlign))
	if err != nil {
		return nil, err
	}

	c.seqMu.Lock()
	c.sequence++
	seq := c.sequence
	c.seqMu.Unlock()

	hdr = NewRequestHeader(c.id, seq)
	writeRequestHeader(chunk, hdr)

	return sharedchunk.New(chunk, c.pools.Release), nil
}

// Send delivers share to the connected server's request queue.
func (c *Client) Send(share *sharedchunk.SharedChunk) error {
	if c.conn.Load() != Connected {
		share.Release()
		return errcode.NoConnectRequested
	}
	if c.server == nil {
		share.Release()
		return errcode.ServerNotAvailable
	}
	if !c.server.requests.push(share) {
		share.Release()
		return errcode.ServerNotAvailable
	}
	return nil
}

// deliverResponse is called by a Server to hand a response chunk back to
// this client's queue.
func (c *Client) deliverResponse(share *sharedchunk.SharedChunk) bool {
	return c.responses.push(share)
}

// TakeResponse removes the oldest queued response.
func (c *Client) TakeResponse() (*sharedchunk.SharedChunk, error) {
	return c.responses.pop()
}
