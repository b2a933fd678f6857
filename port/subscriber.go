package port

import (
	"sync"

	"github.com/ghetzel/shmipc/chunklist"
	"github.com/ghetzel/shmipc/errcode"
	"github.com/ghetzel/shmipc/sharedchunk"
)

// Subscriber is the receive side of the pub/sub contract surface: it
// connects to a Publisher, accumulates delivered chunks in a bounded queue,
// and hands them to the caller one at a time via Take.
type Subscriber struct {
	queue *queue
	conn  connectionFSM
	pub   *Publisher

	held      *chunklist.List // chunks currently Take()n but not yet released
	heldMu    sync.Mutex
	heldToken map[*sharedchunk.SharedChunk]chunklist.UsedChunk
}

// NewSubscriber constructs a Subscriber with the given queue capacity/policy
// and a cap on chunks held (taken, unreleased) at once.
func NewSubscriber(queueCapacity int, policy QueueFullPolicy, maxHeld int) *Subscriber {
	return &Subscriber{
		queue:     newQueue(queueCapacity, policy),
		held:      chunklist.New(maxHeld),
		heldToken: make(map[*sharedchunk.SharedChunk]chunklist.UsedChunk),
	}
}

// Connect subscribes to pub. Delivery begins with pub's next Publish, whether
// or not pub is currently offered.
func (s *Subscriber) Connect(pub *Publisher) {
	s.conn.RequestConnect()
	pub.subscribe(s)
	s.pub = pub
	s.conn.ConfirmConnect()
}

// Disconnect withdraws this subscriber from its publisher and drains any
// chunks still queued.
func (s *Subscriber) Disconnect() {
	s.conn.RequestDisconnect()
	if s.pub != nil {
		s.pub.unsubscribe(s)
		s.pub = nil
	}
	s.queue.drain()
	s.conn.ConfirmDisconnect()
}

// ConnectionState reports this subscriber's view of its connection.
func (s *Subscriber) ConnectionState() ConnectionState { return s.conn.Load() }

// enqueue is called by a connected Publisher to deliver share. If
// BlockProducer rejects the delivery because the queue is full, enqueue
// releases share itself and returns false.
func (s *Subscriber) enqueue(share *sharedchunk.SharedChunk) bool {
	if !s.queue.push(share) {
		share.Release()
		return false
	}
	return true
}

// Take removes the oldest queued chunk, registering it in this subscriber's
// held list for crash safety, and returns it to the caller. Errors with
// errcode.NoChunkAvailable if the queue is empty, or
// errcode.TooManyChunksHeldInParallel if maxHeld chunks are already taken.
func (s *Subscriber) Take() (*sharedchunk.SharedChunk, error) {
	share, err := s.queue.pop()
	if err != nil {
		return nil, err
	}

	token, err := s.held.Insert(share)
	if err != nil {
		share.Release()
		return nil, errcode.TooManyChunksHeldInParallel
	}

	s.heldMu.Lock()
	s.heldToken[share] = token
	s.heldMu.Unlock()

	return share, nil
}

// Release hands back a chunk previously returned by Take.
func (s *Subscriber) Release(share *sharedchunk.SharedChunk) error {
	s.heldMu.Lock()
	token, ok := s.heldToken[share]
	if ok {
		delete(s.heldToken, share)
	}
	s.heldMu.Unlock()

	if ok {
		if clone, err := s.held.Remove(token); err == nil {
			clone.Release()
		}
	}
	return share.Release()
}

// HasChunks reports whether at least one chunk is currently queued.
func (s *Subscriber) HasChunks() bool { return s.queue.len() > 0 }
