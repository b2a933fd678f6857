package port

import (
	"sync"

	"github.com/ghetzel/shmipc/chunklist"
	"github.com/ghetzel/shmipc/mempool"
	"github.com/ghetzel/shmipc/sharedchunk"
)

// Publisher is the send side of the pub/sub contract surface: it loans
// chunks from a segment's pools, offers itself for discovery, and publishes
// loaned chunks out to every currently subscribed Subscriber.
//
// This package implements the contract only — loan/publish/take semantics,
// queue policies, and the connect/offer state machines — not the
// cross-process discovery and fanout those imply in a full deployment; a
// broker is responsible for wiring a Publisher's subscribers list and a
// Client's server reference across process boundaries.
type Publisher struct {
	pools *mempool.Collection

	offer offerFSM

	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}

	held      *chunklist.List // chunks this publisher has loaned but not yet published
	heldMu    sync.Mutex
	heldToken map[*sharedchunk.SharedChunk]chunklist.UsedChunk
}

// NewPublisher constructs a Publisher drawing chunks from pools. maxLoaned
// bounds how many chunks may be loaned-but-not-yet-published at once — this
// is what lets a broker janitor reclaim a crashed publisher's in-flight loans.
func NewPublisher(pools *mempool.Collection, maxLoaned int) *Publisher {
	return &Publisher{
		pools:       pools,
		subscribers: make(map[*Subscriber]struct{}),
		held:        chunklist.New(maxLoaned),
		heldToken:   make(map[*sharedchunk.SharedChunk]chunklist.UsedChunk),
	}
}

// Offer makes this publisher discoverable to subscribers attempting to
// connect. Idempotent.
func (p *Publisher) Offer() { p.offer.Offer() }

// StopOffer withdraws discoverability, as reported by OfferState. It does not
// affect delivery: existing and newly-connecting subscribers keep receiving
// published chunks.
func (p *Publisher) StopOffer() { p.offer.StopOffer() }

// OfferState reports whether this publisher currently offers its data.
func (p *Publisher) OfferState() OfferState { return p.offer.Load() }

// Loan allocates a chunk of the given payload layout for this publisher to
// fill in and either Publish or Release.
func (p *Publisher) Loan(payloadSize, payloadAlign, userHeaderSize, userHeaderAlign uint32) (*sharedchunk.SharedChunk, error) {
	chunk, err := p.pools.Allocate(payloadSize, payloadAlign, userHeaderSize, userHeaderAlign)
	if err != nil {
		return nil, err
	}
	seq, _ := p.pools.NextSequenceNumber(chunk.Header.OriginPoolID)
	chunk.AssignSequenceNumber(seq)

	share := sharedchunk.New(chunk, p.pools.Release)
	token, err := p.held.Insert(share)
	if err != nil {
		share.Release()
		return nil, err
	}

	p.heldMu.Lock()
	p.heldToken[share] = token
	p.heldMu.Unlock()

	return share, nil
}

// releaseHeld removes share from this publisher's held-loan tracking, if
// present, and releases the list's own clone of it. Called once a loaned
// chunk is either published or explicitly released without publishing.
func (p *Publisher) releaseHeld(share *sharedchunk.SharedChunk) {
	p.heldMu.Lock()
	token, ok := p.heldToken[share]
	if ok {
		delete(p.heldToken, share)
	}
	p.heldMu.Unlock()

	if !ok {
		return
	}
	if clone, err := p.held.Remove(token); err == nil {
		clone.Release()
	}
}

// subscribe registers sub to receive future Publish calls. Used by a broker
// wiring a discovered subscription; exported via Subscriber.Connect.
func (p *Publisher) subscribe(sub *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[sub] = struct{}{}
}

func (p *Publisher) unsubscribe(sub *Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribers, sub)
}

// Publish delivers share to every current subscriber's queue and releases
// the publisher's own loaned reference. It returns the number of subscribers
// the chunk was actually delivered to — a subscriber whose queue rejects the
// chunk under BlockProducer does not count.
func (p *Publisher) Publish(share *sharedchunk.SharedChunk) int {
	p.mu.RLock()
	subs := make([]*Subscriber, 0, len(p.subscribers))
	for sub := range p.subscribers {
		subs = append(subs, sub)
	}
	p.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.enqueue(share.Clone()) {
			delivered++
		}
	}

	p.releaseHeld(share)
	share.Release()
	return delivered
}

// ReleaseWithoutPublishing abandons a loaned chunk (e.g. the caller decided
// not to send it) instead of publishing it.
func (p *Publisher) ReleaseWithoutPublishing(share *sharedchunk.SharedChunk) error {
	p.releaseHeld(share)
	return share.Release()
}
