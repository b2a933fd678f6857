// Package broker implements the supervisory process role: it owns a
// segment.SegmentManager, tracks every connected port's chunklist.List, and,
// whenever SweepDead is called, sweeps the lists of ports the caller has
// confirmed dead so their held chunks return to their pools instead of
// leaking for the lifetime of the segment. It runs no sweep loop of its own.
package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/ghetzel/shmipc/chunklist"
	"github.com/ghetzel/shmipc/errcode"
	"github.com/ghetzel/shmipc/segment"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PortID identifies a registered port (publisher, subscriber, client, or
// server) uniquely within this broker.
type PortID string

// Router owns the full set of segments and the used-chunk registry of every
// port connected to them.
type Router struct {
	segments *segment.SegmentManager
	log      *logrus.Logger

	mu    sync.RWMutex
	ports map[PortID]*chunklist.List
}

// New constructs a Router over an already-built SegmentManager. A nil logger
// defaults to logrus's standard logger, matching the rest of this module's
// logging convention.
func New(segments *segment.SegmentManager, log *logrus.Logger) *Router {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{
		segments: segments,
		log:      log,
		ports:    make(map[PortID]*chunklist.List),
	}
}

// Segments returns the SegmentManager this router supervises.
func (r *Router) Segments() *segment.SegmentManager { return r.segments }

// RegisterPort creates and tracks a new used-chunk list of the given capacity
// for id, returning it for the port implementation to Insert/Remove into as
// it loans and releases chunks.
func (r *Router) RegisterPort(id PortID, capacity int) *chunklist.List {
	list := chunklist.New(capacity)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[id] = list

	r.log.WithFields(logrus.Fields{"port": string(id), "capacity": capacity}).Debug("port registered")
	return list
}

// UnregisterPort forgets a port without sweeping it — used for a clean,
// voluntary disconnect where the port has already released everything it
// held itself.
func (r *Router) UnregisterPort(id PortID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, id)
}

// Port returns the chunklist.List registered for id, if any.
func (r *Router) Port(id PortID) (*chunklist.List, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list, ok := r.ports[id]
	return list, ok
}

// SweepDead reclaims every chunk still held by the named ports, which the
// caller has already confirmed are no longer running (e.g. via liveness
// monitoring outside this package's scope), and stops tracking them. Sweeps
// run concurrently via errgroup, since one port's Cleanup never depends on
// another's.
func (r *Router) SweepDead(ctx context.Context, ids []PortID) error {
	g, _ := errgroup.WithContext(ctx)

	r.mu.Lock()
	lists := make(map[PortID]*chunklist.List, len(ids))
	for _, id := range ids {
		if list, ok := r.ports[id]; ok {
			lists[id] = list
			delete(r.ports, id)
		}
	}
	r.mu.Unlock()

	for id, list := range lists {
		id, list := id, list
		g.Go(func() error {
			list.Cleanup()
			r.log.WithField("port", string(id)).Warn("reclaimed chunks held by dead port")
			return nil
		})
	}

	return g.Wait()
}

// ErrorSink adapts Router's logger into a segment.ErrorSink, so
// segment.New's fatal configuration errors are reported through the same
// structured logging this package uses everywhere else.
type ErrorSink struct {
	Log *logrus.Logger
}

// ReportConfigError implements segment.ErrorSink.
func (s ErrorSink) ReportConfigError(err errcode.ConfigError, detail string) {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithField("code", int(err)).Error(fmt.Sprintf("%s: %s", err, detail))
}
