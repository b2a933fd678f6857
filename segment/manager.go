package segment

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ghetzel/shmipc/errcode"
	"github.com/ghetzel/shmipc/relptr"
	"github.com/ghetzel/shmipc/shm"
	"github.com/sirupsen/logrus"
)

// MaxSegments bounds how many segments a single SegmentManager can hold — it
// sizes the ManagementAllocator's directory and the relptr.SegmentID space
// (SegmentID is a uint16, but id 0 is reserved as relptr.NullSegmentID).
const MaxSegments = 1024

// ErrorSink receives fatal configuration errors encountered while building a
// SegmentManager. A nil sink is replaced with one that logs via logrus at
// error level and otherwise discards the report.
type ErrorSink interface {
	ReportConfigError(err errcode.ConfigError, detail string)
}

// logrusErrorSink is the default ErrorSink, grounded in the teacher's use of
// logrus for all operational logging.
type logrusErrorSink struct{ log *logrus.Logger }

func (s logrusErrorSink) ReportConfigError(err errcode.ConfigError, detail string) {
	s.log.WithField("code", int(err)).Error(fmt.Sprintf("%s: %s", err, detail))
}

// SegmentMapping describes one segment as seen by a particular principal:
// its id, name, size, memory-info tag, and whether that principal may write
// to it — the full picture a connecting port needs before choosing a pool set.
type SegmentMapping struct {
	ID         ID
	Name       string
	Size       int64
	Writable   bool
	MemoryInfo MemoryInfo
}

// SegmentManager owns the full set of configured segments, in construction
// order. It is the sole creator and destroyer of shared-memory segments, and
// the sole authority on write-access resolution.
type SegmentManager struct {
	mu         sync.RWMutex
	segments   []*Segment
	byName     map[string]*Segment
	management *ManagementAllocator
}

// New builds a SegmentManager from cfg. A config entry whose name collides
// with an earlier entry is reported to sink as
// errcode.MultipleSegmentConfigEntriesWithSameName and that entry alone is
// dropped — construction of the remaining segments proceeds, mirroring the
// source's "signals a fatal configuration error and aborts that segment's
// addition" behavior rather than aborting the whole manager.
func New(cfg []Config, sink ErrorSink, shmOpts ...shm.Option) (*SegmentManager, error) {
	if sink == nil {
		sink = logrusErrorSink{log: logrus.StandardLogger()}
	}
	if len(cfg) > MaxSegments {
		sink.ReportConfigError(errcode.SegmentInsufficientSegmentIDs, fmt.Sprintf("%d segments requested, max is %d", len(cfg), MaxSegments))
		cfg = cfg[:MaxSegments]
	}

	management, err := NewManagementAllocator(MaxSegments)
	if err != nil {
		return nil, err
	}

	m := &SegmentManager{
		byName:     make(map[string]*Segment, len(cfg)),
		management: management,
	}

	nextID := uint16(1)
	for _, c := range cfg {
		if _, exists := m.byName[c.Name]; exists {
			sink.ReportConfigError(errcode.MultipleSegmentConfigEntriesWithSameName, c.Name)
			continue
		}

		id := ID(nextID)
		seg, err := create(id, c, shmOpts...)
		if err != nil {
			management.Close()
			return nil, err
		}

		m.segments = append(m.segments, seg)
		m.byName[c.Name] = seg

		var baseOffset uint64
		if len(seg.arena) > 0 {
			baseOffset = uint64(uintptr(unsafe.Pointer(&seg.arena[0])))
		}
		management.recordDirectoryEntry(int(nextID)-1, uint16(id), fnv64a(c.Name), baseOffset)
		nextID++
	}

	if err := m.VerifyDirectory(); err != nil {
		management.Close()
		for _, seg := range m.segments {
			seg.destroy()
		}
		return nil, err
	}

	return m, nil
}

// VerifyDirectory cross-checks every segment's entry in the management
// allocator's directory against the live Segment it was recorded for,
// catching directory corruption or a construction-order bug that would
// otherwise go unnoticed since nothing else in this process consults the
// directory's contents.
func (m *SegmentManager) VerifyDirectory() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for slot, seg := range m.segments {
		id, nameHash, _, ok := m.management.directoryEntry(slot)
		if !ok {
			return fmt.Errorf("segment: no directory entry recorded for slot %d (%q)", slot, seg.Name)
		}
		if id != uint16(seg.ID()) {
			return fmt.Errorf("segment: directory entry for slot %d records id %d, segment %q has id %d", slot, id, seg.Name, seg.ID())
		}
		if want := fnv64a(seg.Name); nameHash != want {
			return fmt.Errorf("segment: directory entry for slot %d records name hash %#x, segment %q hashes to %#x", slot, nameHash, seg.Name, want)
		}
	}
	return nil
}

// DirectoryBaseOffset returns the base address this process attached segment
// id's arena at, as recorded in the management directory when the segment
// was created. It is only meaningful within the process that created it —
// every other attacher maps the segment at its own, independently chosen
// address.
func (m *SegmentManager) DirectoryBaseOffset(id ID) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for slot, seg := range m.segments {
		if seg.ID() != id {
			continue
		}
		_, _, baseOffset, ok := m.management.directoryEntry(slot)
		return baseOffset, ok
	}
	return 0, false
}

// Segments returns every configured segment, in construction order.
func (m *SegmentManager) Segments() []*Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Segment, len(m.segments))
	copy(out, m.segments)
	return out
}

// Lookup returns the segment registered under name, if any.
func (m *SegmentManager) Lookup(name string) (*Segment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seg, ok := m.byName[name]
	return seg, ok
}

// SegmentMappings reports, for every configured segment, whether p can write
// to it — the full picture a connecting port needs before choosing a pool set.
func (m *SegmentManager) SegmentMappings(p Principal) []SegmentMapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SegmentMapping, len(m.segments))
	for i, seg := range m.segments {
		out[i] = SegmentMapping{
			ID:         seg.ID(),
			Name:       seg.Name,
			Size:       seg.Size(),
			Writable:   seg.IsWritableBy(p),
			MemoryInfo: seg.MemoryInfo,
		}
	}
	return out
}

// WritableSegment resolves a named segment for p. If a segment with that name
// exists, it is returned when p is in its writer group, and NoWriteAccess is
// returned otherwise. If no segment has that name, resolution falls back to
// the legacy group-based WritableSegmentForUser.
func (m *SegmentManager) WritableSegment(name string, p Principal) (*Segment, error) {
	seg, ok := m.Lookup(name)
	if !ok {
		return m.WritableSegmentForUser(p)
	}
	if !seg.IsWritableBy(p) {
		return nil, errcode.NoWriteAccess
	}
	return seg, nil
}

// WritableSegmentForUser is the legacy fallback resolution: no segment name
// is given, so the manager picks the first segment (in p.Groups order, per
// spec §9 — the OS-reported group order is preserved verbatim, not
// alphabetized) whose name and writer group both equal one of p's groups.
func (m *SegmentManager) WritableSegmentForUser(p Principal) (*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, group := range p.Groups {
		for _, seg := range m.segments {
			if seg.Name == group && seg.WriterGroup == group {
				return seg, nil
			}
		}
	}
	return nil, errcode.NoSegmentFound
}

// RelativePointerRegistry builds a relptr.Registry with every configured
// segment's base address registered, for attaching relative pointers in this
// process.
func (m *SegmentManager) RelativePointerRegistry() *relptr.Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg := relptr.NewRegistry()
	for _, seg := range m.segments {
		if len(seg.arena) > 0 {
			reg.Register(relptr.SegmentID(seg.ID()), unsafe.Pointer(&seg.arena[0]))
		}
	}
	return reg
}

// Close destroys every segment this manager created and releases its
// management arena. Intended for clean broker shutdown / test teardown; it
// is not a crash-recovery mechanism — segments left behind by a crashed
// broker are reattached via Open, not recreated via Close+New.
func (m *SegmentManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first error
	for _, seg := range m.segments {
		if err := seg.destroy(); err != nil && first == nil {
			first = err
		}
	}
	m.segments = nil
	m.byName = map[string]*Segment{}

	if err := m.management.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
