package segment

import (
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// managementRecordSize is the size, in bytes, of one segment's directory entry
// in the management arena: {segmentID uint16, nameHash uint64, baseOffset uint64}.
const managementRecordSize = 2 + 8 + 8

// ManagementAllocator backs the SegmentManager's own bookkeeping — the small
// directory of {segment id, name, offset} triples the manager keeps for
// introspection — as distinct from the data segments themselves, which are
// real POSIX shared memory (shm.Segment). It is not shared with any other
// process; it exists purely so the manager's own state lives in one
// pre-sized, mmap'd arena instead of scattered heap allocations, mirroring the
// "management allocator" the source construction takes as a parameter.
type ManagementAllocator struct {
	file *os.File
	mm   mmap.MMap
}

// NewManagementAllocator reserves room for up to maxSegments directory
// entries, backed by an anonymous temp file mapped MAP_SHARED so the region
// is real mmap'd memory rather than a plain Go slice.
func NewManagementAllocator(maxSegments int) (*ManagementAllocator, error) {
	f, err := os.CreateTemp("", "shmipc-mgmt-*")
	if err != nil {
		return nil, errors.Wrap(err, "create management allocator backing file")
	}
	// the backing file is unlinked immediately: its only purpose is to give
	// mmap something to map, nothing else ever opens it by name.
	name := f.Name()

	size := int64(maxSegments * managementRecordSize)
	if size == 0 {
		size = int64(managementRecordSize)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(name)
		return nil, errors.Wrap(err, "size management allocator")
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		os.Remove(name)
		return nil, errors.Wrap(err, "mmap management allocator")
	}
	os.Remove(name)

	return &ManagementAllocator{file: f, mm: m}, nil
}

// recordDirectoryEntry writes segment id's directory entry into slot index.
func (m *ManagementAllocator) recordDirectoryEntry(slot int, id uint16, nameHash uint64, baseOffset uint64) {
	if m == nil {
		return
	}
	off := slot * managementRecordSize
	if off+managementRecordSize > len(m.mm) {
		return
	}
	binary.LittleEndian.PutUint16(m.mm[off:], id)
	binary.LittleEndian.PutUint64(m.mm[off+2:], nameHash)
	binary.LittleEndian.PutUint64(m.mm[off+10:], baseOffset)
}

// directoryEntry reads back slot index's directory entry, as written by
// recordDirectoryEntry. ok is false if slot is out of range.
func (m *ManagementAllocator) directoryEntry(slot int) (id uint16, nameHash uint64, baseOffset uint64, ok bool) {
	if m == nil {
		return 0, 0, 0, false
	}
	off := slot * managementRecordSize
	if slot < 0 || off+managementRecordSize > len(m.mm) {
		return 0, 0, 0, false
	}
	id = binary.LittleEndian.Uint16(m.mm[off:])
	nameHash = binary.LittleEndian.Uint64(m.mm[off+2:])
	baseOffset = binary.LittleEndian.Uint64(m.mm[off+10:])
	return id, nameHash, baseOffset, true
}

// Close unmaps the management arena. Safe to call on a nil receiver.
func (m *ManagementAllocator) Close() error {
	if m == nil {
		return nil
	}
	if err := m.mm.Unmap(); err != nil {
		return err
	}
	return m.file.Close()
}

func fnv64a(s string) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}
