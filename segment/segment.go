package segment

import (
	"encoding/binary"

	"github.com/ghetzel/shmipc/mempool"
	"github.com/ghetzel/shmipc/relptr"
	"github.com/ghetzel/shmipc/shm"
)

// basePageMagic identifies a shmipc segment's base page; basePageVersion lets
// a future incompatible layout refuse to attach.
var basePageMagic = [6]byte{'s', 'h', 'm', 'i', 'p', 'c'}

const basePageVersion uint16 = 1
const basePageSize = 8 + 8 + 8 + 8 // magic+version, chunk-header area offset, payload area offset, admin area offset

// ID identifies a segment system-wide. It doubles as the segment's
// relptr.SegmentID so chunks within it can be addressed cross-process.
type ID = relptr.SegmentID

// Segment is a named, access-controlled shared-memory region containing one
// mempool.Collection. Its base address differs per process, but SegmentID +
// offset (a relptr.Ptr) uniquely identifies any chunk within it system-wide.
type Segment struct {
	Name        string
	ReaderGroup string
	WriterGroup string
	MemoryInfo  MemoryInfo

	id ID
	shm *shm.Segment
	arena []byte
	pools *mempool.Collection
}

// ID returns this segment's system-wide identifier.
func (s *Segment) ID() ID { return s.id }

// Pools returns the segment's mempool.Collection.
func (s *Segment) Pools() *mempool.Collection { return s.pools }

// Size returns the segment's size in bytes: the base page plus every
// configured pool, without page rounding.
func (s *Segment) Size() int64 { return s.shm.Size }

// IsWritableBy reports whether p belongs to this segment's writer group.
func (s *Segment) IsWritableBy(p Principal) bool { return p.In(s.WriterGroup) }

// IsReadableBy reports whether p belongs to this segment's reader or writer
// group — writer access implies read access.
func (s *Segment) IsReadableBy(p Principal) bool {
	return p.In(s.ReaderGroup) || p.In(s.WriterGroup)
}

// create allocates the real POSIX shared-memory region for cfg, writes its
// base page, and carves out cfg's configured pools.
func create(id ID, cfg Config, opts ...shm.Option) (*Segment, error) {
	total := basePageSize
	for _, pc := range cfg.Pools {
		total += int(pc.ChunkSize) * pc.Capacity
	}

	seg, err := shm.Create(cfg.Name, int64(total), shm.ACL{ReaderGroup: cfg.ReaderGroup, WriterGroup: cfg.WriterGroup}, opts...)
	if err != nil {
		return nil, err
	}

	arena, err := seg.Attach()
	if err != nil {
		seg.Destroy()
		return nil, err
	}

	writeBasePage(arena, cfg.Pools)

	offset := basePageSize
	pools := make([]*mempool.MemPool, 0, len(cfg.Pools))
	for i, pc := range cfg.Pools {
		region := arena[offset : offset+int(pc.ChunkSize)*pc.Capacity]
		pool, err := mempool.New(uint32(i+1), id, region, pc.ChunkSize, pc.Capacity)
		if err != nil {
			seg.Destroy()
			return nil, err
		}
		pools = append(pools, pool)
		offset += int(pc.ChunkSize) * pc.Capacity
	}

	return &Segment{
		Name:        cfg.Name,
		ReaderGroup: cfg.ReaderGroup,
		WriterGroup: cfg.WriterGroup,
		MemoryInfo:  cfg.MemoryInfo,
		id:          id,
		shm:         seg,
		arena:       arena,
		pools:       mempool.NewCollection(pools),
	}, nil
}

func writeBasePage(arena []byte, pools []PoolConfig) {
	copy(arena[0:6], basePageMagic[:])
	binary.LittleEndian.PutUint16(arena[6:8], basePageVersion)

	chunkHeaderAreaOffset := uint64(basePageSize)
	payloadAreaOffset := chunkHeaderAreaOffset // the payload area begins inside the first chunk; per-chunk offsets are computed by mempool.ChunkHeader
	adminAreaOffset := uint64(0)                // no separate admin area in this layout; administrative state lives in the broker process

	binary.LittleEndian.PutUint64(arena[8:16], chunkHeaderAreaOffset)
	binary.LittleEndian.PutUint64(arena[16:24], payloadAreaOffset)
	binary.LittleEndian.PutUint64(arena[24:32], adminAreaOffset)

	_ = pools // pool metadata is reconstructed from Config at attach time, not persisted redundantly in the base page
}

// destroy detaches and removes this segment's backing shared memory. It is
// the broker's responsibility to call this only once every port has released
// every chunk it held in the segment.
func (s *Segment) destroy() error {
	return s.shm.Destroy()
}
