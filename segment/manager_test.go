package segment

import (
	"testing"

	"github.com/ghetzel/shmipc/errcode"
	"github.com/ghetzel/shmipc/shm"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	codes   []errcode.ConfigError
	details []string
}

func (s *recordingSink) ReportConfigError(err errcode.ConfigError, detail string) {
	s.codes = append(s.codes, err)
	s.details = append(s.details, detail)
}

func twoUserSegmentConfig() []Config {
	return []Config{
		{
			Name:        "iox_roudi_test1",
			ReaderGroup: "iox_roudi_test1",
			WriterGroup: "iox_roudi_test1",
			MemoryInfo:  "test1",
			Pools:       []PoolConfig{{ChunkSize: 128, Capacity: 2}},
		},
		{
			Name:        "iox_roudi_test2",
			ReaderGroup: "iox_roudi_test2",
			WriterGroup: "iox_roudi_test2",
			MemoryInfo:  "test2",
			Pools:       []PoolConfig{{ChunkSize: 128, Capacity: 2}},
		},
		{
			Name:        "other_segment",
			ReaderGroup: "other_group",
			WriterGroup: "other_group",
			MemoryInfo:  "other",
			Pools:       []PoolConfig{{ChunkSize: 128, Capacity: 2}},
		},
	}
}

func TestNewSkipsDuplicateNamedEntryAndReportsConfigError(t *testing.T) {
	cfg := twoUserSegmentConfig()
	cfg = append(cfg, Config{Name: "iox_roudi_test1", ReaderGroup: "x", WriterGroup: "x", Pools: []PoolConfig{{ChunkSize: 64, Capacity: 1}}})

	sink := &recordingSink{}
	m, err := New(cfg, sink, shm.WithRoot(t.TempDir()))
	require.NoError(t, err)
	defer m.Close()

	require.Len(t, m.Segments(), 3)
	require.Equal(t, []errcode.ConfigError{errcode.MultipleSegmentConfigEntriesWithSameName}, sink.codes)
}

func TestSegmentMappingsReflectsWriteAccessPerPrincipal(t *testing.T) {
	m, err := New(twoUserSegmentConfig(), &recordingSink{}, shm.WithRoot(t.TempDir()))
	require.NoError(t, err)
	defer m.Close()

	mappings := m.SegmentMappings(Principal{Name: "alice", Groups: []string{"iox_roudi_test1"}})
	require.Len(t, mappings, 3)

	byName := make(map[string]SegmentMapping, len(mappings))
	for _, mm := range mappings {
		byName[mm.Name] = mm
	}
	require.True(t, byName["iox_roudi_test1"].Writable)
	require.False(t, byName["iox_roudi_test2"].Writable)
	require.False(t, byName["other_segment"].Writable)

	for _, seg := range m.Segments() {
		mm := byName[seg.Name]
		require.Equal(t, seg.ID(), mm.ID)
		require.Equal(t, seg.Size(), mm.Size)
		require.NotZero(t, mm.Size)
		require.Equal(t, seg.MemoryInfo, mm.MemoryInfo)
	}
	require.Equal(t, MemoryInfo("test1"), byName["iox_roudi_test1"].MemoryInfo)
	require.Equal(t, MemoryInfo("test2"), byName["iox_roudi_test2"].MemoryInfo)
	require.Equal(t, MemoryInfo("other"), byName["other_segment"].MemoryInfo)
}

func TestWritableSegmentByNameResolvesOrDeniesAccess(t *testing.T) {
	m, err := New(twoUserSegmentConfig(), &recordingSink{}, shm.WithRoot(t.TempDir()))
	require.NoError(t, err)
	defer m.Close()

	seg, err := m.WritableSegment("iox_roudi_test2", Principal{Groups: []string{"iox_roudi_test2"}})
	require.NoError(t, err)
	require.Equal(t, "iox_roudi_test2", seg.Name)

	_, err = m.WritableSegment("iox_roudi_test2", Principal{Groups: []string{"iox_roudi_test1"}})
	require.ErrorIs(t, err, errcode.NoWriteAccess)

	seg, err = m.WritableSegment("does_not_exist", Principal{Groups: []string{"iox_roudi_test1"}})
	require.NoError(t, err)
	require.Equal(t, "iox_roudi_test1", seg.Name)

	_, err = m.WritableSegment("does_not_exist", Principal{Groups: []string{"nobody"}})
	require.ErrorIs(t, err, errcode.NoSegmentFound)
}

// TestWritableSegmentForUserFallsBackToLegacyGroupOrder implements the
// iox_roudi_test1/iox_roudi_test2/other_segment write-access resolution
// scenario: a principal with no segment name in hand, belonging to more than
// one writer group, resolves to whichever segment matches the first group in
// their OS-reported group order.
func TestWritableSegmentForUserFallsBackToLegacyGroupOrder(t *testing.T) {
	m, err := New(twoUserSegmentConfig(), &recordingSink{}, shm.WithRoot(t.TempDir()))
	require.NoError(t, err)
	defer m.Close()

	seg, err := m.WritableSegmentForUser(Principal{Groups: []string{"iox_roudi_test2", "iox_roudi_test1"}})
	require.NoError(t, err)
	require.Equal(t, "iox_roudi_test2", seg.Name)

	seg, err = m.WritableSegmentForUser(Principal{Groups: []string{"iox_roudi_test1", "iox_roudi_test2"}})
	require.NoError(t, err)
	require.Equal(t, "iox_roudi_test1", seg.Name)

	_, err = m.WritableSegmentForUser(Principal{Groups: []string{"nobody"}})
	require.ErrorIs(t, err, errcode.NoSegmentFound)
}

func TestRelativePointerRegistryCoversEverySegment(t *testing.T) {
	m, err := New(twoUserSegmentConfig(), &recordingSink{}, shm.WithRoot(t.TempDir()))
	require.NoError(t, err)
	defer m.Close()

	reg := m.RelativePointerRegistry()
	// every segment registered its base; resolving a chunk from each should
	// not error.
	for _, seg := range m.Segments() {
		chunk, err := seg.Pools().Allocate(16, 8, 0, 0)
		require.NoError(t, err)
		_, err = reg.Resolve(chunk.Ptr)
		require.NoError(t, err)
	}
}

func TestCloseDestroysEverySegment(t *testing.T) {
	m, err := New(twoUserSegmentConfig(), &recordingSink{}, shm.WithRoot(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.Empty(t, m.Segments())
}
