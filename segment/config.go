package segment

// PoolConfig describes one MemPool to carve out of a segment: capacity chunks
// of chunkSize bytes each.
type PoolConfig struct {
	ChunkSize uint32
	Capacity  int
}

// MemoryInfo is an opaque, informational tag carried alongside a segment's
// mapping, mirroring iceoryx's MemoryInfo — this module never interprets it.
type MemoryInfo string

// Config describes one segment to create: its name, the OS groups allowed to
// read/write it, the pools it should contain, and an informational memory tag.
type Config struct {
	Name        string
	ReaderGroup string
	WriterGroup string
	Pools       []PoolConfig
	MemoryInfo  MemoryInfo
}
