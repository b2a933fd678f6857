// Package shm implements a thin, real wrapper around POSIX shared memory: a
// named region backed by a file under a shared-memory filesystem (/dev/shm on
// Linux), sized with ftruncate and mapped with mmap. Every participant that
// opens the same name and attaches it sees the same bytes; no data is ever
// copied between the segment and a caller's own buffers — callers are handed
// the mapped []byte directly.
//
// This package knows nothing about chunks, pools, or segment names as used by
// the rest of this module; it is the raw primitive that mempool.MemPool and
// segment.Segment are built on, in the same spirit (and largely the same public
// shape) as the original SysV-oriented shm.Segment this package evolved from.
package shm

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Version is the package version, carried over from the original shmtool
// lineage this package descends from.
const Version = `1.0.0`

// DefaultRoot is where named segments live by default. It is overridable (via
// WithRoot) so tests don't need root privileges or a real /dev/shm mount.
const DefaultRoot = "/dev/shm"

// ACL describes the POSIX access control this segment's backing file should
// carry. Per spec, when ReaderGroup == WriterGroup a single read+write group
// entry is emitted instead of two; when they differ, the writer group owns
// the file (rw via the mode bits) and the reader group is granted read-only
// access through a real POSIX ACL entry (see setReaderGroupReadACL), not just
// recorded informationally. The imprint is also recorded in the segment's own
// metadata (see segment.Segment) so any participant can see what access was
// intended without stat-ing the filesystem or reading its ACL back.
type ACL struct {
	ReaderGroup string
	WriterGroup string
}

// mode computes the POSIX permission bits for this ACL: owner rw, the owning
// group rw, others none. When ReaderGroup differs from WriterGroup, the
// reader group's read access is granted separately via a POSIX ACL entry
// (Create calls setReaderGroupReadACL after chown), since a file has only one
// owning-group slot.
func (a ACL) mode() os.FileMode {
	return 0660
}

func (a ACL) groupName() string {
	if a.WriterGroup != "" {
		return a.WriterGroup
	}
	return a.ReaderGroup
}

// Segment is a real, POSIX shared-memory region.
type Segment struct {
	// Name is the segment's filesystem-visible name (no slashes).
	Name string
	// Size is the segment's size in bytes: the size passed to Create, or the
	// size stat reports at Open. It is not rounded up to a page boundary.
	Size int64

	root   string
	file   *os.File
	mapped []byte // non-nil only while Attach()ed
	offset int64  // Read/Write/Seek cursor into the segment, for the io.* interfaces
}

// Option configures Create/Open.
type Option func(*Segment)

// WithRoot overrides the directory segments are created under. Tests use this
// to avoid requiring a real tmpfs mount.
func WithRoot(root string) Option {
	return func(s *Segment) { s.root = root }
}

// Create creates a brand-new segment of the given size and ACL. It fails if a
// segment with this name already exists (O_EXCL), mirroring the IpcExclusive
// semantics of the SysV-era implementation this package replaces.
func Create(name string, size int64, acl ACL, opts ...Option) (*Segment, error) {
	s := &Segment{Name: name, root: DefaultRoot}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.root, 0755); err != nil {
		return nil, errors.Wrap(err, "create shm root")
	}

	// the create-then-truncate-then-chown sequence below is not itself atomic;
	// a file lock on a sibling lock file keeps two racing creators of the same
	// name from interleaving those steps (O_EXCL alone only protects the open).
	lock := flock.New(s.path() + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, errors.Wrapf(err, "lock segment %q for creation", name)
	}
	defer lock.Unlock()

	path := s.path()
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, uint32(acl.mode()))
	if err != nil {
		return nil, errors.Wrapf(err, "create segment %q", name)
	}
	s.file = os.NewFile(uintptr(fd), path)

	if err := unix.Ftruncate(fd, size); err != nil {
		s.file.Close()
		os.Remove(path)
		return nil, errors.Wrapf(err, "size segment %q to %d bytes", name, size)
	}

	writerGID := -1
	if gid, err := groupID(acl.groupName()); err == nil {
		writerGID = gid
		_ = os.Chown(path, -1, gid) // best-effort; group may not exist on this host
	}

	if acl.ReaderGroup != "" && acl.ReaderGroup != acl.WriterGroup {
		if readerGID, err := groupID(acl.ReaderGroup); err == nil {
			_ = setReaderGroupReadACL(path, writerGID, readerGID) // best-effort; filesystem may not support ACLs
		}
	}

	s.Size = size
	return s, nil
}

// Open attaches to an existing segment by name, discovering its size with stat.
func Open(name string, opts ...Option) (*Segment, error) {
	s := &Segment{Name: name, root: DefaultRoot}
	for _, opt := range opts {
		opt(s)
	}

	path := s.path()
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open segment %q", name)
	}
	s.file = os.NewFile(uintptr(fd), path)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		s.file.Close()
		return nil, errors.Wrapf(err, "stat segment %q", name)
	}
	s.Size = st.Size

	return s, nil
}

func (s *Segment) path() string {
	return filepath.Join(s.root, s.Name)
}

// Attach maps the segment into this process's address space and returns the
// mapped bytes. The returned slice is the segment itself, not a copy: writes
// through it are visible to every other process with the segment attached.
func (s *Segment) Attach() ([]byte, error) {
	if s.mapped != nil {
		return s.mapped, nil
	}
	if s.file == nil {
		return nil, fmt.Errorf("shm: segment %q is not open", s.Name)
	}

	data, err := unix.Mmap(int(s.file.Fd()), 0, int(s.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap segment %q", s.Name)
	}
	s.mapped = data
	return data, nil
}

// Detach unmaps the segment from this process. It does not destroy the
// segment; other processes may still have it attached.
func (s *Segment) Detach() error {
	if s.mapped == nil {
		return nil
	}
	err := unix.Munmap(s.mapped)
	s.mapped = nil
	return err
}

// Destroy unmaps (if attached) and removes the segment's backing file. After
// Destroy returns, no process can Open this name again until it is recreated.
func (s *Segment) Destroy() error {
	if err := s.Detach(); err != nil {
		return err
	}
	path := s.path()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "destroy segment %q", s.Name)
	}
	return nil
}

// ReadChunk reads length bytes starting at start from the segment via a
// regular pread, independent of the mmap view. length < 0 means "the rest of
// the segment".
func (s *Segment) ReadChunk(length, start int64) ([]byte, error) {
	if length < 0 {
		length = s.Size - start
	}
	buf := make([]byte, length)
	n, err := s.file.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// Read implements io.Reader over the segment using the internal offset cursor.
func (s *Segment) Read(p []byte) (int, error) {
	if s.offset >= s.Size {
		return 0, io.EOF
	}
	n, err := s.file.ReadAt(p, s.offset)
	s.offset += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Write implements io.Writer over the segment using the internal offset cursor.
func (s *Segment) Write(p []byte) (int, error) {
	if s.offset >= s.Size {
		return 0, io.ErrShortWrite
	}
	length := int64(len(p))
	if length+s.offset > s.Size {
		length = s.Size - s.offset
	}
	n, err := s.file.WriteAt(p[:length], s.offset)
	s.offset += int64(n)
	return n, err
}

// Reset rewinds the internal Read/Write cursor to the start of the segment.
func (s *Segment) Reset() { s.offset = 0 }

// Seek implements io.Seeker over the segment.
func (s *Segment) Seek(offset int64, whence int) (int64, error) {
	var computed int64
	switch whence {
	case io.SeekCurrent:
		computed = s.offset + offset
	case io.SeekEnd:
		computed = s.Size - offset
	default:
		computed = offset
	}
	if computed < 0 {
		return 0, fmt.Errorf("shm: cannot seek before start of segment")
	}
	s.offset = computed
	return s.offset, nil
}

// Position returns the current Read/Write/Seek cursor position.
func (s *Segment) Position() int64 { return s.offset }

func groupID(name string) (int, error) {
	if name == "" {
		return -1, fmt.Errorf("shm: empty group name")
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(g.Gid)
}
