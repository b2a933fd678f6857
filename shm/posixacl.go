package shm

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// POSIX ACL tag types and permission bits, as defined by the kernel's
// "system.posix_acl_access" xattr wire format (see acl(5)/acl_to_any_text);
// a single owning-group bit can only express one read-write group, so a
// distinct read-only reader group is granted through this ACL instead.
const (
	aclTagUserObj  = 0x01
	aclTagGroupObj = 0x04
	aclTagGroup    = 0x08
	aclTagMask     = 0x10
	aclTagOther    = 0x20

	aclPermRead  = 0x04
	aclPermWrite = 0x02

	aclUndefinedID = 0xffffffff

	posixACLAccessXattr = "system.posix_acl_access"
	posixACLVersion     = 2
)

type aclEntry struct {
	tag  uint16
	perm uint16
	id   uint32
}

// encodePosixACL serializes entries into the wire format the kernel expects
// for "system.posix_acl_access". entries must already be ordered by tag (and,
// for repeated tags, by id) and include exactly one USER_OBJ, GROUP_OBJ, and
// OTHER entry, plus exactly one MASK entry if any named GROUP entry is
// present — the kernel rejects the xattr otherwise.
func encodePosixACL(entries []aclEntry) []byte {
	buf := make([]byte, 4+8*len(entries))
	binary.LittleEndian.PutUint32(buf[0:4], posixACLVersion)
	for i, e := range entries {
		off := 4 + i*8
		binary.LittleEndian.PutUint16(buf[off:off+2], e.tag)
		binary.LittleEndian.PutUint16(buf[off+2:off+4], e.perm)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], e.id)
	}
	return buf
}

// setReaderGroupReadACL grants readerGID read-only access to path via a real
// POSIX ACL, on top of the rw owner and rw writer-group bits already set by
// the file's mode/chown. It is a no-op when readerGID is the file's own
// owning group (that case is already covered by the group permission bits).
// Best-effort: a filesystem without ACL support (e.g. some tmpfs mounts used
// in tests) fails this with ENOTSUP, which callers tolerate the same way
// they already tolerate chown failing when a group doesn't exist.
func setReaderGroupReadACL(path string, writerGID, readerGID int) error {
	if readerGID < 0 || readerGID == writerGID {
		return nil
	}

	entries := []aclEntry{
		{tag: aclTagUserObj, perm: aclPermRead | aclPermWrite, id: aclUndefinedID},
		{tag: aclTagGroupObj, perm: aclPermRead | aclPermWrite, id: aclUndefinedID},
		{tag: aclTagGroup, perm: aclPermRead, id: uint32(readerGID)},
		{tag: aclTagMask, perm: aclPermRead | aclPermWrite, id: aclUndefinedID},
		{tag: aclTagOther, perm: 0, id: aclUndefinedID},
	}

	return unix.Setxattr(path, posixACLAccessXattr, encodePosixACL(entries), 0)
}
