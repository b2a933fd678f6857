package shm

import (
	"encoding/binary"
	"testing"
)

func TestEncodePosixACLWritesEntriesInGivenOrder(t *testing.T) {
	entries := []aclEntry{
		{tag: aclTagUserObj, perm: aclPermRead | aclPermWrite, id: aclUndefinedID},
		{tag: aclTagGroupObj, perm: aclPermRead | aclPermWrite, id: aclUndefinedID},
		{tag: aclTagGroup, perm: aclPermRead, id: 42},
		{tag: aclTagMask, perm: aclPermRead | aclPermWrite, id: aclUndefinedID},
		{tag: aclTagOther, perm: 0, id: aclUndefinedID},
	}

	buf := encodePosixACL(entries)

	if len(buf) != 4+8*len(entries) {
		t.Fatalf("expected %d bytes, got %d", 4+8*len(entries), len(buf))
	}
	if got := binary.LittleEndian.Uint32(buf[0:4]); got != posixACLVersion {
		t.Fatalf("expected version %d, got %d", posixACLVersion, got)
	}

	for i, want := range entries {
		off := 4 + i*8
		gotTag := binary.LittleEndian.Uint16(buf[off : off+2])
		gotPerm := binary.LittleEndian.Uint16(buf[off+2 : off+4])
		gotID := binary.LittleEndian.Uint32(buf[off+4 : off+8])

		if gotTag != want.tag || gotPerm != want.perm || gotID != want.id {
			t.Fatalf("entry %d: expected {tag:%#x perm:%#x id:%d}, got {tag:%#x perm:%#x id:%d}",
				i, want.tag, want.perm, want.id, gotTag, gotPerm, gotID)
		}
	}
}

func TestSetReaderGroupReadACLIsNoopWhenGroupsMatch(t *testing.T) {
	// readerGID == writerGID should never touch the filesystem; passing a
	// bogus path confirms it returns nil without attempting the syscall.
	if err := setReaderGroupReadACL("/nonexistent/path/should/not/be/touched", 100, 100); err != nil {
		t.Fatalf("expected no-op for matching gids, got error: %v", err)
	}
}

func TestSetReaderGroupReadACLIsNoopWhenReaderUndefined(t *testing.T) {
	if err := setReaderGroupReadACL("/nonexistent/path/should/not/be/touched", 100, -1); err != nil {
		t.Fatalf("expected no-op for undefined reader gid, got error: %v", err)
	}
}
