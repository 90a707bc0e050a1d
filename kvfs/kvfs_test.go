package kvfs

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/gregpaulos/kvfs/kvfserr"
	"github.com/gregpaulos/kvfs/store"
)

func newTestFilesystem(t *testing.T) (*Filesystem, *store.MapKV) {
	t.Helper()
	kv := store.NewMapKV()
	s := store.NewSimpleStore("test", kv)
	fs, err := New(s, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return fs, kv
}

func TestFreshFilesystem(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	names, err := fs.Readdir("/")
	if err != nil {
		t.Fatalf("Readdir(/) error = %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("Readdir(/) = %v, want empty", names)
	}

	stats, err := fs.Stat("/")
	if err != nil {
		t.Fatalf("Stat(/) error = %v", err)
	}
	if !stats.IsDir {
		t.Fatalf("Stat(/).IsDir = false, want true")
	}
	if stats.Size != directoryReportedSize {
		t.Fatalf("Stat(/).Size = %d, want %d", stats.Size, directoryReportedSize)
	}
}

func TestCreateFileWriteReadBack(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	f, err := fs.CreateFile("/a", 0o666)
	if err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	if _, err := f.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rf, err := fs.OpenFile("/a")
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	buf, err := io.ReadAll(rf)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("buffer = %q, want %q", buf, "hello")
	}
	if rf.Stat().Size != 5 {
		t.Fatalf("Size = %d, want 5", rf.Stat().Size)
	}
}

func TestMkdirAndNestedCreate(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	if err := fs.Mkdir("/d", 0o777); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if _, err := fs.CreateFile("/d/f", 0o666); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}

	names, err := fs.Readdir("/d")
	if err != nil {
		t.Fatalf("Readdir(/d) error = %v", err)
	}
	if len(names) != 1 || names[0] != "f" {
		t.Fatalf("Readdir(/d) = %v, want [f]", names)
	}

	rootNames, err := fs.Readdir("/")
	if err != nil {
		t.Fatalf("Readdir(/) error = %v", err)
	}
	if len(rootNames) != 1 || rootNames[0] != "d" {
		t.Fatalf("Readdir(/) = %v, want [d]", rootNames)
	}
}

func TestRenameIntoOwnSubtreeFailsEBUSY(t *testing.T) {
	fs, kv := newTestFilesystem(t)

	if err := fs.Mkdir("/d", 0o777); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	before := kv.Keys()

	err := fs.Rename("/d", "/d/sub")
	var ebusy *kvfserr.EBUSY
	if !errors.As(err, &ebusy) {
		t.Fatalf("Rename() error = %v, want EBUSY", err)
	}

	after := kv.Keys()
	if !sameKeys(before, after) {
		t.Fatalf("store mutated by a failed rename: before=%v after=%v", before, after)
	}
}

func TestRenameIntoOwnSubtreeFailsEBUSYWithTrailingSlash(t *testing.T) {
	fs, kv := newTestFilesystem(t)

	if err := fs.Mkdir("/d", 0o777); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	before := kv.Keys()

	// A trailing slash on oldPath must not defeat the EBUSY guard: before
	// path.Clean was applied at Rename's entry, splitPath("/d/") and a raw
	// "/d/"+"/" prefix comparison resolved a different (wrong) parent and
	// let this subpath rename slip through.
	err := fs.Rename("/d/", "/d/sub")
	var ebusy *kvfserr.EBUSY
	if !errors.As(err, &ebusy) {
		t.Fatalf("Rename() error = %v, want EBUSY", err)
	}

	after := kv.Keys()
	if !sameKeys(before, after) {
		t.Fatalf("store mutated by a failed rename: before=%v after=%v", before, after)
	}
}

func TestSplitPathNormalizesTrailingSlash(t *testing.T) {
	parent, leaf := splitPath("/a/b/")
	if parent != "/a" || leaf != "b" {
		t.Fatalf("splitPath(/a/b/) = (%q, %q), want (/a, b)", parent, leaf)
	}
}

func TestCreateFileNormalizesTrailingSlash(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	if err := fs.Mkdir("/d", 0o777); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	f, err := fs.CreateFile("/d/f/", 0o666)
	if err != nil {
		t.Fatalf("CreateFile(/d/f/) error = %v", err)
	}
	if f.Path() != "/d/f" {
		t.Fatalf("f.Path() = %q, want /d/f", f.Path())
	}

	names, err := fs.Readdir("/d")
	if err != nil {
		t.Fatalf("Readdir(/d) error = %v", err)
	}
	if len(names) != 1 || names[0] != "f" {
		t.Fatalf("Readdir(/d) = %v, want [f]", names)
	}
}

func TestRenamePrefixSiblingSucceeds(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	if _, err := fs.CreateFile("/ab", 0o666); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	if err := fs.Rename("/ab", "/abc"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if _, err := fs.Stat("/abc"); err != nil {
		t.Fatalf("Stat(/abc) error = %v", err)
	}
}

func TestRenameOverwritesFileAndKeyCountMatches(t *testing.T) {
	fs, kv := newTestFilesystem(t)

	if _, err := fs.CreateFile("/a", 0o666); err != nil {
		t.Fatalf("CreateFile(/a) error = %v", err)
	}
	if _, err := fs.CreateFile("/b", 0o666); err != nil {
		t.Fatalf("CreateFile(/b) error = %v", err)
	}
	if err := fs.Rename("/a", "/b"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}

	var enoent *kvfserr.ENOENT
	if _, err := fs.Stat("/a"); !errors.As(err, &enoent) {
		t.Fatalf("Stat(/a) error = %v, want ENOENT", err)
	}
	if _, err := fs.Stat("/b"); err != nil {
		t.Fatalf("Stat(/b) error = %v", err)
	}

	// 1 (root inode) + 2*(1 live object: /b) + 1 (root's directory payload) = 4
	if n := len(kv.Keys()); n != 4 {
		t.Fatalf("key count = %d, want 4", n)
	}
}

func TestRenameOverwritingDirectoryFailsEPERM(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	if _, err := fs.CreateFile("/a", 0o666); err != nil {
		t.Fatalf("CreateFile(/a) error = %v", err)
	}
	if err := fs.Mkdir("/b", 0o777); err != nil {
		t.Fatalf("Mkdir(/b) error = %v", err)
	}

	err := fs.Rename("/a", "/b")
	var eperm *kvfserr.EPERM
	if !errors.As(err, &eperm) {
		t.Fatalf("Rename() error = %v, want EPERM", err)
	}
}

func TestRenameRoundTrip(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	if _, err := fs.CreateFile("/a", 0o666); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	if err := fs.Rename("/a", "/b"); err != nil {
		t.Fatalf("Rename(a,b) error = %v", err)
	}
	if err := fs.Rename("/b", "/a"); err != nil {
		t.Fatalf("Rename(b,a) error = %v", err)
	}
	if _, err := fs.Stat("/a"); err != nil {
		t.Fatalf("Stat(/a) error = %v", err)
	}
	if _, err := fs.Stat("/b"); err == nil {
		t.Fatalf("Stat(/b) succeeded, want ENOENT")
	}
}

func TestCreateFileAtRootFailsEEXIST(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	_, err := fs.CreateFile("/", 0o666)
	var eexist *kvfserr.EEXIST
	if !errors.As(err, &eexist) {
		t.Fatalf("CreateFile(/) error = %v, want EEXIST", err)
	}
}

func TestUnlinkOnDirectoryFailsEISDIR(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	if err := fs.Mkdir("/d", 0o777); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	err := fs.Unlink("/d")
	var eisdir *kvfserr.EISDIR
	if !errors.As(err, &eisdir) {
		t.Fatalf("Unlink(dir) error = %v, want EISDIR", err)
	}
}

func TestRmdirOnFileFailsENOTDIR(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	if _, err := fs.CreateFile("/a", 0o666); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	err := fs.Rmdir("/a")
	var enotdir *kvfserr.ENOTDIR
	if !errors.As(err, &enotdir) {
		t.Fatalf("Rmdir(file) error = %v, want ENOTDIR", err)
	}
}

func TestRmdirOnNonEmptyDirFailsENOTEMPTY(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	if err := fs.Mkdir("/d", 0o777); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if _, err := fs.CreateFile("/d/f", 0o666); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	err := fs.Rmdir("/d")
	var enotempty *kvfserr.ENOTEMPTY
	if !errors.As(err, &enotempty) {
		t.Fatalf("Rmdir(non-empty) error = %v, want ENOTEMPTY", err)
	}
}

func TestCreateThenUnlinkLeavesNoTrace(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	if _, err := fs.CreateFile("/a", 0o666); err != nil {
		t.Fatalf("CreateFile() error = %v", err)
	}
	if err := fs.Unlink("/a"); err != nil {
		t.Fatalf("Unlink() error = %v", err)
	}

	var enoent *kvfserr.ENOENT
	if _, err := fs.Stat("/a"); !errors.As(err, &enoent) {
		t.Fatalf("Stat(/a) error = %v, want ENOENT", err)
	}
	names, err := fs.Readdir("/")
	if err != nil {
		t.Fatalf("Readdir(/) error = %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("Readdir(/) = %v, want empty", names)
	}
}

func TestMkdirThenRmdirLeavesNoTrace(t *testing.T) {
	fs, _ := newTestFilesystem(t)

	if err := fs.Mkdir("/d", 0o777); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := fs.Rmdir("/d"); err != nil {
		t.Fatalf("Rmdir() error = %v", err)
	}

	var enoent *kvfserr.ENOENT
	if _, err := fs.Stat("/d"); !errors.As(err, &enoent) {
		t.Fatalf("Stat(/d) error = %v, want ENOENT", err)
	}
}

// TestFaultInjectedDuringCommitNewFileLeavesStoreUnchanged asserts that a
// store failure during the parent-listing put (the third mutating store
// call within commitNewFile) leaves the store exactly as it was before the
// failed operation, and the already-created sibling untouched.
func TestFaultInjectedDuringCommitNewFileLeavesStoreUnchanged(t *testing.T) {
	kv := store.NewMapKV()
	faulty := store.NewFaultyKV(kv, 0) // disabled until armed below
	s := store.NewSimpleStore("test", faulty)
	fs, err := New(s, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := fs.CreateFile("/a", 0o666); err != nil {
		t.Fatalf("CreateFile(/a) error = %v", err)
	}
	snapshot := kv.Keys()

	faulty.ArmAfter(3) // fail the 3rd mutating Put/Del call from here on

	_, err = fs.CreateFile("/b", 0o666)
	if err == nil {
		t.Fatalf("CreateFile(/b) succeeded, want injected failure")
	}
	var eio *kvfserr.EIO
	if !errors.As(err, &eio) {
		t.Fatalf("CreateFile(/b) error = %v, want EIO", err)
	}

	if !sameKeys(snapshot, kv.Keys()) {
		t.Fatalf("store mutated by a failed commitNewFile: before=%v after=%v", snapshot, kv.Keys())
	}

	names, err := fs.Readdir("/")
	if err != nil {
		t.Fatalf("Readdir(/) error = %v", err)
	}
	if len(names) != 1 || names[0] != "a" {
		t.Fatalf("Readdir(/) = %v, want [a]", names)
	}
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]string{}, a...), append([]string{}, b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
