package overlay

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"golang.org/x/sys/unix"
)

func newOverlay(t *testing.T) *Overlay {
	t.Helper()
	o, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(o.Destroy)
	return o
}

func readFD(t *testing.T, fd int) string {
	t.Helper()
	buf := make([]byte, 256)
	n, err := unix.Pread(fd, buf, 0)
	if err != nil {
		t.Fatalf("pread: %v", err)
	}
	return string(buf[:n])
}

func TestUIDFormat(t *testing.T) {
	o := newOverlay(t)
	if !regexp.MustCompile(`^[0-9a-f]{16}$`).MatchString(o.UID()) {
		t.Errorf("UID %q is not 16 hex characters", o.UID())
	}
}

func TestLayout(t *testing.T) {
	o := newOverlay(t)
	if got := o.ResolveCow("/etc/hosts"); got != filepath.Join(o.Root(), "cow/etc/hosts") {
		t.Errorf("ResolveCow = %q", got)
	}
	if got := o.ResolveTmp("/tmp/x/y"); got != filepath.Join(o.Root(), "tmp/x/y") {
		t.Errorf("ResolveTmp = %q", got)
	}
}

func TestCowWriteLeavesHostUntouched(t *testing.T) {
	host := filepath.Join(t.TempDir(), "config.txt")
	if err := os.WriteFile(host, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	o := newOverlay(t)
	fd, writeCopy, err := o.OpenCow(host, unix.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("OpenCow for write: %v", err)
	}
	if !writeCopy {
		t.Error("write open must serve the overlay copy")
	}
	if _, err := unix.Write(fd, []byte("mutated!")); err != nil {
		t.Fatalf("write: %v", err)
	}
	unix.Close(fd)

	hostBytes, err := os.ReadFile(host)
	if err != nil {
		t.Fatal(err)
	}
	if string(hostBytes) != "original" {
		t.Errorf("host file mutated to %q", hostBytes)
	}

	// The copy carried the original content before the write landed on it.
	fd2, writeCopy, err := o.OpenCow(host, unix.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer unix.Close(fd2)
	if !writeCopy {
		t.Error("reopen after copy-up must serve the overlay")
	}
	if got := readFD(t, fd2); got != "mutated!" {
		t.Errorf("overlay content = %q, want %q", got, "mutated!")
	}
}

func TestReadThroughBeforeFirstWrite(t *testing.T) {
	host := filepath.Join(t.TempDir(), "data")
	if err := os.WriteFile(host, []byte("host bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	o := newOverlay(t)
	fd, writeCopy, err := o.OpenCow(host, unix.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("OpenCow: %v", err)
	}
	defer unix.Close(fd)
	if writeCopy {
		t.Error("read-only open before any write must read through to the host")
	}
	if o.CowExists(host) {
		t.Error("read-only open must not materialize a copy")
	}
}

func TestTmpIsPrivateAndFresh(t *testing.T) {
	o := newOverlay(t)

	fd, err := o.OpenTmp("/tmp/scratch/file", unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0o644)
	if err != nil {
		t.Fatalf("OpenTmp: %v", err)
	}
	if _, err := unix.Write(fd, []byte("hello e2e")); err != nil {
		t.Fatal(err)
	}
	unix.Close(fd)

	fd, err = o.OpenTmp("/tmp/scratch/file", unix.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("reopen tmp: %v", err)
	}
	defer unix.Close(fd)
	if got := readFD(t, fd); got != "hello e2e" {
		t.Errorf("tmp content = %q, want %q", got, "hello e2e")
	}

	// Nothing from the host's real /tmp leaks in.
	var st unix.Stat_t
	if err := o.Stat("/tmp/.some-host-file-that-could-exist", &st); err == nil {
		t.Error("host /tmp content visible through private tmp")
	}
}

func TestTwoSandboxesAreIsolated(t *testing.T) {
	base := t.TempDir()
	a, err := New(base)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Destroy()
	b, err := New(base)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Destroy()

	if a.UID() == b.UID() {
		t.Fatal("two sandboxes share a UID")
	}

	fd, err := a.OpenTmp("/tmp/f", unix.O_WRONLY|unix.O_CREAT, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	unix.Write(fd, []byte("from a"))
	unix.Close(fd)

	if b.PathExists("/tmp/f") {
		t.Error("sandbox b observes sandbox a's /tmp write")
	}
}

func TestUnlinkSemantics(t *testing.T) {
	o := newOverlay(t)

	// Overlay entries are removable.
	fd, err := o.OpenTmp("/tmp/gone", unix.O_WRONLY|unix.O_CREAT, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	unix.Close(fd)
	if err := o.Unlink("/tmp/gone"); err != nil {
		t.Errorf("Unlink overlay entry: %v", err)
	}

	// Host-only files are not.
	host := filepath.Join(t.TempDir(), "keep")
	if err := os.WriteFile(host, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := o.Unlink(host); err == nil {
		t.Error("Unlink of host-backed path must fail")
	}
	if _, err := os.Stat(host); err != nil {
		t.Error("host file must survive the attempt")
	}

	// Unknown paths are ENOENT-ish.
	if err := o.Unlink("/no/such/path/anywhere"); err == nil {
		t.Error("Unlink of missing path must fail")
	}
}

func TestSymlinkRoundTrip(t *testing.T) {
	o := newOverlay(t)
	if err := o.Symlink("/etc/hosts", "/tmp/link"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	target, err := o.Readlink("/tmp/link")
	if err != nil {
		t.Fatalf("Readlink: %v", err)
	}
	if target != "/etc/hosts" {
		t.Errorf("Readlink = %q, want /etc/hosts", target)
	}
}

func TestMkdirAndList(t *testing.T) {
	o := newOverlay(t)
	if err := o.Mkdir("/tmp/dir", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	fd, err := o.OpenTmp("/tmp/dir/inner", unix.O_WRONLY|unix.O_CREAT, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	unix.Close(fd)

	entries, err := o.ListDir("/tmp/dir")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "inner" {
		t.Errorf("ListDir = %v", entries)
	}
}

func TestDestroyRemovesTree(t *testing.T) {
	base := t.TempDir()
	o, err := New(base)
	if err != nil {
		t.Fatal(err)
	}
	root := o.Root()
	o.Destroy()
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Error("Destroy left the overlay tree behind")
	}
}
