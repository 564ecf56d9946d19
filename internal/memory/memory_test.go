package memory

import (
	"errors"
	"os"
	"testing"
	"unsafe"

	"github.com/bvisor/bvisor/internal/procinfo"
	"github.com/bvisor/bvisor/internal/syserr"
)

// The kernel permits process_vm_readv against the calling process itself, so
// the bridge is exercised for real with our own pid as the "guest".

func selfPid() procinfo.AbsPid {
	return procinfo.AbsPid(os.Getpid())
}

func addrOf(b []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func TestReadAtRoundTrip(t *testing.T) {
	src := []byte("the quick brown fox")
	dst := make([]byte, len(src))

	b := NewVMBridge()
	if err := b.ReadAt(selfPid(), addrOf(src), dst); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(dst) != string(src) {
		t.Errorf("ReadAt = %q, want %q", dst, src)
	}
}

func TestWriteAtRoundTrip(t *testing.T) {
	dst := make([]byte, 8)
	b := NewVMBridge()
	if err := b.WriteAt(selfPid(), addrOf(dst), []byte("abcdefgh")); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if string(dst) != "abcdefgh" {
		t.Errorf("target = %q, want %q", dst, "abcdefgh")
	}
}

func TestReadCString(t *testing.T) {
	buf := append([]byte("/tmp/hello"), 0, 'x', 'y')
	b := NewVMBridge()
	s, err := b.ReadCString(selfPid(), addrOf(buf), 255)
	if err != nil {
		t.Fatalf("ReadCString: %v", err)
	}
	if s != "/tmp/hello" {
		t.Errorf("ReadCString = %q, want %q", s, "/tmp/hello")
	}
}

func TestReadCStringMissingTerminator(t *testing.T) {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = 'a'
	}
	b := NewVMBridge()
	_, err := b.ReadCString(selfPid(), addrOf(buf), 16)
	if !errors.Is(err, syserr.ErrPathTooLong) {
		t.Errorf("err = %v, want ErrPathTooLong", err)
	}
}

func TestReadAtBadAddress(t *testing.T) {
	dst := make([]byte, 16)
	b := NewVMBridge()
	err := b.ReadAt(selfPid(), 0x10, dst)
	if !errors.Is(err, syserr.ErrBridgeFault) {
		t.Errorf("err = %v, want ErrBridgeFault", err)
	}
}

func TestNoSuchProcess(t *testing.T) {
	dst := make([]byte, 4)
	b := NewVMBridge()
	// A pid at the top of the pid range is almost never in use; whether the
	// kernel reports it missing or unreadable, the error must be typed.
	err := b.ReadAt(procinfo.AbsPid(1<<22-1), addrOf(dst), dst)
	if err == nil {
		t.Skip("kernel allowed the read; nothing to assert")
	}
	if !errors.Is(err, syserr.ErrNoSuchProcess) && !errors.Is(err, syserr.ErrBridgeFault) {
		t.Errorf("err = %v, want typed bridge error", err)
	}
}
