// Package memory copies data between the supervisor's address space and a
// guest's. Pointers read out of guest structs stay guest pointers; the bridge
// never dereferences them on its own.
package memory

import (
	"fmt"

	"github.com/bvisor/bvisor/internal/procinfo"
	"github.com/bvisor/bvisor/internal/syserr"
	"golang.org/x/sys/unix"
)

// Bridge moves bytes across the address-space boundary. Handlers hold one for
// pointer arguments; tests substitute an in-memory fake.
type Bridge interface {
	// ReadAt fills buf from the guest's memory at addr.
	ReadAt(pid procinfo.AbsPid, addr uint64, buf []byte) error
	// WriteAt copies buf into the guest's memory at addr.
	WriteAt(pid procinfo.AbsPid, addr uint64, buf []byte) error
	// ReadCString reads a NUL-terminated string of at most max bytes
	// (terminator excluded) starting at addr.
	ReadCString(pid procinfo.AbsPid, addr uint64, max int) (string, error)
}

const pageSize = 4096

// VMBridge is the kernel-backed bridge, one process_vm call per transfer.
type VMBridge struct{}

// NewVMBridge returns the process_vm_readv/writev backed bridge.
func NewVMBridge() *VMBridge { return &VMBridge{} }

// ReadAt implements Bridge.
func (b *VMBridge) ReadAt(pid procinfo.AbsPid, addr uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMReadv(int(pid), local, remote, 0)
	if err != nil {
		return bridgeError("read", pid, addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("short read of guest %d at %#x (%d of %d): %w",
			pid, addr, n, len(buf), syserr.ErrBridgeFault)
	}
	return nil
}

// WriteAt implements Bridge.
func (b *VMBridge) WriteAt(pid procinfo.AbsPid, addr uint64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMWritev(int(pid), local, remote, 0)
	if err != nil {
		return bridgeError("write", pid, addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("short write to guest %d at %#x (%d of %d): %w",
			pid, addr, n, len(buf), syserr.ErrBridgeFault)
	}
	return nil
}

// ReadCString implements Bridge. Reads stop at page boundaries so a string
// ending near the last mapped page does not fault on the page beyond it.
func (b *VMBridge) ReadCString(pid procinfo.AbsPid, addr uint64, max int) (string, error) {
	out := make([]byte, 0, 64)
	for len(out) <= max {
		chunk := pageSize - int(addr%pageSize)
		if remaining := max + 1 - len(out); chunk > remaining {
			chunk = remaining
		}
		buf := make([]byte, chunk)
		if err := b.ReadAt(pid, addr, buf); err != nil {
			return "", err
		}
		for i, c := range buf {
			if c == 0 {
				return string(append(out, buf[:i]...)), nil
			}
		}
		out = append(out, buf...)
		addr += uint64(chunk)
	}
	return "", fmt.Errorf("no terminator within %d bytes at %#x: %w", max, addr, syserr.ErrPathTooLong)
}

func bridgeError(op string, pid procinfo.AbsPid, addr uint64, err error) error {
	switch err {
	case unix.ESRCH:
		return fmt.Errorf("%s guest %d at %#x: %w", op, pid, addr, syserr.ErrNoSuchProcess)
	case unix.EFAULT, unix.EIO, unix.EPERM:
		return fmt.Errorf("%s guest %d at %#x: %w", op, pid, addr, syserr.ErrBridgeFault)
	}
	return fmt.Errorf("%s guest %d at %#x: %w", op, pid, addr, err)
}
