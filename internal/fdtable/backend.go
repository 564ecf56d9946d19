// Package fdtable implements the virtual file-descriptor table the guest sees
// and the tagged file backends behind its entries. Virtual fds start at 3 and
// are never a raw host fd.
package fdtable

import (
	"fmt"

	"github.com/bvisor/bvisor/internal/syserr"
	"golang.org/x/sys/unix"
)

// BackendKind tags a Backend variant.
type BackendKind int

const (
	// Passthrough serves a host fd directly (e.g. /dev/null).
	Passthrough BackendKind = iota
	// CowRead reads through to the host original; any write upgrades it.
	CowRead
	// CowWrite serves the overlay copy of a host path.
	CowWrite
	// Tmp serves the sandbox's private /tmp subtree.
	Tmp
	// Proc serves synthetic /proc content formatted by the supervisor.
	Proc
)

func (k BackendKind) String() string {
	switch k {
	case Passthrough:
		return "passthrough"
	case CowRead:
		return "cow-read"
	case CowWrite:
		return "cow-write"
	case Tmp:
		return "tmp"
	case Proc:
		return "proc"
	}
	return "unknown"
}

// offsetCell is the file offset shared between dup'd synthetic backends.
// Host-backed backends share offsets through the dup'd open file description
// instead.
type offsetCell struct {
	off int64
}

// Backend is one open file as the guest sees it. Each backend exclusively
// owns the host fd it carries and closes it exactly once.
type Backend struct {
	Kind BackendKind
	// Path is the guest-visible path the backend was opened for.
	Path string

	hostFD  int
	flags   int // open(2) flags the guest asked for
	cloexec bool
	isDir   bool
	closed  bool

	// Proc backends only.
	content []byte
	off     *offsetCell

	// getdents64 resume cursor for directory backends.
	dirCursor int
}

// NewHostBackend wraps an owned host fd.
func NewHostBackend(kind BackendKind, path string, hostFD int, flags int) *Backend {
	return &Backend{Kind: kind, Path: path, hostFD: hostFD, flags: flags}
}

// NewProcBackend wraps synthetic content; there is no host fd behind it.
func NewProcBackend(path string, content []byte) *Backend {
	return &Backend{
		Kind:    Proc,
		Path:    path,
		hostFD:  -1,
		flags:   unix.O_RDONLY,
		content: content,
		off:     &offsetCell{},
	}
}

// HostFD exposes the owned host fd, or -1 for synthetic backends.
func (b *Backend) HostFD() int { return b.hostFD }

// Flags returns the open flags the backend carries.
func (b *Backend) Flags() int { return b.flags }

// SetFlags replaces the mutable status flags (O_APPEND, O_NONBLOCK).
func (b *Backend) SetFlags(flags int) { b.flags = flags }

// Cloexec reports the close-on-exec flag.
func (b *Backend) Cloexec() bool { return b.cloexec }

// SetCloexec records the close-on-exec flag.
func (b *Backend) SetCloexec(v bool) { b.cloexec = v }

// MarkDir records that the backend refers to a directory.
func (b *Backend) MarkDir() { b.isDir = true }

// IsDir reports whether the backend refers to a directory.
func (b *Backend) IsDir() bool { return b.isDir }

// DirCursor returns the getdents64 resume cursor.
func (b *Backend) DirCursor() int { return b.dirCursor }

// SetDirCursor stores the getdents64 resume cursor.
func (b *Backend) SetDirCursor(c int) { b.dirCursor = c }

// Content exposes a Proc backend's synthetic bytes.
func (b *Backend) Content() []byte { return b.content }

func (b *Backend) accMode() int { return b.flags & unix.O_ACCMODE }

// Readable reports whether the guest opened the backend for reading.
func (b *Backend) Readable() bool { return b.accMode() != unix.O_WRONLY }

// Writable reports whether the guest opened the backend for writing.
func (b *Backend) Writable() bool { return b.accMode() != unix.O_RDONLY }

// Read serves up to len(p) bytes at the current offset.
func (b *Backend) Read(p []byte) (int, error) {
	if b.closed {
		return 0, syserr.ErrBadFd
	}
	if !b.Readable() {
		return 0, syserr.ErrNotOpenForReading
	}
	if b.isDir {
		return 0, syserr.ErrIsDirectory
	}
	if b.Kind == Proc {
		if b.off.off >= int64(len(b.content)) {
			return 0, nil
		}
		n := copy(p, b.content[b.off.off:])
		b.off.off += int64(n)
		return n, nil
	}
	n, err := unix.Read(b.hostFD, p)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", b.Path, mapIOError(err))
	}
	return n, nil
}

// Pread serves up to len(p) bytes at off without moving the offset.
func (b *Backend) Pread(p []byte, off int64) (int, error) {
	if b.closed {
		return 0, syserr.ErrBadFd
	}
	if !b.Readable() {
		return 0, syserr.ErrNotOpenForReading
	}
	if b.isDir {
		return 0, syserr.ErrIsDirectory
	}
	if b.Kind == Proc {
		if off >= int64(len(b.content)) {
			return 0, nil
		}
		return copy(p, b.content[off:]), nil
	}
	n, err := unix.Pread(b.hostFD, p, off)
	if err != nil {
		return 0, fmt.Errorf("pread %s: %w", b.Path, mapIOError(err))
	}
	return n, nil
}

// Write appends or writes at the current offset.
func (b *Backend) Write(p []byte) (int, error) {
	if b.closed {
		return 0, syserr.ErrBadFd
	}
	if !b.Writable() {
		return 0, syserr.ErrNotOpenForWriting
	}
	if b.Kind == Proc {
		return 0, syserr.ErrNotOpenForWriting
	}
	n, err := unix.Write(b.hostFD, p)
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", b.Path, mapIOError(err))
	}
	return n, nil
}

// Pwrite writes at off without moving the offset.
func (b *Backend) Pwrite(p []byte, off int64) (int, error) {
	if b.closed {
		return 0, syserr.ErrBadFd
	}
	if !b.Writable() {
		return 0, syserr.ErrNotOpenForWriting
	}
	if b.Kind == Proc {
		return 0, syserr.ErrNotOpenForWriting
	}
	n, err := unix.Pwrite(b.hostFD, p, off)
	if err != nil {
		return 0, fmt.Errorf("pwrite %s: %w", b.Path, mapIOError(err))
	}
	return n, nil
}

// Seek repositions the offset per whence. SEEK_END on a directory is
// rejected; the fabricated getdents cursor has no meaningful end.
func (b *Backend) Seek(off int64, whence int) (int64, error) {
	if b.closed {
		return 0, syserr.ErrBadFd
	}
	if whence == unix.SEEK_END && b.isDir {
		return 0, syserr.ErrInvalidSeek
	}
	if b.Kind == Proc {
		var base int64
		switch whence {
		case unix.SEEK_SET:
			base = 0
		case unix.SEEK_CUR:
			base = b.off.off
		case unix.SEEK_END:
			base = int64(len(b.content))
		default:
			return 0, syserr.ErrInvalidSeek
		}
		if base+off < 0 {
			return 0, syserr.ErrInvalidSeek
		}
		b.off.off = base + off
		return b.off.off, nil
	}
	pos, err := unix.Seek(b.hostFD, off, whence)
	if err != nil {
		if err == unix.EINVAL {
			return 0, syserr.ErrInvalidSeek
		}
		return 0, fmt.Errorf("seek %s: %w", b.Path, mapIOError(err))
	}
	return pos, nil
}

// Offset reports the current file offset.
func (b *Backend) Offset() (int64, error) {
	if b.Kind == Proc {
		return b.off.off, nil
	}
	return unix.Seek(b.hostFD, 0, unix.SEEK_CUR)
}

// Stat fills st for the backend. Proc backends fabricate a regular read-only
// file sized to their content.
func (b *Backend) Stat(st *unix.Stat_t) error {
	if b.closed {
		return syserr.ErrBadFd
	}
	if b.Kind == Proc {
		*st = unix.Stat_t{
			Mode: unix.S_IFREG | 0444,
			Size: int64(len(b.content)),
			Nlink: 1,
			Blksize: 1024,
		}
		return nil
	}
	if err := unix.Fstat(b.hostFD, st); err != nil {
		return fmt.Errorf("fstat %s: %w", b.Path, mapIOError(err))
	}
	return nil
}

// Dup produces an independent backend for the same open file. Offsets are
// shared: host-backed duplicates share the open file description, synthetic
// ones share the offset cell.
func (b *Backend) Dup() (*Backend, error) {
	if b.closed {
		return nil, syserr.ErrBadFd
	}
	if b.Kind == Proc {
		return &Backend{
			Kind:    Proc,
			Path:    b.Path,
			hostFD:  -1,
			flags:   b.flags,
			content: b.content,
			off:     b.off,
		}, nil
	}
	fd, err := unix.Dup(b.hostFD)
	if err != nil {
		return nil, fmt.Errorf("dup %s: %w", b.Path, mapIOError(err))
	}
	dup := *b
	dup.hostFD = fd
	dup.cloexec = false
	return &dup, nil
}

// SwapHost replaces the backing host fd, preserving the current offset. Used
// for the read-through to write-copy upgrade.
func (b *Backend) SwapHost(kind BackendKind, newFD int) error {
	if b.closed {
		return syserr.ErrBadFd
	}
	off, err := unix.Seek(b.hostFD, 0, unix.SEEK_CUR)
	if err == nil && off > 0 {
		if _, err := unix.Seek(newFD, off, unix.SEEK_SET); err != nil {
			unix.Close(newFD)
			return fmt.Errorf("seek overlay copy of %s: %w", b.Path, mapIOError(err))
		}
	}
	unix.Close(b.hostFD)
	b.hostFD = newFD
	b.Kind = kind
	return nil
}

// Close releases the owned host fd. Closing twice is an error the table
// never produces; the method is still idempotent on the fd itself.
func (b *Backend) Close() error {
	if b.closed {
		return syserr.ErrBadFd
	}
	b.closed = true
	if b.hostFD >= 0 {
		if err := unix.Close(b.hostFD); err != nil {
			return fmt.Errorf("close %s: %w", b.Path, mapIOError(err))
		}
		b.hostFD = -1
	}
	return nil
}

func mapIOError(err error) error {
	switch err {
	case unix.EBADF:
		return syserr.ErrBadFd
	case unix.EINTR:
		return syserr.ErrInterrupted
	case unix.EISDIR:
		return syserr.ErrIsDirectory
	case unix.EIO:
		return syserr.ErrIoFailure
	}
	return err
}
