// Package syserr defines the typed errors the sandbox carries internally and
// their mapping to the single guest-visible errno each handler replies with.
//
// Handlers return these sentinels (usually wrapped with fmt.Errorf and %w);
// the dispatcher calls ToErrno on whatever comes back. All sentinels support
// errors.Is.
package syserr

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

// Error is a sandbox-internal error carrying its guest-visible errno.
type Error struct {
	msg   string
	errno unix.Errno
}

// New creates an Error that maps to the given errno.
func New(msg string, errno unix.Errno) *Error {
	return &Error{msg: msg, errno: errno}
}

func (e *Error) Error() string { return e.msg }

// Errno returns the errno the guest sees for this error.
func (e *Error) Errno() unix.Errno { return e.errno }

var (
	// ErrPathDenied indicates the path is on the deny list or matches a
	// denied prefix.
	ErrPathDenied = New("path denied by policy", unix.EACCES)

	// ErrPathTooLong indicates the path exceeds the path buffer ceiling.
	ErrPathTooLong = New("path too long", unix.ENAMETOOLONG)

	// ErrPathNotFound indicates the path exists neither in the overlay nor
	// on the host.
	ErrPathNotFound = New("path not found", unix.ENOENT)

	// ErrPermissionDenied indicates an operation the sandbox never permits.
	ErrPermissionDenied = New("operation not permitted", unix.EPERM)

	// ErrBadFd indicates the virtual fd is not present in the caller's table.
	ErrBadFd = New("bad virtual file descriptor", unix.EBADF)

	// ErrNotOpenForReading indicates a read on a write-only backend.
	ErrNotOpenForReading = New("not open for reading", unix.EBADF)

	// ErrNotOpenForWriting indicates a write on a read-only backend.
	ErrNotOpenForWriting = New("not open for writing", unix.EBADF)

	// ErrIsDirectory indicates a file operation on a directory backend.
	ErrIsDirectory = New("is a directory", unix.EISDIR)

	// ErrInvalidSeek indicates an unsupported whence or seek target.
	ErrInvalidSeek = New("invalid seek", unix.EINVAL)

	// ErrNoSuchProcess indicates the pid is unknown to the process table or
	// has vanished from the host.
	ErrNoSuchProcess = New("no such process", unix.ESRCH)

	// ErrBufferTooSmall indicates the guest-supplied buffer cannot hold the
	// result.
	ErrBufferTooSmall = New("buffer too small", unix.ERANGE)

	// ErrInterrupted indicates the operation was cut short by a signal.
	ErrInterrupted = New("interrupted", unix.EINTR)

	// ErrIoFailure indicates a host i/o failure while serving a backend.
	ErrIoFailure = New("i/o failure", unix.EIO)

	// ErrBridgeFault indicates the guest memory bridge could not complete a
	// transfer (bad address, short copy). A string with no terminator
	// within its limit is reported as ErrPathTooLong instead.
	ErrBridgeFault = New("guest memory fault", unix.EFAULT)

	// ErrTimedOut indicates a bounded retry was exhausted.
	ErrTimedOut = New("timed out", unix.ETIMEDOUT)

	// ErrFilterInstallFailed indicates the seccomp filter could not be
	// installed on the guest. Fatal: the process cannot be sandboxed.
	ErrFilterInstallFailed = New("seccomp filter install failed", unix.ENOSYS)
)

// ToErrno maps err to the errno a handler replies with. Sandbox errors carry
// their own errno, raw unix errnos pass through, and fs errors map to their
// conventional values. Anything unrecognized becomes EIO.
func ToErrno(err error) unix.Errno {
	var se *Error
	if errors.As(err, &se) {
		return se.errno
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return unix.ENOENT
	case errors.Is(err, fs.ErrPermission):
		return unix.EACCES
	case errors.Is(err, fs.ErrExist):
		return unix.EEXIST
	}
	return unix.EIO
}
