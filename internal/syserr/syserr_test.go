package syserr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"golang.org/x/sys/unix"
)

func TestToErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want unix.Errno
	}{
		{"path denied", ErrPathDenied, unix.EACCES},
		{"bad fd", ErrBadFd, unix.EBADF},
		{"is directory", ErrIsDirectory, unix.EISDIR},
		{"interrupted", ErrInterrupted, unix.EINTR},
		{"bridge fault", ErrBridgeFault, unix.EFAULT},
		{"path too long", ErrPathTooLong, unix.ENAMETOOLONG},
		{"wrapped sentinel", fmt.Errorf("openat: %w", ErrPathDenied), unix.EACCES},
		{"raw errno", unix.ENOSPC, unix.ENOSPC},
		{"wrapped errno", fmt.Errorf("pread: %w", unix.EINVAL), unix.EINVAL},
		{"fs not exist", fs.ErrNotExist, unix.ENOENT},
		{"fs permission", fs.ErrPermission, unix.EACCES},
		{"unknown", errors.New("boom"), unix.EIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToErrno(tt.err); got != tt.want {
				t.Errorf("ToErrno(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSentinelIdentity(t *testing.T) {
	wrapped := fmt.Errorf("write: %w", ErrNotOpenForWriting)
	if !errors.Is(wrapped, ErrNotOpenForWriting) {
		t.Error("wrapped sentinel should satisfy errors.Is")
	}
	if errors.Is(wrapped, ErrNotOpenForReading) {
		t.Error("distinct sentinels must not alias")
	}
}
