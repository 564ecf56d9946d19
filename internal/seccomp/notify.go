package seccomp

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrVanished is returned by Send when the kernel reports the notification
// gone: the guest was signalled between trap and reply and has already moved
// on. The supervisor treats it as a no-op.
var ErrVanished = errors.New("notification vanished")

// Listener wraps the kernel listener object obtained from filter install.
// Dequeuing notifications and sending replies flow through it.
type Listener struct {
	fd int
}

// NewListener adopts an already-acquired listener fd.
func NewListener(fd int) *Listener {
	return &Listener{fd: fd}
}

// Fd returns the underlying listener fd.
func (l *Listener) Fd() int { return l.fd }

// Poll waits up to timeoutMs for a notification to become ready.
func (l *Listener) Poll(timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(l.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, fmt.Errorf("poll listener: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
		return false, fmt.Errorf("listener gone (revents %#x)", fds[0].Revents)
	}
	return fds[0].Revents&unix.POLLIN != 0, nil
}

// Recv dequeues one notification. The record must be zeroed before the ioctl
// per the kernel contract.
func (l *Listener) Recv() (*Notif, error) {
	var n Notif
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL,
			uintptr(l.fd),
			uintptr(unix.SECCOMP_IOCTL_NOTIF_RECV),
			uintptr(unsafe.Pointer(&n)))
		if errno == 0 {
			return &n, nil
		}
		if errno == unix.EINTR {
			n = Notif{}
			continue
		}
		return nil, fmt.Errorf("notif recv: %w", errno)
	}
}

// Send delivers the reply for a previously received notification.
func (l *Listener) Send(r *Resp) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		uintptr(l.fd),
		uintptr(unix.SECCOMP_IOCTL_NOTIF_SEND),
		uintptr(unsafe.Pointer(r)))
	switch errno {
	case 0:
		return nil
	case unix.ENOENT:
		return fmt.Errorf("id %d: %w", r.ID, ErrVanished)
	}
	return fmt.Errorf("notif send id %d: %w", r.ID, errno)
}

// Valid reports whether the notification id is still pending, i.e. the guest
// thread is still blocked waiting on our reply.
func (l *Listener) Valid(id uint64) bool {
	v := id
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		uintptr(l.fd),
		uintptr(unix.SECCOMP_IOCTL_NOTIF_ID_VALID),
		uintptr(unsafe.Pointer(&v)))
	return errno == 0
}

// Close releases the listener fd.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}
