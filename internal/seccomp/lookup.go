package seccomp

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/bvisor/bvisor/internal/syserr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Cross-process fd acquisition polls until the guest has installed its filter
// and the fd number is observable.
// TODO: replace the fixed cadence with back-off once the bootstrap grows a
// readiness signal; today fd observability is the only signal there is.
const (
	lookupAttempts = 100
	lookupInterval = time.Millisecond
)

var lookupLog = logrus.WithField("mod", "fdlookup")

// LookupFd obtains a supervisor-visible duplicate of the fd numbered targetFd
// inside process pid. It retries on a bounded schedule because the guest
// creates the fd asynchronously; exhaustion is a timeout, a vanished guest is
// ESRCH.
func LookupFd(pid int, targetFd int) (int, error) {
	for attempt := 0; attempt < lookupAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(lookupInterval)
		}

		pidfd, err := unix.PidfdOpen(pid, 0)
		if err != nil {
			if err == unix.ESRCH {
				return -1, fmt.Errorf("pidfd_open %d: %w", pid, syserr.ErrNoSuchProcess)
			}
			return -1, fmt.Errorf("pidfd_open %d: %w", pid, err)
		}

		fd, err := unix.PidfdGetfd(pidfd, targetFd, 0)
		unix.Close(pidfd)
		if err == nil {
			lookupLog.WithFields(logrus.Fields{
				"pid":     pid,
				"target":  targetFd,
				"attempt": attempt + 1,
			}).Debug("acquired guest fd")
			return fd, nil
		}
		if err == unix.EPERM {
			return -1, fmt.Errorf("pidfd_getfd %d/%d: %w (need CAP_SYS_PTRACE over the guest)", pid, targetFd, err)
		}
		// EBADF: the guest has not created the fd yet. Keep polling.
	}
	return -1, fmt.Errorf("fd %d of pid %d not observable after %d attempts: %w",
		targetFd, pid, lookupAttempts, syserr.ErrTimedOut)
}

// Listener acquisition scans a small window of candidate fd numbers: the
// guest enters with only stdio open, so the listener lands on a low fd, but
// the exact number depends on what its runtime had open at install time.
const listenerFdScanMax = 32

// AcquireListener finds the guest's notification listener and returns a
// supervisor-owned duplicate of it. Same bounded retry schedule as LookupFd;
// each round scans the low fd numbers and keeps the first fd that answers
// the listener probe.
func AcquireListener(pid int) (int, error) {
	for attempt := 0; attempt < lookupAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(lookupInterval)
		}

		pidfd, err := unix.PidfdOpen(pid, 0)
		if err != nil {
			if err == unix.ESRCH {
				return -1, fmt.Errorf("pidfd_open %d: %w", pid, syserr.ErrNoSuchProcess)
			}
			return -1, fmt.Errorf("pidfd_open %d: %w", pid, err)
		}

		for target := 3; target < listenerFdScanMax; target++ {
			fd, err := unix.PidfdGetfd(pidfd, target, 0)
			if err != nil {
				if err == unix.EPERM {
					unix.Close(pidfd)
					return -1, fmt.Errorf("pidfd_getfd %d/%d: %w (need CAP_SYS_PTRACE over the guest)", pid, target, err)
				}
				continue
			}
			if IsListener(fd) {
				unix.Close(pidfd)
				lookupLog.WithFields(logrus.Fields{
					"pid":     pid,
					"fd":      target,
					"attempt": attempt + 1,
				}).Debug("acquired notification listener")
				return fd, nil
			}
			unix.Close(fd)
		}
		unix.Close(pidfd)
	}
	return -1, fmt.Errorf("no listener observable in pid %d after %d attempts: %w",
		pid, lookupAttempts, syserr.ErrTimedOut)
}

// IsListener probes whether fd is a seccomp notification listener: the
// ID_VALID ioctl answers ENOENT for a listener with no such pending id, and
// ENOTTY/EBADF for anything else.
func IsListener(fd int) bool {
	var id uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL,
		uintptr(fd),
		uintptr(unix.SECCOMP_IOCTL_NOTIF_ID_VALID),
		uintptr(unsafe.Pointer(&id)))
	return errno == 0 || errno == unix.ENOENT
}
