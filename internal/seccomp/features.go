package seccomp

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Features describes what the running kernel offers the sandbox.
type Features struct {
	// HasSeccomp reports basic seccomp availability.
	HasSeccomp bool
	// HasUserNotif reports SECCOMP_RET_USER_NOTIF support (kernel 5.0+).
	HasUserNotif bool
	// HasPidfdGetfd reports pidfd_getfd(2) support (kernel 5.6+).
	HasPidfdGetfd bool
	// HasNotifAddfd reports SECCOMP_IOCTL_NOTIF_ADDFD support (kernel 5.9+).
	HasNotifAddfd bool

	KernelMajor int
	KernelMinor int
}

var (
	detectedFeatures *Features
	detectOnce       sync.Once
)

// DetectFeatures probes the kernel once and caches the result.
func DetectFeatures() *Features {
	detectOnce.Do(func() {
		detectedFeatures = &Features{}
		detectedFeatures.detect()
	})
	return detectedFeatures
}

func (f *Features) detect() {
	f.parseKernelVersion()

	// PR_GET_SECCOMP answers 0/1/2 when seccomp exists; EINVAL means the
	// kernel knows seccomp but it is off for this process.
	_, _, errno := unix.Syscall(unix.SYS_PRCTL, unix.PR_GET_SECCOMP, 0, 0)
	if errno == 0 || errno == unix.EINVAL {
		f.HasSeccomp = true
	}

	f.HasUserNotif = f.atLeast(5, 0)
	f.HasPidfdGetfd = f.atLeast(5, 6)
	f.HasNotifAddfd = f.atLeast(5, 9)
}

func (f *Features) parseKernelVersion() {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return
	}
	release := unix.ByteSliceToString(uname.Release[:])
	parts := strings.Split(release, ".")
	if len(parts) >= 2 {
		f.KernelMajor, _ = strconv.Atoi(parts[0])
		// Handle releases like "6.2.0-39-generic".
		minorStr := strings.Split(parts[1], "-")[0]
		f.KernelMinor, _ = strconv.Atoi(minorStr)
	}
}

func (f *Features) atLeast(major, minor int) bool {
	if f.KernelMajor != major {
		return f.KernelMajor > major
	}
	return f.KernelMinor >= minor
}

// Supported returns nil when the kernel can run the sandbox, or an error
// naming what is missing.
func (f *Features) Supported() error {
	if !f.HasSeccomp {
		return fmt.Errorf("kernel has no seccomp support")
	}
	if !f.HasUserNotif {
		return fmt.Errorf("seccomp user notification needs kernel 5.0+, running %d.%d",
			f.KernelMajor, f.KernelMinor)
	}
	if !f.HasPidfdGetfd {
		return fmt.Errorf("pidfd_getfd needs kernel 5.6+, running %d.%d",
			f.KernelMajor, f.KernelMinor)
	}
	return nil
}

// Summary describes the probe results for debug logging.
func (f *Features) Summary() string {
	return fmt.Sprintf("kernel %d.%d, seccomp=%v, user-notif=%v, pidfd-getfd=%v, addfd=%v",
		f.KernelMajor, f.KernelMinor, f.HasSeccomp, f.HasUserNotif, f.HasPidfdGetfd, f.HasNotifAddfd)
}
