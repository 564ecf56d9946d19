// Package sandbox implements the supervisor: the syscall-interception event
// loop, the per-syscall handlers, and the admission policy they enforce.
package sandbox

import (
	"fmt"
	"path"
	"strings"

	"github.com/bvisor/bvisor/internal/config"
	"github.com/bvisor/bvisor/internal/syserr"
	"golang.org/x/sys/unix"
)

// pathMax is the path buffer ceiling; longer guest paths are rejected with
// ENAMETOOLONG.
const pathMax = 256

// DeniedPaths lists absolute paths the guest may never open.
var DeniedPaths = []string{
	"/proc/sysrq-trigger",            // Immediate kernel actions (sync, crash, reboot)
	"/proc/sys/kernel/core_pattern",  // Core-dump handler hijack
	"/proc/sys/kernel/modprobe",      // Module-loader hijack
	"/proc/kcore",                    // Physical memory image
	"/proc/kmem",                     // Kernel virtual memory
	"/proc/kallsyms",                 // Kernel symbol addresses (KASLR leak)
	"/proc/self/mem",                 // Self memory poke past the filter
	"/proc/config.gz",                // Kernel build fingerprint
	"/dev/mem",                       // Physical memory
	"/dev/kmem",                      // Kernel memory
	"/dev/port",                      // Raw I/O ports
	"/dev/hpet",                      // Timer hardware
	"/dev/fuse",                      // Userspace filesystems would bypass the overlay
	"/dev/kvm",                       // Hypervisor control
	"/dev/vhost-net",                 // Kernel virtio backends
	"/dev/vhost-vsock",
}

// DeniedPrefixes lists path prefixes the guest may never open under.
var DeniedPrefixes = []string{
	// Kernel tunables
	"/proc/sys/kernel/",
	"/proc/sys/vm/",
	"/proc/sys/net/",
	"/proc/sys/fs/",
	"/proc/acpi/",
	"/proc/bus/",
	"/proc/scsi/",
	// Host control planes under /sys
	"/sys/fs/cgroup/",
	"/sys/kernel/",
	"/sys/module/",
	"/sys/firmware/",
	"/sys/power/",
	"/sys/class/",
	"/sys/bus/",
	"/sys/block/",
	"/sys/devices/virtual/powercap/", // RAPL side channel
	// Raw devices
	"/dev/cpu/",
	"/dev/sd",
	"/dev/nvme",
	"/dev/vd",
	"/dev/loop",
	"/dev/dm-",
	"/dev/mapper/",
	"/dev/dri/",
	"/dev/fb",
	"/dev/input/",
	"/dev/snd/",
	"/dev/video",
	// Host boot chain
	"/boot/",
}

// ReadOnlyPaths lists exact paths that reject any write-requesting open.
var ReadOnlyPaths = []string{
	"/proc/self/exe",
}

// ReadOnlyPrefixes lists prefixes that reject any write-requesting open.
var ReadOnlyPrefixes = []string{
	"/proc/self/fd/",
}

// AllowedDevices are the only /dev nodes served to the guest.
var AllowedDevices = []string{
	"/dev/null",
	"/dev/zero",
	"/dev/urandom",
}

// VirtualReadlinks maps symlink paths to the literal target the guest sees.
// /proc/self/exe is virtualized so the guest cannot fingerprint the real
// binary.
var VirtualReadlinks = map[string]string{
	"/proc/self/exe": "/sandbox",
}

// Policy is the admission table for one sandbox: the built-in lists plus any
// config-supplied extensions.
type Policy struct {
	extraDenyPaths    []string
	extraDenyPrefixes []string
	extraReadOnly     []string
}

// NewPolicy builds the policy, layering cfg's filesystem extensions (exact
// paths or doublestar patterns) on top of the built-in tables.
func NewPolicy(cfg *config.Config) *Policy {
	p := &Policy{}
	if cfg != nil {
		p.extraDenyPaths = cfg.Filesystem.DenyPaths
		p.extraDenyPrefixes = cfg.Filesystem.DenyPrefixes
		p.extraReadOnly = cfg.Filesystem.ReadOnlyPrefixes
	}
	return p
}

// NormalizePath cleans a guest-supplied path and rejects traversal that
// escapes the root. Relative paths resolve against cwd.
func NormalizePath(cwd, p string) (string, error) {
	if len(p) > pathMax {
		return "", fmt.Errorf("path of %d bytes: %w", len(p), syserr.ErrPathTooLong)
	}
	if p == "" {
		return "", fmt.Errorf("empty path: %w", syserr.ErrPathNotFound)
	}
	if !strings.HasPrefix(p, "/") {
		if cwd == "" {
			cwd = "/"
		}
		p = cwd + "/" + p
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("traversal escapes root: %w", syserr.ErrPathDenied)
	}
	return cleaned, nil
}

// denied reports whether the normalized path is blocked outright.
func (pl *Policy) denied(p string) bool {
	for _, d := range DeniedPaths {
		if p == d {
			return true
		}
	}
	for _, pre := range DeniedPrefixes {
		if strings.HasPrefix(p, pre) {
			return true
		}
	}
	if config.MatchesAny(pl.extraDenyPaths, p) {
		return true
	}
	return config.MatchesAny(pl.extraDenyPrefixes, p)
}

// readOnly reports whether the normalized path rejects write access.
func (pl *Policy) readOnly(p string) bool {
	for _, ro := range ReadOnlyPaths {
		if p == ro {
			return true
		}
	}
	for _, pre := range ReadOnlyPrefixes {
		if strings.HasPrefix(p, pre) {
			return true
		}
	}
	return config.MatchesAny(pl.extraReadOnly, p)
}

// CheckOpen runs the path admission pipeline for an open with the given
// flags: deny list, then read-only enforcement. The caller normalizes first.
func (pl *Policy) CheckOpen(p string, flags int) error {
	if pl.denied(p) {
		return fmt.Errorf("open %s: %w", p, syserr.ErrPathDenied)
	}
	if pl.readOnly(p) && wantsWrite(flags) {
		return fmt.Errorf("open %s for write: %w", p, syserr.ErrPathDenied)
	}
	if strings.HasPrefix(p, "/dev/") && !pl.deviceAllowed(p) {
		return fmt.Errorf("open device %s: %w", p, syserr.ErrPathDenied)
	}
	return nil
}

func (pl *Policy) deviceAllowed(p string) bool {
	for _, d := range AllowedDevices {
		if p == d {
			return true
		}
	}
	return false
}

// wantsWrite reports whether flags request any write access or mutation.
func wantsWrite(flags int) bool {
	if flags&unix.O_ACCMODE != unix.O_RDONLY {
		return true
	}
	return flags&(unix.O_CREAT|unix.O_TRUNC|unix.O_APPEND) != 0
}
