package sandbox

import (
	"errors"
	"testing"

	"github.com/bvisor/bvisor/internal/config"
	"github.com/bvisor/bvisor/internal/syserr"
	"golang.org/x/sys/unix"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		cwd  string
		in   string
		want string
		err  error
	}{
		{"clean absolute", "/", "/etc/hosts", "/etc/hosts", nil},
		{"relative against cwd", "/", "etc/hosts", "/etc/hosts", nil},
		{"dot segments", "/", "/a/./b/../c", "/a/c", nil},
		{"traversal stays rooted", "/", "/tmp/../sys/class/net", "/sys/class/net", nil},
		{"trailing slash", "/", "/tmp/", "/tmp", nil},
		{"empty", "/", "", "", syserr.ErrPathNotFound},
		{"too long", "/", "/" + string(make([]byte, pathMax)), "", syserr.ErrPathTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePath(tt.cwd, tt.in)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizePath: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizePath = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPolicyDeniedTables(t *testing.T) {
	pl := NewPolicy(nil)

	denied := []string{
		"/proc/sysrq-trigger",
		"/proc/sys/kernel/core_pattern",
		"/proc/kcore",
		"/proc/self/mem",
		"/dev/mem",
		"/dev/kvm",
		"/sys/class/net",
		"/sys/kernel/debug/tracing",
		"/proc/sys/net/ipv4/ip_forward",
		"/dev/sda1",
		"/dev/nvme0n1",
		"/dev/mapper/root",
		"/boot/vmlinuz",
	}
	for _, p := range denied {
		if err := pl.CheckOpen(p, unix.O_RDONLY); !errors.Is(err, syserr.ErrPathDenied) {
			t.Errorf("CheckOpen(%q) = %v, want ErrPathDenied", p, err)
		}
	}

	allowed := []string{
		"/etc/hosts",
		"/usr/lib/libc.so.6",
		"/proc/cpuinfo",
		"/dev/null",
		"/dev/urandom",
		"/tmp/workdir/file",
	}
	for _, p := range allowed {
		if err := pl.CheckOpen(p, unix.O_RDONLY); err != nil {
			t.Errorf("CheckOpen(%q) = %v, want nil", p, err)
		}
	}
}

func TestPolicyReadOnly(t *testing.T) {
	pl := NewPolicy(nil)

	if err := pl.CheckOpen("/proc/self/exe", unix.O_RDONLY); err != nil {
		t.Errorf("read of /proc/self/exe: %v", err)
	}
	if err := pl.CheckOpen("/proc/self/exe", unix.O_WRONLY); !errors.Is(err, syserr.ErrPathDenied) {
		t.Errorf("write of /proc/self/exe = %v, want ErrPathDenied", err)
	}
	if err := pl.CheckOpen("/proc/self/fd/3", unix.O_RDWR); !errors.Is(err, syserr.ErrPathDenied) {
		t.Errorf("write under /proc/self/fd/ = %v, want ErrPathDenied", err)
	}
	// O_CREAT alone counts as write intent.
	if err := pl.CheckOpen("/proc/self/exe", unix.O_RDONLY|unix.O_CREAT); !errors.Is(err, syserr.ErrPathDenied) {
		t.Errorf("O_CREAT on read-only path = %v, want ErrPathDenied", err)
	}
}

func TestPolicyDeviceAllowlist(t *testing.T) {
	pl := NewPolicy(nil)
	for _, p := range []string{"/dev/null", "/dev/zero", "/dev/urandom"} {
		if err := pl.CheckOpen(p, unix.O_RDONLY); err != nil {
			t.Errorf("CheckOpen(%q) = %v", p, err)
		}
	}
	for _, p := range []string{"/dev/tty", "/dev/random", "/dev/ptmx"} {
		if err := pl.CheckOpen(p, unix.O_RDONLY); !errors.Is(err, syserr.ErrPathDenied) {
			t.Errorf("CheckOpen(%q) = %v, want ErrPathDenied", p, err)
		}
	}
}

func TestPolicyConfigExtensions(t *testing.T) {
	cfg := &config.Config{
		Filesystem: config.FilesystemConfig{
			DenyPaths:        []string{"/home/**/.ssh"},
			DenyPrefixes:     []string{"/srv/"},
			ReadOnlyPrefixes: []string{"/opt/data/"},
		},
	}
	pl := NewPolicy(cfg)

	if err := pl.CheckOpen("/home/alice/.ssh", unix.O_RDONLY); !errors.Is(err, syserr.ErrPathDenied) {
		t.Errorf("config glob deny = %v, want ErrPathDenied", err)
	}
	if err := pl.CheckOpen("/srv/www/app", unix.O_RDONLY); !errors.Is(err, syserr.ErrPathDenied) {
		t.Errorf("config prefix deny = %v, want ErrPathDenied", err)
	}
	if err := pl.CheckOpen("/opt/data/model.bin", unix.O_RDONLY); err != nil {
		t.Errorf("config read-only read = %v, want nil", err)
	}
	if err := pl.CheckOpen("/opt/data/model.bin", unix.O_WRONLY); !errors.Is(err, syserr.ErrPathDenied) {
		t.Errorf("config read-only write = %v, want ErrPathDenied", err)
	}
}

func TestSyscallTableBuckets(t *testing.T) {
	if got := syscallActions[unix.SYS_OPENAT]; got != actEmulate {
		t.Errorf("openat bucket = %v, want emulate", got)
	}
	if got := syscallActions[unix.SYS_FUTEX]; got != actContinue {
		t.Errorf("futex bucket = %v, want continue", got)
	}
	if got := syscallActions[unix.SYS_PTRACE]; got != actBlockPerm {
		t.Errorf("ptrace bucket = %v, want block", got)
	}
	if _, present := syscallActions[999999]; present {
		t.Error("unknown numbers must stay out of the table")
	}

	// No number lives in two buckets.
	for nr := range emulatedSyscalls {
		if _, dup := blockedSyscalls[nr]; dup {
			t.Errorf("syscall %d both emulated and blocked", nr)
		}
	}
	for _, nr := range passthroughSyscalls {
		if _, dup := emulatedSyscalls[nr]; dup {
			t.Errorf("syscall %d both pass-through and emulated", nr)
		}
		if _, dup := blockedSyscalls[nr]; dup {
			t.Errorf("syscall %d both pass-through and blocked", nr)
		}
	}
}
