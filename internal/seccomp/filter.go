package seccomp

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/bvisor/bvisor/internal/syserr"
	"golang.org/x/sys/unix"
)

// Audit architecture tokens (from <linux/audit.h>).
const (
	auditArchX86_64  = 0xc000003e
	auditArchAarch64 = 0xc00000b7
)

// BPF opcode fields (from <linux/bpf_common.h>).
const (
	bpfLD  = 0x00
	bpfJMP = 0x05
	bpfRET = 0x06
	bpfW   = 0x00
	bpfABS = 0x20
	bpfJEQ = 0x10
	bpfK   = 0x00
)

// Seccomp return actions.
const (
	seccompRetUserNotif   = 0x7fc00000
	seccompRetKillProcess = 0x80000000
)

// Offsets into struct seccomp_data for the classic-BPF loads.
const (
	seccompDataOffNR   = 0
	seccompDataOffArch = 4
)

// sockFilter mirrors struct sock_filter.
type sockFilter struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

// sockFprog mirrors struct sock_fprog.
type sockFprog struct {
	Len    uint16
	_      [6]byte
	Filter *sockFilter
}

func bpfStmt(code uint16, k uint32) sockFilter {
	return sockFilter{Code: code, K: k}
}

func bpfJump(code uint16, k uint32, jt, jf uint8) sockFilter {
	return sockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}

// nativeAuditArch returns the audit token the filter accepts; syscalls made
// through a foreign ABI kill the guest outright.
func nativeAuditArch() (uint32, error) {
	switch runtime.GOARCH {
	case "amd64":
		return auditArchX86_64, nil
	case "arm64":
		return auditArchAarch64, nil
	}
	return 0, fmt.Errorf("unsupported architecture %s", runtime.GOARCH)
}

// trapAllProgram builds the filter: verify the audit arch, then route every
// syscall to the supervisor via user notification.
func trapAllProgram() ([]sockFilter, error) {
	arch, err := nativeAuditArch()
	if err != nil {
		return nil, err
	}
	return []sockFilter{
		bpfStmt(bpfLD|bpfW|bpfABS, seccompDataOffArch),
		bpfJump(bpfJMP|bpfJEQ|bpfK, arch, 1, 0),
		bpfStmt(bpfRET|bpfK, seccompRetKillProcess),
		bpfStmt(bpfRET|bpfK, seccompRetUserNotif),
	}, nil
}

// InstallFilter sets no-new-privileges on the calling thread and installs the
// trap-all filter, returning the kernel's listener fd. The caller must have
// locked its OS thread: the filter binds to the installing thread until exec.
func InstallFilter() (int, error) {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return -1, fmt.Errorf("set no_new_privs: %w: %w", err, syserr.ErrFilterInstallFailed)
	}

	prog, err := trapAllProgram()
	if err != nil {
		return -1, fmt.Errorf("%w: %w", err, syserr.ErrFilterInstallFailed)
	}
	fprog := sockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	}

	fd, _, errno := unix.Syscall(unix.SYS_SECCOMP,
		unix.SECCOMP_SET_MODE_FILTER,
		unix.SECCOMP_FILTER_FLAG_NEW_LISTENER,
		uintptr(unsafe.Pointer(&fprog)))
	if errno != 0 {
		return -1, fmt.Errorf("seccomp(SET_MODE_FILTER): %w: %w", errno, syserr.ErrFilterInstallFailed)
	}
	return int(fd), nil
}
