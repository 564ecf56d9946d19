package sandbox

import (
	"fmt"

	"github.com/bvisor/bvisor/internal/procinfo"
	"github.com/bvisor/bvisor/internal/proctable"
	"github.com/bvisor/bvisor/internal/seccomp"
	"github.com/bvisor/bvisor/internal/syserr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// action is one bucket of the compile-time admission table.
type action int

const (
	// actEmulate routes the syscall to a handler.
	actEmulate action = iota
	// actContinue tells the kernel to run the syscall natively.
	actContinue
	// actBlockPerm rejects with EPERM: syscalls that could escape the
	// sandbox.
	actBlockPerm
	// actBlockNosys rejects with ENOSYS: everything unrecognized.
	actBlockNosys
)

// result is a handler's terminal outcome for one notification.
type result struct {
	val   int64
	errno unix.Errno
	cont  bool
}

func ok(val int64) result { return result{val: val} }

func fail(err error) result { return result{errno: syserr.ToErrno(err)} }

func failErrno(errno unix.Errno) result { return result{errno: errno} }

var contResult = result{cont: true}

// call is one parsed, emulated syscall: parse built it (reading any pointer
// arguments through the memory bridge), handle performs the effect.
type call interface {
	name() string
	handle(s *Supervisor, p *proctable.Process) result
}

// emulatedSyscalls maps each emulated number to its name; membership routes
// the notification to parseCall.
var emulatedSyscalls = map[int]string{
	unix.SYS_OPENAT:     "openat",
	unix.SYS_CLOSE:      "close",
	unix.SYS_READ:       "read",
	unix.SYS_WRITE:      "write",
	unix.SYS_READV:      "readv",
	unix.SYS_WRITEV:     "writev",
	unix.SYS_PREAD64:    "pread64",
	unix.SYS_PWRITE64:   "pwrite64",
	unix.SYS_LSEEK:      "lseek",
	unix.SYS_DUP:        "dup",
	unix.SYS_DUP3:       "dup3",
	unix.SYS_FCNTL:      "fcntl",
	unix.SYS_IOCTL:      "ioctl",
	unix.SYS_FSTAT:      "fstat",
	sysFstatat:          "fstatat",
	unix.SYS_STATX:      "statx",
	unix.SYS_GETDENTS64: "getdents64",
	unix.SYS_MKDIRAT:    "mkdirat",
	unix.SYS_UNLINKAT:   "unlinkat",
	unix.SYS_SYMLINKAT:  "symlinkat",
	unix.SYS_READLINKAT: "readlinkat",
	unix.SYS_FACCESSAT:  "faccessat",
	unix.SYS_GETCWD:     "getcwd",
	unix.SYS_GETPID:     "getpid",
	unix.SYS_GETTID:     "gettid",
	unix.SYS_GETPPID:    "getppid",
	unix.SYS_KILL:       "kill",
	unix.SYS_TKILL:      "tkill",
	unix.SYS_EXIT:       "exit",
	unix.SYS_EXIT_GROUP: "exit_group",
	unix.SYS_CLONE:      "clone",
}

// passthroughSyscalls are safe, stateless numbers the kernel runs natively:
// memory management, signals, time, futexes, randomness, uid reads, and the
// minimum a process needs to reach main().
var passthroughSyscalls = []int{
	// Memory management
	unix.SYS_BRK,
	unix.SYS_MMAP,
	unix.SYS_MPROTECT,
	unix.SYS_MUNMAP,
	unix.SYS_MREMAP,
	unix.SYS_MADVISE,
	// Signals
	unix.SYS_RT_SIGACTION,
	unix.SYS_RT_SIGPROCMASK,
	unix.SYS_RT_SIGRETURN,
	unix.SYS_SIGALTSTACK,
	unix.SYS_RT_SIGSUSPEND,
	unix.SYS_RT_SIGPENDING,
	unix.SYS_RT_SIGTIMEDWAIT,
	unix.SYS_RESTART_SYSCALL,
	// Time
	unix.SYS_CLOCK_GETTIME,
	unix.SYS_CLOCK_GETRES,
	unix.SYS_GETTIMEOFDAY,
	unix.SYS_NANOSLEEP,
	unix.SYS_CLOCK_NANOSLEEP,
	// Synchronization
	unix.SYS_FUTEX,
	unix.SYS_SET_ROBUST_LIST,
	unix.SYS_RSEQ,
	// Identity reads
	unix.SYS_GETUID,
	unix.SYS_GETEUID,
	unix.SYS_GETGID,
	unix.SYS_GETEGID,
	// Randomness
	unix.SYS_GETRANDOM,
	// Process bootstrap: without these no guest reaches main()
	unix.SYS_EXECVE,
	unix.SYS_EXECVEAT,
	unix.SYS_PRCTL,
	unix.SYS_SET_TID_ADDRESS,
	unix.SYS_SCHED_GETAFFINITY,
	unix.SYS_SCHED_YIELD,
	unix.SYS_UNAME,
	// Plumbing the guest gets natively per policy
	unix.SYS_PIPE2,
	unix.SYS_WAIT4,
}

// blockedSyscalls could escape the sandbox; each replies EPERM.
var blockedSyscalls = map[int]string{
	unix.SYS_PTRACE:            "ptrace",
	unix.SYS_MOUNT:             "mount",
	unix.SYS_UMOUNT2:           "umount2",
	unix.SYS_CHROOT:            "chroot",
	unix.SYS_PIVOT_ROOT:        "pivot_root",
	unix.SYS_REBOOT:            "reboot",
	unix.SYS_SETNS:             "setns",
	unix.SYS_UNSHARE:           "unshare",
	unix.SYS_SECCOMP:           "seccomp",
	unix.SYS_BPF:               "bpf",
	unix.SYS_PROCESS_VM_READV:  "process_vm_readv",
	unix.SYS_PROCESS_VM_WRITEV: "process_vm_writev",
	unix.SYS_KEXEC_LOAD:        "kexec_load",
	unix.SYS_KEXEC_FILE_LOAD:   "kexec_file_load",
	unix.SYS_INIT_MODULE:       "init_module",
	unix.SYS_FINIT_MODULE:      "finit_module",
	unix.SYS_DELETE_MODULE:     "delete_module",
	unix.SYS_SETRLIMIT:         "setrlimit",
	unix.SYS_PRLIMIT64:         "prlimit64",
	unix.SYS_PERSONALITY:       "personality",
}

var syscallActions = buildActions()

func buildActions() map[int]action {
	m := make(map[int]action)
	for nr := range emulatedSyscalls {
		m[nr] = actEmulate
	}
	for _, nr := range passthroughSyscalls {
		m[nr] = actContinue
	}
	for _, nr := range archPassthrough {
		m[nr] = actContinue
	}
	for nr := range blockedSyscalls {
		m[nr] = actBlockPerm
	}
	return m
}

// syscallName names nr for logging.
func syscallName(nr int) string {
	if name, ok := emulatedSyscalls[nr]; ok {
		return name
	}
	if name, ok := blockedSyscalls[nr]; ok {
		return name
	}
	return fmt.Sprintf("sys_%d", nr)
}

// dispatch computes the terminal outcome for one notification: admission
// bucket first, then parse and handler for the emulated set. Unknown numbers
// default to blocked with ENOSYS.
func (s *Supervisor) dispatch(n *seccomp.Notif) result {
	nr := int(n.Data.NR)
	act, known := syscallActions[nr]
	if !known {
		act = actBlockNosys
	}

	switch act {
	case actContinue:
		return contResult
	case actBlockPerm:
		return failErrno(unix.EPERM)
	case actBlockNosys:
		return failErrno(unix.ENOSYS)
	}

	p, err := s.procs.Ensure(procinfo.AbsPid(n.Pid))
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"syscall": syscallName(nr),
			"pid":     n.Pid,
		}).WithError(err).Warn("cannot register caller")
		return fail(err)
	}

	c, err := s.parseCall(n, p)
	if err != nil {
		// Argument reads fault through to the guest as EFAULT unless the
		// parse produced a more specific policy error.
		return fail(err)
	}
	return c.handle(s, p)
}
