package sandbox

import (
	"fmt"

	"github.com/bvisor/bvisor/internal/proctable"
	"github.com/bvisor/bvisor/internal/seccomp"
	"golang.org/x/sys/unix"
)

// parseCall builds the argument struct for an emulated syscall, reading every
// pointer argument through the memory bridge. Pointers that stay pointers
// (output buffers, iovec bases) are carried as guest addresses.
func (s *Supervisor) parseCall(n *seccomp.Notif, p *proctable.Process) (call, error) {
	a := n.Data.Args
	pid := p.Pid

	switch int(n.Data.NR) {
	case unix.SYS_OPENAT:
		path, err := s.mem.ReadCString(pid, a[1], pathMax)
		if err != nil {
			return nil, err
		}
		return &openatCall{dirfd: int32(a[0]), path: path, flags: int(int32(a[2])), mode: uint32(a[3])}, nil

	case unix.SYS_CLOSE:
		return &closeCall{vfd: vfdArg(a[0])}, nil

	case unix.SYS_READ:
		return &readCall{vfd: vfdArg(a[0]), buf: a[1], count: a[2]}, nil

	case unix.SYS_WRITE:
		return &writeCall{vfd: vfdArg(a[0]), buf: a[1], count: a[2]}, nil

	case unix.SYS_PREAD64:
		return &readCall{vfd: vfdArg(a[0]), buf: a[1], count: a[2], offset: int64(a[3]), positioned: true}, nil

	case unix.SYS_PWRITE64:
		return &writeCall{vfd: vfdArg(a[0]), buf: a[1], count: a[2], offset: int64(a[3]), positioned: true}, nil

	case unix.SYS_READV:
		iovs, err := readIovecs(s.mem, pid, a[1], int(int32(a[2])))
		if err != nil {
			return nil, err
		}
		return &readvCall{vfd: vfdArg(a[0]), iovs: iovs}, nil

	case unix.SYS_WRITEV:
		iovs, err := readIovecs(s.mem, pid, a[1], int(int32(a[2])))
		if err != nil {
			return nil, err
		}
		return &writevCall{vfd: vfdArg(a[0]), iovs: iovs}, nil

	case unix.SYS_LSEEK:
		return &lseekCall{vfd: vfdArg(a[0]), offset: int64(a[1]), whence: int(int32(a[2]))}, nil

	case unix.SYS_DUP:
		return &dupCall{vfd: vfdArg(a[0])}, nil

	case unix.SYS_DUP3:
		return &dup3Call{old: vfdArg(a[0]), new: vfdArg(a[1]), flags: int(int32(a[2]))}, nil

	case unix.SYS_FCNTL:
		return &fcntlCall{vfd: vfdArg(a[0]), cmd: int(int32(a[1])), arg: a[2]}, nil

	case unix.SYS_IOCTL:
		return &ioctlCall{vfd: vfdArg(a[0]), req: a[1]}, nil

	case unix.SYS_FSTAT:
		return &fstatCall{vfd: vfdArg(a[0]), statBuf: a[1]}, nil

	case sysFstatat:
		path, err := s.mem.ReadCString(pid, a[1], pathMax)
		if err != nil {
			return nil, err
		}
		return &fstatatCall{dirfd: int32(a[0]), path: path, statBuf: a[2], flags: int(int32(a[3]))}, nil

	case unix.SYS_STATX:
		path, err := s.mem.ReadCString(pid, a[1], pathMax)
		if err != nil {
			return nil, err
		}
		return &statxCall{dirfd: int32(a[0]), path: path, flags: int(int32(a[2])), mask: uint32(a[3]), statBuf: a[4]}, nil

	case unix.SYS_GETDENTS64:
		return &getdentsCall{vfd: vfdArg(a[0]), dirp: a[1], count: a[2]}, nil

	case unix.SYS_MKDIRAT:
		path, err := s.mem.ReadCString(pid, a[1], pathMax)
		if err != nil {
			return nil, err
		}
		return &mkdiratCall{dirfd: int32(a[0]), path: path, mode: uint32(a[2])}, nil

	case unix.SYS_UNLINKAT:
		path, err := s.mem.ReadCString(pid, a[1], pathMax)
		if err != nil {
			return nil, err
		}
		return &unlinkatCall{dirfd: int32(a[0]), path: path, flags: int(int32(a[2]))}, nil

	case unix.SYS_SYMLINKAT:
		target, err := s.mem.ReadCString(pid, a[0], pathMax)
		if err != nil {
			return nil, err
		}
		linkpath, err := s.mem.ReadCString(pid, a[2], pathMax)
		if err != nil {
			return nil, err
		}
		return &symlinkatCall{target: target, dirfd: int32(a[1]), linkpath: linkpath}, nil

	case unix.SYS_READLINKAT:
		path, err := s.mem.ReadCString(pid, a[1], pathMax)
		if err != nil {
			return nil, err
		}
		return &readlinkatCall{dirfd: int32(a[0]), path: path, buf: a[2], bufsiz: a[3]}, nil

	case unix.SYS_FACCESSAT:
		path, err := s.mem.ReadCString(pid, a[1], pathMax)
		if err != nil {
			return nil, err
		}
		return &faccessatCall{dirfd: int32(a[0]), path: path, mode: uint32(a[2])}, nil

	case unix.SYS_GETCWD:
		return &getcwdCall{buf: a[0], size: a[1]}, nil

	case unix.SYS_GETPID:
		return &getpidCall{}, nil

	case unix.SYS_GETTID:
		return &gettidCall{}, nil

	case unix.SYS_GETPPID:
		return &getppidCall{}, nil

	case unix.SYS_KILL:
		return &killCall{target: int64(a[0]), sig: unix.Signal(a[1])}, nil

	case unix.SYS_TKILL:
		return &killCall{target: int64(a[0]), sig: unix.Signal(a[1]), thread: true}, nil

	case unix.SYS_EXIT:
		return &exitCall{code: int(int32(a[0]))}, nil

	case unix.SYS_EXIT_GROUP:
		return &exitCall{code: int(int32(a[0])), group: true}, nil

	case unix.SYS_CLONE:
		return &cloneCall{flags: a[0]}, nil
	}

	return nil, fmt.Errorf("no parser for emulated syscall %d: %w", n.Data.NR, unix.ENOSYS)
}
