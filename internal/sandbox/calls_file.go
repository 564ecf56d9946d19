package sandbox

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/bvisor/bvisor/internal/fdtable"
	"github.com/bvisor/bvisor/internal/proctable"
	"github.com/bvisor/bvisor/internal/syserr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func vfdArg(a uint64) fdtable.VirtualFd {
	return fdtable.VirtualFd(int32(a))
}

// lookupFd resolves vfd in the caller's table. A terminal result is returned
// for the two special cases: unshadowed stdio passes through natively, and
// unknown fds answer EBADF.
func (s *Supervisor) lookupFd(p *proctable.Process, vfd fdtable.VirtualFd) (*fdtable.Backend, *result) {
	if p.Fds != nil {
		if b, ok := p.Fds.Get(vfd); ok {
			return b, nil
		}
	}
	if vfd >= 0 && vfd <= 2 {
		r := contResult
		return nil, &r
	}
	r := failErrno(unix.EBADF)
	return nil, &r
}

// resolveAt turns a (dirfd, path) pair into a normalized absolute guest path.
// Relative paths resolve against the caller's cwd for AT_FDCWD, or against
// the directory backend's own path otherwise.
func (s *Supervisor) resolveAt(p *proctable.Process, dirfd int32, path string) (string, error) {
	base := p.Cwd
	if !strings.HasPrefix(path, "/") && dirfd != unix.AT_FDCWD {
		b, ok := p.Fds.Get(fdtable.VirtualFd(dirfd))
		if !ok {
			return "", fmt.Errorf("dirfd %d: %w", dirfd, syserr.ErrBadFd)
		}
		if !b.IsDir() {
			return "", unix.ENOTDIR
		}
		base = b.Path
	}
	return NormalizePath(base, path)
}

// openat

type openatCall struct {
	dirfd int32
	path  string
	flags int
	mode  uint32
}

func (c *openatCall) name() string { return "openat" }

func (c *openatCall) handle(s *Supervisor, p *proctable.Process) result {
	norm, err := s.resolveAt(p, c.dirfd, c.path)
	if err != nil {
		return fail(err)
	}
	if err := s.policy.CheckOpen(norm, c.flags); err != nil {
		return fail(err)
	}

	var b *fdtable.Backend
	switch {
	case norm == "/proc" || strings.HasPrefix(norm, "/proc/"):
		b, err = s.openProc(p, norm, c.flags)
	case norm == "/tmp" || strings.HasPrefix(norm, "/tmp/"):
		b, err = s.openTmp(norm, c.flags, c.mode)
	case strings.HasPrefix(norm, "/dev/"):
		b, err = s.openDevice(norm, c.flags)
	default:
		b, err = s.openCow(norm, c.flags, c.mode)
	}
	if err != nil {
		return fail(err)
	}

	if b.HostFD() >= 0 {
		var st unix.Stat_t
		if err := unix.Fstat(b.HostFD(), &st); err == nil && st.Mode&unix.S_IFMT == unix.S_IFDIR {
			if wantsWrite(c.flags) {
				b.Close()
				return fail(syserr.ErrIsDirectory)
			}
			b.MarkDir()
		}
	}
	b.SetCloexec(c.flags&unix.O_CLOEXEC != 0)

	vfd := p.Fds.Insert(b)
	s.log.WithFields(logrus.Fields{
		"pid":  p.Pid,
		"path": norm,
		"kind": b.Kind.String(),
		"vfd":  vfd,
	}).Debug("opened")
	return ok(int64(vfd))
}

// hostOpenFlags keeps the guest's flags but pins close-on-exec so supervisor
// copies of guest files never leak into spawned processes.
func hostOpenFlags(flags int) int {
	return flags | unix.O_CLOEXEC
}

func (s *Supervisor) openTmp(path string, flags int, mode uint32) (*fdtable.Backend, error) {
	fd, err := s.overlay.OpenTmp(path, hostOpenFlags(flags), mode)
	if err != nil {
		return nil, err
	}
	return fdtable.NewHostBackend(fdtable.Tmp, path, fd, flags), nil
}

func (s *Supervisor) openCow(path string, flags int, mode uint32) (*fdtable.Backend, error) {
	fd, writeCopy, err := s.overlay.OpenCow(path, hostOpenFlags(flags), mode)
	if err != nil {
		return nil, err
	}
	kind := fdtable.CowRead
	if writeCopy {
		kind = fdtable.CowWrite
	}
	return fdtable.NewHostBackend(kind, path, fd, flags), nil
}

func (s *Supervisor) openDevice(path string, flags int) (*fdtable.Backend, error) {
	// Policy already restricted /dev to the emulatable trio.
	fd, err := unix.Open(path, hostOpenFlags(flags), 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return fdtable.NewHostBackend(fdtable.Passthrough, path, fd, flags), nil
}

// close

type closeCall struct {
	vfd fdtable.VirtualFd
}

func (c *closeCall) name() string { return "close" }

func (c *closeCall) handle(s *Supervisor, p *proctable.Process) result {
	if p.Fds != nil && p.Fds.Remove(c.vfd) {
		return ok(0)
	}
	if c.vfd >= 0 && c.vfd <= 2 {
		// Unshadowed stdio closes natively.
		return contResult
	}
	return failErrno(unix.EBADF)
}

// read / pread64

type readCall struct {
	vfd        fdtable.VirtualFd
	buf        uint64
	count      uint64
	offset     int64
	positioned bool
}

func (c *readCall) name() string {
	if c.positioned {
		return "pread64"
	}
	return "read"
}

func (c *readCall) handle(s *Supervisor, p *proctable.Process) result {
	b, terminal := s.lookupFd(p, c.vfd)
	if terminal != nil {
		return *terminal
	}

	// Per-call copy ceiling: larger requests return the truncated count and
	// the guest reissues the remainder.
	n := c.count
	if n > copyBufMax {
		n = copyBufMax
	}
	data := make([]byte, n)

	var rn int
	var err error
	if c.positioned {
		rn, err = b.Pread(data, c.offset)
	} else {
		rn, err = b.Read(data)
	}
	if err != nil {
		return fail(err)
	}
	if rn > 0 {
		if err := s.mem.WriteAt(p.Pid, c.buf, data[:rn]); err != nil {
			return fail(err)
		}
	}
	return ok(int64(rn))
}

// write / pwrite64

type writeCall struct {
	vfd        fdtable.VirtualFd
	buf        uint64
	count      uint64
	offset     int64
	positioned bool
}

func (c *writeCall) name() string {
	if c.positioned {
		return "pwrite64"
	}
	return "write"
}

func (c *writeCall) handle(s *Supervisor, p *proctable.Process) result {
	b, terminal := s.lookupFd(p, c.vfd)
	if terminal != nil {
		return *terminal
	}

	n := c.count
	if n > copyBufMax {
		n = copyBufMax
	}
	data := make([]byte, n)
	if n > 0 {
		if err := s.mem.ReadAt(p.Pid, c.buf, data); err != nil {
			return fail(err)
		}
	}

	if b.Kind == fdtable.CowRead && b.Writable() {
		if err := s.upgradeCow(b); err != nil {
			return fail(err)
		}
	}

	var wn int
	var err error
	if c.positioned {
		wn, err = b.Pwrite(data, c.offset)
	} else {
		wn, err = b.Write(data)
	}
	if err != nil {
		return fail(err)
	}
	return ok(int64(wn))
}

// upgradeCow copies the host original into the overlay and swaps the backend
// onto the copy before the first write lands.
func (s *Supervisor) upgradeCow(b *fdtable.Backend) error {
	if err := s.overlay.CopyUp(b.Path); err != nil {
		return err
	}
	fd, err := unix.Open(s.overlay.ResolveCow(b.Path), hostOpenFlags(unix.O_RDWR), 0)
	if err != nil {
		return fmt.Errorf("reopen overlay copy of %s: %w", b.Path, err)
	}
	if err := b.SwapHost(fdtable.CowWrite, fd); err != nil {
		return err
	}
	s.log.WithField("path", b.Path).Debug("upgraded read-through backend")
	return nil
}

// readv / writev

type readvCall struct {
	vfd  fdtable.VirtualFd
	iovs []guestIovec
}

func (c *readvCall) name() string { return "readv" }

func (c *readvCall) handle(s *Supervisor, p *proctable.Process) result {
	b, terminal := s.lookupFd(p, c.vfd)
	if terminal != nil {
		return *terminal
	}

	var total int64
	budget := int64(copyBufMax)
	for _, iov := range c.iovs {
		if budget == 0 || iov.Len == 0 {
			break
		}
		n := int64(iov.Len)
		if n > budget {
			n = budget
		}
		data := make([]byte, n)
		rn, err := b.Read(data)
		if err != nil {
			if total > 0 {
				break
			}
			return fail(err)
		}
		if rn == 0 {
			break
		}
		if err := s.mem.WriteAt(p.Pid, iov.Base, data[:rn]); err != nil {
			return fail(err)
		}
		total += int64(rn)
		budget -= int64(rn)
		if int64(rn) < n {
			break
		}
	}
	return ok(total)
}

type writevCall struct {
	vfd  fdtable.VirtualFd
	iovs []guestIovec
}

func (c *writevCall) name() string { return "writev" }

func (c *writevCall) handle(s *Supervisor, p *proctable.Process) result {
	b, terminal := s.lookupFd(p, c.vfd)
	if terminal != nil {
		return *terminal
	}

	if b.Kind == fdtable.CowRead && b.Writable() {
		if err := s.upgradeCow(b); err != nil {
			return fail(err)
		}
	}

	var total int64
	budget := int64(copyBufMax)
	for _, iov := range c.iovs {
		if budget == 0 || iov.Len == 0 {
			continue
		}
		n := int64(iov.Len)
		if n > budget {
			n = budget
		}
		data := make([]byte, n)
		if err := s.mem.ReadAt(p.Pid, iov.Base, data); err != nil {
			return fail(err)
		}
		wn, err := b.Write(data)
		if err != nil {
			if total > 0 {
				break
			}
			return fail(err)
		}
		total += int64(wn)
		budget -= int64(wn)
		if int64(wn) < n {
			break
		}
	}
	return ok(total)
}

// lseek

type lseekCall struct {
	vfd    fdtable.VirtualFd
	offset int64
	whence int
}

func (c *lseekCall) name() string { return "lseek" }

func (c *lseekCall) handle(s *Supervisor, p *proctable.Process) result {
	b, terminal := s.lookupFd(p, c.vfd)
	if terminal != nil {
		return *terminal
	}
	pos, err := b.Seek(c.offset, c.whence)
	if err != nil {
		return fail(err)
	}
	return ok(pos)
}

// dup / dup3

type dupCall struct {
	vfd fdtable.VirtualFd
}

func (c *dupCall) name() string { return "dup" }

func (c *dupCall) handle(s *Supervisor, p *proctable.Process) result {
	b, terminal := s.lookupFd(p, c.vfd)
	if terminal != nil {
		return *terminal
	}
	dup, err := b.Dup()
	if err != nil {
		return fail(err)
	}
	return ok(int64(p.Fds.Insert(dup)))
}

type dup3Call struct {
	old   fdtable.VirtualFd
	new   fdtable.VirtualFd
	flags int
}

func (c *dup3Call) name() string { return "dup3" }

func (c *dup3Call) handle(s *Supervisor, p *proctable.Process) result {
	if c.old == c.new {
		return failErrno(unix.EINVAL)
	}
	if c.flags&^unix.O_CLOEXEC != 0 {
		return failErrno(unix.EINVAL)
	}
	b, terminal := s.lookupFd(p, c.old)
	if terminal != nil {
		return *terminal
	}
	dup, err := b.Dup()
	if err != nil {
		return fail(err)
	}
	dup.SetCloexec(c.flags&unix.O_CLOEXEC != 0)
	p.Fds.InsertAt(c.new, dup)
	return ok(int64(c.new))
}

// fcntl (subset: DUPFD, GETFD, SETFD, GETFL, SETFL)

type fcntlCall struct {
	vfd fdtable.VirtualFd
	cmd int
	arg uint64
}

func (c *fcntlCall) name() string { return "fcntl" }

func (c *fcntlCall) handle(s *Supervisor, p *proctable.Process) result {
	b, terminal := s.lookupFd(p, c.vfd)
	if terminal != nil {
		return *terminal
	}

	switch c.cmd {
	case unix.F_DUPFD, unix.F_DUPFD_CLOEXEC:
		dup, err := b.Dup()
		if err != nil {
			return fail(err)
		}
		dup.SetCloexec(c.cmd == unix.F_DUPFD_CLOEXEC)
		min := fdtable.VirtualFd(int32(c.arg))
		if min < fdtable.FirstVfd {
			min = fdtable.FirstVfd
		}
		vfd := p.Fds.Insert(dup)
		if vfd < min {
			// The table only grows, so reseat the entry at the floor.
			p.Fds.Remove(vfd)
			dup2, err := b.Dup()
			if err != nil {
				return fail(err)
			}
			p.Fds.InsertAt(min, dup2)
			vfd = min
		}
		return ok(int64(vfd))

	case unix.F_GETFD:
		if b.Cloexec() {
			return ok(unix.FD_CLOEXEC)
		}
		return ok(0)

	case unix.F_SETFD:
		b.SetCloexec(c.arg&unix.FD_CLOEXEC != 0)
		return ok(0)

	case unix.F_GETFL:
		return ok(int64(b.Flags()))

	case unix.F_SETFL:
		const mutable = unix.O_APPEND | unix.O_NONBLOCK
		newFlags := b.Flags()&^mutable | int(c.arg)&mutable
		if b.HostFD() >= 0 {
			if _, err := unix.FcntlInt(uintptr(b.HostFD()), unix.F_SETFL, newFlags&mutable); err != nil {
				return fail(fmt.Errorf("setfl %s: %w", b.Path, err))
			}
		}
		b.SetFlags(newFlags)
		return ok(0)
	}
	return failErrno(unix.EINVAL)
}

// ioctl

type ioctlCall struct {
	vfd fdtable.VirtualFd
	req uint64
}

func (c *ioctlCall) name() string { return "ioctl" }

func (c *ioctlCall) handle(s *Supervisor, p *proctable.Process) result {
	_, terminal := s.lookupFd(p, c.vfd)
	if terminal != nil {
		// Terminal ioctls on real stdio run natively.
		return *terminal
	}
	// Virtual files have no device behind them.
	return failErrno(unix.ENOTTY)
}

// fstat family

type fstatCall struct {
	vfd     fdtable.VirtualFd
	statBuf uint64
}

func (c *fstatCall) name() string { return "fstat" }

func (c *fstatCall) handle(s *Supervisor, p *proctable.Process) result {
	b, terminal := s.lookupFd(p, c.vfd)
	if terminal != nil {
		return *terminal
	}
	var st unix.Stat_t
	if err := b.Stat(&st); err != nil {
		return fail(err)
	}
	if err := s.mem.WriteAt(p.Pid, c.statBuf, statBytes(&st)); err != nil {
		return fail(err)
	}
	return ok(0)
}

type fstatatCall struct {
	dirfd   int32
	path    string
	statBuf uint64
	flags   int
}

func (c *fstatatCall) name() string { return "fstatat" }

func (c *fstatatCall) handle(s *Supervisor, p *proctable.Process) result {
	if c.flags&unix.AT_EMPTY_PATH != 0 && c.path == "" {
		fc := fstatCall{vfd: fdtable.VirtualFd(c.dirfd), statBuf: c.statBuf}
		return fc.handle(s, p)
	}

	norm, err := s.resolveAt(p, c.dirfd, c.path)
	if err != nil {
		return fail(err)
	}
	if s.policy.denied(norm) {
		return fail(syserr.ErrPathDenied)
	}

	var st unix.Stat_t
	if norm == "/proc" || strings.HasPrefix(norm, "/proc/") {
		r, perr := s.procContent(p, norm)
		if perr != nil {
			return fail(perr)
		}
		if r.content != nil {
			st = unix.Stat_t{Mode: unix.S_IFREG | 0444, Size: int64(len(r.content)), Nlink: 1, Blksize: 1024}
		} else if err := unix.Stat(r.hostPath, &st); err != nil {
			return fail(fmt.Errorf("stat %s: %w", norm, err))
		}
	} else if err := s.overlay.Stat(norm, &st); err != nil {
		return fail(err)
	}
	if err := s.mem.WriteAt(p.Pid, c.statBuf, statBytes(&st)); err != nil {
		return fail(err)
	}
	return ok(0)
}

type statxCall struct {
	dirfd   int32
	path    string
	flags   int
	mask    uint32
	statBuf uint64
}

func (c *statxCall) name() string { return "statx" }

func (c *statxCall) handle(s *Supervisor, p *proctable.Process) result {
	norm, err := s.resolveAt(p, c.dirfd, c.path)
	if err != nil {
		return fail(err)
	}
	if s.policy.denied(norm) {
		return fail(syserr.ErrPathDenied)
	}

	var stx unix.Statx_t
	if norm == "/proc" || strings.HasPrefix(norm, "/proc/") {
		r, perr := s.procContent(p, norm)
		if perr != nil {
			return fail(perr)
		}
		if r.content != nil {
			stx.Mask = unix.STATX_TYPE | unix.STATX_MODE | unix.STATX_SIZE
			stx.Mode = unix.S_IFREG | 0444
			stx.Size = uint64(len(r.content))
		} else if err := unix.Statx(unix.AT_FDCWD, r.hostPath, c.flags&^unix.AT_EMPTY_PATH, int(c.mask), &stx); err != nil {
			return fail(fmt.Errorf("statx %s: %w", norm, err))
		}
	} else {
		target, rerr := s.overlay.ResolveExisting(norm)
		if rerr != nil {
			return fail(rerr)
		}
		if err := unix.Statx(unix.AT_FDCWD, target, c.flags&^unix.AT_EMPTY_PATH, int(c.mask), &stx); err != nil {
			return fail(fmt.Errorf("statx %s: %w", norm, err))
		}
	}
	if err := s.mem.WriteAt(p.Pid, c.statBuf, statxBytes(&stx)); err != nil {
		return fail(err)
	}
	return ok(0)
}

// getdents64

type getdentsCall struct {
	vfd   fdtable.VirtualFd
	dirp  uint64
	count uint64
}

func (c *getdentsCall) name() string { return "getdents64" }

func (c *getdentsCall) handle(s *Supervisor, p *proctable.Process) result {
	b, terminal := s.lookupFd(p, c.vfd)
	if terminal != nil {
		return *terminal
	}
	if !b.IsDir() {
		return failErrno(unix.ENOTDIR)
	}

	entries, err := s.mergedEntries(b.Path)
	if err != nil {
		return fail(err)
	}

	bufSize := c.count
	if bufSize > copyBufMax {
		bufSize = copyBufMax
	}
	buf := make([]byte, bufSize)

	written := 0
	cursor := b.DirCursor()
	for cursor < len(entries) {
		e := entries[cursor]
		// The fabricated offset is the resume cursor for the next call.
		n, fits := encodeDirent(buf[written:], uint64(cursor+1), int64(cursor+1), e.dtype, e.name)
		if !fits {
			if written == 0 {
				return failErrno(unix.EINVAL)
			}
			break
		}
		written += n
		cursor++
	}
	b.SetDirCursor(cursor)

	if written > 0 {
		if err := s.mem.WriteAt(p.Pid, c.dirp, buf[:written]); err != nil {
			return fail(err)
		}
	}
	return ok(int64(written))
}

type direntEntry struct {
	name  string
	dtype uint8
}

// mergedEntries lists a guest directory: overlay entries shadow host ones,
// names come back sorted so the fabricated offsets are stable across calls.
func (s *Supervisor) mergedEntries(path string) ([]direntEntry, error) {
	if path == "/proc" {
		// Only the sandbox's own processes exist, under their namespace pids.
		var names []string
		for _, pid := range s.procs.Pids() {
			if ns, err := s.procs.TranslateAbsToNs(pid); err == nil {
				names = append(names, strconv.Itoa(int(ns)))
			}
		}
		sort.Strings(names)
		names = append(names, "self")
		out := make([]direntEntry, len(names))
		for i, name := range names {
			out[i] = direntEntry{name: name, dtype: unix.DT_DIR}
		}
		return out, nil
	}

	seen := make(map[string]uint8)

	overlayEntries, err := s.overlay.ListDir(path)
	if err != nil {
		return nil, err
	}
	for _, e := range overlayEntries {
		seen[e.Name()] = direntType(e)
	}

	// Guest /tmp is private; the host's /tmp never shows through.
	if !(path == "/tmp" || strings.HasPrefix(path, "/tmp/")) {
		if hostEntries, err := os.ReadDir(path); err == nil {
			for _, e := range hostEntries {
				if _, shadowed := seen[e.Name()]; !shadowed {
					seen[e.Name()] = direntType(e)
				}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]direntEntry, len(names))
	for i, name := range names {
		out[i] = direntEntry{name: name, dtype: seen[name]}
	}
	return out, nil
}

func direntType(e os.DirEntry) uint8 {
	switch {
	case e.IsDir():
		return unix.DT_DIR
	case e.Type()&os.ModeSymlink != 0:
		return unix.DT_LNK
	case e.Type()&os.ModeDevice != 0:
		return unix.DT_CHR
	case e.Type().IsRegular():
		return unix.DT_REG
	}
	return unix.DT_UNKNOWN
}

// mkdirat

type mkdiratCall struct {
	dirfd int32
	path  string
	mode  uint32
}

func (c *mkdiratCall) name() string { return "mkdirat" }

func (c *mkdiratCall) handle(s *Supervisor, p *proctable.Process) result {
	norm, err := s.resolveAt(p, c.dirfd, c.path)
	if err != nil {
		return fail(err)
	}
	if s.policy.denied(norm) || s.policy.readOnly(norm) {
		return fail(syserr.ErrPathDenied)
	}
	if strings.HasPrefix(norm, "/proc/") || strings.HasPrefix(norm, "/dev/") {
		return fail(syserr.ErrPathDenied)
	}
	if s.overlay.PathExists(norm) {
		return failErrno(unix.EEXIST)
	}
	if err := s.overlay.Mkdir(norm, c.mode); err != nil {
		return fail(err)
	}
	return ok(0)
}

// unlinkat

type unlinkatCall struct {
	dirfd int32
	path  string
	flags int
}

func (c *unlinkatCall) name() string { return "unlinkat" }

func (c *unlinkatCall) handle(s *Supervisor, p *proctable.Process) result {
	norm, err := s.resolveAt(p, c.dirfd, c.path)
	if err != nil {
		return fail(err)
	}
	if s.policy.denied(norm) || s.policy.readOnly(norm) {
		return fail(syserr.ErrPathDenied)
	}
	if c.flags&unix.AT_REMOVEDIR != 0 {
		err = s.overlay.Rmdir(norm)
	} else {
		err = s.overlay.Unlink(norm)
	}
	if err != nil {
		return fail(err)
	}
	return ok(0)
}

// symlinkat

type symlinkatCall struct {
	target   string
	dirfd    int32
	linkpath string
}

func (c *symlinkatCall) name() string { return "symlinkat" }

func (c *symlinkatCall) handle(s *Supervisor, p *proctable.Process) result {
	norm, err := s.resolveAt(p, c.dirfd, c.linkpath)
	if err != nil {
		return fail(err)
	}
	if s.policy.denied(norm) || s.policy.readOnly(norm) {
		return fail(syserr.ErrPathDenied)
	}
	if s.overlay.PathExists(norm) {
		return failErrno(unix.EEXIST)
	}
	if err := s.overlay.Symlink(c.target, norm); err != nil {
		return fail(err)
	}
	return ok(0)
}

// readlinkat

type readlinkatCall struct {
	dirfd  int32
	path   string
	buf    uint64
	bufsiz uint64
}

func (c *readlinkatCall) name() string { return "readlinkat" }

func (c *readlinkatCall) handle(s *Supervisor, p *proctable.Process) result {
	norm, err := s.resolveAt(p, c.dirfd, c.path)
	if err != nil {
		return fail(err)
	}
	if s.policy.denied(norm) {
		return fail(syserr.ErrPathDenied)
	}

	target, virtual := VirtualReadlinks[norm]
	if !virtual {
		target, err = s.overlay.Readlink(norm)
		if err != nil {
			return fail(err)
		}
	}

	// readlink truncates silently and returns the bytes placed, no NUL.
	out := []byte(target)
	if uint64(len(out)) > c.bufsiz {
		out = out[:c.bufsiz]
	}
	if len(out) > 0 {
		if err := s.mem.WriteAt(p.Pid, c.buf, out); err != nil {
			return fail(err)
		}
	}
	return ok(int64(len(out)))
}

// faccessat

type faccessatCall struct {
	dirfd int32
	path  string
	mode  uint32
}

func (c *faccessatCall) name() string { return "faccessat" }

func (c *faccessatCall) handle(s *Supervisor, p *proctable.Process) result {
	norm, err := s.resolveAt(p, c.dirfd, c.path)
	if err != nil {
		return fail(err)
	}
	if s.policy.denied(norm) {
		return fail(syserr.ErrPathDenied)
	}
	if c.mode&unix.W_OK != 0 && s.policy.readOnly(norm) {
		return fail(syserr.ErrPathDenied)
	}
	if norm == "/proc" || strings.HasPrefix(norm, "/proc/") {
		r, perr := s.procContent(p, norm)
		if perr != nil {
			return fail(perr)
		}
		if r.content == nil {
			if _, err := os.Stat(r.hostPath); err != nil {
				return fail(syserr.ErrPathNotFound)
			}
		}
		return ok(0)
	}
	if !s.overlay.PathExists(norm) {
		return fail(syserr.ErrPathNotFound)
	}
	return ok(0)
}

// getcwd

type getcwdCall struct {
	buf  uint64
	size uint64
}

func (c *getcwdCall) name() string { return "getcwd" }

func (c *getcwdCall) handle(s *Supervisor, p *proctable.Process) result {
	n, err := writeCString(s.mem, p.Pid, c.buf, c.size, p.Cwd)
	if err != nil {
		return fail(err)
	}
	return ok(int64(n))
}
