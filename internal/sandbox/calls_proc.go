package sandbox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bvisor/bvisor/internal/fdtable"
	"github.com/bvisor/bvisor/internal/procinfo"
	"github.com/bvisor/bvisor/internal/proctable"
	"github.com/bvisor/bvisor/internal/syserr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// procResolution is the outcome of mapping a guest /proc path: either
// synthesized content formatted from the process table, or a host path to
// pass through read-only.
type procResolution struct {
	content  []byte
	hostPath string
}

// procContent maps a normalized /proc path to its guest view. Pid-addressed
// entries are keyed by namespace pid and answer from the process table; the
// guest never observes absolute pids. Paths outside the virtualized set pass
// through to the host's /proc: per-pid entries under the target's absolute
// pid, everything else under its own path.
func (s *Supervisor) procContent(p *proctable.Process, norm string) (*procResolution, error) {
	if norm == "/proc" {
		return &procResolution{hostPath: "/proc"}, nil
	}

	comp, rest, _ := strings.Cut(strings.TrimPrefix(norm, "/proc/"), "/")

	var target *proctable.Process
	switch {
	case comp == "self":
		target = p
	default:
		if ns, err := strconv.Atoi(comp); err == nil {
			t, ok := s.procs.LookupNs(procinfo.NsPid(ns))
			if !ok {
				return nil, fmt.Errorf("/proc/%d: %w", ns, syserr.ErrNoSuchProcess)
			}
			target = t
		}
	}

	if target == nil {
		// Non-pid entries (cpuinfo, meminfo, ...) pass through; the deny
		// tables already filtered the sensitive ones.
		return &procResolution{hostPath: norm}, nil
	}

	switch rest {
	case "":
		return &procResolution{content: []byte(fmt.Sprintf("%d\n", target.NsPid()))}, nil
	case "status":
		return &procResolution{content: s.procStatusContent(target)}, nil
	}

	// Remaining per-pid entries pass through against the absolute pid; a
	// literal "self" would resolve to the supervisor.
	return &procResolution{hostPath: fmt.Sprintf("/proc/%d/%s", target.Pid, rest)}, nil
}

// procStatusContent formats the guest view of /proc/<pid>/status from the
// process record alone.
func (s *Supervisor) procStatusContent(target *proctable.Process) []byte {
	var parentNs procinfo.NsPid
	if pp, ok := s.procs.Lookup(target.Parent); ok {
		parentNs = pp.NsPid()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name:\tguest\n")
	fmt.Fprintf(&sb, "State:\t%s\n", statusState(target.State))
	fmt.Fprintf(&sb, "Tgid:\t%d\n", target.NsPid())
	fmt.Fprintf(&sb, "Pid:\t%d\n", target.NsPid())
	fmt.Fprintf(&sb, "PPid:\t%d\n", parentNs)
	fmt.Fprintf(&sb, "NSpid:\t%d\n", target.NsPid())
	return []byte(sb.String())
}

func statusState(st proctable.State) string {
	if st == proctable.Zombie {
		return "Z (zombie)"
	}
	return "R (running)"
}

// openProc serves an open under /proc. Writes never reach /proc.
func (s *Supervisor) openProc(p *proctable.Process, norm string, flags int) (*fdtable.Backend, error) {
	if wantsWrite(flags) {
		return nil, fmt.Errorf("open %s for write: %w", norm, syserr.ErrPathDenied)
	}
	r, err := s.procContent(p, norm)
	if err != nil {
		return nil, err
	}
	if r.content != nil {
		return fdtable.NewProcBackend(norm, r.content), nil
	}
	fd, err := unix.Open(r.hostPath, hostOpenFlags(unix.O_RDONLY|flags&unix.O_DIRECTORY), 0)
	if err != nil {
		if err == unix.ENOENT {
			return nil, fmt.Errorf("open %s: %w", norm, syserr.ErrPathNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", norm, err)
	}
	return fdtable.NewHostBackend(fdtable.Passthrough, norm, fd, flags), nil
}

// getpid / gettid / getppid answer from the process record; no kernel call.

type getpidCall struct{}

func (c *getpidCall) name() string { return "getpid" }

func (c *getpidCall) handle(s *Supervisor, p *proctable.Process) result {
	return ok(int64(p.NsPid()))
}

type gettidCall struct{}

func (c *gettidCall) name() string { return "gettid" }

func (c *gettidCall) handle(s *Supervisor, p *proctable.Process) result {
	return ok(int64(p.NsPid()))
}

type getppidCall struct{}

func (c *getppidCall) name() string { return "getppid" }

func (c *getppidCall) handle(s *Supervisor, p *proctable.Process) result {
	if pp, found := s.procs.Lookup(p.Parent); found {
		return ok(int64(pp.NsPid()))
	}
	// The guest's init has no visible parent.
	return ok(0)
}

// kill / tkill translate the namespace pid and signal the absolute one.
// Targets outside the sandbox do not exist as far as the guest can tell.

type killCall struct {
	target int64
	sig    unix.Signal
	thread bool
}

func (c *killCall) name() string {
	if c.thread {
		return "tkill"
	}
	return "kill"
}

func (c *killCall) handle(s *Supervisor, p *proctable.Process) result {
	if c.target <= 0 {
		// Process-group addressing is not virtualized.
		return failErrno(unix.EINVAL)
	}
	target, found := s.procs.LookupNs(procinfo.NsPid(c.target))
	if !found {
		return failErrno(unix.ESRCH)
	}
	if err := unix.Kill(int(target.Pid), c.sig); err != nil {
		return fail(fmt.Errorf("kill %d: %w", target.Pid, err))
	}
	s.log.WithFields(logrus.Fields{
		"pid":    p.Pid,
		"target": target.Pid,
		"signal": int(c.sig),
	}).Debug("signal forwarded")
	return ok(0)
}

// exit / exit_group mark the process zombie, release its fd table, and let
// the kernel perform the actual exit natively.

type exitCall struct {
	code  int
	group bool
}

func (c *exitCall) name() string {
	if c.group {
		return "exit_group"
	}
	return "exit"
}

func (c *exitCall) handle(s *Supervisor, p *proctable.Process) result {
	if err := s.procs.MarkZombie(p.Pid); err != nil {
		s.log.WithField("pid", p.Pid).WithError(err).Warn("exit for unknown process")
	}
	s.log.WithFields(logrus.Fields{
		"pid":  p.Pid,
		"code": c.code,
	}).Debug("guest exiting")
	return contResult
}

// clone proceeds natively; the child is registered when its first own
// notification arrives and the clone flags are reconstructed from the kernel.

type cloneCall struct {
	flags uint64
}

func (c *cloneCall) name() string { return "clone" }

func (c *cloneCall) handle(s *Supervisor, p *proctable.Process) result {
	s.log.WithFields(logrus.Fields{
		"pid":         p.Pid,
		"sharedFiles": c.flags&unix.CLONE_FILES != 0,
		"newPidNs":    c.flags&unix.CLONE_NEWPID != 0,
	}).Debug("clone observed")
	return contResult
}
