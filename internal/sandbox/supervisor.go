package sandbox

import (
	"errors"
	"fmt"

	"github.com/bvisor/bvisor/internal/memory"
	"github.com/bvisor/bvisor/internal/overlay"
	"github.com/bvisor/bvisor/internal/procinfo"
	"github.com/bvisor/bvisor/internal/proctable"
	"github.com/bvisor/bvisor/internal/seccomp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Resource ceilings of the syscall emulation layer.
const (
	// copyBufMax caps the bytes moved across the bridge per call; the guest
	// reissues truncated transfers.
	copyBufMax = 4096
	// iovMax caps vector syscalls.
	iovMax = 16
	// pollTimeoutMs is the coarse listener wait between lifecycle sweeps.
	pollTimeoutMs = 100
)

// Supervisor runs one sandbox's event loop: poll the listener, dispatch each
// notification, reply, and drive process lifecycle in between. It exclusively
// owns the process table and the listener.
type Supervisor struct {
	listener *seccomp.Listener
	mem      memory.Bridge
	src      procinfo.Source
	procs    *proctable.Table
	overlay  *overlay.Overlay
	policy   *Policy
	log      *logrus.Entry

	seen bool // at least one guest process has been observed
}

// Options configures a Supervisor. Zero-value fields fall back to the real
// kernel-backed implementations; tests inject fakes.
type Options struct {
	Listener *seccomp.Listener
	Memory   memory.Bridge
	ProcInfo procinfo.Source
	Overlay  *overlay.Overlay
	Policy   *Policy
}

// New assembles a Supervisor.
func New(opts Options) *Supervisor {
	if opts.Memory == nil {
		opts.Memory = memory.NewVMBridge()
	}
	if opts.ProcInfo == nil {
		opts.ProcInfo = procinfo.NewProcSource()
	}
	if opts.Policy == nil {
		opts.Policy = NewPolicy(nil)
	}
	log := logrus.WithField("mod", "supervisor")
	if opts.Overlay != nil {
		log = log.WithField("sandbox", opts.Overlay.UID())
	}
	return &Supervisor{
		listener: opts.Listener,
		mem:      opts.Memory,
		src:      opts.ProcInfo,
		procs:    proctable.New(opts.ProcInfo),
		overlay:  opts.Overlay,
		policy:   opts.Policy,
		log:      log,
	}
}

// Procs exposes the process table; the supervisor remains its owner.
func (s *Supervisor) Procs() *proctable.Table { return s.procs }

// Run blocks servicing the guest until every tracked process is gone or the
// listener dies. Teardown always runs: remaining fd tables are released and
// the overlay removed.
func (s *Supervisor) Run() error {
	defer s.teardown()

	if s.listener == nil {
		return fmt.Errorf("supervisor has no listener")
	}

	for {
		ready, err := s.listener.Poll(pollTimeoutMs)
		if err != nil {
			// POLLHUP: the last filter user is gone. Normal end of life.
			s.log.WithError(err).Debug("listener closed")
			return nil
		}
		if ready {
			n, rerr := s.listener.Recv()
			if rerr != nil {
				if errors.Is(rerr, unix.ENOENT) {
					// The calling thread died between trap and dequeue.
					continue
				}
				s.log.WithError(rerr).Error("listener recv failed")
				return rerr
			}
			s.serve(n)
			continue
		}

		// Idle: retire processes the kernel has dropped.
		s.procs.Sweep()
		if s.seen && s.procs.Len() == 0 {
			s.log.Debug("all guest processes gone")
			return nil
		}
	}
}

// serve dispatches one notification and sends its reply. A reply racing a
// guest signal vanishes; that is the guest's win and our no-op.
func (s *Supervisor) serve(n *seccomp.Notif) {
	s.seen = true
	res := s.dispatch(n)

	resp := &seccomp.Resp{ID: n.ID}
	if res.cont {
		resp.Flags = seccomp.FlagContinue
	} else {
		resp.Val = res.val
		resp.Error = -int32(res.errno)
	}

	fields := logrus.Fields{
		"syscall": syscallName(int(n.Data.NR)),
		"pid":     n.Pid,
	}
	switch {
	case res.cont:
		fields["outcome"] = "continue"
	case res.errno != 0:
		fields["outcome"] = fmt.Sprintf("errno=%d (%s)", int(res.errno), res.errno.Error())
	default:
		fields["outcome"] = fmt.Sprintf("val=%d", res.val)
	}

	if err := s.listener.Send(resp); err != nil {
		if errors.Is(err, seccomp.ErrVanished) {
			s.log.WithFields(fields).Debug("reply dropped: guest was signalled")
			return
		}
		s.log.WithFields(fields).WithError(err).Warn("reply failed")
		return
	}
	s.log.WithFields(fields).Debug("replied")
}

func (s *Supervisor) teardown() {
	s.procs.Teardown()
	if s.overlay != nil {
		s.overlay.Destroy()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.log.Debug("supervisor torn down")
}
