// Package bvisor embeds the sandbox in a host program: create a sandbox, run
// one command in it, drain its output streams.
//
// The guest bootstrap re-executes the embedding binary, so the embedder must
// give the bootstrap a chance to take over before any other startup work:
//
//	func main() {
//		if bvisor.IsChild() {
//			bvisor.ChildMain()
//		}
//		...
//	}
package bvisor

import (
	"fmt"
	"os"
	"sync"

	"github.com/bvisor/bvisor/internal/config"
	"github.com/bvisor/bvisor/internal/overlay"
	"github.com/bvisor/bvisor/internal/sandbox"
	"github.com/bvisor/bvisor/internal/seccomp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Config is the sandbox policy configuration.
type Config = config.Config

// DefaultConfig returns the built-in policy with no extensions.
func DefaultConfig() *Config { return config.Default() }

// LoadConfig loads a policy configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string { return config.DefaultConfigPath() }

// IsChild reports whether this process is the guest bootstrap re-exec.
func IsChild() bool { return sandbox.IsChild() }

// ChildMain hands the process over to the guest bootstrap; it does not
// return on success.
func ChildMain() { sandbox.ChildMain() }

// Sandbox is one isolated guest environment: one supervisor, one overlay,
// one process table.
type Sandbox struct {
	cfg     *config.Config
	overlay *overlay.Overlay
	policy  *sandbox.Policy
	log     *logrus.Entry

	mu       sync.Mutex
	running  bool
	finished bool
	done     chan struct{}
	exitCode int
	runErr   error
}

// CreateSandbox allocates a sandbox: kernel feature gate, fresh overlay,
// admission policy from cfg (nil means defaults).
func CreateSandbox(cfg *Config) (*Sandbox, error) {
	if err := seccomp.DetectFeatures().Supported(); err != nil {
		return nil, fmt.Errorf("kernel cannot run the sandbox: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	ov, err := overlay.New(cfg.Overlay.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("create overlay: %w", err)
	}

	return &Sandbox{
		cfg:     cfg,
		overlay: ov,
		policy:  sandbox.NewPolicy(cfg),
		log:     logrus.WithField("mod", "bvisor").WithField("sandbox", ov.UID()),
	}, nil
}

// UID returns the sandbox's 16-hex identifier.
func (s *Sandbox) UID() string { return s.overlay.UID() }

// RunCommand launches argv as the sandboxed guest and returns its output
// streams. One command per sandbox: the supervisor tears the overlay down
// when the guest is gone.
func (s *Sandbox) RunCommand(argv []string) (stdout, stderr *Stream, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.finished {
		return nil, nil, fmt.Errorf("sandbox %s already ran a command", s.UID())
	}

	if err := sandbox.CheckCommand(argv); err != nil {
		return nil, nil, err
	}

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, nil, fmt.Errorf("stderr pipe: %w", err)
	}

	s.log.WithField("cmd", sandbox.ShellQuote(argv)).Debug("launching guest")
	pid, err := sandbox.SpawnGuest(argv, devnull, outW, errW)

	// The guest owns the write ends now.
	outW.Close()
	errW.Close()

	if err != nil {
		outR.Close()
		errR.Close()
		return nil, nil, err
	}

	lfd, err := seccomp.AcquireListener(pid)
	if err != nil {
		unix.Kill(pid, unix.SIGKILL)
		var ws unix.WaitStatus
		unix.Wait4(pid, &ws, 0, nil)
		outR.Close()
		errR.Close()
		return nil, nil, fmt.Errorf("acquire listener for pid %d: %w", pid, err)
	}

	sup := sandbox.New(sandbox.Options{
		Listener: seccomp.NewListener(lfd),
		Overlay:  s.overlay,
		Policy:   s.policy,
	})

	s.running = true
	s.done = make(chan struct{})

	go func() {
		err := sup.Run()

		var ws unix.WaitStatus
		if _, werr := unix.Wait4(pid, &ws, 0, nil); werr == nil && ws.Exited() {
			s.mu.Lock()
			s.exitCode = ws.ExitStatus()
			s.mu.Unlock()
		}

		s.mu.Lock()
		s.runErr = err
		s.running = false
		s.finished = true
		s.mu.Unlock()
		close(s.done)
	}()

	stdout = newStream()
	stderr = newStream()
	go func() {
		stdout.pump(outR)
		outR.Close()
	}()
	go func() {
		stderr.pump(errR)
		errR.Close()
	}()

	return stdout, stderr, nil
}

// Wait blocks until the guest and its supervisor finished, returning the
// guest's exit code.
func (s *Sandbox) Wait() (int, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, s.runErr
}

// Close releases the sandbox. If no command ever ran, the overlay is removed
// here; otherwise the supervisor's teardown already did.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	ranEver := s.running || s.finished
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if !ranEver {
		s.overlay.Destroy()
	}
	return nil
}
