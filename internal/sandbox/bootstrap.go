package sandbox

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"

	"github.com/bvisor/bvisor/internal/seccomp"
	"golang.org/x/sys/unix"
)

// Two-process bootstrap: the supervisor re-executes its own binary in child
// mode; the child sets no-new-privileges, installs the trap-all filter, and
// execs the guest command. Everything the child does after install traps to
// the supervisor, including the exec itself, so the supervisor must be
// polling before the guest can make progress.

const (
	childEnvMarker = "BVISOR_CHILD"
	childEnvCmd    = "BVISOR_CMD"
)

// IsChild reports whether this process was spawned as the guest bootstrap.
// Callers must check it before any other startup work and hand control to
// ChildMain.
func IsChild() bool {
	return os.Getenv(childEnvMarker) == "1"
}

// ChildMain runs the guest side of the bootstrap. On success it does not
// return: the process becomes the guest. Failures before filter install
// report on stderr and exit 127, a failed install reports and exits 126;
// failures after install exit 127 blind, because every syscall already traps.
func ChildMain() {
	// The filter binds to the installing thread until exec.
	runtime.LockOSThread()

	var argv []string
	if err := json.Unmarshal([]byte(os.Getenv(childEnvCmd)), &argv); err != nil || len(argv) == 0 {
		fmt.Fprintf(os.Stderr, "bvisor: bad child command: %v\n", err)
		os.Exit(127)
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "bvisor: %s: command not found\n", argv[0])
		os.Exit(127)
	}

	// Resolve everything exec needs before the filter goes live.
	env := guestEnv()

	if _, err := seccomp.InstallFilter(); err != nil {
		fmt.Fprintf(os.Stderr, "bvisor: %v\n", err)
		os.Exit(126)
	}

	// Trapped from here on. The exec blocks until the supervisor continues it.
	unix.Exec(path, argv, env) //nolint:errcheck // on failure we can only exit
	os.Exit(127)
}

// guestEnv is the hardened environment the guest starts with: loader
// override variables and the bootstrap's own markers are stripped.
func guestEnv() []string {
	env := FilterDangerousEnv(os.Environ())
	out := env[:0]
	for _, e := range env {
		if strings.HasPrefix(e, childEnvMarker+"=") || strings.HasPrefix(e, childEnvCmd+"=") {
			continue
		}
		out = append(out, e)
	}
	return out
}

// SpawnGuest re-executes the current binary in child mode with the given
// stdio and returns the child's pid. The caller acquires the listener with
// seccomp.AcquireListener and then starts the supervisor.
func SpawnGuest(argv []string, stdin, stdout, stderr *os.File) (int, error) {
	self, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve own binary: %w", err)
	}
	cmdJSON, err := json.Marshal(argv)
	if err != nil {
		return 0, fmt.Errorf("encode guest command: %w", err)
	}

	env := append(os.Environ(),
		childEnvMarker+"=1",
		childEnvCmd+"="+string(cmdJSON),
	)

	pid, err := syscall.ForkExec(self, []string{self}, &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{stdin.Fd(), stdout.Fd(), stderr.Fd()},
	})
	if err != nil {
		return 0, fmt.Errorf("spawn guest bootstrap: %w", err)
	}
	return pid, nil
}
