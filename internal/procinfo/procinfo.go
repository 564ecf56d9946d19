// Package procinfo queries kernel facts about guest processes: parentage,
// namespace pid chains, and the clone flags that produced a child. The
// supervisor accepts a Source at construction so tests can substitute a fake.
package procinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/bvisor/bvisor/internal/syserr"
	"golang.org/x/sys/unix"
)

// AbsPid is a process id in the host's root pid namespace.
type AbsPid int32

// NsPid is a process id as observed inside the guest's pid namespace. It
// equals the AbsPid only when the guest runs in the root namespace.
type NsPid int32

// nsDepthMax bounds the pid-namespace nesting the sandbox will follow.
const nsDepthMax = 128

// Status is the parsed identity of one process.
type Status struct {
	Pid    AbsPid
	PPid   AbsPid
	Tgid   AbsPid
	NsPids []NsPid // outermost to innermost
	NsTgid []NsPid // outermost to innermost
}

// Source answers read-only process queries.
type Source interface {
	// NsPids returns the namespace pid chain for pid, outermost first.
	NsPids(pid AbsPid) ([]NsPid, error)
	// Status returns the parsed /proc/<pid>/status identity fields.
	Status(pid AbsPid) (*Status, error)
	// DetectCloneFlags reports the CLONE_* flags relevant to the sandbox
	// (CLONE_NEWPID, CLONE_FILES) that produced child from parent.
	DetectCloneFlags(parent, child AbsPid) (uint64, error)
	// Alive reports whether pid still exists on the host.
	Alive(pid AbsPid) bool
}

// ProcSource reads from the host's /proc mount.
type ProcSource struct {
	root string
}

// NewProcSource returns a Source backed by /proc.
func NewProcSource() *ProcSource {
	return &ProcSource{root: "/proc"}
}

// NsPids implements Source.
func (s *ProcSource) NsPids(pid AbsPid) ([]NsPid, error) {
	st, err := s.Status(pid)
	if err != nil {
		return nil, err
	}
	return st.NsPids, nil
}

// Status implements Source.
func (s *ProcSource) Status(pid AbsPid) (*Status, error) {
	data, err := os.ReadFile(filepath.Join(s.root, strconv.Itoa(int(pid)), "status"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pid %d: %w", pid, syserr.ErrNoSuchProcess)
		}
		return nil, fmt.Errorf("read status for pid %d: %w", pid, err)
	}
	st, err := parseStatus(data)
	if err != nil {
		return nil, fmt.Errorf("parse status for pid %d: %w", pid, err)
	}
	st.Pid = pid
	return st, nil
}

// DetectCloneFlags implements Source. Namespace membership is compared via
// the pid-namespace inode; file-table sharing via the kernel's kcmp(2).
func (s *ProcSource) DetectCloneFlags(parent, child AbsPid) (uint64, error) {
	var flags uint64

	pIno, err := s.pidNsInode(parent)
	if err != nil {
		return 0, err
	}
	cIno, err := s.pidNsInode(child)
	if err != nil {
		return 0, err
	}
	if pIno != cIno {
		flags |= unix.CLONE_NEWPID
	}

	shared, err := sharesFiles(parent, child)
	if err != nil {
		return 0, err
	}
	if shared {
		flags |= unix.CLONE_FILES
	}

	return flags, nil
}

// Alive implements Source.
func (s *ProcSource) Alive(pid AbsPid) bool {
	_, err := os.Stat(filepath.Join(s.root, strconv.Itoa(int(pid))))
	return err == nil
}

func (s *ProcSource) pidNsInode(pid AbsPid) (uint64, error) {
	fi, err := os.Stat(filepath.Join(s.root, strconv.Itoa(int(pid)), "ns", "pid"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("pid %d: %w", pid, syserr.ErrNoSuchProcess)
		}
		return 0, fmt.Errorf("stat pid namespace of %d: %w", pid, err)
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("stat pid namespace of %d: unexpected stat type", pid)
	}
	return st.Ino, nil
}

// kcmpFiles is Linux's KCMP_FILES kcmp_type value; x/sys/unix does not export it.
const kcmpFiles = 2

// sharesFiles reports whether parent and child share one file table.
func sharesFiles(parent, child AbsPid) (bool, error) {
	ret, _, errno := unix.Syscall6(unix.SYS_KCMP,
		uintptr(parent), uintptr(child), kcmpFiles, 0, 0, 0)
	if errno != 0 {
		if errno == unix.ESRCH {
			return false, fmt.Errorf("kcmp %d/%d: %w", parent, child, syserr.ErrNoSuchProcess)
		}
		return false, fmt.Errorf("kcmp %d/%d: %w", parent, child, errno)
	}
	return ret == 0, nil
}

// parseStatus extracts the identity fields from a /proc/<pid>/status blob.
func parseStatus(data []byte) (*Status, error) {
	st := &Status{}
	for _, line := range strings.Split(string(data), "\n") {
		key, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		switch key {
		case "PPid":
			v, err := strconv.Atoi(rest)
			if err != nil {
				return nil, fmt.Errorf("bad PPid %q", rest)
			}
			st.PPid = AbsPid(v)
		case "Tgid":
			v, err := strconv.Atoi(rest)
			if err != nil {
				return nil, fmt.Errorf("bad Tgid %q", rest)
			}
			st.Tgid = AbsPid(v)
		case "NSpid":
			pids, err := parsePidList(rest)
			if err != nil {
				return nil, fmt.Errorf("bad NSpid %q", rest)
			}
			st.NsPids = pids
		case "NStgid":
			pids, err := parsePidList(rest)
			if err != nil {
				return nil, fmt.Errorf("bad NStgid %q", rest)
			}
			st.NsTgid = pids
		}
	}
	if len(st.NsPids) == 0 {
		// Pre-4.1 kernels omit NSpid; the process is then in the root
		// namespace and the chain is just the tgid.
		st.NsPids = []NsPid{NsPid(st.Tgid)}
	}
	if len(st.NsTgid) == 0 {
		st.NsTgid = st.NsPids
	}
	return st, nil
}

func parsePidList(s string) ([]NsPid, error) {
	fields := strings.Fields(s)
	if len(fields) > nsDepthMax {
		return nil, fmt.Errorf("namespace chain of depth %d exceeds limit %d", len(fields), nsDepthMax)
	}
	pids := make([]NsPid, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		pids = append(pids, NsPid(v))
	}
	return pids, nil
}
