// Package proctable tracks the guest processes of one sandbox and translates
// between absolute (host) and namespace (guest) pids.
package proctable

import (
	"fmt"

	"github.com/bvisor/bvisor/internal/fdtable"
	"github.com/bvisor/bvisor/internal/procinfo"
	"github.com/bvisor/bvisor/internal/syserr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// State is a process's lifecycle stage.
type State int

const (
	// Alive: the process exists and may issue syscalls.
	Alive State = iota
	// Zombie: exit_group was handled; the parent has not reaped it yet.
	Zombie
	// Reaped: terminal; the record is purged.
	Reaped
)

func (s State) String() string {
	switch s {
	case Alive:
		return "alive"
	case Zombie:
		return "zombie"
	case Reaped:
		return "reaped"
	}
	return "unknown"
}

// Process is one guest task.
type Process struct {
	Pid    procinfo.AbsPid
	Parent procinfo.AbsPid
	// NsPids is the namespace pid chain, outermost to innermost.
	NsPids []procinfo.NsPid
	// Fds is the process's virtual fd table, possibly shared with siblings.
	Fds   *fdtable.Table
	State State
	// Cwd is the guest-visible working directory.
	Cwd string
}

// NsPid returns the innermost namespace pid: the pid the guest sees itself
// as.
func (p *Process) NsPid() procinfo.NsPid {
	if len(p.NsPids) == 0 {
		return procinfo.NsPid(p.Pid)
	}
	return p.NsPids[len(p.NsPids)-1]
}

// Table holds every known Process, keyed by absolute pid and by innermost
// namespace pid. Only the supervisor thread mutates it.
type Table struct {
	src   procinfo.Source
	byAbs map[procinfo.AbsPid]*Process
	byNs  map[procinfo.NsPid]*Process
	log   *logrus.Entry
}

// New returns an empty table backed by src.
func New(src procinfo.Source) *Table {
	return &Table{
		src:   src,
		byAbs: make(map[procinfo.AbsPid]*Process),
		byNs:  make(map[procinfo.NsPid]*Process),
		log:   logrus.WithField("mod", "proctable"),
	}
}

// Lookup returns the record for pid, if known.
func (t *Table) Lookup(pid procinfo.AbsPid) (*Process, bool) {
	p, ok := t.byAbs[pid]
	return p, ok
}

// LookupNs returns the record whose innermost namespace pid is ns.
func (t *Table) LookupNs(ns procinfo.NsPid) (*Process, bool) {
	p, ok := t.byNs[ns]
	return p, ok
}

// Ensure returns the record for pid, registering it on first sight. A new pid
// whose parent is already tracked is wired up as that parent's child, files
// shared or copied per the detected clone flags; anything else starts as a
// root with a fresh table.
func (t *Table) Ensure(pid procinfo.AbsPid) (*Process, error) {
	if p, ok := t.byAbs[pid]; ok {
		return p, nil
	}

	st, err := t.src.Status(pid)
	if err != nil {
		return nil, fmt.Errorf("ensure pid %d: %w", pid, err)
	}

	if parent, ok := t.byAbs[st.PPid]; ok {
		flags, err := t.src.DetectCloneFlags(parent.Pid, pid)
		if err != nil {
			return nil, fmt.Errorf("ensure pid %d: %w", pid, err)
		}
		return t.RegisterChild(parent.Pid, pid, flags)
	}

	p := &Process{
		Pid:    pid,
		Parent: st.PPid,
		NsPids: st.NsPids,
		Fds:    fdtable.New(),
		State:  Alive,
		Cwd:    "/",
	}
	t.insert(p)
	t.log.WithFields(logrus.Fields{
		"pid":   pid,
		"ns":    p.NsPid(),
		"depth": len(p.NsPids),
	}).Debug("registered root process")
	return p, nil
}

// RegisterChild records a child produced by a clone observed on parent. The
// share-files flag shares the parent's fd table; otherwise the child gets a
// deep copy with the same cursor.
func (t *Table) RegisterChild(parent, child procinfo.AbsPid, cloneFlags uint64) (*Process, error) {
	pp, ok := t.byAbs[parent]
	if !ok {
		return nil, fmt.Errorf("register child %d: parent %d: %w", child, parent, syserr.ErrNoSuchProcess)
	}
	if _, ok := t.byAbs[child]; ok {
		return nil, fmt.Errorf("register child %d: already tracked", child)
	}

	nspids, err := t.src.NsPids(child)
	if err != nil {
		return nil, fmt.Errorf("register child %d: %w", child, err)
	}

	var fds *fdtable.Table
	shared := cloneFlags&unix.CLONE_FILES != 0
	if shared {
		pp.Fds.Ref()
		fds = pp.Fds
	} else {
		fds, err = pp.Fds.Clone()
		if err != nil {
			return nil, fmt.Errorf("register child %d: clone fd table: %w", child, err)
		}
	}

	p := &Process{
		Pid:    child,
		Parent: parent,
		NsPids: nspids,
		Fds:    fds,
		State:  Alive,
		Cwd:    pp.Cwd,
	}
	t.insert(p)
	t.log.WithFields(logrus.Fields{
		"pid":         child,
		"parent":      parent,
		"ns":          p.NsPid(),
		"sharedFiles": shared,
	}).Debug("registered child process")
	return p, nil
}

func (t *Table) insert(p *Process) {
	t.byAbs[p.Pid] = p
	t.byNs[p.NsPid()] = p
}

// MarkZombie moves pid to the zombie state and releases its fd-table
// reference; the table itself dies when the last sharer lets go.
func (t *Table) MarkZombie(pid procinfo.AbsPid) error {
	p, ok := t.byAbs[pid]
	if !ok {
		return fmt.Errorf("mark zombie %d: %w", pid, syserr.ErrNoSuchProcess)
	}
	if p.State != Alive {
		return nil
	}
	p.State = Zombie
	if p.Fds != nil {
		p.Fds.Unref()
		p.Fds = nil
	}
	t.log.WithField("pid", pid).Debug("process exited")
	return nil
}

// MarkReaped retires pid for good and purges the record.
func (t *Table) MarkReaped(pid procinfo.AbsPid) {
	p, ok := t.byAbs[pid]
	if !ok {
		return
	}
	if p.State == Alive {
		// Kernel-reported death without an observed exit_group; release
		// resources on the way out.
		if p.Fds != nil {
			p.Fds.Unref()
			p.Fds = nil
		}
	}
	p.State = Reaped
	delete(t.byAbs, pid)
	if t.byNs[p.NsPid()] == p {
		delete(t.byNs, p.NsPid())
	}
	t.log.WithField("pid", pid).Debug("process reaped")
}

// TranslateAbsToNs maps a host pid to the pid the guest sees.
func (t *Table) TranslateAbsToNs(pid procinfo.AbsPid) (procinfo.NsPid, error) {
	p, ok := t.byAbs[pid]
	if !ok {
		return 0, fmt.Errorf("translate %d: %w", pid, syserr.ErrNoSuchProcess)
	}
	return p.NsPid(), nil
}

// Pids snapshots the tracked absolute pids.
func (t *Table) Pids() []procinfo.AbsPid {
	out := make([]procinfo.AbsPid, 0, len(t.byAbs))
	for pid := range t.byAbs {
		out = append(out, pid)
	}
	return out
}

// Len reports the number of live records.
func (t *Table) Len() int { return len(t.byAbs) }

// Sweep retires every tracked pid the kernel no longer knows. Returns the
// pids that went away.
func (t *Table) Sweep() []procinfo.AbsPid {
	var gone []procinfo.AbsPid
	for pid := range t.byAbs {
		if !t.src.Alive(pid) {
			gone = append(gone, pid)
		}
	}
	for _, pid := range gone {
		t.MarkReaped(pid)
	}
	return gone
}

// Teardown releases every remaining fd table. Called when the supervisor
// shuts down.
func (t *Table) Teardown() {
	for pid, p := range t.byAbs {
		if p.Fds != nil {
			p.Fds.Unref()
			p.Fds = nil
		}
		delete(t.byAbs, pid)
	}
	t.byNs = make(map[procinfo.NsPid]*Process)
}
