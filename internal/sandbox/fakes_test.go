package sandbox

import (
	"testing"

	"github.com/bvisor/bvisor/internal/overlay"
	"github.com/bvisor/bvisor/internal/procinfo"
	"github.com/bvisor/bvisor/internal/syserr"
)

// fakeBridge is an in-memory guest address space: regions placed at chosen
// addresses, reads and writes bounds-checked against them.
type fakeBridge struct {
	regions map[uint64][]byte
	next    uint64
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{regions: make(map[uint64][]byte), next: 0x1000}
}

// alloc places data at a fresh guest address and returns it.
func (f *fakeBridge) alloc(data []byte) uint64 {
	addr := f.next
	f.next += uint64(len(data)) + 64
	f.regions[addr] = data
	return addr
}

// allocString places a NUL-terminated string.
func (f *fakeBridge) allocString(s string) uint64 {
	return f.alloc(append([]byte(s), 0))
}

// allocBuf places a zeroed output buffer.
func (f *fakeBridge) allocBuf(size int) uint64 {
	return f.alloc(make([]byte, size))
}

func (f *fakeBridge) locate(addr uint64, n int) ([]byte, bool) {
	for base, region := range f.regions {
		if addr >= base && addr+uint64(n) <= base+uint64(len(region)) {
			off := addr - base
			return region[off : off+uint64(n)], true
		}
	}
	return nil, false
}

func (f *fakeBridge) ReadAt(pid procinfo.AbsPid, addr uint64, buf []byte) error {
	src, ok := f.locate(addr, len(buf))
	if !ok {
		return syserr.ErrBridgeFault
	}
	copy(buf, src)
	return nil
}

func (f *fakeBridge) WriteAt(pid procinfo.AbsPid, addr uint64, buf []byte) error {
	dst, ok := f.locate(addr, len(buf))
	if !ok {
		return syserr.ErrBridgeFault
	}
	copy(dst, buf)
	return nil
}

func (f *fakeBridge) ReadCString(pid procinfo.AbsPid, addr uint64, max int) (string, error) {
	for base, region := range f.regions {
		if addr >= base && addr < base+uint64(len(region)) {
			tail := region[addr-base:]
			for i, c := range tail {
				if c == 0 {
					if i > max {
						return "", syserr.ErrPathTooLong
					}
					return string(tail[:i]), nil
				}
			}
		}
	}
	return "", syserr.ErrBridgeFault
}

// fakeSource is the injectable stand-in for /proc.
type fakeSource struct {
	status map[procinfo.AbsPid]*procinfo.Status
	flags  map[[2]procinfo.AbsPid]uint64
	dead   map[procinfo.AbsPid]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		status: make(map[procinfo.AbsPid]*procinfo.Status),
		flags:  make(map[[2]procinfo.AbsPid]uint64),
		dead:   make(map[procinfo.AbsPid]bool),
	}
}

func (f *fakeSource) add(pid, ppid procinfo.AbsPid, nspids ...procinfo.NsPid) {
	if len(nspids) == 0 {
		nspids = []procinfo.NsPid{procinfo.NsPid(pid)}
	}
	f.status[pid] = &procinfo.Status{Pid: pid, PPid: ppid, Tgid: pid, NsPids: nspids, NsTgid: nspids}
}

func (f *fakeSource) NsPids(pid procinfo.AbsPid) ([]procinfo.NsPid, error) {
	st, ok := f.status[pid]
	if !ok {
		return nil, syserr.ErrNoSuchProcess
	}
	return st.NsPids, nil
}

func (f *fakeSource) Status(pid procinfo.AbsPid) (*procinfo.Status, error) {
	st, ok := f.status[pid]
	if !ok {
		return nil, syserr.ErrNoSuchProcess
	}
	return st, nil
}

func (f *fakeSource) DetectCloneFlags(parent, child procinfo.AbsPid) (uint64, error) {
	return f.flags[[2]procinfo.AbsPid{parent, child}], nil
}

func (f *fakeSource) Alive(pid procinfo.AbsPid) bool {
	_, ok := f.status[pid]
	return ok && !f.dead[pid]
}

// newTestSupervisor wires a supervisor against the fakes and a real overlay
// under the test's temp dir. No listener: tests drive dispatch directly.
func newTestSupervisor(t *testing.T, src *fakeSource) (*Supervisor, *fakeBridge) {
	t.Helper()
	ov, err := overlay.New(t.TempDir())
	if err != nil {
		t.Fatalf("overlay.New: %v", err)
	}
	t.Cleanup(ov.Destroy)

	fb := newFakeBridge()
	s := New(Options{
		Memory:   fb,
		ProcInfo: src,
		Overlay:  ov,
	})
	return s, fb
}
