package fdtable

import (
	"sort"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// VirtualFd is the file-descriptor integer the guest sees.
type VirtualFd int32

// FirstVfd is the lowest fd the table ever issues; 0-2 stay stdio.
const FirstVfd VirtualFd = 3

var tableLog = logrus.WithField("mod", "fdtable")

// Table maps virtual fds to backends for one guest process, or for several
// when a clone shared the files table. The reference count is the only
// concurrently touched field: clone/exit adjust it while the supervisor's
// single thread does all map mutation.
type Table struct {
	refs  atomic.Int64
	files map[VirtualFd]*Backend
	next  VirtualFd
}

// New returns an empty table with one reference.
func New() *Table {
	t := &Table{
		files: make(map[VirtualFd]*Backend),
		next:  FirstVfd,
	}
	t.refs.Store(1)
	return t
}

// Insert issues the next virtual fd for backend. Fds are never recycled:
// next only grows.
func (t *Table) Insert(b *Backend) VirtualFd {
	vfd := t.next
	t.next++
	t.files[vfd] = b
	return vfd
}

// InsertAt places backend at a guest-chosen fd (dup3), closing any entry the
// slot held. The cursor jumps past the slot so Insert never reuses it.
func (t *Table) InsertAt(vfd VirtualFd, b *Backend) {
	if old, ok := t.files[vfd]; ok {
		if err := old.Close(); err != nil {
			tableLog.WithField("vfd", vfd).WithError(err).Warn("closing displaced backend")
		}
	}
	t.files[vfd] = b
	if vfd >= t.next {
		t.next = vfd + 1
	}
}

// Get looks up the backend behind vfd.
func (t *Table) Get(vfd VirtualFd) (*Backend, bool) {
	b, ok := t.files[vfd]
	return b, ok
}

// Remove deletes the entry and closes its backend, reporting whether the fd
// was present.
func (t *Table) Remove(vfd VirtualFd) bool {
	b, ok := t.files[vfd]
	if !ok {
		return false
	}
	delete(t.files, vfd)
	if err := b.Close(); err != nil {
		tableLog.WithField("vfd", vfd).WithError(err).Warn("closing removed backend")
	}
	return true
}

// Len reports the number of live entries.
func (t *Table) Len() int { return len(t.files) }

// Vfds returns the live fds in ascending order.
func (t *Table) Vfds() []VirtualFd {
	out := make([]VirtualFd, 0, len(t.files))
	for vfd := range t.files {
		out = append(out, vfd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone deep-copies the table for a child that did not share files: every
// backend is duplicated, the cursor carries over, and the copy starts with
// one reference.
func (t *Table) Clone() (*Table, error) {
	c := &Table{
		files: make(map[VirtualFd]*Backend, len(t.files)),
		next:  t.next,
	}
	c.refs.Store(1)
	for vfd, b := range t.files {
		dup, err := b.Dup()
		if err != nil {
			// Unwind the copies made so far.
			for _, d := range c.files {
				_ = d.Close()
			}
			return nil, err
		}
		c.files[vfd] = dup
	}
	return c, nil
}

// Ref adds a reference for a child that shares the table.
func (t *Table) Ref() {
	t.refs.Add(1)
}

// Unref drops one reference; the final drop closes every remaining backend
// and empties the table.
func (t *Table) Unref() {
	if t.refs.Add(-1) != 0 {
		return
	}
	for vfd, b := range t.files {
		if err := b.Close(); err != nil {
			tableLog.WithField("vfd", vfd).WithError(err).Warn("closing backend at table teardown")
		}
	}
	t.files = nil
}

// Refs reports the current reference count.
func (t *Table) Refs() int64 { return t.refs.Load() }
