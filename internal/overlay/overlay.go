// Package overlay maintains the per-sandbox on-disk tree: a copy-on-write
// mirror of host paths the guest writes, and a private /tmp subtree that
// starts empty. Opening a file for write never touches the host's original.
package overlay

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bvisor/bvisor/internal/syserr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Overlay is one sandbox's private filesystem view, keyed by a 16-hex UID.
type Overlay struct {
	uid  string
	root string
	log  *logrus.Entry
}

// New creates an overlay under baseDir (the OS temp dir when empty). The
// cow/ and tmp/ subtrees are created up front; per-file copies stay lazy.
func New(baseDir string) (*Overlay, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}

	id := make([]byte, 8)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("generate sandbox uid: %w", err)
	}
	uid := hex.EncodeToString(id)

	o := &Overlay{
		uid:  uid,
		root: filepath.Join(baseDir, ".bvisor", "sb", uid),
		log:  logrus.WithField("mod", "overlay").WithField("sandbox", uid),
	}
	for _, sub := range []string{"cow", "tmp"} {
		if err := os.MkdirAll(filepath.Join(o.root, sub), 0o700); err != nil {
			return nil, fmt.Errorf("create overlay %s tree: %w", sub, err)
		}
	}
	o.log.WithField("root", o.root).Debug("overlay created")
	return o, nil
}

// UID returns the 16-hex-character sandbox identifier.
func (o *Overlay) UID() string { return o.uid }

// Root returns the overlay's on-disk root directory.
func (o *Overlay) Root() string { return o.root }

// ResolveCow maps a guest path to its location in the cow/ mirror.
func (o *Overlay) ResolveCow(path string) string {
	return filepath.Join(o.root, "cow", path)
}

// ResolveTmp maps a guest /tmp path into the private tmp/ subtree.
func (o *Overlay) ResolveTmp(path string) string {
	rest := strings.TrimPrefix(path, "/tmp")
	return filepath.Join(o.root, "tmp", rest)
}

// resolve picks the subtree a guest path belongs to.
func (o *Overlay) resolve(path string) string {
	if path == "/tmp" || strings.HasPrefix(path, "/tmp/") {
		return o.ResolveTmp(path)
	}
	return o.ResolveCow(path)
}

// CowExists reports whether path already has an overlay entry.
func (o *Overlay) CowExists(path string) bool {
	_, err := os.Lstat(o.resolve(path))
	return err == nil
}

// CreateCowParentDirs materializes the directory chain above path inside the
// cow/ mirror.
func (o *Overlay) CreateCowParentDirs(path string) error {
	if err := os.MkdirAll(filepath.Dir(o.ResolveCow(path)), 0o700); err != nil {
		return fmt.Errorf("create overlay parents for %s: %w", path, err)
	}
	return nil
}

// CopyUp duplicates the host original of path into the cow/ mirror,
// preserving its mode. A missing host original just materializes the parent
// chain; the subsequent open creates the file.
func (o *Overlay) CopyUp(path string) error {
	if err := o.CreateCowParentDirs(path); err != nil {
		return err
	}

	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open host original %s: %w", path, err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat host original %s: %w", path, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("copy-up of directory %s: %w", path, syserr.ErrIsDirectory)
	}

	dst, err := os.OpenFile(o.ResolveCow(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create overlay copy of %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("copy %s into overlay: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("finish overlay copy of %s: %w", path, err)
	}
	o.log.WithField("path", path).Debug("copied up")
	return nil
}

// wantsWrite reports whether flags request any write access.
func wantsWrite(flags int) bool {
	if flags&unix.O_ACCMODE != unix.O_RDONLY {
		return true
	}
	return flags&(unix.O_CREAT|unix.O_TRUNC|unix.O_APPEND) != 0
}

// OpenCow opens a non-/tmp guest path. Read-only access reads through to the
// host until a write triggers the copy; every access after the copy serves
// the overlay file. The returned writeCopy reports which side backs the fd.
func (o *Overlay) OpenCow(path string, flags int, mode uint32) (fd int, writeCopy bool, err error) {
	if _, err := os.Lstat(o.ResolveCow(path)); err == nil {
		fd, err := unix.Open(o.ResolveCow(path), flags, mode)
		if err != nil {
			return -1, false, fmt.Errorf("open overlay copy of %s: %w", path, err)
		}
		return fd, true, nil
	}

	if !wantsWrite(flags) {
		fd, err := unix.Open(path, flags, 0)
		if err != nil {
			return -1, false, fmt.Errorf("open host %s read-through: %w", path, err)
		}
		return fd, false, nil
	}

	if err := o.CopyUp(path); err != nil {
		return -1, false, err
	}
	fd, err = unix.Open(o.ResolveCow(path), flags, mode)
	if err != nil {
		return -1, false, fmt.Errorf("open overlay copy of %s: %w", path, err)
	}
	return fd, true, nil
}

// OpenTmp opens a guest /tmp path inside the private subtree. The subtree is
// fresh per sandbox; host /tmp content is never visible.
func (o *Overlay) OpenTmp(path string, flags int, mode uint32) (int, error) {
	resolved := o.ResolveTmp(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
		return -1, fmt.Errorf("create tmp parents for %s: %w", path, err)
	}
	fd, err := unix.Open(resolved, flags, mode)
	if err != nil {
		return -1, fmt.Errorf("open tmp %s: %w", path, err)
	}
	return fd, nil
}

// Mkdir creates a directory in the overlay view of path.
func (o *Overlay) Mkdir(path string, mode uint32) error {
	resolved := o.resolve(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
		return fmt.Errorf("create parents for %s: %w", path, err)
	}
	if err := os.Mkdir(resolved, os.FileMode(mode&0o777)); err != nil {
		if os.IsExist(err) {
			return err
		}
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// Unlink removes the overlay entry for path. Host-only files cannot be
// removed from here: the host is immutable to the sandbox, so the guest sees
// EACCES rather than a silent no-op.
func (o *Overlay) Unlink(path string) error {
	resolved := o.resolve(path)
	if _, err := os.Lstat(resolved); err == nil {
		if err := os.Remove(resolved); err != nil {
			return fmt.Errorf("unlink overlay %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("unlink host-backed %s: %w", path, syserr.ErrPathDenied)
	}
	return fmt.Errorf("unlink %s: %w", path, syserr.ErrPathNotFound)
}

// Rmdir removes an empty overlay directory; same host rules as Unlink.
func (o *Overlay) Rmdir(path string) error {
	resolved := o.resolve(path)
	if fi, err := os.Lstat(resolved); err == nil {
		if !fi.IsDir() {
			return unix.ENOTDIR
		}
		if err := os.Remove(resolved); err != nil {
			return fmt.Errorf("rmdir overlay %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("rmdir host-backed %s: %w", path, syserr.ErrPathDenied)
	}
	return fmt.Errorf("rmdir %s: %w", path, syserr.ErrPathNotFound)
}

// Symlink records a symlink in the overlay view of linkpath.
func (o *Overlay) Symlink(target, linkpath string) error {
	resolved := o.resolve(linkpath)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
		return fmt.Errorf("create parents for %s: %w", linkpath, err)
	}
	if err := os.Symlink(target, resolved); err != nil {
		return fmt.Errorf("symlink %s: %w", linkpath, err)
	}
	return nil
}

// Readlink resolves a symlink, overlay entry first, host second.
func (o *Overlay) Readlink(path string) (string, error) {
	if target, err := os.Readlink(o.resolve(path)); err == nil {
		return target, nil
	}
	target, err := os.Readlink(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("readlink %s: %w", path, syserr.ErrPathNotFound)
		}
		return "", fmt.Errorf("readlink %s: %w", path, err)
	}
	return target, nil
}

// Stat stats a guest path, overlay entry first, host second.
func (o *Overlay) Stat(path string, st *unix.Stat_t) error {
	if err := unix.Stat(o.resolve(path), st); err == nil {
		return nil
	}
	if path == "/tmp" || strings.HasPrefix(path, "/tmp/") {
		// Private tmp: host content must stay invisible.
		return fmt.Errorf("stat %s: %w", path, syserr.ErrPathNotFound)
	}
	if err := unix.Stat(path, st); err != nil {
		if err == unix.ENOENT {
			return fmt.Errorf("stat %s: %w", path, syserr.ErrPathNotFound)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return nil
}

// ResolveExisting returns the on-disk location currently serving a guest
// path: the overlay entry when one exists, the host path otherwise. Guest
// /tmp never falls back to the host.
func (o *Overlay) ResolveExisting(path string) (string, error) {
	resolved := o.resolve(path)
	if _, err := os.Lstat(resolved); err == nil {
		return resolved, nil
	}
	if path == "/tmp" || strings.HasPrefix(path, "/tmp/") {
		if path == "/tmp" {
			return filepath.Join(o.root, "tmp"), nil
		}
		return "", fmt.Errorf("resolve %s: %w", path, syserr.ErrPathNotFound)
	}
	if _, err := os.Lstat(path); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("resolve %s: %w", path, syserr.ErrPathNotFound)
}

// ListDir returns the overlay's own entries for a guest directory path. The
// caller merges them with host entries; overlay names win.
func (o *Overlay) ListDir(path string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(o.resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list overlay %s: %w", path, err)
	}
	return entries, nil
}

// PathExists reports whether the guest can observe path at all.
func (o *Overlay) PathExists(path string) bool {
	if _, err := os.Lstat(o.resolve(path)); err == nil {
		return true
	}
	if path == "/tmp" || strings.HasPrefix(path, "/tmp/") {
		return path == "/tmp"
	}
	_, err := os.Lstat(path)
	return err == nil
}

// Destroy tears down the overlay tree. Failures are logged, not fatal: the
// sandbox is already gone.
func (o *Overlay) Destroy() {
	if err := os.RemoveAll(o.root); err != nil {
		o.log.WithError(err).Warn("overlay teardown failed")
		return
	}
	o.log.Debug("overlay destroyed")
}
