package sandbox

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/bvisor/bvisor/internal/memory"
	"github.com/bvisor/bvisor/internal/procinfo"
	"github.com/bvisor/bvisor/internal/syserr"
	"golang.org/x/sys/unix"
)

// Guest-facing kernel records are laid out by hand: the supervisor must
// produce the exact bytes the guest's libc expects, independent of any Go
// struct layout. Both supported architectures are little-endian.

// guestIovec mirrors struct iovec in the guest. Base stays a guest pointer;
// nothing here dereferences it.
type guestIovec struct {
	Base uint64
	Len  uint64
}

const guestIovecSize = 16

// readIovecs copies the guest's iovec array. Counts beyond the vector
// ceiling are rejected, matching the resource model.
func readIovecs(mem memory.Bridge, pid procinfo.AbsPid, addr uint64, count int) ([]guestIovec, error) {
	if count < 0 || count > iovMax {
		return nil, fmt.Errorf("%d iovecs: %w", count, unix.EINVAL)
	}
	if count == 0 {
		return nil, nil
	}
	raw := make([]byte, count*guestIovecSize)
	if err := mem.ReadAt(pid, addr, raw); err != nil {
		return nil, err
	}
	out := make([]guestIovec, count)
	for i := range out {
		off := i * guestIovecSize
		out[i].Base = binary.LittleEndian.Uint64(raw[off:])
		out[i].Len = binary.LittleEndian.Uint64(raw[off+8:])
	}
	return out, nil
}

// direntHeaderSize is offsetof(struct dirent64, d_name).
const direntHeaderSize = 19

// encodeDirent appends one dirent64 record: u64 ino, s64 off, u16 reclen,
// u8 type, then the NUL-terminated name, padded to 8 bytes. The off field is
// the fabricated cursor value a later lseek/getdents resumes from.
func encodeDirent(buf []byte, ino uint64, off int64, dtype uint8, name string) (int, bool) {
	reclen := (direntHeaderSize + len(name) + 1 + 7) &^ 7
	if reclen > len(buf) {
		return 0, false
	}
	binary.LittleEndian.PutUint64(buf[0:], ino)
	binary.LittleEndian.PutUint64(buf[8:], uint64(off))
	binary.LittleEndian.PutUint16(buf[16:], uint16(reclen))
	buf[18] = dtype
	n := copy(buf[direntHeaderSize:], name)
	for i := direntHeaderSize + n; i < reclen; i++ {
		buf[i] = 0
	}
	return reclen, true
}

// statBytes views st as the raw bytes the kernel would have produced; the
// x/sys layout is generated per kernel architecture.
func statBytes(st *unix.Stat_t) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(st)), unsafe.Sizeof(*st))
}

// statxBytes views stx as raw kernel bytes.
func statxBytes(stx *unix.Statx_t) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(stx)), unsafe.Sizeof(*stx))
}

// writeCString copies s plus its terminator into the guest buffer at addr,
// rejecting buffers that cannot hold it.
func writeCString(mem memory.Bridge, pid procinfo.AbsPid, addr uint64, size uint64, s string) (int, error) {
	needed := len(s) + 1
	if uint64(needed) > size {
		return 0, fmt.Errorf("%d bytes into %d-byte buffer: %w", needed, size, syserr.ErrBufferTooSmall)
	}
	out := make([]byte, needed)
	copy(out, s)
	if err := mem.WriteAt(pid, addr, out); err != nil {
		return 0, err
	}
	return needed, nil
}
