package sandbox

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/bvisor/bvisor/internal/syserr"
	"golang.org/x/sys/unix"
)

func TestEncodeDirent(t *testing.T) {
	buf := make([]byte, 64)
	n, fits := encodeDirent(buf, 7, 42, unix.DT_REG, "file.txt")
	if !fits {
		t.Fatal("record must fit")
	}
	if n%8 != 0 {
		t.Errorf("reclen %d not 8-byte aligned", n)
	}
	if got := binary.LittleEndian.Uint64(buf[0:]); got != 7 {
		t.Errorf("ino = %d, want 7", got)
	}
	if got := int64(binary.LittleEndian.Uint64(buf[8:])); got != 42 {
		t.Errorf("off = %d, want 42", got)
	}
	if got := binary.LittleEndian.Uint16(buf[16:]); int(got) != n {
		t.Errorf("reclen field = %d, want %d", got, n)
	}
	if buf[18] != unix.DT_REG {
		t.Errorf("type = %d, want DT_REG", buf[18])
	}
	if string(buf[direntHeaderSize:direntHeaderSize+9]) != "file.txt\x00" {
		t.Errorf("name bytes = %q", buf[direntHeaderSize:direntHeaderSize+9])
	}
}

func TestEncodeDirentNoSpace(t *testing.T) {
	buf := make([]byte, 16)
	if _, fits := encodeDirent(buf, 1, 1, unix.DT_REG, "name"); fits {
		t.Error("record must not fit in 16 bytes")
	}
}

func TestReadIovecs(t *testing.T) {
	fb := newFakeBridge()

	raw := make([]byte, 2*guestIovecSize)
	binary.LittleEndian.PutUint64(raw[0:], 0xdead0000)
	binary.LittleEndian.PutUint64(raw[8:], 128)
	binary.LittleEndian.PutUint64(raw[16:], 0xbeef0000)
	binary.LittleEndian.PutUint64(raw[24:], 256)
	addr := fb.alloc(raw)

	iovs, err := readIovecs(fb, 100, addr, 2)
	if err != nil {
		t.Fatalf("readIovecs: %v", err)
	}
	if iovs[0].Base != 0xdead0000 || iovs[0].Len != 128 {
		t.Errorf("iov[0] = %+v", iovs[0])
	}
	if iovs[1].Base != 0xbeef0000 || iovs[1].Len != 256 {
		t.Errorf("iov[1] = %+v", iovs[1])
	}
}

func TestReadIovecsCeiling(t *testing.T) {
	fb := newFakeBridge()
	if _, err := readIovecs(fb, 100, 0x1000, iovMax+1); !errors.Is(err, unix.EINVAL) {
		t.Errorf("err = %v, want EINVAL", err)
	}
	if iovs, err := readIovecs(fb, 100, 0, 0); err != nil || iovs != nil {
		t.Errorf("zero count = %v, %v", iovs, err)
	}
}

func TestWriteCString(t *testing.T) {
	fb := newFakeBridge()
	buf := fb.allocBuf(16)

	n, err := writeCString(fb, 100, buf, 16, "/work")
	if err != nil {
		t.Fatalf("writeCString: %v", err)
	}
	if n != 6 {
		t.Errorf("n = %d, want 6 (includes terminator)", n)
	}
	got, _ := fb.locate(buf, 6)
	if string(got) != "/work\x00" {
		t.Errorf("wrote %q", got)
	}

	if _, err := writeCString(fb, 100, buf, 3, "/work"); !errors.Is(err, syserr.ErrBufferTooSmall) {
		t.Errorf("err = %v, want ErrBufferTooSmall", err)
	}
}
