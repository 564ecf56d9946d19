package bvisor

import (
	"io"
	"sync"
)

// Stream is an unbounded append-only byte buffer: the supervisor side fills
// it asynchronously, the embedder drains it one chunk at a time.
type Stream struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks [][]byte
	closed bool
}

func newStream() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Next blocks until a chunk is available and returns it, or returns
// (nil, false) once the stream ended and everything was drained.
func (s *Stream) Next() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.chunks) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.chunks) == 0 {
		return nil, false
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, true
}

// append adds one chunk; the bytes are owned by the stream afterwards.
func (s *Stream) append(chunk []byte) {
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
	s.cond.Signal()
}

// close marks the end of the stream; queued chunks stay drainable.
func (s *Stream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// pump copies r into the stream until EOF, then ends the stream.
func (s *Stream) pump(r io.Reader) {
	for {
		buf := make([]byte, 4096)
		n, err := r.Read(buf)
		if n > 0 {
			s.append(buf[:n])
		}
		if err != nil {
			s.close()
			return
		}
	}
}
