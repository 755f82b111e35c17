package source

import "sync/atomic"

// ArraySource serves bytes from an in-memory buffer. A nil or empty buffer is
// a valid, always-empty source.
type ArraySource struct {
	buf    []byte
	closed atomic.Bool
}

func NewArraySource(buf []byte) *ArraySource {
	return &ArraySource{buf: buf}
}

func (s *ArraySource) Get(pos int64) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	if pos >= int64(len(s.buf)) {
		return -1, nil
	}
	return int(s.buf[pos]), nil
}

func (s *ArraySource) GetRange(pos int64, dst []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	return copyAt(s.buf, pos, dst), nil
}

func (s *ArraySource) Length() int64 { return int64(len(s.buf)) }

func (s *ArraySource) Close() error {
	s.closed.Store(true)
	return nil
}
