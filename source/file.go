package source

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// FileSource reads directly from a file handle with positional reads. It is
// the fallback when a file cannot be mapped.
type FileSource struct {
	mu     sync.RWMutex
	f      *os.File
	length int64
	closed bool
}

// NewFileSource takes ownership of f; Close closes it.
func NewFileSource(f *os.File) (*FileSource, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", f.Name())
	}
	return &FileSource{f: f, length: fi.Size()}, nil
}

func (s *FileSource) Get(pos int64) (int, error) {
	var b [1]byte
	n, err := s.GetRange(pos, b[:])
	if err != nil || n < 0 {
		return n, err
	}
	return int(b[0]), nil
}

func (s *FileSource) GetRange(pos int64, dst []byte) (int, error) {
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	if pos >= s.length {
		return -1, nil
	}
	if rem := s.length - pos; int64(len(dst)) > rem {
		dst = dst[:rem]
	}
	n, err := s.f.ReadAt(dst, pos)
	if err != nil && err != io.EOF {
		return n, errors.Wrapf(err, "read %s at %d", s.f.Name(), pos)
	}
	if n == 0 && len(dst) > 0 {
		return -1, nil
	}
	return n, nil
}

func (s *FileSource) Length() int64 { return s.length }

func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Wrap(s.f.Close(), "close file source")
}
