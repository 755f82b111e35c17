package source

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

var unmapEnabled atomic.Bool

func init() { unmapEnabled.Store(true) }

// SetUnmapEnabled toggles explicit unmapping on Close for every MappedSource
// in the process. When disabled, Close releases the file handle but leaves the
// mapping alive, so reads after Close keep working.
func SetUnmapEnabled(enabled bool) { unmapEnabled.Store(enabled) }

// UnmapEnabled reports the current process-wide unmap setting.
func UnmapEnabled() bool { return unmapEnabled.Load() }

// MappedSource serves bytes from a read-only memory mapping.
type MappedSource struct {
	mu     sync.RWMutex
	m      mmap.MMap
	length int64
	file   *os.File // closed with the source when owned
	closed bool
	kept   bool // mapping left alive by a Close with unmapping disabled
}

// NewMappedSource maps length bytes of f starting at offset. offset must be a
// multiple of the OS page size. When owns is true the file is closed together
// with the source.
func NewMappedSource(f *os.File, offset, length int64, owns bool) (*MappedSource, error) {
	if offset < 0 || length < 0 {
		return nil, errors.Wrapf(ErrIllegalArgument, "mapping offset %d length %d", offset, length)
	}
	if length > MaxMappedLength {
		return nil, errors.Wrapf(ErrIllegalArgument, "mapping length %d exceeds %d", length, MaxMappedLength)
	}
	s := &MappedSource{length: length}
	if owns {
		s.file = f
	}
	if length == 0 {
		return s, nil
	}
	m, err := mmap.MapRegion(f, int(length), mmap.RDONLY, 0, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "map %s at %d", f.Name(), offset)
	}
	adviseRandom(m)
	s.m = m
	return s, nil
}

// MapFile opens path and maps it completely.
func MapFile(path string) (*MappedSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat")
	}
	s, err := NewMappedSource(f, 0, fi.Size(), true)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *MappedSource) Get(pos int64) (int, error) {
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed && !s.kept {
		return 0, ErrClosed
	}
	if pos >= s.length {
		return -1, nil
	}
	return int(s.m[pos]), nil
}

func (s *MappedSource) GetRange(pos int64, dst []byte) (int, error) {
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed && !s.kept {
		return 0, ErrClosed
	}
	if pos >= s.length {
		return -1, nil
	}
	return copy(dst, s.m[pos:]), nil
}

func (s *MappedSource) Length() int64 { return s.length }

// Close is idempotent. The mapping is released only while unmapping is
// enabled (see SetUnmapEnabled).
func (s *MappedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.kept = !UnmapEnabled()
	var err error
	if s.m != nil && !s.kept {
		err = s.m.Unmap()
		s.m = nil
	}
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
		s.file = nil
	}
	return errors.Wrap(err, "close mapped source")
}
