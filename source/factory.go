package source

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/observability"
)

// Factory picks a ByteSource implementation for an input.
type Factory struct {
	// ForceRead loads files fully into memory instead of mapping them.
	ForceRead bool
	// PageSize and MaxOpenPages configure PagedSource for files larger than
	// MaxMappedSize.
	PageSize     int64
	MaxOpenPages int
	// MaxMappedSize is the largest file mapped as a single region. Zero means
	// MaxMappedLength.
	MaxMappedSize int64
	Logger        observability.Logger
}

func (f Factory) FromBytes(b []byte) ByteSource { return NewArraySource(b) }

// FromReader drains r into memory.
func (f Factory) FromReader(r io.Reader) (ByteSource, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read input")
	}
	return NewArraySource(b), nil
}

// FromFile opens path. Small or forced inputs are read into memory, files up
// to MaxMappedSize are mapped whole and larger ones are paged. A mapping
// failure falls back to plain positional reads.
func (f Factory) FromFile(path string) (ByteSource, error) {
	if f.ForceRead {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read file")
		}
		return NewArraySource(b), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open file")
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat file")
	}
	limit := f.MaxMappedSize
	if limit <= 0 || limit > MaxMappedLength {
		limit = MaxMappedLength
	}
	log := observability.OrDefault(f.Logger)
	if fi.Size() > limit {
		ps, err := NewPagedSource(file, f.PageSize, f.MaxOpenPages)
		if err != nil {
			file.Close()
			return nil, err
		}
		log.Debug("paged source", observability.String("path", path), observability.Int64("size", fi.Size()))
		return ps, nil
	}
	ms, err := NewMappedSource(file, 0, fi.Size(), true)
	if err == nil {
		return ms, nil
	}
	log.Warn("mapping failed, using file reads", observability.String("path", path), observability.Error("error", err))
	fs, ferr := NewFileSource(file)
	if ferr != nil {
		file.Close()
		return nil, ferr
	}
	return fs, nil
}

type readerAt struct {
	src ByteSource
}

// NewReaderAt adapts src to io.ReaderAt. Short reads at the end of the
// source return io.EOF.
func NewReaderAt(src ByteSource) io.ReaderAt { return readerAt{src: src} }

func (r readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Wrapf(ErrIllegalArgument, "negative offset %d", off)
	}
	read := 0
	for read < len(p) {
		n, err := r.src.GetRange(off+int64(read), p[read:])
		if err != nil {
			return read, err
		}
		if n <= 0 {
			return read, io.EOF
		}
		read += n
	}
	return read, nil
}

// ReaderAtSource serves a ByteSource from an io.ReaderAt of known size.
type ReaderAtSource struct {
	r      io.ReaderAt
	size   int64
	closed atomic.Bool
}

func NewReaderAtSource(r io.ReaderAt, size int64) *ReaderAtSource {
	return &ReaderAtSource{r: r, size: size}
}

func (s *ReaderAtSource) Get(pos int64) (int, error) {
	var b [1]byte
	n, err := s.GetRange(pos, b[:])
	if err != nil || n < 0 {
		return n, err
	}
	return int(b[0]), nil
}

func (s *ReaderAtSource) GetRange(pos int64, dst []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	if pos >= s.size {
		return -1, nil
	}
	if rem := s.size - pos; int64(len(dst)) > rem {
		dst = dst[:rem]
	}
	n, err := s.r.ReadAt(dst, pos)
	if err != nil && err != io.EOF {
		return n, errors.Wrapf(err, "read at %d", pos)
	}
	if n == 0 && len(dst) > 0 {
		return -1, nil
	}
	return n, nil
}

func (s *ReaderAtSource) Length() int64 { return s.size }

func (s *ReaderAtSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
