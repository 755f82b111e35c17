package source

import (
	"container/list"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

const (
	DefaultPageSize     = int64(1 << 22) // 4 MiB
	DefaultMaxOpenPages = 16
)

// PagedSource maps a large file as fixed-size windows. Windows are mapped on
// first use and evicted least-recently-used once more than maxOpen are
// mapped. A window in use by a reader holds a reference and is never
// evicted until released; an evicted window is remapped on the next access.
type PagedSource struct {
	f        *os.File
	length   int64
	pageSize int64
	maxOpen  int

	mu     sync.Mutex
	pages  []*window
	lru    *list.List // of *window, front = most recent
	closed bool
}

type window struct {
	index  int
	offset int64
	length int64
	m      mmap.MMap
	refs   int
	elem   *list.Element
}

// NewPagedSource takes ownership of f. pageSize is rounded up to a multiple
// of the OS page size.
func NewPagedSource(f *os.File, pageSize int64, maxOpen int) (*PagedSource, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", f.Name())
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxMappedLength {
		return nil, errors.Wrapf(ErrIllegalArgument, "page size %d exceeds %d", pageSize, MaxMappedLength)
	}
	osPage := int64(os.Getpagesize())
	if rem := pageSize % osPage; rem != 0 {
		pageSize += osPage - rem
	}
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenPages
	}
	size := fi.Size()
	count := int((size + pageSize - 1) / pageSize)
	pages := make([]*window, count)
	for i := range pages {
		off := int64(i) * pageSize
		l := pageSize
		if off+l > size {
			l = size - off
		}
		pages[i] = &window{index: i, offset: off, length: l}
	}
	return &PagedSource{
		f:        f,
		length:   size,
		pageSize: pageSize,
		maxOpen:  maxOpen,
		pages:    pages,
		lru:      list.New(),
	}, nil
}

// acquire returns the mapped window containing pos with its reference count
// raised. Callers must release it.
func (s *PagedSource) acquire(pos int64) (*window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	w := s.pages[pos/s.pageSize]
	if w.m == nil {
		m, err := mmap.MapRegion(s.f, int(w.length), mmap.RDONLY, 0, w.offset)
		if err != nil {
			return nil, errors.Wrapf(err, "map window %d of %s", w.index, s.f.Name())
		}
		adviseRandom(m)
		w.m = m
		w.elem = s.lru.PushFront(w)
		w.refs++
		s.evictLocked()
		return w, nil
	}
	s.lru.MoveToFront(w.elem)
	w.refs++
	return w, nil
}

func (s *PagedSource) release(w *window) {
	s.mu.Lock()
	w.refs--
	s.evictLocked()
	s.mu.Unlock()
}

func (s *PagedSource) evictLocked() {
	for e := s.lru.Back(); e != nil && s.lru.Len() > s.maxOpen; {
		prev := e.Prev()
		w := e.Value.(*window)
		if w.refs == 0 {
			s.unmapLocked(w)
		}
		e = prev
	}
}

func (s *PagedSource) unmapLocked(w *window) error {
	if w.m == nil {
		return nil
	}
	err := w.m.Unmap()
	w.m = nil
	s.lru.Remove(w.elem)
	w.elem = nil
	return err
}

// OpenWindows reports how many windows are currently mapped.
func (s *PagedSource) OpenWindows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

func (s *PagedSource) Get(pos int64) (int, error) {
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	if pos >= s.length {
		if s.isClosed() {
			return 0, ErrClosed
		}
		return -1, nil
	}
	w, err := s.acquire(pos)
	if err != nil {
		return 0, err
	}
	b := w.m[pos-w.offset]
	s.release(w)
	return int(b), nil
}

func (s *PagedSource) GetRange(pos int64, dst []byte) (int, error) {
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	if pos >= s.length {
		if s.isClosed() {
			return 0, ErrClosed
		}
		return -1, nil
	}
	read := 0
	for read < len(dst) && pos < s.length {
		w, err := s.acquire(pos)
		if err != nil {
			return read, err
		}
		n := copy(dst[read:], w.m[pos-w.offset:])
		s.release(w)
		read += n
		pos += int64(n)
	}
	return read, nil
}

func (s *PagedSource) Length() int64 { return s.length }

func (s *PagedSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close unmaps every open window and closes the file. Windows that were
// never touched need no work.
func (s *PagedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var first error
	for _, w := range s.pages {
		if err := s.unmapLocked(w); err != nil && first == nil {
			first = err
		}
	}
	if err := s.f.Close(); err != nil && first == nil {
		first = err
	}
	return errors.Wrap(first, "close paged source")
}
