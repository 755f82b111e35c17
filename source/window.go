package source

import (
	"sort"

	"github.com/pkg/errors"
)

// WindowSource exposes length bytes of src starting at offset. Closing the
// window closes src.
type WindowSource struct {
	src    ByteSource
	offset int64
	length int64
}

// NewWindowSource returns a view of src. A negative length extends the view
// to the end of src.
func NewWindowSource(src ByteSource, offset, length int64) (*WindowSource, error) {
	if offset < 0 {
		return nil, errors.Wrapf(ErrIllegalArgument, "window offset %d", offset)
	}
	if length < 0 {
		length = src.Length() - offset
		if length < 0 {
			length = 0
		}
	}
	return &WindowSource{src: src, offset: offset, length: length}, nil
}

func (w *WindowSource) Get(pos int64) (int, error) {
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	if pos >= w.length {
		return -1, nil
	}
	return w.src.Get(w.offset + pos)
}

func (w *WindowSource) GetRange(pos int64, dst []byte) (int, error) {
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	if pos >= w.length {
		return -1, nil
	}
	if rem := w.length - pos; int64(len(dst)) > rem {
		dst = dst[:rem]
	}
	return w.src.GetRange(w.offset+pos, dst)
}

func (w *WindowSource) Length() int64 { return w.length }
func (w *WindowSource) Close() error  { return w.src.Close() }

// IndependentSource shares src without owning it: Close is a no-op.
type IndependentSource struct {
	ByteSource
}

func NewIndependentSource(src ByteSource) IndependentSource {
	return IndependentSource{ByteSource: src}
}

func (IndependentSource) Close() error { return nil }

// GroupedSource concatenates several sources into one address space.
type GroupedSource struct {
	srcs   []ByteSource
	starts []int64
	length int64
}

func NewGroupedSource(srcs ...ByteSource) *GroupedSource {
	g := &GroupedSource{srcs: srcs, starts: make([]int64, len(srcs))}
	for i, s := range srcs {
		g.starts[i] = g.length
		g.length += s.Length()
	}
	return g
}

// find returns the index of the source holding pos.
func (g *GroupedSource) find(pos int64) int {
	return sort.Search(len(g.starts), func(i int) bool {
		return g.starts[i]+g.srcs[i].Length() > pos
	})
}

func (g *GroupedSource) Get(pos int64) (int, error) {
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	if pos >= g.length {
		return -1, nil
	}
	i := g.find(pos)
	return g.srcs[i].Get(pos - g.starts[i])
}

func (g *GroupedSource) GetRange(pos int64, dst []byte) (int, error) {
	if err := checkPos(pos); err != nil {
		return 0, err
	}
	if pos >= g.length {
		return -1, nil
	}
	read := 0
	for i := g.find(pos); i < len(g.srcs) && read < len(dst); i++ {
		n, err := g.srcs[i].GetRange(pos-g.starts[i], dst[read:])
		if err != nil {
			return read, err
		}
		if n <= 0 {
			continue
		}
		read += n
		pos += int64(n)
		if pos < g.starts[i]+g.srcs[i].Length() {
			// short read inside one member; report what we have
			break
		}
	}
	return read, nil
}

func (g *GroupedSource) Length() int64 { return g.length }

// Close closes every member and returns the first error.
func (g *GroupedSource) Close() error {
	var first error
	for _, s := range g.srcs {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
