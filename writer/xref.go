package writer

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/filters"
	"github.com/wudi/pdfkernel/ir/raw"
)

type XRefKind int

const (
	XRefFree XRefKind = iota
	XRefInUse
	XRefCompressed
)

// XRefEntry is one row of a cross-reference section being written.
type XRefEntry struct {
	Kind   XRefKind
	Offset int64
	Gen    int
	// Stream and Index locate a compressed object.
	Stream int
	Index  int
}

// XRefWriter collects entries for one cross-reference section. A full
// section starts at object 0; an incremental one lists only changed objects.
type XRefWriter struct {
	entries map[int]XRefEntry
}

func NewXRefWriter() *XRefWriter { return &XRefWriter{entries: make(map[int]XRefEntry)} }

func (x *XRefWriter) InUse(num, gen int, offset int64) {
	x.entries[num] = XRefEntry{Kind: XRefInUse, Offset: offset, Gen: gen}
}

// Free records a deleted object; gen is the generation the number will be
// reused with.
func (x *XRefWriter) Free(num, gen int) {
	x.entries[num] = XRefEntry{Kind: XRefFree, Gen: gen}
}

func (x *XRefWriter) Compressed(num, stream, index int) {
	x.entries[num] = XRefEntry{Kind: XRefCompressed, Stream: stream, Index: index}
}

func (x *XRefWriter) Entry(num int) (XRefEntry, bool) {
	e, ok := x.entries[num]
	return e, ok
}

func (x *XRefWriter) Len() int { return len(x.entries) }

// Size is one more than the highest object number recorded.
func (x *XRefWriter) Size() int {
	max := -1
	for n := range x.entries {
		if n > max {
			max = n
		}
	}
	return max + 1
}

func (x *XRefWriter) sortedNums() []int {
	nums := make([]int, 0, len(x.entries))
	for n := range x.entries {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Fill marks every number below size without an entry as free, so a full
// section covers 0..size-1 in a single subsection.
func (x *XRefWriter) Fill(size int) {
	for n := 0; n < size; n++ {
		if _, ok := x.entries[n]; !ok {
			gen := 0
			if n == 0 {
				gen = 65535
			}
			x.Free(n, gen)
		}
	}
}

// linkFree chains the free entries: each free entry points at the next
// free object number and the last one at 0.
func (x *XRefWriter) linkFree(nums []int) map[int]int64 {
	var free []int
	for _, n := range nums {
		if x.entries[n].Kind == XRefFree {
			free = append(free, n)
		}
	}
	next := make(map[int]int64, len(free))
	for i, n := range free {
		if i+1 < len(free) {
			next[n] = int64(free[i+1])
		} else {
			next[n] = 0
		}
	}
	return next
}

// subsections groups sorted numbers into contiguous runs.
func subsections(nums []int) [][2]int {
	var out [][2]int
	for i := 0; i < len(nums); {
		j := i + 1
		for j < len(nums) && nums[j] == nums[j-1]+1 {
			j++
		}
		out = append(out, [2]int{nums[i], j - i})
		i = j
	}
	return out
}

// WriteTable writes a classic "xref" table followed by the trailer,
// startxref and %%EOF. It returns the offset of the xref keyword.
func (x *XRefWriter) WriteTable(s *Serializer, trailer *raw.DictObj) (int64, error) {
	o := s.Output()
	start := o.Position()
	nums := x.sortedNums()
	next := x.linkFree(nums)
	o.WriteString("xref\n")
	var line [20]byte
	for _, sub := range subsections(nums) {
		o.WriteInt(sub[0])
		o.WriteSpace()
		o.WriteInt(sub[1])
		o.WriteNewLine()
		for n := sub[0]; n < sub[0]+sub[1]; n++ {
			e := x.entries[n]
			field, kind := e.Offset, byte('n')
			if e.Kind == XRefFree {
				field, kind = next[n], 'f'
			} else if e.Kind == XRefCompressed {
				return start, errors.Errorf("object %d is compressed and needs an xref stream", n)
			}
			o.WriteBytes(formatXRefLine(line[:0], field, e.Gen, kind))
		}
	}
	o.WriteString("trailer\n")
	if err := s.WriteObject(trailer); err != nil {
		return start, errors.Wrap(err, "trailer")
	}
	o.WriteByte('\n')
	writeStartXRef(o, start)
	return start, o.Err()
}

// formatXRefLine produces the fixed 20-byte row "oooooooooo ggggg n \n".
func formatXRefLine(dst []byte, field int64, gen int, kind byte) []byte {
	dst = appendPadded(dst, field, 10)
	dst = append(dst, ' ')
	dst = appendPadded(dst, int64(gen), 5)
	return append(dst, ' ', kind, ' ', '\n')
}

// WriteStream writes the section as a cross-reference stream object numbered
// num. The trailer entries are merged into the stream dictionary.
func (x *XRefWriter) WriteStream(s *Serializer, num int, trailer *raw.DictObj, compress bool) (int64, error) {
	o := s.Output()
	start := o.Position()
	x.InUse(num, 0, start)
	nums := x.sortedNums()
	next := x.linkFree(nums)

	var maxField, maxGen int64
	for _, n := range nums {
		e := x.entries[n]
		f, g := e.Offset, int64(e.Gen)
		switch e.Kind {
		case XRefFree:
			f = next[n]
		case XRefCompressed:
			f, g = int64(e.Stream), int64(e.Index)
		}
		if f > maxField {
			maxField = f
		}
		if g > maxGen {
			maxGen = g
		}
	}
	w := [3]int{1, byteWidth(maxField), byteWidth(maxGen)}

	index := raw.NewArray()
	var data []byte
	for _, sub := range subsections(nums) {
		index.Append(raw.NumberInt(int64(sub[0])))
		index.Append(raw.NumberInt(int64(sub[1])))
		for n := sub[0]; n < sub[0]+sub[1]; n++ {
			e := x.entries[n]
			switch e.Kind {
			case XRefFree:
				data = appendXRefStreamEntry(data, w, 0, next[n], int64(e.Gen))
			case XRefInUse:
				data = appendXRefStreamEntry(data, w, 1, e.Offset, int64(e.Gen))
			case XRefCompressed:
				data = appendXRefStreamEntry(data, w, 2, int64(e.Stream), int64(e.Index))
			}
		}
	}

	dict := raw.Dict()
	if trailer != nil {
		for k, v := range trailer.KV {
			dict.Put(k, v)
		}
	}
	dict.Put("Type", raw.NameLiteral("XRef"))
	dict.Put("Size", raw.NumberInt(int64(x.Size())))
	dict.Put("W", raw.NewArray(raw.NumberInt(int64(w[0])), raw.NumberInt(int64(w[1])), raw.NumberInt(int64(w[2]))))
	dict.Put("Index", index)
	if compress {
		data = filters.EncodeFlate(data)
		dict.Put("Filter", raw.NameLiteral("FlateDecode"))
	}
	if _, err := s.WriteIndirect(raw.ObjectRef{Num: num}, raw.NewStream(dict, data)); err != nil {
		return start, errors.Wrap(err, "xref stream")
	}
	writeStartXRef(o, start)
	return start, o.Err()
}

func byteWidth(v int64) int {
	n := 1
	for v > 0xff {
		v >>= 8
		n++
	}
	return n
}

func appendXRefStreamEntry(buf []byte, w [3]int, typ, field2, field3 int64) []byte {
	for _, f := range [3]struct {
		v int64
		n int
	}{{typ, w[0]}, {field2, w[1]}, {field3, w[2]}} {
		for i := f.n - 1; i >= 0; i-- {
			buf = append(buf, byte(f.v>>(8*uint(i))))
		}
	}
	return buf
}

func writeStartXRef(o *OutputStream, off int64) {
	o.WriteString("startxref\n")
	o.WriteInt64(off)
	o.WriteString("\n%%EOF\n")
}
