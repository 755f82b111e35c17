package xref

import (
	"context"
	"sort"

	"github.com/wudi/pdfkernel/filters"
	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
	"github.com/wudi/pdfkernel/recovery"
	"github.com/wudi/pdfkernel/source"
)

// EntryType classifies a cross-reference entry.
type EntryType int

const (
	EntryFree EntryType = iota
	EntryInUse
	EntryCompressed
)

// Entry is one cross-reference record. For compressed entries StreamNum and
// Index locate the object inside an object stream.
type Entry struct {
	Type      EntryType
	Offset    int64
	Gen       int
	StreamNum int
	Index     int
}

// Table holds the merged cross-reference information of a PDF.
type Table interface {
	Lookup(objNum int) (offset int64, gen int, found bool)
	ObjStream(objNum int) (stmNum int, idx int, ok bool)
	Entry(objNum int) (Entry, bool)
	// Generation returns the generation recorded for objNum, including
	// free entries.
	Generation(objNum int) (int, bool)
	Objects() []int
	Size() int
	Trailer() *raw.DictObj
	Type() string
	// StartXRef is the offset of the newest section, used as /Prev by an
	// incremental update.
	StartXRef() int64
}

// Resolver locates and parses xref information in a PDF.
type Resolver interface {
	Resolve(ctx context.Context, src source.ByteSource) (Table, error)
	Linearized() bool
	// Incremental returns the individual sections, newest first.
	Incremental() []Table
	Trailer() *raw.DictObj
}

type ResolverConfig struct {
	MaxXRefDepth int
	Recovery     recovery.Strategy
	Limits       filters.Limits
	Logger       observability.Logger
}

const defaultMaxXRefDepth = 64

// NewResolver returns a resolver for classic tables, xref streams and
// hybrid files.
func NewResolver(cfg ResolverConfig) Resolver {
	if cfg.MaxXRefDepth <= 0 {
		cfg.MaxXRefDepth = defaultMaxXRefDepth
	}
	return &resolver{cfg: cfg}
}

type table struct {
	kind      string
	entries   map[int]Entry
	trailer   *raw.DictObj
	startxref int64
}

func newTable(kind string) *table {
	return &table{kind: kind, entries: make(map[int]Entry)}
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Type != EntryInUse {
		return 0, 0, false
	}
	return e.Offset, e.Gen, true
}

func (t *table) ObjStream(objNum int) (int, int, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Type != EntryCompressed {
		return 0, 0, false
	}
	return e.StreamNum, e.Index, true
}

func (t *table) Entry(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	return e, ok
}

func (t *table) Generation(objNum int) (int, bool) {
	e, ok := t.entries[objNum]
	if !ok {
		return 0, false
	}
	return e.Gen, true
}

// Objects lists in-use and compressed object numbers in ascending order.
func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k, e := range t.entries {
		if e.Type != EntryFree {
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out
}

func (t *table) Size() int {
	if n, ok := t.trailer.GetInt("Size"); ok && n > 0 {
		return int(n)
	}
	max := -1
	for k := range t.entries {
		if k > max {
			max = k
		}
	}
	return max + 1
}

func (t *table) Trailer() *raw.DictObj { return t.trailer }
func (t *table) Type() string          { return t.kind }
func (t *table) StartXRef() int64      { return t.startxref }

// merge adds the entries of older that t does not define yet. A free entry
// in t is replaced by a compressed entry from a hybrid stream.
func (t *table) merge(older *table, hybrid bool) {
	for k, e := range older.entries {
		cur, ok := t.entries[k]
		if !ok || (hybrid && cur.Type == EntryFree && e.Type != EntryFree) {
			t.entries[k] = e
		}
	}
}
