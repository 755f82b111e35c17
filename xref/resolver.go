package xref

import (
	"context"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/filters"
	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
	"github.com/wudi/pdfkernel/recovery"
	"github.com/wudi/pdfkernel/scanner"
	"github.com/wudi/pdfkernel/source"
)

type resolver struct {
	cfg        ResolverConfig
	linearized bool
	sections   []Table
	trailer    *raw.DictObj
}

func (r *resolver) Linearized() bool      { return r.linearized }
func (r *resolver) Incremental() []Table  { return r.sections }
func (r *resolver) Trailer() *raw.DictObj { return r.trailer }

func (r *resolver) logger() observability.Logger { return observability.OrDefault(r.cfg.Logger) }

func (r *resolver) Resolve(ctx context.Context, src source.ByteSource) (Table, error) {
	r.linearized, r.sections, r.trailer = false, nil, nil
	tok := scanner.New(src, scanner.Config{Recovery: r.cfg.Recovery, Logger: r.cfg.Logger})
	r.linearized = detectLinearized(tok)

	merged, err := r.resolveChain(ctx, tok)
	if err != nil {
		if _, derr := recovery.Decide(r.cfg.Recovery, err, recovery.Location{Component: "xref"}); derr != nil {
			return nil, derr
		}
		r.logger().Warn("cross-reference unreadable, rebuilding from object scan", observability.Error("error", err))
		rep, rerr := repair(ctx, src, r.cfg)
		if rerr != nil {
			return nil, errors.Wrap(rerr, "repair xref")
		}
		r.sections = []Table{rep}
		r.trailer = rep.trailer
		return rep, nil
	}
	r.trailer = merged.trailer
	return merged, nil
}

func (r *resolver) resolveChain(ctx context.Context, tok *scanner.Tokenizer) (*table, error) {
	start, err := tok.StartXRef()
	if err != nil {
		return nil, err
	}
	var merged *table
	visited := make(map[int64]bool)
	for off := start; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if visited[off] {
			return nil, errors.Errorf("xref loop at offset %d", off)
		}
		if len(visited) >= r.cfg.MaxXRefDepth {
			return nil, errors.Errorf("xref chain deeper than %d sections", r.cfg.MaxXRefDepth)
		}
		visited[off] = true

		sec, err := r.readSection(tok, off)
		if err != nil {
			return nil, err
		}
		r.sections = append(r.sections, sec)
		if merged == nil {
			merged = &table{kind: sec.kind, entries: make(map[int]Entry, len(sec.entries)), trailer: sec.trailer, startxref: off}
		}
		merged.merge(sec, false)

		prev, ok := sec.trailer.GetInt("Prev")
		if !ok {
			break
		}
		off = prev
	}
	if err := validateSize(merged); err != nil {
		if _, derr := recovery.Decide(r.cfg.Recovery, err, recovery.Location{Component: "xref:trailer"}); derr != nil {
			return nil, derr
		}
	}
	return merged, nil
}

// readSection reads the classic table or xref stream at off, folding in a
// hybrid /XRefStm.
func (r *resolver) readSection(tok *scanner.Tokenizer, off int64) (*table, error) {
	if off <= 0 || off >= tok.Length() {
		return nil, errors.Errorf("xref offset out of range: %d", off)
	}
	if err := tok.Seek(off); err != nil {
		return nil, err
	}
	first, err := tok.Next()
	if err != nil {
		return nil, errors.Wrapf(err, "xref at offset %d", off)
	}
	if first.IsKeyword("xref") {
		sec, err := r.readClassic(tok, off)
		if err != nil {
			return nil, err
		}
		if stm, ok := sec.trailer.GetInt("XRefStm"); ok {
			hybrid, err := r.readStream(tok, stm)
			if err != nil {
				return nil, errors.Wrap(err, "hybrid xref stream")
			}
			sec.merge(hybrid, true)
		}
		return sec, nil
	}
	return r.readStream(tok, off)
}

func (r *resolver) readClassic(tok *scanner.Tokenizer, off int64) (*table, error) {
	sec := newTable("table")
	sec.startxref = off
	for {
		t, err := tok.Next()
		if err != nil {
			return nil, errors.Wrapf(err, "xref table at offset %d", off)
		}
		if t.IsKeyword("trailer") {
			break
		}
		count, err := tok.Next()
		if err != nil {
			return nil, errors.Wrapf(err, "xref table at offset %d", off)
		}
		if t.Type != scanner.TokenNumber || !t.IsInt || count.Type != scanner.TokenNumber || !count.IsInt {
			return nil, errors.Errorf("invalid xref subsection header at offset %d", t.Pos)
		}
		startObj := int(t.Int)
		for i := 0; i < int(count.Int); i++ {
			offTok, err1 := tok.Next()
			genTok, err2 := tok.Next()
			kind, err3 := tok.Next()
			if err := firstErr(err1, err2, err3); err != nil {
				return nil, errors.Wrap(err, "unexpected end of xref section")
			}
			if offTok.Type != scanner.TokenNumber || genTok.Type != scanner.TokenNumber || kind.Type != scanner.TokenKeyword {
				return nil, errors.Errorf("invalid xref entry at offset %d", offTok.Pos)
			}
			e := Entry{Offset: offTok.Int, Gen: int(genTok.Int)}
			switch kind.Str {
			case "n":
				e.Type = EntryInUse
			case "f":
				e.Type = EntryFree
			default:
				return nil, errors.Errorf("invalid xref entry type %q at offset %d", kind.Str, kind.Pos)
			}
			if e.Type == EntryInUse && e.Offset == 0 {
				e.Type = EntryFree
			}
			sec.entries[startObj+i] = e
		}
	}
	obj, err := scanner.NewObjectReader(tok).ReadObject()
	if err != nil {
		return nil, errors.Wrapf(err, "trailer of xref at offset %d", off)
	}
	trailer, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, errors.Errorf("trailer of xref at offset %d is not a dictionary", off)
	}
	sec.trailer = trailer
	return sec, nil
}

func (r *resolver) readStream(tok *scanner.Tokenizer, off int64) (*table, error) {
	if err := tok.Seek(off); err != nil {
		return nil, err
	}
	or := scanner.NewObjectReader(tok)
	_, obj, err := or.ReadIndirect()
	if err != nil {
		return nil, errors.Wrapf(err, "xref stream at offset %d", off)
	}
	stm, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, errors.Errorf("object at offset %d is not an xref stream", off)
	}
	if typ, _ := stm.Dict.GetName("Type"); typ != "XRef" {
		return nil, errors.Errorf("object at offset %d has type %q, want XRef", off, typ)
	}
	data, err := filters.NewDefaultPipeline(r.cfg.Limits).DecodeStream(context.Background(), stm)
	if err != nil {
		return nil, errors.Wrapf(err, "xref stream at offset %d", off)
	}
	sec := newTable("xref-stream")
	sec.startxref = off
	sec.trailer = stm.Dict
	if err := decodeStreamEntries(sec, stm.Dict, data); err != nil {
		return nil, errors.Wrapf(err, "xref stream at offset %d", off)
	}
	return sec, nil
}

func decodeStreamEntries(sec *table, dict *raw.DictObj, data []byte) error {
	wArr, ok := dict.GetArray("W")
	if !ok || wArr.Len() != 3 {
		return errors.New("missing or invalid /W")
	}
	var w [3]int
	for i := range w {
		n, ok := wArr.Items[i].(raw.NumberObj)
		if !ok || n.Int() < 0 || n.Int() > 8 {
			return errors.New("invalid /W entry")
		}
		w[i] = int(n.Int())
	}
	rowLen := w[0] + w[1] + w[2]
	if rowLen == 0 {
		return errors.New("empty /W")
	}

	size, _ := dict.GetInt("Size")
	var index []int64
	if idx, ok := dict.GetArray("Index"); ok {
		for _, it := range idx.Items {
			n, ok := it.(raw.NumberObj)
			if !ok {
				return errors.New("invalid /Index entry")
			}
			index = append(index, n.Int())
		}
	} else {
		index = []int64{0, size}
	}
	if len(index)%2 != 0 {
		return errors.New("odd /Index length")
	}

	pos := 0
	for i := 0; i < len(index); i += 2 {
		first, count := int(index[i]), int(index[i+1])
		for j := 0; j < count; j++ {
			if pos+rowLen > len(data) {
				return nil
			}
			row := data[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if w[0] > 0 {
				typ = field(row[:w[0]])
			}
			f2 := field(row[w[0] : w[0]+w[1]])
			f3 := field(row[w[0]+w[1]:])
			num := first + j
			if _, seen := sec.entries[num]; seen {
				continue
			}
			switch typ {
			case 0:
				sec.entries[num] = Entry{Type: EntryFree, Gen: int(f3)}
			case 1:
				sec.entries[num] = Entry{Type: EntryInUse, Offset: f2, Gen: int(f3)}
			case 2:
				sec.entries[num] = Entry{Type: EntryCompressed, StreamNum: int(f2), Index: int(f3)}
			}
		}
	}
	return nil
}

func field(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// validateSize checks that every entry lies below the trailer /Size.
func validateSize(t *table) error {
	size, ok := t.trailer.GetInt("Size")
	if !ok {
		return errors.New("trailer missing /Size")
	}
	for num := range t.entries {
		if int64(num) >= size {
			return errors.Errorf("object %d not below trailer /Size %d", num, size)
		}
	}
	return nil
}

// detectLinearized reports whether the first object after the header
// carries a /Linearized entry.
func detectLinearized(tok *scanner.Tokenizer) bool {
	hdr, err := tok.HeaderOffset()
	if err != nil {
		return false
	}
	if err := tok.Seek(hdr); err != nil {
		return false
	}
	// skip the header comment line
	if _, err := tok.NextToken(); err != nil {
		return false
	}
	_, obj, err := scanner.NewObjectReader(tok).ReadIndirect()
	if err != nil {
		return false
	}
	d, ok := obj.(*raw.DictObj)
	return ok && d.Has("Linearized")
}
