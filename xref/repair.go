package xref

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/recovery"
	"github.com/wudi/pdfkernel/scanner"
	"github.com/wudi/pdfkernel/source"
)

// skipAll tells the scanner to step over any anomaly during a repair scan.
type skipAll struct{}

func (skipAll) OnError(recovery.Context, error, recovery.Location) recovery.Action {
	return recovery.ActionSkip
}

// repair scans the entire file to reconstruct the xref table.
// It looks for "<num> <gen> obj" patterns and "trailer" dictionaries; later
// definitions replace earlier ones.
func repair(ctx context.Context, src source.ByteSource, cfg ResolverConfig) (*table, error) {
	s := scanner.New(src, scanner.Config{Recovery: skipAll{}, Logger: cfg.Logger})
	t := newTable("repair")
	var lastTrailer *raw.DictObj

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, source.ErrClosed) {
				return nil, err
			}
			continue
		}

		switch {
		case tok.Type == scanner.TokenNumber && tok.IsInt && tok.Int >= 0:
			genTok, err := s.Next()
			if err != nil {
				continue
			}
			if genTok.Type != scanner.TokenNumber || !genTok.IsInt {
				if err := s.Seek(genTok.Pos); err != nil {
					return nil, err
				}
				continue
			}
			objTok, err := s.Next()
			if err != nil {
				continue
			}
			if objTok.IsKeyword("obj") {
				t.entries[int(tok.Int)] = Entry{Type: EntryInUse, Offset: tok.Pos, Gen: int(genTok.Int)}
				continue
			}
			// "999 1 0 obj": the second number may start the real header
			if err := s.Seek(genTok.Pos); err != nil {
				return nil, err
			}
		case tok.IsKeyword("stream"):
			if _, err := s.ReadUntilEndStream(); err != nil {
				continue
			}
		case tok.IsKeyword("trailer"):
			obj, err := scanner.NewObjectReader(s).ReadObject()
			if err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
		}
	}

	if len(t.entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}
	if lastTrailer == nil {
		lastTrailer = raw.Dict()
	}
	if !lastTrailer.Has("Root") {
		if root, ok := findCatalog(src, t); ok {
			lastTrailer.Put("Root", root)
		}
	}
	lastTrailer.Delete("Prev")
	lastTrailer.Delete("XRefStm")
	lastTrailer.Put("Size", raw.NumberInt(int64(t.Size())))
	t.trailer = lastTrailer
	return t, nil
}

// findCatalog parses the recovered objects looking for /Type /Catalog.
func findCatalog(src source.ByteSource, t *table) (raw.RefObj, bool) {
	s := scanner.New(src, scanner.Config{Recovery: skipAll{}})
	or := scanner.NewObjectReader(s)
	for _, num := range t.Objects() {
		e := t.entries[num]
		if err := s.Seek(e.Offset); err != nil {
			continue
		}
		ref, obj, err := or.ReadIndirect()
		if err != nil {
			continue
		}
		if d, ok := obj.(*raw.DictObj); ok {
			if typ, _ := d.GetName("Type"); typ == "Catalog" {
				return ref.Object(), true
			}
		}
	}
	return raw.RefObj{}, false
}
