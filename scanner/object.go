package scanner

import (
	"io"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
)

const defaultMaxDepth = 256

// ObjectReader assembles raw objects from the tokens of a Tokenizer.
type ObjectReader struct {
	Tok *Tokenizer
	// MaxDepth bounds array and dictionary nesting. Zero means 256.
	MaxDepth     int
	MaxArraySize int
	MaxDictSize  int
	// Length resolves an indirect stream /Length. When nil, or when it
	// reports false, the stream extent is found by searching for endstream.
	Length func(ref raw.ObjectRef) (int64, bool)
}

// NewObjectReader returns a reader over t with default limits.
func NewObjectReader(t *Tokenizer) *ObjectReader { return &ObjectReader{Tok: t} }

// ReadObject reads one direct object at the cursor. References are returned
// as raw.RefObj and not followed. It returns io.EOF at end of input.
func (r *ObjectReader) ReadObject() (raw.Object, error) {
	tok, err := r.next()
	if err != nil {
		return nil, err
	}
	return r.value(tok, 0)
}

// ReadValue assembles the object starting with tok, which the caller has
// already read. Keywords other than true, false and null are an error.
func (r *ObjectReader) ReadValue(tok Token) (raw.Object, error) { return r.value(tok, 0) }

// ReadIndirect reads "N G obj <object> endobj" at the cursor. A dictionary
// followed by the stream keyword yields a *raw.StreamObj.
func (r *ObjectReader) ReadIndirect() (raw.ObjectRef, raw.Object, error) {
	t := r.Tok
	start := t.Position()
	num, err := r.next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	gen, err := r.next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	kw, err := r.next()
	if err != nil {
		return raw.ObjectRef{}, nil, err
	}
	if num.Type != TokenNumber || !num.IsInt || gen.Type != TokenNumber || !gen.IsInt || !kw.IsKeyword("obj") {
		return raw.ObjectRef{}, nil, t.formatErr(start, "invalid object header")
	}
	ref := raw.ObjectRef{Num: int(num.Int), Gen: int(gen.Int)}

	tok, err := r.next()
	if err != nil {
		return ref, nil, err
	}
	if tok.IsKeyword("endobj") {
		// empty body is read as null
		return ref, raw.NullObj{}, nil
	}
	obj, err := r.value(tok, 0)
	if err != nil {
		return ref, nil, err
	}

	after := t.Position()
	tok, err = r.next()
	if err != nil {
		return ref, nil, err
	}
	if dict, ok := obj.(*raw.DictObj); ok && tok.IsKeyword("stream") {
		stream, err := r.readStream(dict)
		if err != nil {
			return ref, nil, errors.Wrapf(err, "object %s", ref)
		}
		obj = stream
		after = t.Position()
		if tok, err = r.next(); err != nil {
			return ref, nil, err
		}
	}
	if !tok.IsKeyword("endobj") {
		if err := t.recover(t.formatErr(tok.Pos, "endobj expected"), "object"); err != nil {
			return ref, nil, errors.Wrapf(err, "object %s", ref)
		}
		if err := t.Seek(after); err != nil {
			return ref, nil, err
		}
	}
	return ref, obj, nil
}

func (r *ObjectReader) readStream(dict *raw.DictObj) (*raw.StreamObj, error) {
	t := r.Tok
	if _, err := t.SkipStreamEOL(); err != nil {
		return nil, err
	}
	length, known := r.streamLength(dict)
	if known {
		data, err := t.ReadStreamData(length)
		if err == nil {
			return raw.NewStream(dict, data), nil
		}
		if !errors.Is(err, ErrStreamLength) {
			return nil, err
		}
		observability.OrDefault(t.cfg.Logger).Warn("stream length mismatch, searching for endstream",
			observability.Int64("offset", t.Position()),
			observability.Int64("length", length))
	}
	data, err := t.ReadUntilEndStream()
	if err != nil {
		return nil, err
	}
	dict.Put("Length", raw.NumberInt(int64(len(data))))
	return raw.NewStream(dict, data), nil
}

func (r *ObjectReader) streamLength(dict *raw.DictObj) (int64, bool) {
	v, ok := dict.Lookup("Length")
	if !ok {
		return 0, false
	}
	switch l := v.(type) {
	case raw.NumberObj:
		return l.Int(), l.IsInt && l.I >= 0
	case raw.RefObj:
		if r.Length == nil {
			return 0, false
		}
		return r.Length(l.R)
	}
	return 0, false
}

func (r *ObjectReader) next() (Token, error) { return r.Tok.Next() }

func (r *ObjectReader) maxDepth() int {
	if r.MaxDepth > 0 {
		return r.MaxDepth
	}
	return defaultMaxDepth
}

func (r *ObjectReader) value(tok Token, depth int) (raw.Object, error) {
	t := r.Tok
	switch tok.Type {
	case TokenNumber:
		if tok.IsInt {
			return raw.NumberInt(tok.Int), nil
		}
		return raw.NumberFloat(tok.Float), nil
	case TokenString:
		return raw.StringObj{Bytes: tok.Bytes, Hex: tok.Hex}, nil
	case TokenName:
		return raw.NameObj{Val: tok.Str}, nil
	case TokenRef:
		return raw.Ref(int(tok.Int), tok.Gen), nil
	case TokenStartArray:
		if depth >= r.maxDepth() {
			return nil, t.formatErr(tok.Pos, "nesting too deep")
		}
		return r.array(depth + 1)
	case TokenStartDict:
		if depth >= r.maxDepth() {
			return nil, t.formatErr(tok.Pos, "nesting too deep")
		}
		return r.dict(depth + 1)
	case TokenKeyword:
		switch tok.Str {
		case "true":
			return raw.Bool(true), nil
		case "false":
			return raw.Bool(false), nil
		case "null":
			return raw.NullObj{}, nil
		}
		return nil, t.formatErr(tok.Pos, "unexpected keyword "+tok.Str)
	}
	return nil, t.formatErr(tok.Pos, "unexpected "+tok.Type.String()+" token")
}

func (r *ObjectReader) array(depth int) (raw.Object, error) {
	t := r.Tok
	arr := raw.NewArray()
	for {
		tok, err := r.next()
		if err == io.EOF {
			if err := t.recover(t.formatErr(t.Position(), "unterminated array"), "array"); err != nil {
				return nil, err
			}
			return arr, nil
		}
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenEndArray {
			return arr, nil
		}
		if tok.IsKeyword("endobj") || tok.IsKeyword("stream") || tok.Type == TokenEndDict {
			if err := t.recover(t.formatErr(tok.Pos, "']' expected"), "array"); err != nil {
				return nil, err
			}
			if err := t.Seek(tok.Pos); err != nil {
				return nil, err
			}
			return arr, nil
		}
		if r.MaxArraySize > 0 && arr.Len() >= r.MaxArraySize {
			return nil, t.formatErr(tok.Pos, "array too large")
		}
		item, err := r.value(tok, depth)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
}

func (r *ObjectReader) dict(depth int) (raw.Object, error) {
	t := r.Tok
	d := raw.Dict()
	for {
		tok, err := r.next()
		if err == io.EOF {
			if err := t.recover(t.formatErr(t.Position(), "unterminated dictionary"), "dictionary"); err != nil {
				return nil, err
			}
			return d, nil
		}
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenEndDict {
			return d, nil
		}
		if tok.Type != TokenName {
			if tok.IsKeyword("endobj") || tok.IsKeyword("stream") {
				if err := t.recover(t.formatErr(tok.Pos, "'>>' expected"), "dictionary"); err != nil {
					return nil, err
				}
				if err := t.Seek(tok.Pos); err != nil {
					return nil, err
				}
				return d, nil
			}
			return nil, t.formatErr(tok.Pos, "dictionary key must be a name")
		}
		if r.MaxDictSize > 0 && d.Len() >= r.MaxDictSize {
			return nil, t.formatErr(tok.Pos, "dictionary too large")
		}
		key := tok.Str
		vt, err := r.next()
		if err != nil && err != io.EOF {
			return nil, err
		}
		if err == io.EOF || vt.Type == TokenEndDict {
			if err := t.recover(t.formatErr(tok.Pos, "missing value for /"+key), "dictionary"); err != nil {
				return nil, err
			}
			return d, nil
		}
		val, err := r.value(vt, depth)
		if err != nil {
			return nil, err
		}
		d.Put(key, val)
	}
}
