package writer

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/ir/raw"
)

// Serializer writes raw objects as PDF syntax onto an OutputStream.
type Serializer struct {
	out *OutputStream
}

func NewSerializer(out *OutputStream) *Serializer { return &Serializer{out: out} }

func (s *Serializer) Output() *OutputStream { return s.out }

// WriteIndirect writes "N G obj <obj> endobj" and returns the offset of the
// object header.
func (s *Serializer) WriteIndirect(ref raw.ObjectRef, obj raw.Object) (int64, error) {
	off := s.out.Position()
	s.out.WriteInt(ref.Num)
	s.out.WriteSpace()
	s.out.WriteInt(ref.Gen)
	s.out.WriteString(" obj\n")
	if err := s.WriteObject(obj); err != nil {
		return off, errors.Wrapf(err, "object %s", ref)
	}
	s.out.WriteString("\nendobj\n")
	return off, s.out.Err()
}

// WriteObject writes a direct object. Dictionary keys are written in sorted
// order; stream dictionaries get a /Length matching the data.
func (s *Serializer) WriteObject(obj raw.Object) error {
	o := s.out
	switch v := obj.(type) {
	case nil, raw.NullObj:
		o.WriteString("null")
	case raw.BoolObj:
		if v.V {
			o.WriteString("true")
		} else {
			o.WriteString("false")
		}
	case raw.NumberObj:
		if v.IsInt {
			o.WriteInt64(v.I)
		} else {
			o.WriteFloat(v.F)
		}
	case raw.NameObj:
		o.WriteBytes(appendName(nil, v.Val))
	case raw.StringObj:
		if v.Hex {
			o.WriteBytes(appendHexString(nil, v.Bytes))
		} else {
			o.WriteBytes(escapeLiteralString(v.Bytes))
		}
	case raw.RefObj:
		o.WriteInt(v.R.Num)
		o.WriteSpace()
		o.WriteInt(v.R.Gen)
		o.WriteString(" R")
	case *raw.ArrayObj:
		o.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				o.WriteSpace()
			}
			if err := s.WriteObject(it); err != nil {
				return err
			}
		}
		o.WriteByte(']')
	case *raw.DictObj:
		return s.writeDict(v, nil)
	case *raw.StreamObj:
		dict := v.Dict
		if dict == nil {
			dict = raw.Dict()
		}
		if err := s.writeDict(dict, raw.NumberInt(int64(len(v.Data)))); err != nil {
			return err
		}
		o.WriteString("\nstream\n")
		o.WriteBytes(v.Data)
		o.WriteString("\nendstream")
	default:
		return errors.Errorf("cannot serialize %T", obj)
	}
	return o.Err()
}

// writeDict writes d; a non-nil length replaces /Length.
func (s *Serializer) writeDict(d *raw.DictObj, length raw.Object) error {
	o := s.out
	keys := make([]string, 0, len(d.KV)+1)
	for k := range d.KV {
		keys = append(keys, k)
	}
	if length != nil && !d.Has("Length") {
		keys = append(keys, "Length")
	}
	sort.Strings(keys)
	o.WriteString("<<")
	for _, k := range keys {
		o.WriteBytes(appendName(nil, k))
		o.WriteSpace()
		v := d.KV[k]
		if k == "Length" && length != nil {
			v = length
		}
		if err := s.WriteObject(v); err != nil {
			return errors.Wrapf(err, "key /%s", k)
		}
	}
	o.WriteString(">>")
	return o.Err()
}

// SerializeObject returns the bytes of obj written as indirect object ref.
func SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	out := NewOutputStream(&buf)
	if _, err := NewSerializer(out).WriteIndirect(ref, obj); err != nil {
		return nil, err
	}
	if err := out.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Marshal returns the PDF syntax of a direct object.
func Marshal(obj raw.Object) ([]byte, error) {
	var buf bytes.Buffer
	out := NewOutputStream(&buf)
	if err := NewSerializer(out).WriteObject(obj); err != nil {
		return nil, err
	}
	if err := out.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func escapeLiteralString(rawBytes []byte) []byte {
	var b bytes.Buffer
	b.WriteByte('(')
	for _, ch := range rawBytes {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		case '\b':
			b.WriteString("\\b")
		case '\f':
			b.WriteString("\\f")
		default:
			if ch < 0x20 || ch >= 0x80 {
				b.WriteByte('\\')
				b.WriteByte('0' + ch>>6)
				b.WriteByte('0' + (ch>>3)&7)
				b.WriteByte('0' + ch&7)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

func appendHexString(dst, data []byte) []byte {
	dst = append(dst, '<')
	n := len(dst)
	dst = append(dst, make([]byte, hex.EncodedLen(len(data)))...)
	hex.Encode(dst[n:], data)
	for i := n; i < len(dst); i++ {
		if c := dst[i]; c >= 'a' && c <= 'f' {
			dst[i] = c - 'a' + 'A'
		}
	}
	return append(dst, '>')
}

const hexDigits = "0123456789ABCDEF"

// appendName writes /value escaping delimiters, whitespace, '#' and bytes
// outside the printable ASCII range as #XX.
func appendName(dst []byte, value string) []byte {
	dst = append(dst, '/')
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch < 0x21 || ch > 0x7e || isDelimiter(ch) || ch == '#' {
			dst = append(dst, '#', hexDigits[ch>>4], hexDigits[ch&0x0f])
			continue
		}
		dst = append(dst, ch)
	}
	return dst
}

func isDelimiter(ch byte) bool {
	switch ch {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}
