package scanner

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/source"
)

var endstreamMarker = []byte("endstream")

// ErrStreamLength is returned by ReadStreamData when the declared length does
// not end at an endstream keyword.
var ErrStreamLength = errors.New("stream length does not match endstream position")

// SkipStreamEOL consumes the end of line that must follow the stream keyword
// and returns the offset of the first data byte. CRLF and LF are the legal
// forms; a lone CR is accepted.
func (t *Tokenizer) SkipStreamEOL() (int64, error) {
	for t.Peek() == ' ' {
		t.pos++
	}
	switch t.Peek() {
	case '\r':
		t.pos++
		if t.Peek() == '\n' {
			t.pos++
		}
	case '\n':
		t.pos++
	default:
		if err := t.recover(t.formatErr(t.pos, "stream missing EOL before data"), "stream"); err != nil {
			return 0, err
		}
	}
	return t.pos, nil
}

// ReadStreamData reads length bytes at the cursor and checks that endstream
// follows, optionally after an end of line. On success the cursor is left
// after the endstream keyword. On mismatch the cursor is restored and
// ErrStreamLength is returned so the caller can fall back to
// ReadUntilEndStream.
func (t *Tokenizer) ReadStreamData(length int64) ([]byte, error) {
	start := t.pos
	if length < 0 || start+length > t.src.Length() {
		return nil, errors.Wrapf(ErrStreamLength, "length %d at offset %d", length, start)
	}
	if t.cfg.MaxStreamLength > 0 && length > t.cfg.MaxStreamLength {
		return nil, t.recoverHard(t.formatErr(start, "stream too long"), "stream")
	}
	data := make([]byte, length)
	if err := source.ReadFull(t.src, start, data); err != nil {
		return nil, err
	}
	t.pos = start + length
	t.skipWhitespace()
	tail := make([]byte, len(endstreamMarker))
	n, err := t.PeekInto(tail)
	if err != nil {
		return nil, err
	}
	if n != len(tail) || !bytes.Equal(tail, endstreamMarker) {
		t.pos = start
		return nil, errors.Wrapf(ErrStreamLength, "length %d at offset %d", length, start)
	}
	t.pos += int64(len(endstreamMarker))
	return data, nil
}

// ReadUntilEndStream returns the bytes between the cursor and the next
// endstream keyword, without the end of line before it.
func (t *Tokenizer) ReadUntilEndStream() ([]byte, error) {
	start := t.pos
	idx := int64(-1)
	for from := start; ; {
		i, err := t.indexFrom(from, endstreamMarker, t.cfg.MaxStreamScan)
		if err != nil {
			return nil, err
		}
		if i < 0 {
			break
		}
		next := t.byteAt(i + int64(len(endstreamMarker)))
		if next == -1 || isDelimiter(byte(next)) {
			idx = i
			break
		}
		from = i + 1
	}
	if idx < 0 {
		if t.cfg.MaxStreamScan > 0 {
			if err := t.recover(t.formatErr(start, "endstream not found within scan limit"), "stream"); err != nil {
				return nil, err
			}
		} else if err := t.recover(t.formatErr(start, "endstream not found"), "stream"); err != nil {
			return nil, err
		}
		data := t.readSpan(start, t.src.Length())
		t.pos = t.src.Length()
		return data, nil
	}
	end := idx
	if end > start && t.byteAt(end-1) == '\n' {
		end--
	}
	if end > start && t.byteAt(end-1) == '\r' {
		end--
	}
	if t.cfg.MaxStreamLength > 0 && end-start > t.cfg.MaxStreamLength {
		return nil, t.recoverHard(t.formatErr(start, "stream too long"), "stream")
	}
	data := t.readSpan(start, end)
	t.pos = idx + int64(len(endstreamMarker))
	return data, t.ioErr
}

// ReadInlineImageData consumes the data of an inline image after the ID
// operator, up to an EI operator that starts a line and is followed by a
// delimiter. The cursor is left after EI.
func (t *Tokenizer) ReadInlineImageData() ([]byte, error) {
	c := t.Peek()
	if c == -1 || !isWhitespace(byte(c)) {
		if err := t.recover(t.formatErr(t.pos, "inline image missing required whitespace after ID"), "inline_image"); err != nil {
			return nil, err
		}
	} else {
		t.pos++
	}
	dataStart := t.pos
	for {
		c = t.byteAt(t.pos)
		if c == -1 {
			if err := t.recover(t.formatErr(dataStart, "unterminated inline image"), "inline_image"); err != nil {
				return nil, err
			}
			data := t.readSpan(dataStart, t.pos)
			return data, nil
		}
		if c == 'E' && t.byteAt(t.pos+1) == 'I' && t.pos > dataStart && isWhitespace(byte(t.byteAt(t.pos-1))) {
			after := t.byteAt(t.pos + 2)
			if after == -1 || isDelimiter(byte(after)) {
				data := t.readSpan(dataStart, t.pos)
				t.pos += 2
				return data, nil
			}
		}
		t.pos++
		if t.cfg.MaxInlineImage > 0 && t.pos-dataStart > t.cfg.MaxInlineImage {
			return nil, t.recoverHard(t.formatErr(dataStart, "inline image too long"), "inline_image")
		}
	}
}

// recoverHard reports err to the strategy but always fails; limits are not
// negotiable.
func (t *Tokenizer) recoverHard(err error, what string) error {
	_ = t.recover(err, what)
	return err
}
