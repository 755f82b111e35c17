package scanner

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/source"
)

var (
	eofMarker       = []byte("%%EOF")
	startxrefMarker = []byte("startxref")
	pdfHeader       = []byte("%PDF-")
	fdfHeader       = []byte("%FDF-")
)

const (
	markerChunk  = 1024
	headerWindow = 1024
)

// indexFrom searches forward from pos for needle, reading the source in
// chunks that overlap by len(needle)-1 bytes so a match split across two
// reads is still found. limit bounds the number of bytes examined (0 = no
// limit). It returns -1 when needle does not occur.
func (t *Tokenizer) indexFrom(pos int64, needle []byte, limit int64) (int64, error) {
	chunk := len(t.buf)
	if chunk < markerChunk {
		chunk = markerChunk
	}
	buf := make([]byte, chunk)
	start := pos
	for {
		if limit > 0 && pos-start > limit {
			return -1, nil
		}
		n, err := t.src.GetRange(pos, buf)
		if err != nil {
			return -1, err
		}
		if n <= 0 {
			return -1, nil
		}
		if i := bytes.Index(buf[:n], needle); i >= 0 {
			return pos + int64(i), nil
		}
		if pos+int64(n) >= t.src.Length() {
			return -1, nil
		}
		step := n - (len(needle) - 1)
		if step < 1 {
			step = 1
		}
		pos += int64(step)
	}
}

// lastIndexBefore searches backward from end for the last occurrence of
// needle that finishes at or before end.
func (t *Tokenizer) lastIndexBefore(end int64, needle []byte) (int64, error) {
	buf := make([]byte, markerChunk)
	for end > 0 {
		from := end - int64(len(buf))
		if from < 0 {
			from = 0
		}
		part := buf[:end-from]
		if err := source.ReadFull(t.src, from, part); err != nil {
			return -1, err
		}
		if i := bytes.LastIndex(part, needle); i >= 0 {
			return from + int64(i), nil
		}
		if from == 0 {
			break
		}
		end = from + int64(len(needle)-1)
	}
	return -1, nil
}

// NextEOF scans forward from the cursor for the next %%EOF marker and
// returns the offset just past it plus one for the customary line break.
// The cursor is left right after the marker, so repeated calls walk through
// every marker of an incrementally updated file.
func (t *Tokenizer) NextEOF() (int64, error) {
	i, err := t.indexFrom(t.pos, eofMarker, 0)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, &FormatError{Pos: t.pos, Msg: "PDF %%EOF marker not found", Err: ErrEOFNotFound}
	}
	end := i + int64(len(eofMarker))
	t.pos = end
	return end + 1, nil
}

// LastEOF returns the NextEOF value of the final marker in the source.
func (t *Tokenizer) LastEOF() (int64, error) {
	last := int64(-1)
	for {
		off, err := t.NextEOF()
		if errors.Is(err, ErrEOFNotFound) {
			break
		}
		if err != nil {
			return 0, err
		}
		last = off
	}
	if last < 0 {
		return 0, &FormatError{Pos: t.pos, Msg: "PDF %%EOF marker not found", Err: ErrEOFNotFound}
	}
	return last, nil
}

// EOFOffsets lists the NextEOF value of every marker in the source, in file
// order.
func (t *Tokenizer) EOFOffsets() ([]int64, error) {
	saved := t.pos
	defer func() { t.pos = saved }()
	t.pos = 0
	var out []int64
	for {
		off, err := t.NextEOF()
		if errors.Is(err, ErrEOFNotFound) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, off)
	}
}

func (t *Tokenizer) head() ([]byte, error) {
	buf := make([]byte, headerWindow)
	n, err := t.src.GetRange(0, buf)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = 0
	}
	return buf[:n], nil
}

// CheckPDFHeader requires %PDF- at offset 0 and returns the version token,
// e.g. "PDF-1.7".
func (t *Tokenizer) CheckPDFHeader() (string, error) {
	b, err := t.head()
	if err != nil {
		return "", err
	}
	if !bytes.HasPrefix(b, pdfHeader) {
		return "", &FormatError{Pos: 0, Msg: "PDF header not found", Err: ErrHeaderNotFound}
	}
	end := 8
	if end > len(b) {
		end = len(b)
	}
	t.pos = int64(end)
	return string(b[1:end]), nil
}

// HeaderOffset returns where the real content starts when garbage precedes
// the %PDF- (or %FDF-) header within the first kilobyte.
func (t *Tokenizer) HeaderOffset() (int64, error) {
	b, err := t.head()
	if err != nil {
		return 0, err
	}
	i := bytes.Index(b, pdfHeader)
	if i < 0 {
		i = bytes.Index(b, fdfHeader)
	}
	if i < 0 {
		return 0, &FormatError{Pos: 0, Msg: "PDF header not found", Err: ErrHeaderNotFound}
	}
	return int64(i), nil
}

// StartXRef returns the offset recorded after the last startxref keyword.
func (t *Tokenizer) StartXRef() (int64, error) {
	i, err := t.lastIndexBefore(t.src.Length(), startxrefMarker)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, &FormatError{Pos: t.src.Length(), Msg: "PDF startxref not found", Err: ErrEOFNotFound}
	}
	t.pos = i + int64(len(startxrefMarker))
	if err := t.NextValidToken(); err != nil {
		return 0, err
	}
	if t.tok.Type != TokenNumber || !t.tok.IsInt {
		return 0, &FormatError{Pos: t.tok.Pos, Msg: "startxref is not followed by a number"}
	}
	return t.tok.Int, nil
}

// Locate returns the offset of the next occurrence of needle at or after the
// cursor, or -1.
func (t *Tokenizer) Locate(needle []byte) (int64, error) {
	return t.indexFrom(t.pos, needle, 0)
}

// LocateLast returns the offset of the last occurrence of needle in the
// source, or -1.
func (t *Tokenizer) LocateLast(needle []byte) (int64, error) {
	return t.lastIndexBefore(t.src.Length(), needle)
}
