package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"
)

// ErrFinished is returned by writes to an encoder after Finish or Close.
var ErrFinished = errors.New("encoder already finished")

// Encoder is a streaming filter encoder. Finish flushes pending input and
// writes the end-of-data marker; it is idempotent. Close calls Finish and
// leaves the underlying writer open.
type Encoder interface {
	io.WriteCloser
	Finish() error
}

// NewEncoder returns the encoder for the named filter writing to w.
func NewEncoder(name string, w io.Writer) (Encoder, error) {
	switch canonicalName(name) {
	case "FlateDecode":
		return NewFlateWriter(w), nil
	case "ASCII85Decode":
		return NewASCII85Writer(w), nil
	case "ASCIIHexDecode":
		return NewASCIIHexWriter(w), nil
	case "RunLengthDecode":
		return NewRunLengthWriter(w), nil
	}
	return nil, UnsupportedError{Filter: name}
}

// Encode runs data through the named encoder.
func Encode(name string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := NewEncoder(name, &buf)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		return nil, err
	}
	if err := enc.Finish(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func EncodeFlate(data []byte) []byte     { b, _ := Encode("FlateDecode", data); return b }
func EncodeASCII85(data []byte) []byte   { b, _ := Encode("ASCII85Decode", data); return b }
func EncodeASCIIHex(data []byte) []byte  { b, _ := Encode("ASCIIHexDecode", data); return b }
func EncodeRunLength(data []byte) []byte { b, _ := Encode("RunLengthDecode", data); return b }

// finisher holds the finished state shared by the encoders.
type finisher struct {
	done bool
	err  error
}

func (f *finisher) finish(fn func() error) error {
	if f.done {
		return f.err
	}
	f.done = true
	f.err = fn()
	return f.err
}

type flateWriter struct {
	finisher
	zw *zlib.Writer
}

// NewFlateWriter compresses with zlib at the default level.
func NewFlateWriter(w io.Writer) Encoder { return &flateWriter{zw: zlib.NewWriter(w)} }

func (f *flateWriter) Write(p []byte) (int, error) {
	if f.done {
		return 0, ErrFinished
	}
	return f.zw.Write(p)
}
func (f *flateWriter) Finish() error { return f.finish(f.zw.Close) }
func (f *flateWriter) Close() error  { return f.Finish() }

type ascii85Writer struct {
	finisher
	w   io.Writer
	enc io.WriteCloser
}

// NewASCII85Writer encodes 4-byte groups as 5 base-85 digits. A full group of
// zeros becomes 'z'; a final group of n bytes is written as n+1 digits.
// Finish appends "~>".
func NewASCII85Writer(w io.Writer) Encoder {
	return &ascii85Writer{w: w, enc: ascii85.NewEncoder(w)}
}

func (a *ascii85Writer) Write(p []byte) (int, error) {
	if a.done {
		return 0, ErrFinished
	}
	return a.enc.Write(p)
}

func (a *ascii85Writer) Finish() error {
	return a.finish(func() error {
		if err := a.enc.Close(); err != nil {
			return err
		}
		_, err := io.WriteString(a.w, "~>")
		return err
	})
}
func (a *ascii85Writer) Close() error { return a.Finish() }

type asciiHexWriter struct {
	finisher
	w   io.Writer
	enc io.Writer
}

// NewASCIIHexWriter writes lowercase hex pairs and terminates with '>'.
func NewASCIIHexWriter(w io.Writer) Encoder {
	return &asciiHexWriter{w: w, enc: hex.NewEncoder(w)}
}

func (h *asciiHexWriter) Write(p []byte) (int, error) {
	if h.done {
		return 0, ErrFinished
	}
	return h.enc.Write(p)
}

func (h *asciiHexWriter) Finish() error {
	return h.finish(func() error {
		_, err := io.WriteString(h.w, ">")
		return err
	})
}
func (h *asciiHexWriter) Close() error { return h.Finish() }

const maxRun = 128

type runLengthWriter struct {
	finisher
	w   io.Writer
	buf []byte
}

// NewRunLengthWriter encodes runs of three or more equal bytes as repeat
// runs and everything else as literal runs, at most 128 bytes each. Finish
// writes the EOD byte 128.
func NewRunLengthWriter(w io.Writer) Encoder { return &runLengthWriter{w: w} }

func (r *runLengthWriter) Write(p []byte) (int, error) {
	if r.done {
		return 0, ErrFinished
	}
	r.buf = append(r.buf, p...)
	// Keep a tail back so a run spanning writes is still detected.
	if len(r.buf) > 4*maxRun {
		keep := maxRun
		out, rest := encodeRuns(r.buf, false, keep)
		if _, err := r.w.Write(out); err != nil {
			return 0, err
		}
		r.buf = append(r.buf[:0], rest...)
	}
	return len(p), nil
}

func (r *runLengthWriter) Finish() error {
	return r.finish(func() error {
		out, _ := encodeRuns(r.buf, true, 0)
		out = append(out, 128)
		r.buf = nil
		_, err := r.w.Write(out)
		return err
	})
}
func (r *runLengthWriter) Close() error { return r.Finish() }

// encodeRuns encodes data. Unless final, encoding stops before the last
// keep bytes and at a run boundary, returning the unencoded remainder.
func encodeRuns(data []byte, final bool, keep int) ([]byte, []byte) {
	var out []byte
	limit := len(data)
	if !final {
		limit -= keep
	}
	i := 0
	for i < limit {
		run := 1
		for i+run < len(data) && run < maxRun && data[i+run] == data[i] {
			run++
		}
		if run >= 3 {
			out = append(out, byte(257-run), data[i])
			i += run
			continue
		}
		// literal: extend until a run of 3 starts or the cap is hit
		j := i
		for j < len(data) && j-i < maxRun {
			if j+2 < len(data) && data[j] == data[j+1] && data[j] == data[j+2] {
				break
			}
			j++
		}
		if !final && j >= len(data) {
			break
		}
		out = append(out, byte(j-i-1))
		out = append(out, data[i:j]...)
		i = j
	}
	return out, data[i:]
}
