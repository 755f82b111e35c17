package writer

import (
	"bufio"
	"io"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/observability"
)

// ErrStreamClosed is returned by writes after Close.
var ErrStreamClosed = errors.New("output stream already closed")

// OutputStream writes PDF syntax to an io.Writer and tracks the number of
// bytes written. Errors are sticky: after the first failure every write
// returns the same error.
type OutputStream struct {
	bw     *bufio.Writer
	w      io.Writer
	pos    int64
	err    error
	closed bool

	highPrecision bool
	logger        observability.Logger
	num           [32]byte
}

// NewOutputStream wraps w. The precision mode is the process-wide default
// at the time of the call.
func NewOutputStream(w io.Writer) *OutputStream {
	return &OutputStream{
		bw:            bufio.NewWriter(w),
		w:             w,
		highPrecision: DefaultHighPrecision(),
		logger:        observability.Default(),
	}
}

// SetLocalHighPrecision overrides the precision mode for this stream only.
func (o *OutputStream) SetLocalHighPrecision(v bool) { o.highPrecision = v }

// HighPrecision reports the precision mode in effect.
func (o *OutputStream) HighPrecision() bool { return o.highPrecision }

func (o *OutputStream) SetLogger(l observability.Logger) { o.logger = observability.OrDefault(l) }

// Position is the number of bytes written so far, including buffered ones.
func (o *OutputStream) Position() int64 { return o.pos }

func (o *OutputStream) Err() error { return o.err }

func (o *OutputStream) Write(p []byte) (int, error) {
	if o.closed {
		return 0, ErrStreamClosed
	}
	if o.err != nil {
		return 0, o.err
	}
	n, err := o.bw.Write(p)
	o.pos += int64(n)
	if err != nil {
		o.err = errors.Wrapf(err, "write at offset %d", o.pos)
	}
	return n, o.err
}

func (o *OutputStream) WriteString(s string) (int, error) {
	if o.closed {
		return 0, ErrStreamClosed
	}
	if o.err != nil {
		return 0, o.err
	}
	n, err := o.bw.WriteString(s)
	o.pos += int64(n)
	if err != nil {
		o.err = errors.Wrapf(err, "write at offset %d", o.pos)
	}
	return n, o.err
}

func (o *OutputStream) WriteByte(c byte) error {
	if o.closed {
		return ErrStreamClosed
	}
	if o.err != nil {
		return o.err
	}
	if err := o.bw.WriteByte(c); err != nil {
		o.err = errors.Wrapf(err, "write at offset %d", o.pos)
		return o.err
	}
	o.pos++
	return nil
}

func (o *OutputStream) WriteBytes(b []byte) error {
	_, err := o.Write(b)
	return err
}

func (o *OutputStream) WriteSpace() error   { return o.WriteByte(' ') }
func (o *OutputStream) WriteNewLine() error { return o.WriteByte('\n') }

func (o *OutputStream) WriteInt(v int) error { return o.WriteInt64(int64(v)) }

func (o *OutputStream) WriteInt64(v int64) error {
	return o.WriteBytes(FormatInt(o.num[:0], v))
}

// WriteFloat writes f in the stream's precision mode.
func (o *OutputStream) WriteFloat(f float64) error {
	return o.WriteFloatPrecision(f, o.highPrecision)
}

// WriteFloat32 writes f in the stream's precision mode.
func (o *OutputStream) WriteFloat32(f float32) error {
	return o.WriteFloatPrecision(float64(f), o.highPrecision)
}

// WriteFloatPrecision writes f in the given mode. Invalid values are
// written as 0 and logged.
func (o *OutputStream) WriteFloatPrecision(f float64, highPrecision bool) error {
	b, ok := appendFloat(o.num[:0], f, highPrecision)
	if !ok {
		o.logger.Warn("invalid number written as 0",
			observability.Float64("value", f),
			observability.Offset("offset", o.pos))
	}
	return o.WriteBytes(b)
}

// Flush pushes buffered bytes to the underlying writer.
func (o *OutputStream) Flush() error {
	if o.closed {
		return nil
	}
	if o.err != nil {
		return o.err
	}
	if err := o.bw.Flush(); err != nil {
		o.err = errors.Wrap(err, "flush output")
	}
	return o.err
}

// Close flushes and closes the underlying writer when it is an io.Closer.
// Closing twice is a no-op.
func (o *OutputStream) Close() error {
	if o.closed {
		return nil
	}
	err := o.Flush()
	o.closed = true
	if c, ok := o.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "close output")
		}
	}
	return err
}
