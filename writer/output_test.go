package writer

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfkernel/observability"
)

type closeRecorder struct {
	bytes.Buffer
	closed int
}

func (c *closeRecorder) Close() error { c.closed++; return nil }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestOutputStreamTracksPosition(t *testing.T) {
	var buf bytes.Buffer
	o := NewOutputStream(&buf)
	o.SetLocalHighPrecision(false)
	o.WriteString("abc")
	o.WriteSpace()
	o.WriteInt(-12)
	o.WriteNewLine()
	o.WriteFloat(0.5)
	o.WriteByte(' ')
	o.WriteFloat32(2.25)
	assert.Equal(t, int64(len("abc -12\n0.5 2.25")), o.Position())
	require.NoError(t, o.Flush())
	assert.Equal(t, "abc -12\n0.5 2.25", buf.String())
}

func TestOutputStreamPrecisionCapturedAtConstruction(t *testing.T) {
	defer SetDefaultHighPrecision(false)

	SetDefaultHighPrecision(true)
	high := NewOutputStream(&bytes.Buffer{})
	SetDefaultHighPrecision(false)
	rounded := NewOutputStream(&bytes.Buffer{})

	assert.True(t, high.HighPrecision(), "later global toggle must not leak into an open stream")
	assert.False(t, rounded.HighPrecision())

	local := NewOutputStream(&bytes.Buffer{})
	local.SetLocalHighPrecision(true)
	SetDefaultHighPrecision(false)
	assert.True(t, local.HighPrecision(), "local override wins")
}

func TestOutputStreamLocalOverrideUnderConcurrentToggle(t *testing.T) {
	defer SetDefaultHighPrecision(false)

	var buf bytes.Buffer
	o := NewOutputStream(&buf)
	o.SetLocalHighPrecision(true)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			SetDefaultHighPrecision(i%2 == 0)
		}
	}()
	for i := 0; i < 100; i++ {
		o.WriteFloat(1.2345678)
		o.WriteSpace()
	}
	wg.Wait()
	require.NoError(t, o.Flush())
	for _, f := range strings.Fields(buf.String()) {
		require.Equal(t, "1.234568", f)
	}
}

func TestOutputStreamNaNLogsAndWritesZero(t *testing.T) {
	var logBuf bytes.Buffer
	var buf bytes.Buffer
	o := NewOutputStream(&buf)
	o.SetLogger(observability.NewSlogLogger(slog.New(slog.NewTextHandler(&logBuf, nil))))
	require.NoError(t, o.WriteFloat(math.NaN()))
	require.NoError(t, o.Flush())
	assert.Equal(t, "0", buf.String())
	assert.Contains(t, logBuf.String(), "invalid number")
}

func TestOutputStreamCloseIdempotent(t *testing.T) {
	rec := &closeRecorder{}
	o := NewOutputStream(rec)
	o.WriteString("%PDF-1.7")
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	assert.Equal(t, 1, rec.closed)
	assert.Equal(t, "%PDF-1.7", rec.String())

	_, err := o.WriteString("more")
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.ErrorIs(t, o.WriteByte('x'), ErrStreamClosed)
}

func TestOutputStreamStickyError(t *testing.T) {
	o := NewOutputStream(failingWriter{})
	o.WriteString("x")
	err := o.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	_, again := o.WriteString("y")
	assert.Equal(t, err, again)
	assert.Error(t, o.Close())
}
