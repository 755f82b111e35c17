package recovery_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfkernel/document"
	"github.com/wudi/pdfkernel/observability"
	"github.com/wudi/pdfkernel/recovery"
	"github.com/wudi/pdfkernel/source"
)

func TestDecide(t *testing.T) {
	boom := errors.New("boom")
	loc := recovery.Location{ByteOffset: 42, Component: "scanner"}

	action, err := recovery.Decide(nil, boom, loc)
	assert.Equal(t, recovery.ActionFail, action)
	assert.ErrorIs(t, err, boom)

	action, err = recovery.Decide(recovery.NewStrictStrategy(), boom, loc)
	assert.Equal(t, recovery.ActionFail, action)
	assert.ErrorIs(t, err, boom)

	var logs bytes.Buffer
	rec := recovery.NewLenientStrategy()
	rec.Logger = observability.NewSlogLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	action, err = recovery.Decide(rec, boom, loc)
	assert.Equal(t, recovery.ActionFix, action)
	assert.NoError(t, err)
	assert.Equal(t, 1, rec.Count())
	assert.ErrorIs(t, rec.Errors[0], boom)
	assert.Contains(t, rec.Errors[0].Error(), "[scanner] offset 42")
	assert.Contains(t, logs.String(), "recovered from malformed input")
}

func TestActionAndLocation(t *testing.T) {
	for _, tc := range []struct {
		action    recovery.Action
		name      string
		continues bool
	}{
		{recovery.ActionFail, "fail", false},
		{recovery.ActionSkip, "skip", true},
		{recovery.ActionFix, "fix", true},
		{recovery.ActionWarn, "warn", true},
		{recovery.Action(9), "action(9)", false},
	} {
		assert.Equal(t, tc.name, tc.action.String())
		assert.Equal(t, tc.continues, tc.action.Continues(), tc.name)
	}
	assert.Equal(t, "xref at offset 7", recovery.Location{ByteOffset: 7, Component: "xref"}.String())
	assert.Equal(t, "parser at offset 9 (object 3 0)", recovery.Location{ByteOffset: 9, ObjectNum: 3, Component: "parser"}.String())
}

// brokenPDF has an in-use object 3 whose offset points into object 1.
func brokenPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 4\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n%010d 00000 n \n", off1, off2, off1+3)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)
	return buf.Bytes()
}

func TestRewriteDropsUnreadableObjectWhenLenient(t *testing.T) {
	data := brokenPDF()

	var out bytes.Buffer
	d, err := document.Stamp(context.Background(), source.NewArraySource(data), &out, document.Config{})
	require.NoError(t, err)
	assert.Error(t, d.Close(), "strict rewrite fails on the broken object")

	rec := recovery.NewLenientStrategy()
	out.Reset()
	d, err = document.Stamp(context.Background(), source.NewArraySource(data), &out, document.Config{Recovery: rec})
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.Greater(t, rec.Count(), 0)

	back, err := document.Open(context.Background(), source.NewArraySource(out.Bytes()), document.Config{})
	require.NoError(t, err)
	defer back.Close()
	assert.Equal(t, 0, back.NumPages())
	cat, err := back.Catalog()
	require.NoError(t, err)
	typ, _ := cat.GetName("Type")
	assert.Equal(t, "Catalog", typ)
}
