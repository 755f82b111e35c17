package contentstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfkernel/ir/raw"
)

type testHandler struct {
	calls int
	last  []string
}

func (h *testHandler) Handle(_ *ExecutionContext, op Operation) error {
	h.calls++
	h.last = make([]string, len(op.Operands))
	for i, o := range op.Operands {
		h.last[i] = o.Type()
	}
	return nil
}

func TestProcessorDispatchesOperators(t *testing.T) {
	p := NewProcessor()
	h := &testHandler{}
	p.RegisterHandler("Tj", h)

	err := p.Process(context.Background(), []byte("(Hello) Tj"))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if h.calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", h.calls)
	}
	if len(h.last) != 1 || h.last[0] != "string" {
		t.Fatalf("unexpected operand types: %v", h.last)
	}
}

func TestProcessorTracksMarkedContent(t *testing.T) {
	p := NewProcessor()
	var seen []MarkedContent
	p.RegisterHandler("Tj", HandlerFunc(func(ec *ExecutionContext, _ Operation) error {
		seen = append(seen, ec.Marked...)
		return nil
	}))
	content := "/Span <</MCID 4>> BDC /Artifact BMC (x) Tj EMC EMC"
	require.NoError(t, p.Process(context.Background(), []byte(content)))
	assert.Equal(t, []MarkedContent{{Tag: "Span", MCID: 4}, {Tag: "Artifact", MCID: -1}}, seen)
}

func TestProcessorRejectsUnbalancedOperators(t *testing.T) {
	p := NewProcessor()
	assert.Error(t, p.Process(context.Background(), []byte("q Q Q")))
	assert.Error(t, p.Process(context.Background(), []byte("EMC")))
	assert.Error(t, p.Process(context.Background(), []byte("1 2")), "dangling operands")
}

func TestProcessorGraphicsState(t *testing.T) {
	p := NewProcessor()
	var widths []float64
	p.RegisterHandler("S", HandlerFunc(func(ec *ExecutionContext, _ Operation) error {
		widths = append(widths, ec.GraphicsState.LineWidth)
		return nil
	}))
	require.NoError(t, p.Process(context.Background(), []byte("q 3 w S Q S")))
	assert.Equal(t, []float64{3, 1}, widths)
}

func TestProcessorHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewProcessor().Process(ctx, []byte("q Q"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseInlineImage(t *testing.T) {
	var ops []Operation
	content := "q BI /W 2 /H 1 /BPC 8 /CS /G ID \x00\xff\nEI Q"
	require.NoError(t, Parse([]byte(content), func(op Operation) error {
		ops = append(ops, op)
		return nil
	}))
	require.Len(t, ops, 3)
	assert.Equal(t, "BI", ops[1].Operator)
	dict, ok := ops[1].Operands[0].(*raw.DictObj)
	require.True(t, ok)
	w, _ := dict.GetInt("W")
	assert.Equal(t, int64(2), w)
	assert.Equal(t, []byte("\x00\xff\n"), ops[1].InlineData)
	assert.Equal(t, "Q", ops[2].Operator)
}

func TestCollectMCIDs(t *testing.T) {
	content := []byte(`/P <</MCID 0>> BDC BT (a) Tj ET EMC
/Span <</MCID 7 /Lang (en)>> BDC EMC
/Artifact BMC EMC
/P /Props BDC EMC
/P <</MCID 2>> BDC EMC`)
	assert.Equal(t, []int{0, 7, 2}, CollectMCIDs(content))
	assert.Empty(t, CollectMCIDs(nil))
	assert.Equal(t, []int{1}, CollectMCIDs([]byte("/P <</MCID 1>> BDC ) garbage")), "stops at malformed input")
}
