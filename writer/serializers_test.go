package writer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/scanner"
)

func reparse(t *testing.T, b []byte) raw.Object {
	t.Helper()
	obj, err := scanner.NewObjectReader(scanner.FromBytes(b, scanner.Config{})).ReadObject()
	require.NoError(t, err, "reparse %q", b)
	return obj
}

func TestSerializeRoundTrip(t *testing.T) {
	objs := []raw.Object{
		raw.NullObj{},
		raw.Bool(true),
		raw.NumberInt(-17),
		raw.NumberFloat(0.25),
		raw.NameLiteral("Type"),
		raw.NameLiteral("A B#C/(x)"),
		raw.NameLiteral("caf\xc3\xa9"),
		raw.Str([]byte("paren ( ) back \\ nl \n tab \t")),
		raw.Str([]byte{0, 1, 0x7f, 0x80, 0xff}),
		raw.HexStr([]byte{0xde, 0xad, 0xbe, 0xef}),
		raw.Ref(12, 3),
		raw.NewArray(raw.NumberInt(1), raw.NewArray(), raw.Dict(), raw.Ref(2, 0)),
		raw.DictOf(
			"Type", raw.NameLiteral("Page"),
			"Kids", raw.NewArray(raw.Ref(4, 0), raw.Ref(5, 0)),
			"Nested", raw.DictOf("Alt", raw.TextString("Ünïcode")),
		),
	}
	for _, obj := range objs {
		b, err := Marshal(obj)
		require.NoError(t, err)
		got := reparse(t, b)
		if !raw.Equal(obj, got) {
			t.Errorf("round trip of %q lost information: %s", b, cmp.Diff(obj, got))
		}
	}
}

func TestSerializeCanonicalForms(t *testing.T) {
	cases := []struct {
		obj  raw.Object
		want string
	}{
		{raw.DictOf("B", raw.NumberInt(2), "A", raw.NumberInt(1)), "<</A 1/B 2>>"},
		{raw.NewArray(raw.NumberInt(1), raw.NumberFloat(2.5), raw.Bool(false)), "[1 2.5 false]"},
		{raw.NameLiteral("A B"), "/A#20B"},
		{raw.NameLiteral("x#y"), "/x#23y"},
		{raw.HexStr([]byte{0xab, 0x01}), "<AB01>"},
		{raw.Str([]byte("a(b)")), "(a\\(b\\))"},
		{raw.Str([]byte{0x80}), "(\\200)"},
		{raw.NumberFloat(1e-7), "0"},
	}
	for _, c := range cases {
		got, err := Marshal(c.obj)
		require.NoError(t, err)
		assert.Equal(t, c.want, string(got))
	}
}

func TestSerializeStreamFixesLength(t *testing.T) {
	st := raw.NewStream(raw.DictOf("Length", raw.NumberInt(999)), []byte("BT ET"))
	b, err := SerializeObject(raw.ObjectRef{Num: 3}, st)
	require.NoError(t, err)
	assert.Equal(t, "3 0 obj\n<</Length 5>>\nstream\nBT ET\nendstream\nendobj\n", string(b))
	n, _ := st.Dict.GetInt("Length")
	assert.Equal(t, int64(999), n, "source dictionary untouched")

	tok := scanner.FromBytes(b, scanner.Config{})
	ref, obj, err := scanner.NewObjectReader(tok).ReadIndirect()
	require.NoError(t, err)
	assert.Equal(t, raw.ObjectRef{Num: 3}, ref)
	got, ok := obj.(*raw.StreamObj)
	require.True(t, ok)
	assert.Equal(t, "BT ET", string(got.Data))
}

func TestSerializeStreamWithoutLength(t *testing.T) {
	b, err := Marshal(raw.NewStream(nil, []byte("xyz")))
	require.NoError(t, err)
	assert.Equal(t, "<</Length 3>>\nstream\nxyz\nendstream", string(b))
}

func TestSerializeRespectsPrecision(t *testing.T) {
	defer SetDefaultHighPrecision(false)
	SetDefaultHighPrecision(true)
	b, err := Marshal(raw.NumberFloat(1.2345678))
	require.NoError(t, err)
	assert.Equal(t, "1.234568", string(b))

	SetDefaultHighPrecision(false)
	b, err = Marshal(raw.NumberFloat(1.2345678))
	require.NoError(t, err)
	assert.Equal(t, "1.23", string(b))
}
