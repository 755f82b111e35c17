package parser

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/scanner"
	"github.com/wudi/pdfkernel/source"
	"github.com/wudi/pdfkernel/xref"
)

type mapCache struct {
	m map[raw.ObjectRef]raw.Object
}

func (c *mapCache) Get(ref raw.ObjectRef) (raw.Object, bool) {
	if c.m == nil {
		return nil, false
	}
	v, ok := c.m[ref]
	return v, ok
}

func (c *mapCache) Put(ref raw.ObjectRef, obj raw.Object) {
	if c.m == nil {
		c.m = make(map[raw.ObjectRef]raw.Object)
	}
	c.m[ref] = obj
}

func TestObjectLoaderCachesObjects(t *testing.T) {
	src := buildPDF()

	reader := source.NewArraySource([]byte(src))
	cache := &mapCache{}

	resolver := xref.NewResolver(xref.ResolverConfig{})
	table, err := resolver.Resolve(context.Background(), reader)
	if err != nil {
		t.Fatalf("resolve xref: %v", err)
	}

	loader, err := (&ObjectLoaderBuilder{maxDepth: 5}).
		WithSource(reader).
		WithXRef(table).
		WithCache(cache).
		Build()
	if err != nil {
		t.Fatalf("build loader: %v", err)
	}

	// First load should parse and cache.
	if _, err := loader.Load(context.Background(), raw.ObjectRef{Num: 1, Gen: 0}); err != nil {
		t.Fatalf("load object: %v", err)
	}

	if _, ok := cache.Get(raw.ObjectRef{Num: 1, Gen: 0}); !ok {
		t.Fatalf("expected object cached after load")
	}
}

func buildPDF() string {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	offsets := make(map[int]int64)

	offsets[1] = int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 3\n")
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 2; i++ {
		buf.WriteString(fmt.Sprintf("%010d 00000 n \n", offsets[i]))
	}
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	buf.WriteString("startxref\n")
	buf.WriteString(fmt.Sprintf("%d\n", xrefOffset))
	buf.WriteString("%%EOF\n")

	return buf.String()
}

func TestObjectLoaderRejectsGenerationMismatch(t *testing.T) {
	reader := source.NewArraySource([]byte(buildPDF()))
	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), reader)
	require.NoError(t, err)
	loader, err := (&ObjectLoaderBuilder{}).WithSource(reader).WithXRef(table).Build()
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), raw.ObjectRef{Num: 1, Gen: 3})
	assert.ErrorIs(t, err, ErrObjectNotFound)
	_, err = loader.Load(context.Background(), raw.ObjectRef{Num: 9})
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestObjectLoaderIndirectDepth(t *testing.T) {
	reader := source.NewArraySource([]byte(buildPDF()))
	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), reader)
	require.NoError(t, err)
	loader, err := (&ObjectLoaderBuilder{maxDepth: 2}).WithSource(reader).WithXRef(table).Build()
	require.NoError(t, err)

	_, err = loader.LoadIndirect(context.Background(), raw.ObjectRef{Num: 2}, 2)
	require.NoError(t, err)
	_, err = loader.LoadIndirect(context.Background(), raw.ObjectRef{Num: 2}, 3)
	assert.Error(t, err)
}

func TestObjectLoaderBuildRequiresInputs(t *testing.T) {
	_, err := (&ObjectLoaderBuilder{}).Build()
	assert.Error(t, err)
}

func TestParseObject(t *testing.T) {
	tok := scanner.FromBytes([]byte("<< /A [1 2.5 (x) <41>] /B 3 0 R /C true /D null >>"), scanner.Config{})
	obj, err := ParseObject(tok)
	require.NoError(t, err)
	d, ok := obj.(*raw.DictObj)
	require.True(t, ok)
	arr, _ := d.GetArray("A")
	require.Equal(t, 4, arr.Len())
	assert.Equal(t, raw.NumberFloat(2.5), arr.Items[1])
	assert.Equal(t, raw.HexStr([]byte("A")), arr.Items[3])
	ref, _ := d.GetRef("B")
	assert.Equal(t, raw.ObjectRef{Num: 3}, ref)
	assert.Equal(t, raw.Bool(true), d.KV["C"])
	assert.Equal(t, raw.NullObj{}, d.KV["D"])
}
