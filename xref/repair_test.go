package xref_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/recovery"
	"github.com/wudi/pdfkernel/source"
	"github.com/wudi/pdfkernel/xref"
)

func TestResolverRepairsCorruptXRef(t *testing.T) {
	// Build a PDF with NO xref table or startxref
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	// No xref, no startxref, just EOF
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	buf.WriteString("%%EOF\n")

	r := source.NewArraySource(buf.Bytes())

	// 1. Default config should fail
	resolver := xref.NewResolver(xref.ResolverConfig{})
	_, err := resolver.Resolve(context.Background(), r)
	if err == nil {
		t.Fatal("expected error on missing startxref, got nil")
	}

	// 2. Recovery config should succeed
	resolver = xref.NewResolver(xref.ResolverConfig{Recovery: recovery.NewLenientStrategy()})
	table, err := resolver.Resolve(context.Background(), r)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	// Verify objects found
	if off, _, ok := table.Lookup(1); !ok || off != int64(off1) {
		t.Errorf("object 1 lookup failed or wrong offset: got %d, want %d, ok=%v", off, off1, ok)
	}
	if off, _, ok := table.Lookup(2); !ok || off != int64(off2) {
		t.Errorf("object 2 lookup failed or wrong offset: got %d, want %d, ok=%v", off, off2, ok)
	}
}

func TestResolverRepairsGarbagePrefix(t *testing.T) {
	// Test case for "1 2 0 obj" where "1" is garbage
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	// Garbage number followed by valid object
	buf.WriteString("999 ")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< >>\nendobj\n")

	buf.WriteString("trailer\n<< /Size 2 /Root 1 0 R >>\n%%EOF\n")

	r := source.NewArraySource(buf.Bytes())
	resolver := xref.NewResolver(xref.ResolverConfig{Recovery: recovery.NewLenientStrategy()})

	table, err := resolver.Resolve(context.Background(), r)
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	if off, _, ok := table.Lookup(1); !ok || off != int64(off1) {
		t.Errorf("object 1 lookup failed: got %d, want %d", off, off1)
	}
}

func TestRepairSkipsStreamDataAndFindsCatalog(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")
	buf.WriteString("1 0 obj\n<< /Length 12 >>\nstream\n7 0 obj junk\nendstream\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")

	rec := recovery.NewLenientStrategy()
	table, err := xref.NewResolver(xref.ResolverConfig{Recovery: rec}).Resolve(context.Background(), source.NewArraySource(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, table.Objects())
	off, _, ok := table.Lookup(2)
	require.True(t, ok)
	assert.Equal(t, int64(off2), off)

	root, ok := table.Trailer().GetRef("Root")
	require.True(t, ok)
	assert.Equal(t, raw.ObjectRef{Num: 2}, root)
	size, _ := table.Trailer().GetInt("Size")
	assert.Equal(t, int64(3), size)
	assert.Greater(t, rec.Count(), 0)
}
