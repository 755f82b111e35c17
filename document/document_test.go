package document

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/source"
	"github.com/wudi/pdfkernel/writer"
	"github.com/wudi/pdfkernel/xref"
)

var deterministic = Config{Writer: writer.Config{Deterministic: true}}

// build creates a document, lets fn populate it and returns the bytes.
func build(t *testing.T, cfg Config, fn func(d *Document)) []byte {
	t.Helper()
	var buf bytes.Buffer
	d, err := Create(&buf, cfg)
	require.NoError(t, err)
	if fn != nil {
		fn(d)
	}
	require.NoError(t, d.Close())
	return buf.Bytes()
}

func reopen(t *testing.T, data []byte) *Document {
	t.Helper()
	d, err := Open(context.Background(), source.NewArraySource(data), Config{})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func addPages(t *testing.T, d *Document, contents ...string) {
	t.Helper()
	for _, c := range contents {
		p, err := d.AddPage(612, 792)
		require.NoError(t, err)
		require.NoError(t, p.AppendContent([]byte(c)))
	}
}

func pageContent(t *testing.T, d *Document, n int) string {
	t.Helper()
	p, err := d.Page(n)
	require.NoError(t, err)
	data, err := p.Content()
	require.NoError(t, err)
	return string(data)
}

func TestCreateWritesReadableDocument(t *testing.T) {
	data := build(t, deterministic, func(d *Document) {
		addPages(t, d, "0 0 m 10 10 l S", "BT ET")
	})
	text := string(data)
	assert.True(t, strings.HasPrefix(text, "%PDF-1.7\n"))
	assert.True(t, strings.HasSuffix(text, "%%EOF\n"))

	d := reopen(t, data)
	assert.Equal(t, "1.7", d.Version())
	assert.Equal(t, 2, d.NumPages())
	assert.Equal(t, "0 0 m 10 10 l S", pageContent(t, d, 1))
	assert.Equal(t, "BT ET", pageContent(t, d, 2))
	id, ok := d.Trailer().GetArray("ID")
	require.True(t, ok)
	assert.Equal(t, 2, id.Len())

	p, err := d.Page(1)
	require.NoError(t, err)
	dict, err := p.Dict()
	require.NoError(t, err)
	box, ok := dict.GetArray("MediaBox")
	require.True(t, ok)
	assert.True(t, raw.Equal(raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), raw.NumberInt(612), raw.NumberInt(792)), box))
}

func TestCreateIsDeterministic(t *testing.T) {
	fill := func(d *Document) { addPages(t, d, "q Q") }
	assert.Equal(t, build(t, deterministic, fill), build(t, deterministic, fill))
}

func TestCreateWithXRefStreamAndCompression(t *testing.T) {
	cfg := Config{Writer: writer.Config{XRefStreams: true, Compression: 6, Deterministic: true}}
	content := strings.Repeat("0 0 m 100 100 l S\n", 20)
	data := build(t, cfg, func(d *Document) { addPages(t, d, content) })
	assert.NotContains(t, string(data), "trailer")

	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), source.NewArraySource(data))
	require.NoError(t, err)
	assert.Equal(t, "xref-stream", table.Type())

	d := reopen(t, data)
	assert.Equal(t, content, pageContent(t, d, 1))
}

func TestFlushReleasesObject(t *testing.T) {
	var buf bytes.Buffer
	d, err := Create(&buf, deterministic)
	require.NoError(t, err)
	ref := d.Add(raw.DictOf("Title", raw.TextString("x"))).R

	require.NoError(t, d.Flush(ref))
	assert.True(t, d.IsFlushed(ref))
	_, err = d.Get(ref)
	assert.ErrorIs(t, err, ErrFlushed)
	assert.ErrorIs(t, d.Set(ref, raw.Dict()), ErrFlushed)
	assert.ErrorIs(t, d.MarkModified(ref), ErrFlushed)
	assert.NoError(t, d.Flush(ref), "second flush is a no-op")
	require.NoError(t, d.Close())
	assert.Contains(t, buf.String(), "/Title (x)")
}

func TestFlushDeepSkipsPinnedPagesAndBackReferences(t *testing.T) {
	var buf bytes.Buffer
	d, err := Create(&buf, deterministic)
	require.NoError(t, err)
	page, err := d.AddPage(100, 100)
	require.NoError(t, err)

	owner := d.Add(raw.Dict()).R
	child := d.Add(raw.DictOf("Leaf", raw.Bool(true))).R
	pinned := d.Add(raw.Dict()).R
	grand := d.Add(raw.Dict()).R
	require.NoError(t, d.Set(pinned, raw.DictOf("Grand", grand.Object())))
	root := d.Add(raw.DictOf(
		"Child", child.Object(),
		"P", owner.Object(),
		"Kids", raw.NewArray(pinned.Object()),
		"Pg", page.Ref().Object(),
		"Link", page.Ref().Object(),
	)).R
	d.Pin(pinned)

	require.NoError(t, d.FlushDeep(root))
	assert.True(t, d.IsFlushed(root))
	assert.True(t, d.IsFlushed(child))
	assert.False(t, d.IsFlushed(owner), "back reference /P not followed")
	assert.False(t, d.IsFlushed(pinned), "pinned object kept")
	assert.False(t, d.IsFlushed(grand), "pinned object shields its kids")
	assert.False(t, page.IsFlushed(), "pages are never flushed deep")

	d.Unpin(pinned)
	assert.False(t, d.IsPinned(pinned))
	require.NoError(t, d.FlushDeep(pinned))
	assert.True(t, d.IsFlushed(grand))
	require.NoError(t, d.Close())

	out := reopen(t, buf.Bytes())
	obj, err := out.Get(root)
	require.NoError(t, err)
	kids, ok := obj.(*raw.DictObj).GetArray("Kids")
	require.True(t, ok)
	assert.True(t, raw.Equal(raw.NewArray(pinned.Object()), kids))
}

func TestFreeWritesNextGeneration(t *testing.T) {
	var gone raw.ObjectRef
	data := build(t, deterministic, func(d *Document) {
		gone = d.Add(raw.Dict()).R
		require.NoError(t, d.Free(gone))
		_, err := d.Get(gone)
		assert.ErrorIs(t, err, ErrNotFound)
	})
	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), source.NewArraySource(data))
	require.NoError(t, err)
	gen, ok := table.Generation(gone.Num)
	require.True(t, ok)
	assert.Equal(t, 1, gen)
	assert.NotContains(t, table.Objects(), gone.Num)
}

func TestReadOnlyDocumentRejectsWrites(t *testing.T) {
	d := reopen(t, build(t, deterministic, func(d *Document) { addPages(t, d, "q Q") }))
	assert.True(t, d.ReadOnly())
	p, err := d.Page(1)
	require.NoError(t, err)
	assert.ErrorIs(t, d.Flush(p.Ref()), ErrReadOnly)
	assert.ErrorIs(t, p.Flush(), ErrReadOnly)
}

func TestClosedDocumentRejectsWrites(t *testing.T) {
	var buf bytes.Buffer
	d, err := Create(&buf, deterministic)
	require.NoError(t, err)
	p, err := d.AddPage(100, 100)
	require.NoError(t, err)
	other, err := Create(&bytes.Buffer{}, deterministic)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.Equal(t, raw.RefObj{}, d.Add(raw.Dict()))
	_, err = d.AddPage(100, 100)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.AppendContent([]byte("q Q")), ErrClosed)
	_, err = d.Get(p.Ref())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = d.CopyPagesTo(1, 1, other)
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, other.Close())
}

func TestPageRange(t *testing.T) {
	d := reopen(t, build(t, deterministic, func(d *Document) { addPages(t, d, "q Q") }))
	for _, n := range []int{0, 2, -1} {
		_, err := d.Page(n)
		assert.ErrorIs(t, err, ErrPageRange, "page %d", n)
	}
}

func TestCloseRunsHooksOnce(t *testing.T) {
	var buf bytes.Buffer
	d, err := Create(&buf, deterministic)
	require.NoError(t, err)
	var calls []string
	d.OnClose(func() error { calls = append(calls, "first"); return nil })
	d.OnClose(func() error { calls = append(calls, "second"); return nil })
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, []string{"first", "second"}, calls)
	_, err = d.Get(d.CatalogRef())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPageFlushRunsHooksAndKeepsTree(t *testing.T) {
	var buf bytes.Buffer
	d, err := Create(&buf, deterministic)
	require.NoError(t, err)
	addPages(t, d, "q Q", "BT ET")
	var flushed []int
	d.OnPageFlush(func(p *Page) error {
		flushed = append(flushed, p.Number())
		_, err := p.Dict()
		return err
	})
	p1, err := d.Page(1)
	require.NoError(t, err)
	require.NoError(t, p1.Flush())
	require.NoError(t, p1.Flush())
	assert.Equal(t, []int{1}, flushed)
	assert.True(t, p1.IsFlushed())

	_, err = d.AddPage(200, 200)
	require.NoError(t, err, "page tree root stays writable")
	require.NoError(t, d.Close())

	out := reopen(t, buf.Bytes())
	assert.Equal(t, 3, out.NumPages())
	assert.Equal(t, "q Q", pageContent(t, out, 1))
}

func TestAppendContentAfterFlushAddsStream(t *testing.T) {
	var buf bytes.Buffer
	d, err := Create(&buf, deterministic)
	require.NoError(t, err)
	addPages(t, d, "q")
	p, err := d.Page(1)
	require.NoError(t, err)
	dict, err := p.Dict()
	require.NoError(t, err)
	contents, ok := dict.GetRef("Contents")
	require.True(t, ok)
	require.NoError(t, d.Flush(contents))
	require.NoError(t, p.AppendContent([]byte("Q")))
	require.NoError(t, d.Close())

	assert.Equal(t, "q\nQ", pageContent(t, reopen(t, buf.Bytes()), 1))
}

func TestAddAnnotationLinksPage(t *testing.T) {
	data := build(t, deterministic, func(d *Document) {
		addPages(t, d, "q Q")
		p, err := d.Page(1)
		require.NoError(t, err)
		_, err = p.AddAnnotation(raw.DictOf("Type", raw.NameLiteral("Annot"), "Subtype", raw.NameLiteral("Text")))
		require.NoError(t, err)
	})
	d := reopen(t, data)
	p, err := d.Page(1)
	require.NoError(t, err)
	dict, err := p.Dict()
	require.NoError(t, err)
	annots, ok := dict.GetArray("Annots")
	require.True(t, ok)
	require.Equal(t, 1, annots.Len())
	annot, err := d.GetDict(annots.Items[0].(raw.RefObj).R)
	require.NoError(t, err)
	back, ok := annot.GetRef("P")
	require.True(t, ok)
	assert.Equal(t, p.Ref(), back)
}

func TestOpenFileSkipsLeadingGarbage(t *testing.T) {
	data := build(t, deterministic, func(d *Document) { addPages(t, d, "BT ET") })
	path := filepath.Join(t.TempDir(), "garbage.pdf")
	require.NoError(t, os.WriteFile(path, append([]byte("junk before header\n"), data...), 0o644))

	d, err := OpenFile(context.Background(), path, Config{})
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(t, 1, d.NumPages())
	assert.Equal(t, "BT ET", pageContent(t, d, 1))
}

func TestNestedPageTree(t *testing.T) {
	data := build(t, deterministic, func(d *Document) {
		root, err := d.GetDict(d.pagesRoot)
		require.NoError(t, err)
		inner := d.Add(raw.DictOf("Type", raw.NameLiteral("Pages"), "Parent", d.pagesRoot.Object(), "Count", raw.NumberInt(2))).R
		first := d.Add(raw.DictOf("Type", raw.NameLiteral("Page"), "Parent", inner.Object())).R
		second := d.Add(raw.DictOf("Type", raw.NameLiteral("Page"), "Parent", inner.Object())).R
		innerDict, err := d.GetDict(inner)
		require.NoError(t, err)
		innerDict.Put("Kids", raw.NewArray(first.Object(), second.Object()))
		last := d.Add(raw.DictOf("Type", raw.NameLiteral("Page"), "Parent", d.pagesRoot.Object())).R
		root.Put("Kids", raw.NewArray(inner.Object(), last.Object(), inner.Object()))
		root.Put("Count", raw.NumberInt(3))
	})
	d := reopen(t, data)
	require.Equal(t, 3, d.NumPages(), "repeated kid is visited once")
	p3, err := d.Page(3)
	require.NoError(t, err)
	got, ok := d.PageByRef(p3.Ref())
	require.True(t, ok)
	assert.Equal(t, 3, got.Number())
}
