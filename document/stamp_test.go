package document

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
	"github.com/wudi/pdfkernel/source"
	"github.com/wudi/pdfkernel/writer"
)

func stamp(t *testing.T, data []byte, cfg Config, fn func(d *Document)) []byte {
	t.Helper()
	var buf bytes.Buffer
	d, err := Stamp(context.Background(), source.NewArraySource(data), &buf, cfg)
	require.NoError(t, err)
	fn(d)
	require.NoError(t, d.Close())
	return buf.Bytes()
}

func TestStampAppendKeepsOriginalBytes(t *testing.T) {
	base := build(t, deterministic, func(d *Document) { addPages(t, d, "q", "BT ET") })
	out := stamp(t, base, Config{Append: true}, func(d *Document) {
		p, err := d.Page(1)
		require.NoError(t, err)
		require.NoError(t, p.AppendContent([]byte("Q")))
	})

	require.True(t, bytes.HasPrefix(out, base), "original bytes untouched")
	assert.Equal(t, 2, strings.Count(string(out), "%%EOF"))
	assert.Contains(t, string(out[len(base):]), "/Prev ")

	d := reopen(t, out)
	assert.Equal(t, 2, d.NumPages())
	assert.Equal(t, "q\nQ", pageContent(t, d, 1))
	assert.Equal(t, "BT ET", pageContent(t, d, 2))

	orig := reopen(t, base)
	origID, _ := orig.Trailer().GetArray("ID")
	newID, ok := d.Trailer().GetArray("ID")
	require.True(t, ok)
	assert.True(t, raw.Equal(origID.Items[0], newID.Items[0]), "permanent identifier kept")
	assert.False(t, raw.Equal(origID.Items[1], newID.Items[1]), "changing identifier renewed")
}

func TestStampAppendWritesOnlyModifiedObjects(t *testing.T) {
	base := build(t, deterministic, func(d *Document) { addPages(t, d, "q Q") })
	out := stamp(t, base, Config{Append: true}, func(d *Document) {
		_, err := d.AddPage(100, 100)
		require.NoError(t, err)
	})
	update := string(out[len(base):])
	assert.Contains(t, update, "/Count 2")
	assert.NotContains(t, update, "/Type /Catalog", "catalog unchanged")
	assert.Equal(t, 2, reopen(t, out).NumPages())
}

func TestStampRewrite(t *testing.T) {
	var dropped raw.ObjectRef
	base := build(t, deterministic, func(d *Document) {
		addPages(t, d, "q Q")
		dropped = d.Add(raw.DictOf("Unused", raw.Bool(true))).R
	})
	cfg := Config{Writer: writer.Config{XRefStreams: true, Version: writer.PDF20, Deterministic: true}}
	out := stamp(t, base, cfg, func(d *Document) {
		require.NoError(t, d.Free(dropped))
		addPages(t, d, "BT ET")
	})
	assert.True(t, strings.HasPrefix(string(out), "%PDF-2.0\n"))
	assert.Equal(t, 1, strings.Count(string(out), "%%EOF"))

	d := reopen(t, out)
	assert.Equal(t, "2.0", d.Version())
	assert.Equal(t, 2, d.NumPages())
	assert.Equal(t, "q Q", pageContent(t, d, 1))
	assert.Equal(t, "BT ET", pageContent(t, d, 2))
	_, err := d.Get(raw.ObjectRef{Num: dropped.Num, Gen: 0})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStampAppendUpgradesVersionInCatalog(t *testing.T) {
	base := build(t, deterministic, func(d *Document) { addPages(t, d, "q Q") })
	out := stamp(t, base, Config{Append: true, Writer: writer.Config{Version: writer.PDF20}}, func(*Document) {})
	d := reopen(t, out)
	assert.Equal(t, "2.0", d.Version())
	cat, err := d.Catalog()
	require.NoError(t, err)
	v, _ := cat.GetName("Version")
	assert.Equal(t, "2.0", v)
}

// taggedBase writes a page whose /StructParents entry lists three marked
// content owners.
func taggedBase(t *testing.T, nextKey int) []byte {
	return build(t, deterministic, func(d *Document) {
		addPages(t, d, "/P <</MCID 0>> BDC EMC", "/P <</MCID 0>> BDC EMC /P <</MCID 9>> BDC EMC")
		elem := d.Add(raw.DictOf("Type", raw.NameLiteral("StructElem"), "S", raw.NameLiteral("P")))
		owners := raw.NewArray(elem, elem, elem)
		root := raw.DictOf(
			"Type", raw.NameLiteral("StructTreeRoot"),
			"ParentTree", raw.DictOf("Nums", raw.NewArray(raw.NumberInt(0), owners, raw.NumberInt(3), elem)),
		)
		if nextKey >= 0 {
			root.Put("ParentTreeNextKey", raw.NumberInt(int64(nextKey)))
		}
		cat, err := d.Catalog()
		require.NoError(t, err)
		cat.Put("StructTreeRoot", d.Add(root))
		p, err := d.Page(1)
		require.NoError(t, err)
		dict, err := p.Dict()
		require.NoError(t, err)
		dict.Put("StructParents", raw.NumberInt(0))
	})
}

func TestNextMCIDResumes(t *testing.T) {
	d := reopen(t, taggedBase(t, -1))
	p1, err := d.Page(1)
	require.NoError(t, err)
	id, err := p1.NextMCID()
	require.NoError(t, err)
	assert.Equal(t, 3, id, "continues after the ParentTree array")
	id, err = p1.NextMCID()
	require.NoError(t, err)
	assert.Equal(t, 4, id)

	p2, err := d.Page(2)
	require.NoError(t, err)
	id, err = p2.NextMCID()
	require.NoError(t, err)
	assert.Equal(t, 10, id, "falls back to the content scan")
}

func TestStructParentCounterResumes(t *testing.T) {
	d := reopen(t, taggedBase(t, -1))
	idx, err := d.NextStructParentIndex()
	require.NoError(t, err)
	assert.Equal(t, 4, idx, "max ParentTree key + 1")

	d = reopen(t, taggedBase(t, 7))
	idx, err = d.NextStructParentIndex()
	require.NoError(t, err)
	assert.Equal(t, 7, idx)
	next, err := d.StructParentNextKey()
	require.NoError(t, err)
	assert.Equal(t, 8, next)

	p1, err := d.Page(1)
	require.NoError(t, err)
	sp, err := p1.StructParentIndex()
	require.NoError(t, err)
	assert.Equal(t, 0, sp, "existing key kept")
	p2, err := d.Page(2)
	require.NoError(t, err)
	sp, err = p2.StructParentIndex()
	require.NoError(t, err)
	assert.Equal(t, 8, sp)
}

func TestCopyPagesTo(t *testing.T) {
	src := build(t, deterministic, func(d *Document) {
		addPages(t, d, "BT /F1 12 Tf ET", "BT /F1 10 Tf ET", "q Q")
		font := d.Add(raw.DictOf("Type", raw.NameLiteral("Font"), "BaseFont", raw.NameLiteral("Helvetica")))
		root, err := d.GetDict(d.pagesRoot)
		require.NoError(t, err)
		root.Put("Rotate", raw.NumberInt(90))
		for i := 1; i <= 2; i++ {
			p, err := d.Page(i)
			require.NoError(t, err)
			dict, err := p.Dict()
			require.NoError(t, err)
			dict.Put("Resources", raw.DictOf("Font", raw.DictOf("F1", font)))
			dict.Put("StructParents", raw.NumberInt(int64(i)))
			_, err = p.AddAnnotation(raw.DictOf("Subtype", raw.NameLiteral("Widget"), "StructParent", raw.NumberInt(9), "Parent", raw.Ref(1, 0)))
			require.NoError(t, err)
		}
		cat, err := d.Catalog()
		require.NoError(t, err)
		cat.Put("AcroForm", raw.DictOf("Fields", raw.NewArray()))
	})

	var logs bytes.Buffer
	cfg := Config{Logger: observability.NewSlogLogger(slog.New(slog.NewTextHandler(&logs, nil)))}
	in, err := Open(context.Background(), source.NewArraySource(src), cfg)
	require.NoError(t, err)
	defer in.Close()

	var buf bytes.Buffer
	dst, err := Create(&buf, deterministic)
	require.NoError(t, err)
	addPages(t, dst, "existing")
	pages, err := in.CopyPagesTo(1, 2, dst)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 2, pages[0].Number())
	assert.Contains(t, logs.String(), "form fields are not copied")

	_, err = in.CopyPagesTo(2, 4, dst)
	assert.ErrorIs(t, err, ErrPageRange)
	require.NoError(t, dst.Close())

	out := reopen(t, buf.Bytes())
	require.Equal(t, 3, out.NumPages())
	assert.Equal(t, "BT /F1 12 Tf ET", pageContent(t, out, 2))
	assert.Equal(t, "BT /F1 10 Tf ET", pageContent(t, out, 3))

	var fonts []raw.Object
	for i := 2; i <= 3; i++ {
		p, err := out.Page(i)
		require.NoError(t, err)
		dict, err := p.Dict()
		require.NoError(t, err)
		assert.False(t, dict.Has("StructParents"))
		rotate, _ := dict.GetInt("Rotate")
		assert.Equal(t, int64(90), rotate, "inherited attribute materialized")
		res, ok := out.resolveDict(dict.KV["Resources"])
		require.True(t, ok)
		fontDict, ok := res.GetDict("Font")
		require.True(t, ok)
		fonts = append(fonts, fontDict.KV["F1"])

		annots, ok := dict.GetArray("Annots")
		require.True(t, ok)
		annot, err := out.GetDict(annots.Items[0].(raw.RefObj).R)
		require.NoError(t, err)
		assert.False(t, annot.Has("Parent"))
		assert.False(t, annot.Has("StructParent"))
		back, _ := annot.GetRef("P")
		assert.Equal(t, p.Ref(), back)
	}
	assert.True(t, raw.Equal(fonts[0], fonts[1]), "shared font copied once")
	cat, err := out.Catalog()
	require.NoError(t, err)
	assert.False(t, cat.Has("AcroForm"))
}

func TestNumberTreeBuildAndRead(t *testing.T) {
	var buf bytes.Buffer
	d, err := Create(&buf, deterministic)
	require.NoError(t, err)
	tree := NewNumberTree()
	for i := 0; i < 70; i++ {
		tree.Put(i*2, raw.NumberInt(int64(i)))
	}
	assert.Equal(t, 138, tree.MaxKey())
	root := tree.Build(d)
	kids, ok := root.GetArray("Kids")
	require.True(t, ok)
	assert.Equal(t, 3, kids.Len())
	leaf, err := d.GetDict(kids.Items[2].(raw.RefObj).R)
	require.NoError(t, err)
	limits, _ := leaf.GetArray("Limits")
	assert.True(t, raw.Equal(raw.NewArray(raw.NumberInt(128), raw.NumberInt(138)), limits))

	back, err := d.ReadNumberTree(root)
	require.NoError(t, err)
	assert.Equal(t, tree.Keys(), back.Keys())
	v, ok := back.Get(40)
	require.True(t, ok)
	assert.True(t, raw.Equal(raw.NumberInt(20), v))

	small := NewNumberTree()
	small.Put(1, raw.Bool(true))
	assert.True(t, small.Build(d).Has("Nums"))
	assert.Equal(t, -1, NewNumberTree().MaxKey())
	require.NoError(t, d.Close())
}
