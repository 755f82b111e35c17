package document

import (
	"bytes"
	"context"
	"math"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/contentstream"
	"github.com/wudi/pdfkernel/filters"
	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
)

// Page is a page of a Document. Counters for marked content and structure
// parents are kept here so they survive the page dictionary being flushed.
type Page struct {
	doc           *Document
	ref           raw.ObjectRef
	num           int
	nextMCID      int
	structParents int
}

func (d *Document) newPage(ref raw.ObjectRef) *Page {
	p := &Page{doc: d, ref: ref, num: len(d.pages) + 1, nextMCID: -1, structParents: -1}
	d.pages = append(d.pages, p)
	d.pageByNum[ref.Num] = p
	return p
}

// loadPageTree walks /Pages collecting leaf pages in document order.
// Inherited attributes stay on their /Pages nodes.
func (d *Document) loadPageTree() error {
	cat, err := d.Catalog()
	if err != nil {
		return err
	}
	root, ok := cat.GetRef("Pages")
	if !ok {
		return errors.New("catalog has no /Pages")
	}
	d.pagesRoot = root
	seen := make(map[int]bool)
	var walk func(ref raw.ObjectRef, depth int) error
	walk = func(ref raw.ObjectRef, depth int) error {
		if seen[ref.Num] {
			d.log.Warn("page tree cycle", observability.ObjectRef(ref.Num, ref.Gen)...)
			return nil
		}
		seen[ref.Num] = true
		if depth > d.cfg.Limits.MaxNestingDepth {
			return errors.Errorf("page tree deeper than %d", d.cfg.Limits.MaxNestingDepth)
		}
		node, err := d.GetDict(ref)
		if err != nil {
			return errors.Wrapf(err, "page tree node %s", ref)
		}
		typ, _ := node.GetName("Type")
		kidsObj, hasKids := node.Lookup("Kids")
		if typ == "Page" || (!hasKids && depth > 0) {
			d.newPage(ref)
			return nil
		}
		kids, ok := d.resolveArray(kidsObj)
		if !ok {
			return nil
		}
		for _, kid := range kids.Items {
			r, ok := kid.(raw.RefObj)
			if !ok {
				d.log.Warn("ignoring direct page tree kid", observability.ObjectRef(ref.Num, ref.Gen)...)
				continue
			}
			if err := walk(r.R, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root, 0)
}

func (d *Document) NumPages() int { return len(d.pages) }

// Page returns page n, counting from 1.
func (d *Document) Page(n int) (*Page, error) {
	if n < 1 || n > len(d.pages) {
		return nil, errors.Wrapf(ErrPageRange, "page %d of %d", n, len(d.pages))
	}
	return d.pages[n-1], nil
}

// PageByRef returns the page whose dictionary is ref.
func (d *Document) PageByRef(ref raw.ObjectRef) (*Page, bool) {
	p, ok := d.pageByNum[ref.Num]
	if !ok || p.ref != ref {
		return nil, false
	}
	return p, true
}

// AddPage appends an empty page of the given size to the root page node.
func (d *Document) AddPage(width, height float64) (*Page, error) {
	if d.closed {
		return nil, ErrClosed
	}
	dict := raw.DictOf(
		"Type", raw.NameLiteral("Page"),
		"MediaBox", raw.NewArray(raw.NumberInt(0), raw.NumberInt(0), number(width), number(height)),
		"Resources", raw.Dict(),
	)
	return d.appendPage(d.Add(dict).R)
}

// appendPage links ref under the root /Pages node.
func (d *Document) appendPage(ref raw.ObjectRef) (*Page, error) {
	root, err := d.GetDict(d.pagesRoot)
	if err != nil {
		return nil, errors.Wrap(err, "page tree root")
	}
	kids, ok := d.resolveArray(root.KV["Kids"])
	if !ok {
		kids = raw.NewArray()
		root.Put("Kids", kids)
	} else if r, isRef := root.KV["Kids"].(raw.RefObj); isRef {
		if err := d.MarkModified(r.R); err != nil {
			return nil, err
		}
	}
	kids.Append(ref.Object())
	count, _ := root.GetInt("Count")
	root.Put("Count", raw.NumberInt(count+1))
	if err := d.MarkModified(d.pagesRoot); err != nil {
		return nil, err
	}
	page, err := d.GetDict(ref)
	if err != nil {
		return nil, err
	}
	page.Put("Parent", d.pagesRoot.Object())
	if err := d.MarkModified(ref); err != nil {
		return nil, err
	}
	return d.newPage(ref), nil
}

func number(f float64) raw.NumberObj {
	if f == math.Trunc(f) && math.Abs(f) < 1<<31 {
		return raw.NumberInt(int64(f))
	}
	return raw.NumberFloat(f)
}

func (p *Page) Ref() raw.ObjectRef          { return p.ref }
func (p *Page) Number() int                 { return p.num }
func (p *Page) Document() *Document         { return p.doc }
func (p *Page) IsFlushed() bool             { return p.doc.IsFlushed(p.ref) }
func (p *Page) Dict() (*raw.DictObj, error) { return p.doc.GetDict(p.ref) }

// AppendContent adds data to the end of the page content. An unfiltered
// content stream still in memory is extended; otherwise a new stream is
// added to /Contents.
func (p *Page) AppendContent(data []byte) error {
	d := p.doc
	dict, err := p.Dict()
	if err != nil {
		return err
	}
	fresh := func() raw.RefObj {
		return d.Add(raw.NewStream(raw.Dict(), append([]byte(nil), data...)))
	}
	contents, ok := dict.Lookup("Contents")
	if !ok {
		dict.Put("Contents", fresh())
		return d.MarkModified(p.ref)
	}
	switch c := contents.(type) {
	case raw.RefObj:
		obj, err := d.Get(c.R)
		switch {
		case err == nil:
			if st, ok := obj.(*raw.StreamObj); ok && (st.Dict == nil || !st.Dict.Has("Filter")) {
				if len(st.Data) > 0 {
					st.Data = append(st.Data, '\n')
				}
				st.Data = append(st.Data, data...)
				return d.MarkModified(c.R)
			}
			if arr, ok := obj.(*raw.ArrayObj); ok {
				arr.Append(fresh())
				return d.MarkModified(c.R)
			}
		case !errors.Is(err, ErrFlushed):
			return err
		}
		dict.Put("Contents", raw.NewArray(c, fresh()))
	case *raw.ArrayObj:
		c.Append(fresh())
	default:
		return errors.Errorf("page %d: unexpected /Contents %s", p.num, contents.Type())
	}
	return d.MarkModified(p.ref)
}

// AddAnnotation adds annot to /Annots and links it back to the page.
func (p *Page) AddAnnotation(annot *raw.DictObj) (raw.RefObj, error) {
	d := p.doc
	dict, err := p.Dict()
	if err != nil {
		return raw.RefObj{}, err
	}
	annot.Put("P", p.ref.Object())
	ref := d.Add(annot)
	switch a := dict.KV["Annots"].(type) {
	case nil:
		dict.Put("Annots", raw.NewArray(ref))
	case *raw.ArrayObj:
		a.Append(ref)
	case raw.RefObj:
		arr, ok := d.resolveArray(a)
		if !ok {
			return raw.RefObj{}, errors.Errorf("page %d: /Annots is not an array", p.num)
		}
		arr.Append(ref)
		if err := d.MarkModified(a.R); err != nil {
			return raw.RefObj{}, err
		}
	default:
		return raw.RefObj{}, errors.Errorf("page %d: unexpected /Annots %s", p.num, a.Type())
	}
	return ref, d.MarkModified(p.ref)
}

// Flush runs the page flush hooks, then flushes the page content,
// resources, annotations and the page dictionary. The page tree nodes stay
// in memory.
func (p *Page) Flush() error {
	d := p.doc
	if p.IsFlushed() {
		return nil
	}
	if !d.writable() {
		return ErrReadOnly
	}
	for _, h := range d.pageHooks {
		if err := h(p); err != nil {
			return errors.Wrapf(err, "flush page %d", p.num)
		}
	}
	dict, err := p.Dict()
	if err != nil {
		return err
	}
	for _, key := range []string{"Contents", "Resources", "Annots"} {
		v, ok := dict.Lookup(key)
		if !ok {
			continue
		}
		var ferr error
		collectRefs(v, func(r raw.ObjectRef) {
			if ferr == nil {
				ferr = d.FlushDeep(r)
			}
		})
		if ferr != nil {
			return errors.Wrapf(ferr, "flush page %d %s", p.num, key)
		}
	}
	return d.Flush(p.ref)
}

// StructParents returns the page's /StructParents key if it has one.
func (p *Page) StructParents() (int, bool) {
	if p.structParents >= 0 {
		return p.structParents, true
	}
	dict, err := p.Dict()
	if err != nil {
		return 0, false
	}
	v, ok := dict.GetInt("StructParents")
	if !ok {
		return 0, false
	}
	p.structParents = int(v)
	return p.structParents, true
}

// StructParentIndex returns the page's /StructParents key, allocating one
// from the document counter when the page has none.
func (p *Page) StructParentIndex() (int, error) {
	if sp, ok := p.StructParents(); ok {
		return sp, nil
	}
	dict, err := p.Dict()
	if err != nil {
		return 0, err
	}
	idx, err := p.doc.NextStructParentIndex()
	if err != nil {
		return 0, err
	}
	dict.Put("StructParents", raw.NumberInt(int64(idx)))
	if err := p.doc.MarkModified(p.ref); err != nil {
		return 0, err
	}
	p.structParents = idx
	return idx, nil
}

// NextMCID allocates the next marked-content identifier of the page. For
// pages read from a source the counter continues after the identifiers
// already used.
func (p *Page) NextMCID() (int, error) {
	if p.nextMCID < 0 {
		n, err := p.resumeMCID()
		if err != nil {
			return 0, err
		}
		p.nextMCID = n
	}
	id := p.nextMCID
	p.nextMCID++
	return id, nil
}

func (p *Page) resumeMCID() (int, error) {
	if sp, ok := p.StructParents(); ok {
		tree, err := p.doc.ParentTree()
		if err != nil {
			return 0, err
		}
		if v, ok := tree.Get(sp); ok {
			if arr, ok := p.doc.resolveArray(v); ok {
				return arr.Len(), nil
			}
		}
	}
	data, err := p.Content()
	if err != nil {
		return 0, err
	}
	next := 0
	for _, id := range contentstream.CollectMCIDs(data) {
		if id >= next {
			next = id + 1
		}
	}
	return next, nil
}

// Content returns the decoded page content, joining multiple streams with
// a newline.
func (p *Page) Content() ([]byte, error) {
	d := p.doc
	dict, err := p.Dict()
	if err != nil {
		return nil, err
	}
	v, err := d.Resolve(dict.KV["Contents"])
	if err != nil {
		return nil, err
	}
	var parts []raw.Object
	switch c := v.(type) {
	case *raw.ArrayObj:
		parts = c.Items
	case *raw.StreamObj:
		parts = []raw.Object{c}
	}
	pipe := filters.NewDefaultPipeline(filters.Limits{
		MaxDecompressedSize: d.cfg.Limits.MaxDecompressedSize,
		MaxDecodeTime:       d.cfg.Limits.MaxDecodeTime,
	})
	var buf bytes.Buffer
	for _, part := range parts {
		obj, err := d.Resolve(part)
		if err != nil {
			return nil, err
		}
		st, ok := obj.(*raw.StreamObj)
		if !ok {
			continue
		}
		data, err := pipe.DecodeStream(context.Background(), st)
		if err != nil {
			return nil, errors.Wrapf(err, "page %d content", p.num)
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// structTreeRoot returns the catalog's /StructTreeRoot, or nil.
func (d *Document) structTreeRoot() (*raw.DictObj, error) {
	cat, err := d.Catalog()
	if err != nil {
		return nil, err
	}
	v, ok := cat.Lookup("StructTreeRoot")
	if !ok {
		return nil, nil
	}
	root, _ := d.resolveDict(v)
	return root, nil
}

// ParentTree returns the /ParentTree of the structure tree as read from the
// source. The result is cached; later changes are not reflected.
func (d *Document) ParentTree() (*NumberTree, error) {
	if d.parentTree != nil {
		return d.parentTree, nil
	}
	root, err := d.structTreeRoot()
	if err != nil {
		return nil, err
	}
	d.parentTree = NewNumberTree()
	if root == nil {
		return d.parentTree, nil
	}
	if v, ok := root.Lookup("ParentTree"); ok {
		tree, err := d.ReadNumberTree(v)
		if err != nil {
			return nil, errors.Wrap(err, "parent tree")
		}
		d.parentTree = tree
	}
	return d.parentTree, nil
}

// NextStructParentIndex allocates a /StructParents or /StructParent key.
// The counter starts after /ParentTreeNextKey, or after the largest
// ParentTree key.
func (d *Document) NextStructParentIndex() (int, error) {
	if err := d.initStructParents(); err != nil {
		return 0, err
	}
	idx := d.structParentNext
	d.structParentNext++
	return idx, nil
}

// StructParentNextKey is the value for /ParentTreeNextKey.
func (d *Document) StructParentNextKey() (int, error) {
	if err := d.initStructParents(); err != nil {
		return 0, err
	}
	return d.structParentNext, nil
}

func (d *Document) initStructParents() error {
	if d.structParentNext >= 0 {
		return nil
	}
	root, err := d.structTreeRoot()
	if err != nil {
		return err
	}
	next := 0
	if root != nil {
		if n, ok := root.GetInt("ParentTreeNextKey"); ok {
			next = int(n)
		} else {
			tree, err := d.ParentTree()
			if err != nil {
				return err
			}
			next = tree.MaxKey() + 1
		}
	}
	d.structParentNext = next
	return nil
}
