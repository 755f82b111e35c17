package document

import (
	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
)

// inheritableKeys are page attributes that may live on an ancestor /Pages
// node and are materialized on copied pages.
var inheritableKeys = []string{"Resources", "MediaBox", "CropBox", "Rotate"}

// droppedKeys link copied objects into structures of the source document.
var droppedKeys = map[string]bool{"Parent": true, "StructParents": true, "StructParent": true}

type pageCopier struct {
	src  *Document
	dst  *Document
	refs map[raw.ObjectRef]raw.ObjectRef
}

// CopyPagesTo appends copies of pages from..to (1-based, inclusive) to dst.
// Objects shared between the copied pages are copied once. Structure
// parent keys and parent links are not carried over and form fields are
// not copied. On failure the pages copied so far are returned with the
// error.
func (d *Document) CopyPagesTo(from, to int, dst *Document) ([]*Page, error) {
	if d.closed || dst.closed {
		return nil, errors.Wrap(ErrClosed, "copy pages")
	}
	if from < 1 || to > len(d.pages) || from > to {
		return nil, errors.Wrapf(ErrPageRange, "copy pages %d-%d of %d", from, to, len(d.pages))
	}
	if cat, err := d.Catalog(); err == nil && cat.Has("AcroForm") {
		d.log.Warn("form fields are not copied", observability.Int("from", from), observability.Int("to", to))
	}
	c := &pageCopier{src: d, dst: dst, refs: make(map[raw.ObjectRef]raw.ObjectRef)}
	for i := from; i <= to; i++ {
		c.refs[d.pages[i-1].ref] = dst.Add(raw.NullObj{}).R
	}
	out := make([]*Page, 0, to-from+1)
	for i := from; i <= to; i++ {
		p, err := c.copyPage(d.pages[i-1])
		if err != nil {
			return out, errors.Wrapf(err, "copy page %d", i)
		}
		out = append(out, p)
	}
	return out, nil
}

func (c *pageCopier) copyPage(p *Page) (*Page, error) {
	dict, err := p.Dict()
	if err != nil {
		return nil, err
	}
	nd := raw.Dict()
	for k, v := range dict.KV {
		if droppedKeys[k] {
			continue
		}
		cv, err := c.copy(v)
		if err != nil {
			return nil, errors.Wrapf(err, "/%s", k)
		}
		nd.Put(k, cv)
	}
	for _, key := range inheritableKeys {
		if nd.Has(key) {
			continue
		}
		v, err := c.src.inherited(dict, key)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		cv, err := c.copy(v)
		if err != nil {
			return nil, errors.Wrapf(err, "inherited /%s", key)
		}
		nd.Put(key, cv)
	}
	ref := c.refs[p.ref]
	if err := c.dst.Set(ref, nd); err != nil {
		return nil, err
	}
	return c.dst.appendPage(ref)
}

func (c *pageCopier) copy(obj raw.Object) (raw.Object, error) {
	switch v := obj.(type) {
	case raw.RefObj:
		if mapped, ok := c.refs[v.R]; ok {
			return mapped.Object(), nil
		}
		target, err := c.src.Get(v.R)
		if errors.Is(err, ErrNotFound) {
			return raw.NullObj{}, nil
		}
		if err != nil {
			return nil, err
		}
		if isPageNode(target) {
			return raw.NullObj{}, nil
		}
		nr := c.dst.Add(raw.NullObj{}).R
		c.refs[v.R] = nr
		cp, err := c.copy(target)
		if err != nil {
			return nil, err
		}
		return nr.Object(), c.dst.Set(nr, cp)
	case *raw.DictObj:
		return c.copyDict(v)
	case *raw.ArrayObj:
		arr := raw.NewArray()
		for _, it := range v.Items {
			cp, err := c.copy(it)
			if err != nil {
				return nil, err
			}
			arr.Append(cp)
		}
		return arr, nil
	case *raw.StreamObj:
		dict := raw.Dict()
		if v.Dict != nil {
			cd, err := c.copyDict(v.Dict)
			if err != nil {
				return nil, err
			}
			dict = cd
		}
		return raw.NewStream(dict, append([]byte(nil), v.Data...)), nil
	}
	return raw.Clone(obj), nil
}

func (c *pageCopier) copyDict(d *raw.DictObj) (*raw.DictObj, error) {
	nd := raw.Dict()
	for k, v := range d.KV {
		if droppedKeys[k] {
			continue
		}
		cp, err := c.copy(v)
		if err != nil {
			return nil, err
		}
		nd.Put(k, cp)
	}
	return nd, nil
}

// inherited looks key up on the ancestors of a page dictionary.
func (d *Document) inherited(page *raw.DictObj, key string) (raw.Object, error) {
	node := page
	for depth := 0; depth < d.cfg.Limits.MaxNestingDepth; depth++ {
		parent, ok := node.Lookup("Parent")
		if !ok {
			return nil, nil
		}
		pd, ok := d.resolveDict(parent)
		if !ok {
			return nil, nil
		}
		if v, ok := pd.Lookup(key); ok {
			return v, nil
		}
		node = pd
	}
	return nil, errors.Errorf("page tree deeper than %d", d.cfg.Limits.MaxNestingDepth)
}
