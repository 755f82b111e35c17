package tagging

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/document"
	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
)

// flushNode writes the element and releases its kids and attributes.
func (c *Context) flushNode(id NodeID) error {
	n := c.nodes[id]
	if n.dirty {
		if err := c.doc.Set(n.ref, c.elemDict(id)); err != nil {
			return errors.Wrapf(err, "structure element %s", n.role)
		}
	}
	if err := c.doc.Flush(n.ref); err != nil {
		return errors.Wrapf(err, "structure element %s", n.role)
	}
	n.flushed = true
	n.dirty = false
	n.kids = nil
	n.attrs = nil
	c.log.Debug("structure element flushed", append(observability.ObjectRef(n.ref.Num, n.ref.Gen), observability.String("role", n.role))...)
	return nil
}

// flushSubtree flushes id and its descendants. Connected elements and
// everything below them stay in memory.
func (c *Context) flushSubtree(id NodeID) error {
	n := c.nodes[id]
	if n.flushed || n.connected() {
		return nil
	}
	for _, k := range n.kids {
		if k.Kind != KidElem {
			continue
		}
		if err := c.flushSubtree(k.Elem); err != nil {
			return err
		}
	}
	return c.flushNode(id)
}

// tryFlush flushes id when its marked content lies on tag-flushed pages and
// every element kid is already flushed. Connected elements and elements on
// the auto pointer's path are left open. It reports whether id is flushed
// afterwards.
func (c *Context) tryFlush(id NodeID) (bool, error) {
	n := c.nodes[id]
	if n.flushed {
		return true, nil
	}
	if n.connected() || c.auto.contains(id) {
		return false, nil
	}
	for _, k := range n.kids {
		switch k.Kind {
		case KidElem:
			if !c.nodes[k.Elem].flushed {
				return false, nil
			}
		case KidMCR, KidOBJR:
			if !c.pageDone(k.Page) {
				return false, nil
			}
		}
	}
	return true, c.flushNode(id)
}

func (c *Context) pageDone(ref raw.ObjectRef) bool {
	return ref.Num == 0 || c.flushedPages[ref] || c.doc.IsFlushed(ref)
}

// FlushPageTags flushes the elements whose content is confined to pages
// already finished, starting from the owners of the page's marked content
// and walking up. Direct kids of the root wait for Close. The page's
// ParentTree entry is written out as well.
func (c *Context) FlushPageTags(page *document.Page) error {
	if c.closed {
		return nil
	}
	ref := page.Ref()
	c.flushedPages[ref] = true

	owners := make(map[NodeID]bool)
	info := c.pages[ref]
	if info != nil {
		for _, id := range info.owners {
			owners[id] = true
		}
	}
	for _, o := range c.objr {
		if o.page == ref {
			owners[o.owner] = true
		}
	}
	ids := make([]NodeID, 0, len(owners))
	for id := range owners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		for cur := id; cur != RootID && c.nodes[cur].parent != RootID; cur = c.nodes[cur].parent {
			done, err := c.tryFlush(cur)
			if err != nil {
				return err
			}
			if !done {
				break
			}
		}
	}
	if info != nil && info.dirty {
		return c.writePageArray(ref, info, true)
	}
	return nil
}

// writePageArray stores the page's ParentTree array, indexed by MCID.
// Entries from the source array are kept where no owner is known.
func (c *Context) writePageArray(ref raw.ObjectRef, info *pageInfo, flush bool) error {
	page, ok := c.doc.PageByRef(ref)
	if !ok {
		return errors.Errorf("marked content on unknown page %s", ref)
	}
	key, err := page.StructParentIndex()
	if err != nil {
		return err
	}
	var base []raw.Object
	if v, ok := c.tree.Get(key); ok {
		if obj, err := c.doc.Resolve(v); err == nil {
			if arr, ok := obj.(*raw.ArrayObj); ok {
				base = arr.Items
			}
		}
	}
	size := len(base)
	for mcid := range info.owners {
		if mcid >= size {
			size = mcid + 1
		}
	}
	arr := raw.NewArray()
	for i := 0; i < size; i++ {
		if id, ok := info.owners[i]; ok {
			arr.Append(raw.RefObj{R: c.nodes[id].ref})
		} else if i < len(base) {
			arr.Append(base[i])
		} else {
			arr.Append(raw.NullObj{})
		}
	}
	aref := c.doc.Add(arr)
	if flush {
		if err := c.doc.Flush(aref.R); err != nil {
			return err
		}
	}
	c.tree.Put(key, aref)
	info.dirty = false
	return nil
}
