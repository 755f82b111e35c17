package tagging

import (
	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
)

func (c *Context) maxDepth() int {
	if d := c.doc.Limits().MaxNestingDepth; d > 0 {
		return d
	}
	return 256
}

// loadKids reads a /K value. pg is the page inherited from the enclosing
// element. Malformed kids are logged and skipped.
func (c *Context) loadKids(parent NodeID, k raw.Object, pg raw.ObjectRef, depth int) {
	if k == nil {
		return
	}
	if ref, ok := k.(raw.RefObj); ok {
		obj, err := c.doc.Resolve(ref)
		if err != nil {
			c.log.Warn("structure kid unreadable", append(observability.ObjectRef(ref.R.Num, ref.R.Gen), observability.Error("error", err))...)
			return
		}
		if arr, ok := obj.(*raw.ArrayObj); ok {
			k = arr
		}
	}
	if arr, ok := k.(*raw.ArrayObj); ok {
		for _, item := range arr.Items {
			c.loadKid(parent, item, pg, depth)
		}
		return
	}
	c.loadKid(parent, k, pg, depth)
}

func (c *Context) loadKid(parent NodeID, item raw.Object, pg raw.ObjectRef, depth int) {
	switch v := item.(type) {
	case raw.NumberObj:
		c.loadMCR(parent, pg, int(v.Int()))
	case raw.RefObj:
		obj, err := c.doc.Resolve(v)
		if err != nil {
			c.log.Warn("structure kid unreadable", append(observability.ObjectRef(v.R.Num, v.R.Gen), observability.Error("error", err))...)
			return
		}
		d, ok := obj.(*raw.DictObj)
		if !ok {
			c.log.Warn("structure kid is not a dictionary", observability.ObjectRef(v.R.Num, v.R.Gen)...)
			return
		}
		c.loadDict(parent, v.R, d, item, pg, depth)
	case *raw.DictObj:
		c.loadDict(parent, raw.ObjectRef{}, v, item, pg, depth)
	case raw.NullObj:
	default:
		c.log.Warn("unexpected structure kid", observability.String("type", item.Type()), observability.String("role", c.nodes[parent].role))
	}
}

func (c *Context) loadDict(parent NodeID, ref raw.ObjectRef, d *raw.DictObj, item raw.Object, pg raw.ObjectRef, depth int) {
	if r, ok := d.GetRef("Pg"); ok {
		pg = r
	}
	typ, _ := d.GetName("Type")
	switch typ {
	case "MCR":
		mcid, ok := d.GetInt("MCID")
		if !ok || d.Has("Stm") {
			c.nodes[parent].kids = append(c.nodes[parent].kids, Kid{Kind: KidOther, Raw: item})
			return
		}
		c.loadMCR(parent, pg, int(mcid))
	case "OBJR":
		obj, ok := d.GetRef("Obj")
		if !ok {
			c.log.Warn("object reference without /Obj", observability.String("role", c.nodes[parent].role))
			return
		}
		c.nodes[parent].kids = append(c.nodes[parent].kids, Kid{Kind: KidOBJR, Obj: obj, Page: pg})
		annot, err := c.doc.GetDict(obj)
		if err != nil {
			return
		}
		if sp, ok := annot.GetInt("StructParent"); ok {
			c.objr[int(sp)] = &objrInfo{owner: parent, page: pg}
		}
	default:
		c.loadElem(parent, ref, d, pg, depth)
	}
}

func (c *Context) loadElem(parent NodeID, ref raw.ObjectRef, d *raw.DictObj, pg raw.ObjectRef, depth int) {
	if depth >= c.maxDepth() {
		c.log.Warn("structure tree too deep", observability.Int("depth", depth))
		return
	}
	if ref.Num != 0 {
		if c.seen[ref.Num] {
			c.log.Warn("structure tree cycle", observability.ObjectRef(ref.Num, ref.Gen)...)
			return
		}
		c.seen[ref.Num] = true
	}
	role, _ := d.GetName("S")
	n := &node{role: role, parent: parent, ref: ref, attrs: attributes(d, elemKeys)}
	if ref.Num == 0 {
		// Direct elements get their own object so kids can point back.
		n.ref = c.doc.Add(raw.Dict()).R
		n.dirty = true
		c.nodes[parent].dirty = true
		c.modified = true
	}
	id := NodeID(len(c.nodes))
	c.nodes = append(c.nodes, n)
	c.nodes[parent].kids = append(c.nodes[parent].kids, Kid{Kind: KidElem, Elem: id})
	c.loadKids(id, d.KV["K"], pg, depth+1)
}

func (c *Context) loadMCR(parent NodeID, pg raw.ObjectRef, mcid int) {
	c.nodes[parent].kids = append(c.nodes[parent].kids, Kid{Kind: KidMCR, Page: pg, MCID: mcid})
	if pg.Num != 0 {
		c.pageInfo(pg).owners[mcid] = parent
	}
}
