package tagging

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/document"
	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
)

// Element is a caller-held logical element that can be connected to a
// structure node. It must be comparable; pointers are typical.
type Element interface{}

type pageInfo struct {
	owners map[int]NodeID
	dirty  bool
}

type objrInfo struct {
	owner NodeID
	page  raw.ObjectRef
	dirty bool
}

// Context is the structure tree of one document.
type Context struct {
	doc   *document.Document
	log   observability.Logger
	nodes []*node
	roles *RoleMap

	pages        map[raw.ObjectRef]*pageInfo
	objr         map[int]*objrInfo
	tree         *document.NumberTree
	flushedPages map[raw.ObjectRef]bool

	elems    map[Element]NodeID
	auto     TagTreePointer
	seen     map[int]bool
	modified bool
	closed   bool
}

func newContext(doc *document.Document) *Context {
	c := &Context{
		doc:          doc,
		log:          observability.OrDefault(doc.Logger()),
		roles:        newRoleMap(),
		pages:        make(map[raw.ObjectRef]*pageInfo),
		objr:         make(map[int]*objrInfo),
		tree:         document.NewNumberTree(),
		flushedPages: make(map[raw.ObjectRef]bool),
		elems:        make(map[Element]NodeID),
		seen:         make(map[int]bool),
	}
	c.auto = c.Root()
	return c
}

// Enable makes doc a tagged document. An existing structure tree is loaded;
// otherwise an empty one is created and the catalog marked.
func Enable(doc *document.Document) (*Context, error) {
	cat, err := doc.Catalog()
	if err != nil {
		return nil, err
	}
	if cat.Has("StructTreeRoot") {
		return Load(doc)
	}
	c := newContext(doc)
	ref := doc.Add(raw.DictOf("Type", raw.NameLiteral("StructTreeRoot"))).R
	c.nodes = append(c.nodes, &node{parent: -1, ref: ref, attrs: map[string]raw.Object{}, dirty: true})
	cat.Put("StructTreeRoot", raw.RefObj{R: ref})
	cat.Put("MarkInfo", raw.DictOf("Marked", raw.Bool(true)))
	if err := doc.MarkModified(doc.CatalogRef()); err != nil {
		return nil, err
	}
	c.modified = true
	c.attach()
	return c, nil
}

// Load reads the structure tree of doc.
func Load(doc *document.Document) (*Context, error) {
	cat, err := doc.Catalog()
	if err != nil {
		return nil, err
	}
	v, ok := cat.Lookup("StructTreeRoot")
	if !ok {
		return nil, ErrNotTagged
	}
	rootRef, ok := v.(raw.RefObj)
	if !ok {
		return nil, errors.Wrap(ErrNotTagged, "structure tree root is not an indirect object")
	}
	root, err := doc.GetDict(rootRef.R)
	if err != nil {
		return nil, errors.Wrap(err, "structure tree root")
	}

	c := newContext(doc)
	c.nodes = append(c.nodes, &node{parent: -1, ref: rootRef.R, attrs: attributes(root, rootKeys)})
	c.seen[rootRef.R.Num] = true
	if rm, ok := root.Lookup("RoleMap"); ok {
		obj, err := doc.Resolve(rm)
		if err != nil {
			c.log.Warn("role map unreadable", observability.Error("error", err))
		} else if d, ok := obj.(*raw.DictObj); ok {
			c.roles = readRoleMap(d)
		}
	}
	pt, err := doc.ParentTree()
	if err != nil {
		c.log.Warn("parent tree unreadable", observability.Error("error", err))
	} else {
		for _, k := range pt.Keys() {
			v, _ := pt.Get(k)
			c.tree.Put(k, v)
		}
	}
	c.loadKids(RootID, root.KV["K"], raw.ObjectRef{}, 0)
	c.log.Debug("structure tree loaded", observability.Int("elements", len(c.nodes)-1))
	c.attach()
	return c, nil
}

// attach registers the page flush and close hooks on a writable document.
func (c *Context) attach() {
	if c.doc.ReadOnly() {
		return
	}
	c.doc.Pin(c.nodes[RootID].ref)
	c.doc.OnPageFlush(c.FlushPageTags)
	c.doc.OnClose(c.Close)
}

func (c *Context) Document() *document.Document { return c.doc }
func (c *Context) RoleMap() *RoleMap            { return c.roles }

// Root returns a pointer at the structure tree root.
func (c *Context) Root() TagTreePointer {
	return TagTreePointer{c: c, path: []NodeID{RootID}, index: -1}
}

func (c *Context) AutoPointer() TagTreePointer { return c.auto }

func (c *Context) SetAutoPointer(p TagTreePointer) error {
	if p.c != c {
		return errors.New("tag pointer belongs to another document")
	}
	c.auto = p
	return nil
}

// IsFlushed reports whether the element was written out.
func (c *Context) IsFlushed(id NodeID) bool { return c.nodes[id].flushed }

// Ref returns the indirect reference of the element.
func (c *Context) Ref(id NodeID) raw.ObjectRef { return c.nodes[id].ref }

func (c *Context) Role(id NodeID) string { return c.nodes[id].role }

func (c *Context) Parent(id NodeID) NodeID { return c.nodes[id].parent }

// Kids returns a copy of the element's kids. Flushed elements report none.
func (c *Context) Kids(id NodeID) []Kid {
	return append([]Kid(nil), c.nodes[id].kids...)
}

// AddTagFor adds a role tag under the auto pointer and moves the auto
// pointer into it. With keepConnection the tag stays bound to elem and is
// not flushed until the connection is removed.
func (c *Context) AddTagFor(elem Element, role string, keepConnection bool) (TagTreePointer, error) {
	p, err := c.auto.AddTag(role)
	if err != nil {
		return p, err
	}
	c.auto = p
	if keepConnection {
		if old, ok := c.elems[elem]; ok {
			c.nodes[old].conns--
		}
		c.elems[elem] = p.Node()
		c.nodes[p.Node()].conns++
	}
	return p, nil
}

func (c *Context) IsConnected(elem Element) bool {
	_, ok := c.elems[elem]
	return ok
}

// MoveToTag moves the auto pointer to the tag connected to elem.
func (c *Context) MoveToTag(elem Element) error {
	id, ok := c.elems[elem]
	if !ok {
		return ErrNotConnected
	}
	if c.nodes[id].flushed {
		return errors.Wrapf(ErrTagFlushed, "role %s", c.nodes[id].role)
	}
	page := c.auto.page
	c.auto = c.pointerTo(id)
	c.auto.page = page
	return nil
}

// RemoveConnection unbinds elem. When the tag's parent is already flushed
// the tag is flushed at once and the auto pointer moves to the nearest
// unflushed ancestor.
func (c *Context) RemoveConnection(elem Element) error {
	id, ok := c.elems[elem]
	if !ok {
		return ErrNotConnected
	}
	delete(c.elems, elem)
	n := c.nodes[id]
	n.conns--
	if n.connected() || n.flushed || !c.nodes[n.parent].flushed {
		return nil
	}
	if err := c.flushSubtree(id); err != nil {
		return err
	}
	if c.auto.contains(id) {
		page := c.auto.page
		c.auto = c.pointerTo(c.unflushedAncestor(id))
		c.auto.page = page
	}
	return nil
}

// FlushTag flushes the tag under p and returns a pointer at its parent.
func (c *Context) FlushTag(p TagTreePointer) (TagTreePointer, error) { return p.FlushTag() }

func (c *Context) pointerTo(id NodeID) TagTreePointer {
	var path []NodeID
	for cur := id; cur >= 0; cur = c.nodes[cur].parent {
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return TagTreePointer{c: c, path: path, index: -1}
}

func (c *Context) unflushedAncestor(id NodeID) NodeID {
	cur := c.nodes[id].parent
	for cur != RootID && c.nodes[cur].flushed {
		cur = c.nodes[cur].parent
	}
	return cur
}

func (c *Context) newNode(role string, parent NodeID) NodeID {
	id := NodeID(len(c.nodes))
	ref := c.doc.Add(raw.Dict()).R
	c.nodes = append(c.nodes, &node{role: role, parent: parent, ref: ref, attrs: map[string]raw.Object{}, dirty: true})
	return id
}

func (c *Context) insertKid(parent NodeID, index int, kid Kid) error {
	n := c.nodes[parent]
	switch {
	case index < 0 || index == len(n.kids):
		n.kids = append(n.kids, kid)
	case index > len(n.kids):
		return errors.Errorf("kid index %d out of range [0,%d]", index, len(n.kids))
	default:
		n.kids = append(n.kids, Kid{})
		copy(n.kids[index+1:], n.kids[index:])
		n.kids[index] = kid
	}
	n.dirty = true
	c.modified = true
	return nil
}

func (c *Context) pageInfo(ref raw.ObjectRef) *pageInfo {
	info, ok := c.pages[ref]
	if !ok {
		info = &pageInfo{owners: make(map[int]NodeID)}
		c.pages[ref] = info
	}
	return info
}

// Close writes the remaining elements, the ParentTree and the tree root. It
// runs from the document's Close.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.doc.ReadOnly() || (!c.modified && !c.roles.dirty) {
		return nil
	}
	for id := 1; id < len(c.nodes); id++ {
		n := c.nodes[id]
		if n.flushed || !n.dirty || n.ref.Num == 0 {
			continue
		}
		if err := c.doc.Set(n.ref, c.elemDict(NodeID(id))); err != nil {
			return errors.Wrapf(err, "structure element %s", n.role)
		}
	}

	refs := make([]raw.ObjectRef, 0, len(c.pages))
	for ref, info := range c.pages {
		if info.dirty {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Num < refs[j].Num })
	for _, ref := range refs {
		if err := c.writePageArray(ref, c.pages[ref], false); err != nil {
			c.log.Warn("parent tree entry skipped", append(observability.ObjectRef(ref.Num, ref.Gen), observability.Error("error", err))...)
		}
	}
	for key, o := range c.objr {
		if o.dirty {
			c.tree.Put(key, raw.RefObj{R: c.nodes[o.owner].ref})
			o.dirty = false
		}
	}

	root, err := c.rootDict()
	if err != nil {
		return err
	}
	rootRef := c.nodes[RootID].ref
	c.doc.Unpin(rootRef)
	if err := c.doc.Set(rootRef, root); err != nil {
		return errors.Wrap(err, "structure tree root")
	}
	cat, err := c.doc.Catalog()
	if err != nil {
		return err
	}
	if mi, ok := cat.GetDict("MarkInfo"); !ok || !raw.Equal(mi.KV["Marked"], raw.Bool(true)) {
		if !ok {
			mi = raw.Dict()
		}
		mi.Put("Marked", raw.Bool(true))
		cat.Put("MarkInfo", mi)
		return c.doc.MarkModified(c.doc.CatalogRef())
	}
	return nil
}

func (c *Context) rootDict() (*raw.DictObj, error) {
	root := c.nodes[RootID]
	d := raw.Dict()
	for k, v := range root.attrs {
		d.Put(k, v)
	}
	d.Put("Type", raw.NameLiteral("StructTreeRoot"))
	if k := c.kidsObject(RootID, raw.ObjectRef{}); k != nil {
		d.Put("K", k)
	}
	if c.tree.Len() > 0 {
		d.Put("ParentTree", c.doc.Add(c.tree.Build(c.doc)))
	}
	next, err := c.doc.StructParentNextKey()
	if err != nil {
		return nil, err
	}
	d.Put("ParentTreeNextKey", raw.NumberInt(int64(next)))
	if c.roles.Len() > 0 {
		d.Put("RoleMap", c.roles.Dict())
	}
	return d, nil
}

// elemDict serializes a structure element. /Pg is the page of the first
// marked-content kid; MCRs on that page are written as bare MCIDs.
func (c *Context) elemDict(id NodeID) *raw.DictObj {
	n := c.nodes[id]
	d := raw.Dict()
	for k, v := range n.attrs {
		d.Put(k, v)
	}
	d.Put("Type", raw.NameLiteral("StructElem"))
	d.Put("S", raw.NameLiteral(n.role))
	d.Put("P", raw.RefObj{R: c.nodes[n.parent].ref})
	var pg raw.ObjectRef
	for _, k := range n.kids {
		if (k.Kind == KidMCR || k.Kind == KidOBJR) && k.Page.Num != 0 {
			pg = k.Page
			break
		}
	}
	if pg.Num != 0 {
		d.Put("Pg", raw.RefObj{R: pg})
	}
	if k := c.kidsObject(id, pg); k != nil {
		d.Put("K", k)
	}
	return d
}

func (c *Context) kidsObject(id NodeID, pg raw.ObjectRef) raw.Object {
	n := c.nodes[id]
	items := make([]raw.Object, 0, len(n.kids))
	for _, k := range n.kids {
		switch k.Kind {
		case KidElem:
			items = append(items, raw.RefObj{R: c.nodes[k.Elem].ref})
		case KidMCR:
			if k.Page == pg {
				items = append(items, raw.NumberInt(int64(k.MCID)))
				continue
			}
			items = append(items, raw.DictOf("Type", raw.NameLiteral("MCR"), "Pg", raw.RefObj{R: k.Page}, "MCID", raw.NumberInt(int64(k.MCID))))
		case KidOBJR:
			objr := raw.DictOf("Type", raw.NameLiteral("OBJR"), "Obj", raw.RefObj{R: k.Obj})
			if k.Page.Num != 0 {
				objr.Put("Pg", raw.RefObj{R: k.Page})
			}
			items = append(items, objr)
		default:
			items = append(items, k.Raw)
		}
	}
	switch len(items) {
	case 0:
		return nil
	case 1:
		return items[0]
	}
	return raw.NewArray(items...)
}
