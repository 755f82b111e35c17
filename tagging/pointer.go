package tagging

import (
	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/contentstream"
	"github.com/wudi/pdfkernel/document"
	"github.com/wudi/pdfkernel/ir/raw"
)

// TagTreePointer is a position in the structure tree. It is a value:
// navigation returns a new pointer and leaves the receiver unchanged.
type TagTreePointer struct {
	c     *Context
	path  []NodeID
	page  *document.Page
	index int
}

func (p TagTreePointer) Node() NodeID         { return p.path[len(p.path)-1] }
func (p TagTreePointer) IsRoot() bool         { return len(p.path) == 1 }
func (p TagTreePointer) Page() *document.Page { return p.page }
func (p TagTreePointer) node() *node          { return p.c.nodes[p.Node()] }

func (p TagTreePointer) contains(id NodeID) bool {
	for _, n := range p.path {
		if n == id {
			return true
		}
	}
	return false
}

func (p TagTreePointer) descend(id NodeID) TagTreePointer {
	path := make([]NodeID, len(p.path)+1)
	copy(path, p.path)
	path[len(p.path)] = id
	p.path = path
	p.index = -1
	return p
}

// open returns the current node when it can still take changes.
func (p TagTreePointer) open() (*node, error) {
	if p.c.closed {
		return nil, ErrClosed
	}
	n := p.node()
	if n.flushed {
		return nil, errors.Wrapf(ErrTagFlushed, "role %s", n.role)
	}
	return n, nil
}

// SetPageForTagging sets the page new marked content is attributed to.
func (p TagTreePointer) SetPageForTagging(page *document.Page) TagTreePointer {
	p.page = page
	return p
}

// SetNextKidIndex makes insertions through the returned pointer go to index
// instead of the end. The index belongs to the pointer value and is used
// for every insertion made through it; AddTag and navigation return
// pointers that append again. A TagReference taken from the pointer
// advances its own copy, so its marked content keeps document order.
func (p TagTreePointer) SetNextKidIndex(index int) TagTreePointer {
	p.index = index
	return p
}

// AddTag appends a role child to the current element and returns a pointer
// at it.
func (p TagTreePointer) AddTag(role string) (TagTreePointer, error) {
	return p.AddTagAt(p.index, role)
}

// AddTagAt inserts a role child at index, or appends it when index is
// negative. Only the current element is rewritten; flushed siblings keep
// their written form.
func (p TagTreePointer) AddTagAt(index int, role string) (TagTreePointer, error) {
	if role == "" {
		return p, errors.New("empty structure role")
	}
	if _, err := p.open(); err != nil {
		return p, err
	}
	if n := len(p.node().kids); index > n {
		return p, errors.Errorf("kid index %d out of range [0,%d]", index, n)
	}
	id := p.c.newNode(role, p.Node())
	if err := p.c.insertKid(p.Node(), index, Kid{Kind: KidElem, Elem: id}); err != nil {
		return p, err
	}
	return p.descend(id), nil
}

func (p TagTreePointer) MoveToParent() (TagTreePointer, error) {
	if p.IsRoot() {
		return p, errors.New("tag pointer is already at the root")
	}
	parent := p.path[len(p.path)-2]
	if p.c.nodes[parent].flushed {
		return p, errors.Wrapf(ErrTagFlushed, "parent of %s", p.node().role)
	}
	p.path = append([]NodeID(nil), p.path[:len(p.path)-1]...)
	p.index = -1
	return p, nil
}

func (p TagTreePointer) MoveToRoot() TagTreePointer {
	p.path = []NodeID{RootID}
	p.index = -1
	return p
}

// MoveToKid moves to the first child element with role.
func (p TagTreePointer) MoveToKid(role string) (TagTreePointer, error) {
	return p.MoveToKidAt(0, role)
}

// MoveToKidAt moves to the n-th child element with role, counting from 0.
func (p TagTreePointer) MoveToKidAt(n int, role string) (TagTreePointer, error) {
	seen := 0
	for _, k := range p.node().kids {
		if k.Kind != KidElem || p.c.nodes[k.Elem].role != role {
			continue
		}
		if seen == n {
			if p.c.nodes[k.Elem].flushed {
				return p, errors.Wrapf(ErrTagFlushed, "kid %s #%d", role, n)
			}
			return p.descend(k.Elem), nil
		}
		seen++
	}
	return p, errors.Wrapf(ErrNoSuchTag, "kid %s #%d under %s", role, n, p.Role())
}

// MoveToKidIndex moves to the kid at position i, which must be an element.
func (p TagTreePointer) MoveToKidIndex(i int) (TagTreePointer, error) {
	kids := p.node().kids
	if i < 0 || i >= len(kids) {
		return p, errors.Wrapf(ErrNoSuchTag, "kid index %d of %d", i, len(kids))
	}
	k := kids[i]
	if k.Kind != KidElem {
		return p, errors.Errorf("kid %d is %s, not a structure element", i, k.Kind)
	}
	if p.c.nodes[k.Elem].flushed {
		return p, errors.Wrapf(ErrTagFlushed, "kid index %d", i)
	}
	return p.descend(k.Elem), nil
}

// Role returns the role of the current element, or "" at the root.
func (p TagTreePointer) Role() string { return p.node().role }

func (p TagTreePointer) SetRole(role string) error {
	if p.IsRoot() {
		return errors.New("the structure tree root has no role")
	}
	n, err := p.open()
	if err != nil {
		return err
	}
	if role == "" {
		return errors.New("empty structure role")
	}
	n.role = role
	n.dirty = true
	p.c.modified = true
	return nil
}

// KidsRoles lists the roles of the current element's kids. Marked-content
// and object references are reported as "".
func (p TagTreePointer) KidsRoles() []string {
	kids := p.node().kids
	roles := make([]string, len(kids))
	for i, k := range kids {
		if k.Kind == KidElem {
			roles[i] = p.c.nodes[k.Elem].role
		}
	}
	return roles
}

func (p TagTreePointer) SetAlt(s string) error   { return p.SetAttribute("Alt", raw.TextString(s)) }
func (p TagTreePointer) SetLang(s string) error  { return p.SetAttribute("Lang", raw.TextString(s)) }
func (p TagTreePointer) SetTitle(s string) error { return p.SetAttribute("T", raw.TextString(s)) }
func (p TagTreePointer) SetID(id []byte) error   { return p.SetAttribute("ID", raw.Str(id)) }

func (p TagTreePointer) SetActualText(s string) error {
	return p.SetAttribute("ActualText", raw.TextString(s))
}

// SetAttribute sets an entry of the element dictionary.
func (p TagTreePointer) SetAttribute(key string, value raw.Object) error {
	if p.IsRoot() || elemKeys[key] {
		return errors.Errorf("attribute %s cannot be set here", key)
	}
	n, err := p.open()
	if err != nil {
		return err
	}
	n.attrs[key] = value
	n.dirty = true
	p.c.modified = true
	return nil
}

func (p TagTreePointer) Attribute(key string) (raw.Object, bool) {
	v, ok := p.node().attrs[key]
	return v, ok
}

// AddAnnotationTag adds an object reference to annot, which must be on the
// pointer's page. The annotation gets a /StructParent key.
func (p TagTreePointer) AddAnnotationTag(annot raw.ObjectRef) error {
	if _, err := p.open(); err != nil {
		return err
	}
	if p.page == nil {
		return ErrNoPage
	}
	c := p.c
	dict, err := c.doc.GetDict(annot)
	if err != nil {
		return errors.Wrap(err, "annotation")
	}
	key := -1
	if sp, ok := dict.GetInt("StructParent"); ok {
		if o, taken := c.objr[int(sp)]; !taken || o.owner == p.Node() {
			key = int(sp)
		}
	}
	if key < 0 {
		if key, err = c.doc.NextStructParentIndex(); err != nil {
			return err
		}
		dict.Put("StructParent", raw.NumberInt(int64(key)))
		if err := c.doc.MarkModified(annot); err != nil {
			return err
		}
	}
	if err := c.insertKid(p.Node(), p.index, Kid{Kind: KidOBJR, Obj: annot, Page: p.page.Ref()}); err != nil {
		return err
	}
	c.objr[key] = &objrInfo{owner: p.Node(), page: p.page.Ref(), dirty: true}
	return nil
}

// TagReference returns a handle for marking content of the current element
// on the pointer's page.
func (p TagTreePointer) TagReference() (TagReference, error) {
	if p.IsRoot() {
		return TagReference{}, errors.New("marked content cannot belong to the structure tree root")
	}
	if _, err := p.open(); err != nil {
		return TagReference{}, err
	}
	if p.page == nil {
		return TagReference{}, ErrNoPage
	}
	next := p.index
	return TagReference{p: p, next: &next}, nil
}

// FlushTag flushes the current element and every descendant not connected
// to an element. It returns a pointer at the nearest unflushed ancestor.
func (p TagTreePointer) FlushTag() (TagTreePointer, error) {
	if p.IsRoot() {
		return p, errors.New("the structure tree root is written at close")
	}
	if p.c.closed {
		return p, ErrClosed
	}
	id := p.Node()
	if err := p.c.flushSubtree(id); err != nil {
		return p, err
	}
	up := p.c.pointerTo(p.c.unflushedAncestor(id))
	up.page = p.page
	return up, nil
}

// TagReference ties a marked-content sequence to a structure element.
type TagReference struct {
	p     TagTreePointer
	props *raw.DictObj
	next  *int
}

func (r TagReference) Role() string { return r.p.Role() }

// WithProperty adds an entry to the property list written by Begin.
func (r TagReference) WithProperty(key string, value raw.Object) TagReference {
	props := raw.Dict()
	if r.props != nil {
		for k, v := range r.props.KV {
			props.Put(k, v)
		}
	}
	props.Put(key, value)
	r.props = props
	return r
}

// OpenMarkedContent allocates the next MCID of the page, adds the marked
// content reference to the element and records the ParentTree owner.
func (r TagReference) OpenMarkedContent() (int, error) {
	p := r.p
	if _, err := p.open(); err != nil {
		return 0, err
	}
	page := p.page
	if page.IsFlushed() {
		return 0, errors.Wrapf(document.ErrFlushed, "page %d", page.Number())
	}
	if _, err := page.StructParentIndex(); err != nil {
		return 0, err
	}
	mcid, err := page.NextMCID()
	if err != nil {
		return 0, err
	}
	index := p.index
	if r.next != nil {
		index = *r.next
	}
	if err := p.c.insertKid(p.Node(), index, Kid{Kind: KidMCR, Page: page.Ref(), MCID: mcid}); err != nil {
		return 0, err
	}
	if r.next != nil && *r.next >= 0 {
		*r.next++
	}
	info := p.c.pageInfo(page.Ref())
	info.owners[mcid] = p.Node()
	info.dirty = true
	return mcid, nil
}

// Begin opens the marked content and writes the BDC operator to b.
func (r TagReference) Begin(b *contentstream.Builder) (int, error) {
	mcid, err := r.OpenMarkedContent()
	if err != nil {
		return 0, err
	}
	r = r.WithProperty("MCID", raw.NumberInt(int64(mcid)))
	b.BeginMarkedContentProps(r.Role(), r.props)
	return mcid, nil
}
