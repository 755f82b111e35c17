// Package tagging maintains the logical structure tree of a tagged PDF: the
// structure elements, their marked-content and object references, the role
// map and the ParentTree that links page content back to the elements.
package tagging

import (
	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/ir/raw"
)

var (
	ErrTagFlushed   = errors.New("structure element already flushed")
	ErrNoPage       = errors.New("no page set for tagging")
	ErrNotConnected = errors.New("element is not connected to a tag")
	ErrNotTagged    = errors.New("document has no structure tree")
	ErrNoSuchTag    = errors.New("no such structure element")
	ErrClosed       = errors.New("tag structure closed")
)

// NodeID addresses a structure element within a Context. The root of the
// tree is always RootID.
type NodeID int

const RootID NodeID = 0

type KidKind int

const (
	KidElem KidKind = iota
	KidMCR
	KidOBJR
	// KidOther is a kid kept as read, such as an MCR into a form XObject.
	KidOther
)

func (k KidKind) String() string {
	switch k {
	case KidElem:
		return "elem"
	case KidMCR:
		return "MCR"
	case KidOBJR:
		return "OBJR"
	default:
		return "other"
	}
}

// Kid is one child of a structure element.
type Kid struct {
	Kind KidKind
	Elem NodeID
	// Page is the page of an MCR or OBJR. It is zero when unknown.
	Page raw.ObjectRef
	MCID int
	Obj  raw.ObjectRef
	Raw  raw.Object
}

type node struct {
	role    string
	parent  NodeID
	ref     raw.ObjectRef
	kids    []Kid
	attrs   map[string]raw.Object
	flushed bool
	dirty   bool
	conns   int
}

func (n *node) connected() bool { return n.conns > 0 }

// keys owned by the tree itself; everything else is carried as an attribute.
var (
	elemKeys = map[string]bool{"Type": true, "S": true, "P": true, "K": true, "Pg": true}
	rootKeys = map[string]bool{"Type": true, "K": true, "ParentTree": true, "ParentTreeNextKey": true, "RoleMap": true}
)

func attributes(d *raw.DictObj, owned map[string]bool) map[string]raw.Object {
	attrs := make(map[string]raw.Object)
	for k, v := range d.KV {
		if !owned[k] {
			attrs[k] = v
		}
	}
	return attrs
}
