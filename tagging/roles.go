package tagging

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/ir/raw"
)

// standardRoles are the structure types of ISO 32000-1 and ISO 32000-2.
var standardRoles = map[string]bool{
	"Document": true, "DocumentFragment": true, "Part": true, "Art": true, "Sect": true,
	"Div": true, "BlockQuote": true, "Caption": true, "TOC": true, "TOCI": true,
	"Index": true, "NonStruct": true, "Private": true, "Aside": true,
	"P": true, "H": true, "H1": true, "H2": true, "H3": true, "H4": true, "H5": true, "H6": true,
	"Title": true, "FENote": true, "Sub": true,
	"L": true, "LI": true, "Lbl": true, "LBody": true,
	"Table": true, "TR": true, "TH": true, "TD": true, "THead": true, "TBody": true, "TFoot": true,
	"Span": true, "Quote": true, "Note": true, "Reference": true, "BibEntry": true, "Code": true,
	"Link": true, "Annot": true, "Em": true, "Strong": true,
	"Ruby": true, "RB": true, "RT": true, "RP": true, "Warichu": true, "WT": true, "WP": true,
	"Figure": true, "Formula": true, "Form": true, "Artifact": true,
}

// IsStandard reports whether role is a standard structure type.
func IsStandard(role string) bool { return standardRoles[role] }

// maxRoleChain bounds role map lookups.
const maxRoleChain = 64

// RoleMap maps custom structure types to other types, ending in a standard
// one.
type RoleMap struct {
	m     map[string]string
	dirty bool
}

func newRoleMap() *RoleMap { return &RoleMap{m: make(map[string]string)} }

func readRoleMap(d *raw.DictObj) *RoleMap {
	r := newRoleMap()
	if d == nil {
		return r
	}
	for k, v := range d.KV {
		if n, ok := v.(raw.NameObj); ok {
			r.m[k] = n.Val
		}
	}
	return r
}

// Add maps custom to role.
func (r *RoleMap) Add(custom, role string) {
	if r.m[custom] == role {
		return
	}
	r.m[custom] = role
	r.dirty = true
}

func (r *RoleMap) Get(custom string) (string, bool) {
	v, ok := r.m[custom]
	return v, ok
}

func (r *RoleMap) Len() int { return len(r.m) }

// Resolve follows the mapping from role until a standard type is reached.
// Unmapped custom roles and cycles are errors.
func (r *RoleMap) Resolve(role string) (string, error) {
	cur := role
	for i := 0; i < maxRoleChain; i++ {
		if IsStandard(cur) {
			return cur, nil
		}
		next, ok := r.m[cur]
		if !ok {
			return "", errors.Errorf("role %q is not standard and not mapped", role)
		}
		if next == role {
			return "", errors.Errorf("role map cycle at %q", role)
		}
		cur = next
	}
	return "", errors.Errorf("role map chain too long for %q", role)
}

// Dict returns the /RoleMap dictionary.
func (r *RoleMap) Dict() *raw.DictObj {
	d := raw.Dict()
	keys := make([]string, 0, len(r.m))
	for k := range r.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Put(k, raw.NameLiteral(r.m[k]))
	}
	return d
}
