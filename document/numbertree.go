package document

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/ir/raw"
)

// numberTreeLeafSize is the number of entries per leaf when a tree is
// split into /Kids.
const numberTreeLeafSize = 32

// NumberTree is an in-memory number tree such as /ParentTree.
type NumberTree struct {
	entries map[int]raw.Object
}

func NewNumberTree() *NumberTree {
	return &NumberTree{entries: make(map[int]raw.Object)}
}

// ReadNumberTree collects the /Nums entries of the tree rooted at root,
// visiting /Kids depth first.
func (d *Document) ReadNumberTree(root raw.Object) (*NumberTree, error) {
	t := NewNumberTree()
	seen := make(map[raw.ObjectRef]bool)
	var visit func(node raw.Object, depth int) error
	visit = func(node raw.Object, depth int) error {
		if depth > d.cfg.Limits.MaxNestingDepth {
			return errors.Errorf("number tree deeper than %d", d.cfg.Limits.MaxNestingDepth)
		}
		if r, ok := node.(raw.RefObj); ok {
			if seen[r.R] {
				return nil
			}
			seen[r.R] = true
		}
		dict, ok := d.resolveDict(node)
		if !ok {
			return nil
		}
		if nums, ok := d.resolveArray(dict.KV["Nums"]); ok {
			for i := 0; i+1 < len(nums.Items); i += 2 {
				key, ok := nums.Items[i].(raw.NumberObj)
				if !ok {
					continue
				}
				t.entries[int(key.Int())] = nums.Items[i+1]
			}
		}
		if kids, ok := d.resolveArray(dict.KV["Kids"]); ok {
			for _, kid := range kids.Items {
				if err := visit(kid, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := visit(root, 0); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *NumberTree) Get(key int) (raw.Object, bool) {
	v, ok := t.entries[key]
	return v, ok
}

func (t *NumberTree) Put(key int, value raw.Object) { t.entries[key] = value }
func (t *NumberTree) Delete(key int)                { delete(t.entries, key) }
func (t *NumberTree) Len() int                      { return len(t.entries) }

// Keys returns the keys in ascending order.
func (t *NumberTree) Keys() []int {
	keys := make([]int, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// MaxKey returns the largest key, or -1 for an empty tree.
func (t *NumberTree) MaxKey() int {
	max := -1
	for k := range t.entries {
		if k > max {
			max = k
		}
	}
	return max
}

// Build returns the tree root. Small trees are a single /Nums dictionary;
// larger ones get indirect leaves with /Limits under /Kids.
func (t *NumberTree) Build(d *Document) *raw.DictObj {
	keys := t.Keys()
	if len(keys) <= numberTreeLeafSize {
		return raw.DictOf("Nums", t.nums(keys))
	}
	kids := raw.NewArray()
	for start := 0; start < len(keys); start += numberTreeLeafSize {
		end := start + numberTreeLeafSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]
		leaf := raw.DictOf(
			"Limits", raw.NewArray(raw.NumberInt(int64(chunk[0])), raw.NumberInt(int64(chunk[len(chunk)-1]))),
			"Nums", t.nums(chunk),
		)
		kids.Append(d.Add(leaf))
	}
	return raw.DictOf("Kids", kids)
}

func (t *NumberTree) nums(keys []int) *raw.ArrayObj {
	arr := raw.NewArray()
	for _, k := range keys {
		arr.Append(raw.NumberInt(int64(k)))
		arr.Append(t.entries[k])
	}
	return arr
}
