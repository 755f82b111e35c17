package raw

import (
	"bytes"
	"math"
)

// Clone deep-copies the direct structure of obj. References are copied by
// value and not followed.
func Clone(obj Object) Object {
	switch v := obj.(type) {
	case *DictObj:
		if v == nil {
			return v
		}
		out := &DictObj{KV: make(map[string]Object, len(v.KV))}
		for k, item := range v.KV {
			out.KV[k] = Clone(item)
		}
		return out
	case *ArrayObj:
		if v == nil {
			return v
		}
		out := &ArrayObj{Items: make([]Object, len(v.Items))}
		for i, item := range v.Items {
			out.Items[i] = Clone(item)
		}
		return out
	case *StreamObj:
		if v == nil {
			return v
		}
		var dict *DictObj
		if v.Dict != nil {
			dict = Clone(v.Dict).(*DictObj)
		}
		return &StreamObj{Dict: dict, Data: append([]byte(nil), v.Data...)}
	case StringObj:
		return StringObj{Bytes: append([]byte(nil), v.Bytes...), Hex: v.Hex}
	default:
		return obj
	}
}

// Equal reports whether a and b denote the same PDF value. Numbers compare by
// value regardless of integer or real notation, strings by content
// regardless of literal or hex notation, and references by number and
// generation.
func Equal(a, b Object) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case NullObj:
		_, ok := b.(NullObj)
		return ok
	case BoolObj:
		y, ok := b.(BoolObj)
		return ok && x.V == y.V
	case NameObj:
		y, ok := b.(NameObj)
		return ok && x.Val == y.Val
	case NumberObj:
		y, ok := b.(NumberObj)
		if !ok {
			return false
		}
		if x.IsInt && y.IsInt {
			return x.I == y.I
		}
		return math.Abs(x.Float()-y.Float()) < 1e-9
	case StringObj:
		y, ok := b.(StringObj)
		return ok && bytes.Equal(x.Bytes, y.Bytes)
	case RefObj:
		y, ok := b.(RefObj)
		return ok && x.R == y.R
	case *ArrayObj:
		y, ok := b.(*ArrayObj)
		if !ok || len(x.Items) != len(y.Items) {
			return false
		}
		for i := range x.Items {
			if !Equal(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	case *DictObj:
		y, ok := b.(*DictObj)
		if !ok || len(x.KV) != len(y.KV) {
			return false
		}
		for k, v := range x.KV {
			w, ok := y.KV[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case *StreamObj:
		y, ok := b.(*StreamObj)
		return ok && Equal(x.Dict, y.Dict) && bytes.Equal(x.Data, y.Data)
	default:
		return false
	}
}
