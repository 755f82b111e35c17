package filters

import "github.com/wudi/pdfkernel/ir/raw"

// ExtractFilters reads Filter and DecodeParms entries from a stream dictionary.
// The returned params slice is aligned with the names; a null or missing
// parameter dictionary yields a nil entry.
func ExtractFilters(dict raw.Dictionary) ([]string, []raw.Dictionary) {
	var names []string
	var params []raw.Dictionary

	if dict == nil {
		return names, params
	}
	filterObj, ok := dict.Get(raw.NameObj{Val: "Filter"})
	if !ok {
		return names, params
	}

	switch f := filterObj.(type) {
	case raw.Name:
		names = append(names, f.Value())
	case *raw.ArrayObj:
		for _, item := range f.Items {
			if n, ok := item.(raw.Name); ok {
				names = append(names, n.Value())
			}
		}
	}
	if len(names) == 0 {
		return names, params
	}

	params = make([]raw.Dictionary, len(names))
	pObj, ok := dict.Get(raw.NameObj{Val: "DecodeParms"})
	if !ok {
		pObj, ok = dict.Get(raw.NameObj{Val: "DP"})
	}
	if !ok {
		return names, params
	}
	switch p := pObj.(type) {
	case *raw.DictObj:
		params[0] = p
	case *raw.ArrayObj:
		for i, item := range p.Items {
			if i >= len(params) {
				break
			}
			if d, ok := item.(*raw.DictObj); ok {
				params[i] = d
			}
		}
	}
	return names, params
}

// intParam reads an integer decode parameter, returning def when absent.
func intParam(params raw.Dictionary, key string, def int) int {
	if params == nil {
		return def
	}
	if d, ok := params.(*raw.DictObj); ok && d == nil {
		return def
	}
	v, ok := params.Get(raw.NameObj{Val: key})
	if !ok {
		return def
	}
	n, ok := v.(raw.Number)
	if !ok {
		return def
	}
	return int(n.Int())
}
