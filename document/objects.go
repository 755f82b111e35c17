package document

import (
	"context"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/writer"
)

type entryState uint8

const (
	stateLoaded entryState = 1 << iota
	stateModified
	stateFlushed
	stateFree
	stateFromSource
)

// entry is the arena slot of one object number. Every link between objects
// is a raw.RefObj key into the arena, so there is at most one in-memory
// instance per reference.
type entry struct {
	gen   int
	obj   raw.Object
	state entryState
	pins  int
}

func (e *entry) is(s entryState) bool { return e.state&s != 0 }

func (d *Document) lookup(ref raw.ObjectRef) (*entry, error) {
	if d.closed {
		return nil, ErrClosed
	}
	e, ok := d.objs[ref.Num]
	if !ok || e.is(stateFree) || e.gen != ref.Gen {
		return nil, errors.Wrapf(ErrNotFound, "object %s", ref)
	}
	return e, nil
}

// Get returns the object for ref, loading it from the source on first
// access. Flushed objects cannot be read back.
func (d *Document) Get(ref raw.ObjectRef) (raw.Object, error) {
	e, err := d.lookup(ref)
	if err != nil {
		return nil, err
	}
	if e.is(stateFlushed) {
		return nil, errors.Wrapf(ErrFlushed, "object %s", ref)
	}
	if e.is(stateLoaded) {
		return e.obj, nil
	}
	obj, err := d.loader.Load(context.Background(), ref)
	if err != nil {
		return nil, errors.Wrapf(err, "load object %s", ref)
	}
	e.obj = obj
	e.state |= stateLoaded
	return obj, nil
}

// GetDict returns the dictionary for ref. A stream's dictionary is
// returned for stream objects.
func (d *Document) GetDict(ref raw.ObjectRef) (*raw.DictObj, error) {
	obj, err := d.Get(ref)
	if err != nil {
		return nil, err
	}
	switch v := obj.(type) {
	case *raw.DictObj:
		return v, nil
	case *raw.StreamObj:
		return v.Dict, nil
	}
	return nil, errors.Errorf("object %s is %s, not a dictionary", ref, obj.Type())
}

// Resolve follows references until a direct object is reached. Missing
// objects resolve to null.
func (d *Document) Resolve(obj raw.Object) (raw.Object, error) {
	for depth := 0; ; depth++ {
		r, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		if depth >= d.cfg.Limits.MaxIndirectDepth {
			return nil, errors.Errorf("reference chain deeper than %d at %s", d.cfg.Limits.MaxIndirectDepth, r.R)
		}
		next, err := d.Get(r.R)
		if errors.Is(err, ErrNotFound) {
			return raw.NullObj{}, nil
		}
		if err != nil {
			return nil, err
		}
		obj = next
	}
}

func (d *Document) resolveDict(obj raw.Object) (*raw.DictObj, bool) {
	v, err := d.Resolve(obj)
	if err != nil {
		return nil, false
	}
	dict, ok := v.(*raw.DictObj)
	return dict, ok
}

func (d *Document) resolveArray(obj raw.Object) (*raw.ArrayObj, bool) {
	v, err := d.Resolve(obj)
	if err != nil {
		return nil, false
	}
	arr, ok := v.(*raw.ArrayObj)
	return arr, ok
}

// Add registers obj as a new indirect object. A closed document accepts
// nothing and returns the zero reference.
func (d *Document) Add(obj raw.Object) raw.RefObj {
	if d.closed {
		return raw.RefObj{}
	}
	num := d.nextNum
	d.nextNum++
	d.objs[num] = &entry{obj: obj, state: stateLoaded | stateModified}
	return raw.Ref(num, 0)
}

// Set replaces the object stored under ref.
func (d *Document) Set(ref raw.ObjectRef, obj raw.Object) error {
	e, err := d.lookup(ref)
	if err != nil {
		return err
	}
	if e.is(stateFlushed) {
		return errors.Wrapf(ErrFlushed, "set %s", ref)
	}
	e.obj = obj
	e.state |= stateLoaded | stateModified
	return nil
}

// MarkModified records an in-place change to the object under ref so it is
// written even in append mode.
func (d *Document) MarkModified(ref raw.ObjectRef) error {
	e, err := d.lookup(ref)
	if err != nil {
		return err
	}
	if e.is(stateFlushed) {
		return errors.Wrapf(ErrFlushed, "modify %s", ref)
	}
	e.state |= stateModified
	return nil
}

// Free deletes ref. The number is written as a free entry with the next
// generation.
func (d *Document) Free(ref raw.ObjectRef) error {
	e, err := d.lookup(ref)
	if err != nil {
		return err
	}
	if e.is(stateFlushed) {
		return errors.Wrapf(ErrFlushed, "free %s", ref)
	}
	e.obj = nil
	e.pins = 0
	e.gen++
	e.state = stateFree | stateModified
	return nil
}

// Pin keeps ref in memory during FlushDeep until a matching Unpin.
func (d *Document) Pin(ref raw.ObjectRef) {
	if e, ok := d.objs[ref.Num]; ok && e.gen == ref.Gen {
		e.pins++
	}
}

func (d *Document) Unpin(ref raw.ObjectRef) {
	if e, ok := d.objs[ref.Num]; ok && e.gen == ref.Gen && e.pins > 0 {
		e.pins--
	}
}

func (d *Document) IsPinned(ref raw.ObjectRef) bool {
	e, ok := d.objs[ref.Num]
	return ok && e.gen == ref.Gen && e.pins > 0
}

func (d *Document) IsFlushed(ref raw.ObjectRef) bool {
	e, ok := d.objs[ref.Num]
	return ok && e.gen == ref.Gen && e.is(stateFlushed)
}

// Flush writes ref to the output and releases it. Flushing twice is a
// no-op.
func (d *Document) Flush(ref raw.ObjectRef) error {
	_, err := d.flush(ref)
	return err
}

// flush returns the object that was written, or nil when nothing was in
// memory.
func (d *Document) flush(ref raw.ObjectRef) (raw.Object, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if !d.writable() {
		return nil, ErrReadOnly
	}
	e, ok := d.objs[ref.Num]
	if !ok || e.gen != ref.Gen {
		return nil, errors.Wrapf(ErrNotFound, "flush %s", ref)
	}
	if e.is(stateFlushed | stateFree) {
		return nil, nil
	}
	obj := e.obj
	if e.is(stateModified) || !d.appending() {
		if !e.is(stateLoaded) {
			var err error
			if obj, err = d.Get(ref); err != nil {
				return nil, err
			}
		}
		if err := d.writeObject(ref, obj, e.is(stateModified)); err != nil {
			return nil, err
		}
	}
	e.obj = nil
	e.state = e.state&^(stateLoaded|stateModified) | stateFlushed
	return obj, nil
}

func (d *Document) writeObject(ref raw.ObjectRef, obj raw.Object, modified bool) error {
	if st, ok := obj.(*raw.StreamObj); ok && modified {
		if _, err := writer.CompressStream(st, d.cfg.Writer); err != nil {
			return errors.Wrapf(err, "compress %s", ref)
		}
	}
	if obj == nil {
		obj = raw.NullObj{}
	}
	off, err := d.ser.WriteIndirect(ref, obj)
	if err != nil {
		return errors.Wrapf(err, "write %s", ref)
	}
	d.xw.InUse(ref.Num, ref.Gen, off)
	return nil
}

// FlushDeep flushes ref and every object reachable from it. Pinned
// objects, page dictionaries and the back-reference keys P, Parent and Pg
// are not followed.
func (d *Document) FlushDeep(ref raw.ObjectRef) error {
	seen := make(map[int]bool)
	stack := []raw.ObjectRef{ref}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[r.Num] {
			continue
		}
		seen[r.Num] = true
		e, ok := d.objs[r.Num]
		if !ok || e.gen != r.Gen || e.is(stateFlushed|stateFree) || e.pins > 0 {
			continue
		}
		if r != ref {
			if _, isPage := d.pageByNum[r.Num]; isPage || (e.is(stateLoaded) && isPageNode(e.obj)) {
				continue
			}
		}
		obj, err := d.flush(r)
		if err != nil {
			return err
		}
		collectRefs(obj, func(c raw.ObjectRef) { stack = append(stack, c) })
	}
	return nil
}

var backReferenceKeys = map[string]bool{"P": true, "Parent": true, "Pg": true}

// collectRefs calls fn for every reference held directly by obj, skipping
// back references.
func collectRefs(obj raw.Object, fn func(raw.ObjectRef)) {
	switch v := obj.(type) {
	case raw.RefObj:
		fn(v.R)
	case *raw.ArrayObj:
		for _, it := range v.Items {
			collectRefs(it, fn)
		}
	case *raw.DictObj:
		for k, it := range v.KV {
			if backReferenceKeys[k] {
				continue
			}
			collectRefs(it, fn)
		}
	case *raw.StreamObj:
		if v.Dict != nil {
			collectRefs(v.Dict, fn)
		}
	}
}

func isPageNode(obj raw.Object) bool {
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return false
	}
	typ, _ := dict.GetName("Type")
	return typ == "Page" || typ == "Pages"
}
