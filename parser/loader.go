package parser

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/filters"
	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
	"github.com/wudi/pdfkernel/recovery"
	"github.com/wudi/pdfkernel/scanner"
	"github.com/wudi/pdfkernel/security"
	"github.com/wudi/pdfkernel/source"
	"github.com/wudi/pdfkernel/xref"
)

// ErrObjectNotFound is returned for references absent from the xref table.
var ErrObjectNotFound = errors.New("object not found in xref")

type Cache interface {
	Get(ref raw.ObjectRef) (raw.Object, bool)
	Put(ref raw.ObjectRef, obj raw.Object)
}

type ObjectLoader interface {
	Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error)
	LoadIndirect(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error)
}

type ObjectLoaderBuilder struct {
	src       source.ByteSource
	xrefTable xref.Table
	maxDepth  int
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
	logger    observability.Logger
}

func (b *ObjectLoaderBuilder) WithXRef(table xref.Table) *ObjectLoaderBuilder {
	b.xrefTable = table
	return b
}
func (b *ObjectLoaderBuilder) WithSource(src source.ByteSource) *ObjectLoaderBuilder {
	b.src = src
	return b
}
func (b *ObjectLoaderBuilder) WithLimits(l security.Limits) *ObjectLoaderBuilder {
	b.limits = l
	return b
}
func (b *ObjectLoaderBuilder) WithCache(c Cache) *ObjectLoaderBuilder { b.cache = c; return b }
func (b *ObjectLoaderBuilder) WithRecovery(r recovery.Strategy) *ObjectLoaderBuilder {
	b.recovery = r
	return b
}
func (b *ObjectLoaderBuilder) WithLogger(l observability.Logger) *ObjectLoaderBuilder {
	b.logger = l
	return b
}

func (b *ObjectLoaderBuilder) Build() (ObjectLoader, error) {
	if b.src == nil || b.xrefTable == nil {
		return nil, errors.New("source and xrefTable required")
	}
	limits := b.limits.WithDefaults()
	maxDepth := b.maxDepth
	if maxDepth == 0 {
		maxDepth = limits.MaxIndirectDepth
	}
	return &objectLoader{
		src:       b.src,
		xrefTable: b.xrefTable,
		maxDepth:  maxDepth,
		limits:    limits,
		cache:     b.cache,
		recovery:  b.recovery,
		logger:    observability.OrDefault(b.logger),
		objstm:    make(map[int]map[int]raw.Object),
	}, nil
}

type objectLoader struct {
	src       source.ByteSource
	xrefTable xref.Table
	maxDepth  int
	limits    security.Limits
	cache     Cache
	recovery  recovery.Strategy
	logger    observability.Logger

	mu     sync.Mutex
	tok    *scanner.Tokenizer
	objstm map[int]map[int]raw.Object
}

func (o *objectLoader) Load(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if o.cache != nil {
		if obj, ok := o.cache.Get(ref); ok {
			return obj, nil
		}
	}

	obj, err := o.loadOnce(ctx, ref)
	if err != nil {
		return nil, err
	}

	if o.cache != nil {
		o.cache.Put(ref, obj)
	}
	return obj, nil
}

func (o *objectLoader) LoadIndirect(ctx context.Context, ref raw.ObjectRef, depth int) (raw.Object, error) {
	if depth > o.maxDepth {
		return nil, errors.Errorf("max indirect depth %d exceeded at %s", o.maxDepth, ref)
	}
	return o.Load(ctx, ref)
}

func (o *objectLoader) loadOnce(ctx context.Context, ref raw.ObjectRef) (raw.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	offset, gen, found := o.xrefTable.Lookup(ref.Num)
	if !found {
		if osNum, idx, ok := o.xrefTable.ObjStream(ref.Num); ok {
			return o.loadFromObjectStream(ctx, ref, osNum, idx)
		}
		return nil, errors.Wrapf(ErrObjectNotFound, "object %s", ref)
	}
	if gen != ref.Gen {
		return nil, errors.Wrapf(ErrObjectNotFound, "object %s (xref has generation %d)", ref, gen)
	}
	return o.loadAtOffset(ref, offset)
}

func (o *objectLoader) scannerConfig() scanner.Config {
	return scanner.Config{
		Recovery:        o.recovery,
		Logger:          o.logger,
		MaxStringLength: o.limits.MaxStringLength,
		MaxStreamLength: o.limits.MaxStreamLength,
	}
}

func (o *objectLoader) objectReader(tok *scanner.Tokenizer) *scanner.ObjectReader {
	return &scanner.ObjectReader{
		Tok:          tok,
		MaxDepth:     o.limits.MaxNestingDepth,
		MaxArraySize: o.limits.MaxArraySize,
		MaxDictSize:  o.limits.MaxDictSize,
		Length:       o.lengthOf,
	}
}

// loadAtOffset assumes caller holds the loader mutex.
func (o *objectLoader) loadAtOffset(ref raw.ObjectRef, offset int64) (raw.Object, error) {
	if o.tok == nil {
		o.tok = scanner.New(o.src, o.scannerConfig())
	}
	return o.scanObject(o.tok, ref, offset)
}

func (o *objectLoader) scanObject(tok *scanner.Tokenizer, ref raw.ObjectRef, offset int64) (raw.Object, error) {
	if err := tok.Seek(offset); err != nil {
		return nil, err
	}
	tok.SetRecoveryLocation(recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser"})
	got, obj, err := o.objectReader(tok).ReadIndirect()
	if err != nil {
		return nil, errors.Wrapf(err, "object %s at offset %d", ref, offset)
	}
	if got != ref {
		err := errors.Errorf("object header %s does not match %s at offset %d", got, ref, offset)
		if _, derr := recovery.Decide(o.recovery, err, recovery.Location{ByteOffset: offset, ObjectNum: ref.Num, ObjectGen: ref.Gen, Component: "parser"}); derr != nil {
			return nil, derr
		}
	}
	return obj, nil
}

// lengthOf resolves an indirect stream /Length with a separate tokenizer so
// the cursor of the object being read is untouched. The loader mutex is
// already held.
func (o *objectLoader) lengthOf(ref raw.ObjectRef) (int64, bool) {
	offset, _, ok := o.xrefTable.Lookup(ref.Num)
	if !ok {
		return 0, false
	}
	tmp := scanner.New(o.src, o.scannerConfig())
	if err := tmp.Seek(offset); err != nil {
		return 0, false
	}
	r := o.objectReader(tmp)
	r.Length = nil
	got, obj, err := r.ReadIndirect()
	if err != nil || got.Num != ref.Num {
		return 0, false
	}
	n, ok := obj.(raw.NumberObj)
	if !ok || !n.IsInt || n.I < 0 {
		return 0, false
	}
	return n.I, true
}

func (o *objectLoader) loadFromObjectStream(ctx context.Context, ref raw.ObjectRef, objStreamNum int, idx int) (raw.Object, error) {
	if objs, ok := o.objstm[objStreamNum]; ok {
		if obj, ok2 := objs[ref.Num]; ok2 {
			return obj, nil
		}
		return nil, errors.Wrapf(ErrObjectNotFound, "object %s in object stream %d", ref, objStreamNum)
	}
	offset, gen, ok := o.xrefTable.Lookup(objStreamNum)
	if !ok {
		return nil, errors.Errorf("object stream %d missing from xref", objStreamNum)
	}
	streamObj, err := o.loadAtOffset(raw.ObjectRef{Num: objStreamNum, Gen: gen}, offset)
	if err != nil {
		return nil, err
	}
	st, ok := streamObj.(*raw.StreamObj)
	if !ok {
		return nil, errors.Errorf("object stream %d is not a stream", objStreamNum)
	}
	objs, err := o.parseObjectStream(ctx, objStreamNum, st)
	if err != nil {
		return nil, err
	}
	o.objstm[objStreamNum] = objs
	if obj, ok := objs[ref.Num]; ok {
		return obj, nil
	}
	return nil, errors.Wrapf(ErrObjectNotFound, "object %s in object stream %d", ref, objStreamNum)
}

func (o *objectLoader) parseObjectStream(ctx context.Context, num int, st *raw.StreamObj) (map[int]raw.Object, error) {
	nObj, _ := st.Dict.GetInt("N")
	first, _ := st.Dict.GetInt("First")
	p := filters.NewDefaultPipeline(filters.Limits{
		MaxDecompressedSize: o.limits.MaxDecompressedSize,
		MaxDecodeTime:       o.limits.MaxDecodeTime,
	})
	data, err := p.DecodeStream(ctx, st)
	if err != nil {
		return nil, errors.Wrapf(err, "object stream %d", num)
	}
	if first < 0 || first > int64(len(data)) {
		return nil, errors.Errorf("object stream %d: /First %d exceeds length %d", num, first, len(data))
	}

	tok := scanner.FromBytes(data, o.scannerConfig())
	tok.SetRecoveryLocation(recovery.Location{ObjectNum: num, Component: "objstm"})
	var pairs []int64
	for int64(len(pairs)/2) < nObj && tok.Position() < first {
		t, err := tok.Next()
		if err != nil {
			break
		}
		if t.Type == scanner.TokenNumber && t.IsInt {
			pairs = append(pairs, t.Int)
		}
	}

	objs := make(map[int]raw.Object, len(pairs)/2)
	r := o.objectReader(tok)
	for i := 0; i+1 < len(pairs); i += 2 {
		objNum, off := int(pairs[i]), first+pairs[i+1]
		if err := tok.Seek(off); err != nil {
			return nil, err
		}
		obj, err := r.ReadObject()
		if err != nil {
			return nil, errors.Wrapf(err, "object %d in object stream %d", objNum, num)
		}
		if _, dup := objs[objNum]; !dup {
			objs[objNum] = obj
		}
	}
	return objs, nil
}

// ParseObject reads one direct object from tok, as found inside an object
// body or an object stream.
func ParseObject(tok *scanner.Tokenizer) (raw.Object, error) {
	return scanner.NewObjectReader(tok).ReadObject()
}
