// Package document holds the indirect objects of a PDF being read, created
// or stamped, and writes them out as they are flushed.
package document

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
	"github.com/wudi/pdfkernel/parser"
	"github.com/wudi/pdfkernel/recovery"
	"github.com/wudi/pdfkernel/scanner"
	"github.com/wudi/pdfkernel/security"
	"github.com/wudi/pdfkernel/source"
	"github.com/wudi/pdfkernel/writer"
	"github.com/wudi/pdfkernel/xref"
)

type Config struct {
	Writer writer.Config
	// Append makes Stamp write an incremental update after the original
	// bytes instead of rewriting the file.
	Append   bool
	Limits   security.Limits
	Recovery recovery.Strategy
	Source   source.Factory
	Cache    parser.Cache
	Logger   observability.Logger
	Tracer   observability.Tracer
}

// Document is not safe for concurrent use.
type Document struct {
	cfg     Config
	log     observability.Logger
	version string

	src    source.ByteSource
	loader parser.ObjectLoader
	table  xref.Table

	out *writer.OutputStream
	ser *writer.Serializer
	xw  *writer.XRefWriter

	objs    map[int]*entry
	nextNum int

	trailer   *raw.DictObj
	catalog   raw.ObjectRef
	pagesRoot raw.ObjectRef
	pages     []*Page
	pageByNum map[int]*Page

	parentTree       *NumberTree
	structParentNext int

	closers   []func() error
	pageHooks []func(*Page) error
	closed    bool
}

func newDocument(cfg Config) *Document {
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NopTracer()
	}
	return &Document{
		cfg:              cfg,
		log:              observability.OrDefault(cfg.Logger),
		objs:             make(map[int]*entry),
		nextNum:          1,
		pageByNum:        make(map[int]*Page),
		structParentNext: -1,
	}
}

// Open reads src. Objects are loaded on first access.
func Open(ctx context.Context, src source.ByteSource, cfg Config) (*Document, error) {
	ctx, span := cfg.tracer().StartSpan(ctx, "document.open")
	defer span.Finish()
	d, err := open(ctx, src, cfg)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	span.SetTag("pages", len(d.pages))
	return d, nil
}

// OpenFile opens path through cfg.Source. Bytes before the %PDF header are
// skipped.
func OpenFile(ctx context.Context, path string, cfg Config) (*Document, error) {
	src, err := cfg.Source.FromFile(path)
	if err != nil {
		return nil, err
	}
	src, err = skipGarbage(src, observability.OrDefault(cfg.Logger))
	if err != nil {
		src.Close()
		return nil, err
	}
	d, err := Open(ctx, src, cfg)
	if err != nil {
		src.Close()
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return d, nil
}

func skipGarbage(src source.ByteSource, log observability.Logger) (source.ByteSource, error) {
	off, err := scanner.New(src, scanner.Config{}).HeaderOffset()
	if err != nil {
		log.Debug("no PDF header found", observability.Error("error", err))
		return src, nil
	}
	if off == 0 {
		return src, nil
	}
	log.Warn("skipping bytes before header", observability.Offset("offset", off))
	return source.NewWindowSource(src, off, src.Length()-off)
}

// Create starts a new document written to w.
func Create(w io.Writer, cfg Config) (*Document, error) {
	d := newDocument(cfg)
	d.version = string(cfg.Writer.Version)
	if d.version == "" {
		d.version = string(writer.PDF17)
	}
	d.trailer = raw.Dict()
	if err := d.startOutput(w); err != nil {
		return nil, err
	}
	pages := d.Add(raw.DictOf("Type", raw.NameLiteral("Pages"), "Kids", raw.NewArray(), "Count", raw.NumberInt(0)))
	d.pagesRoot = pages.R
	d.catalog = d.Add(raw.DictOf("Type", raw.NameLiteral("Catalog"), "Pages", pages)).R
	return d, nil
}

// Stamp opens src for modification and writes the result to w. With
// cfg.Append the original bytes are copied unchanged and only modified
// objects are appended.
func Stamp(ctx context.Context, src source.ByteSource, w io.Writer, cfg Config) (*Document, error) {
	ctx, span := cfg.tracer().StartSpan(ctx, "document.stamp")
	defer span.Finish()
	d, err := open(ctx, src, cfg)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if d.trailer.Has("Encrypt") {
		return nil, ErrEncrypted
	}
	if d.cfg.Append && d.table.Type() == "repair" {
		d.log.Warn("cross-reference was rebuilt, rewriting instead of appending")
		d.cfg.Append = false
	}
	if want := string(cfg.Writer.Version); want > d.version {
		d.version = want
		if d.cfg.Append {
			cat, err := d.Catalog()
			if err != nil {
				return nil, err
			}
			cat.Put("Version", raw.NameLiteral(want))
			if err := d.MarkModified(d.catalog); err != nil {
				return nil, err
			}
		}
	}
	if err := d.startOutput(w); err != nil {
		span.SetError(err)
		return nil, err
	}
	return d, nil
}

func (c Config) tracer() observability.Tracer {
	if c.Tracer == nil {
		return observability.NopTracer()
	}
	return c.Tracer
}

func open(ctx context.Context, src source.ByteSource, cfg Config) (*Document, error) {
	d := newDocument(cfg)
	p := parser.NewDocumentParser(parser.Config{
		Recovery: cfg.Recovery,
		Limits:   d.cfg.Limits,
		Cache:    cfg.Cache,
		Logger:   cfg.Logger,
	})
	loader, _, table, err := p.Loader(ctx, src)
	if err != nil {
		return nil, err
	}
	d.src, d.loader, d.table = src, loader, table

	version, _ := scanner.New(src, scanner.Config{}).CheckPDFHeader()
	d.version = strings.TrimPrefix(version, "PDF-")

	maxNum := 0
	for _, num := range table.Objects() {
		if num == 0 {
			continue
		}
		gen, _ := table.Generation(num)
		d.objs[num] = &entry{gen: gen, state: stateFromSource}
		if num > maxNum {
			maxNum = num
		}
	}
	size := table.Size()
	for num := 1; num < size; num++ {
		if _, ok := d.objs[num]; ok {
			continue
		}
		if gen, ok := table.Generation(num); ok {
			d.objs[num] = &entry{gen: gen, state: stateFree | stateFromSource}
		}
	}
	d.nextNum = size
	if d.nextNum <= maxNum {
		d.nextNum = maxNum + 1
	}
	if d.nextNum < 1 {
		d.nextNum = 1
	}

	tr := table.Trailer()
	if tr == nil {
		return nil, errors.New("document has no trailer")
	}
	d.trailer = raw.Clone(tr).(*raw.DictObj)
	root, ok := d.trailer.GetRef("Root")
	if !ok {
		return nil, errors.New("trailer has no /Root")
	}
	d.catalog = root
	if d.trailer.Has("Encrypt") {
		d.log.Warn("document is encrypted, strings and streams are returned undecrypted")
	}
	cat, err := d.Catalog()
	if err != nil {
		return nil, errors.Wrap(err, "catalog")
	}
	if v, ok := cat.GetName("Version"); ok && v > d.version {
		d.version = v
	}
	if err := d.loadPageTree(); err != nil {
		return nil, err
	}
	d.log.Debug("document opened",
		observability.String("version", d.version),
		observability.String("xref", table.Type()),
		observability.Int("pages", len(d.pages)))
	return d, nil
}

func (d *Document) startOutput(w io.Writer) error {
	d.out = writer.NewOutputStream(w)
	d.out.SetLogger(d.log)
	d.cfg.Writer.Apply(d.out)
	d.ser = writer.NewSerializer(d.out)
	d.xw = writer.NewXRefWriter()
	if d.appending() {
		return d.copySource()
	}
	hdr := d.cfg.Writer
	hdr.Version = writer.PDFVersion(d.version)
	return writer.WriteHeader(d.out, hdr)
}

const copyChunk = 64 << 10

func (d *Document) copySource() error {
	n := d.src.Length()
	buf := make([]byte, copyChunk)
	last := byte('\n')
	for pos := int64(0); pos < n; {
		chunk := buf
		if rem := n - pos; rem < int64(len(chunk)) {
			chunk = chunk[:rem]
		}
		if err := source.ReadFull(d.src, pos, chunk); err != nil {
			return errors.Wrap(err, "copy original bytes")
		}
		if err := d.out.WriteBytes(chunk); err != nil {
			return err
		}
		last = chunk[len(chunk)-1]
		pos += int64(len(chunk))
	}
	if last != '\n' && last != '\r' {
		return d.out.WriteNewLine()
	}
	return nil
}

func (d *Document) writable() bool  { return d.out != nil }
func (d *Document) appending() bool { return d.cfg.Append && d.src != nil }

// Version is the PDF version the document is read as or written with.
func (d *Document) Version() string { return d.version }

// ReadOnly reports whether the document has no output.
func (d *Document) ReadOnly() bool { return !d.writable() }

// Logger returns the document's logger.
func (d *Document) Logger() observability.Logger { return d.log }

// Limits returns the resource limits in effect.
func (d *Document) Limits() security.Limits { return d.cfg.Limits }

func (d *Document) CatalogRef() raw.ObjectRef { return d.catalog }

func (d *Document) Catalog() (*raw.DictObj, error) { return d.GetDict(d.catalog) }

// Trailer returns the trailer read from the source, or an empty dictionary
// for a new document.
func (d *Document) Trailer() *raw.DictObj { return d.trailer }

// OnClose registers fn to run at the start of Close, before the remaining
// objects are written.
func (d *Document) OnClose(fn func() error) { d.closers = append(d.closers, fn) }

// OnPageFlush registers fn to run before a page's objects are flushed.
func (d *Document) OnPageFlush(fn func(*Page) error) { d.pageHooks = append(d.pageHooks, fn) }

// Close runs the close hooks, writes every object still in memory followed
// by the cross-reference section and trailer, and releases the source and
// output. Calling Close again is a no-op.
func (d *Document) Close() error {
	if d.closed {
		return nil
	}
	var first error
	keep := func(err error) {
		if err == nil {
			return
		}
		if first == nil {
			first = err
		} else {
			d.log.Error("close", observability.Error("error", err))
		}
	}
	for _, fn := range d.closers {
		keep(fn())
	}
	if d.writable() && first == nil {
		keep(d.finish())
	}
	d.closed = true
	if d.out != nil {
		keep(d.out.Close())
	}
	if d.src != nil {
		keep(d.src.Close())
	}
	clear(d.objs)
	return first
}

func (d *Document) finish() error {
	nums := make([]int, 0, len(d.objs))
	for n := range d.objs {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for _, num := range nums {
		e := d.objs[num]
		switch {
		case e.is(stateFree):
			if !d.appending() || e.is(stateModified) {
				d.xw.Free(num, e.gen)
			}
		case e.is(stateFlushed):
		default:
			ref := raw.ObjectRef{Num: num, Gen: e.gen}
			if _, err := d.flush(ref); err != nil {
				loc := recovery.Location{ObjectNum: num, ObjectGen: e.gen, Component: "document"}
				if _, derr := recovery.Decide(d.cfg.Recovery, err, loc); derr != nil {
					return err
				}
				d.log.Warn("dropping unreadable object", append(observability.ObjectRef(num, e.gen), observability.Error("error", err))...)
				e.state = stateFree
				d.xw.Free(num, e.gen)
			}
		}
	}

	size := d.nextNum
	xrefNum := 0
	if d.cfg.Writer.XRefStreams {
		xrefNum = size
		size++
	}
	tr := writer.Trailer{Size: size, Root: d.catalog, ID: d.fileID(size)}
	if info, ok := d.trailer.GetRef("Info"); ok {
		tr.Info = &info
	}
	if d.appending() {
		tr.Prev = d.table.StartXRef()
	} else {
		d.xw.Fill(d.nextNum)
	}
	trailer := writer.BuildTrailer(tr)
	var err error
	if d.cfg.Writer.XRefStreams {
		_, err = d.xw.WriteStream(d.ser, xrefNum, trailer, d.cfg.Writer.Compression != 0 || d.cfg.Writer.ContentFilter == writer.FilterFlate)
	} else {
		_, err = d.xw.WriteTable(d.ser, trailer)
	}
	if err != nil {
		return errors.Wrap(err, "write cross-reference")
	}
	return d.out.Flush()
}

// fileID keeps the permanent identifier of a stamped document and derives
// a fresh changing one.
func (d *Document) fileID(size int) [2][]byte {
	seed := fmt.Sprintf("%s|%d|%d|%d", d.version, d.catalog.Num, len(d.pages), size)
	id := writer.FileID([]byte(seed), d.cfg.Writer.Deterministic)
	if arr, ok := d.trailer.GetArray("ID"); ok && arr.Len() > 0 {
		if s, ok := arr.Items[0].(raw.StringObj); ok && len(s.Bytes) > 0 {
			id[0] = append([]byte(nil), s.Bytes...)
		}
	}
	return id
}
