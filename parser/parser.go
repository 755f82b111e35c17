package parser

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/observability"
	"github.com/wudi/pdfkernel/recovery"
	"github.com/wudi/pdfkernel/scanner"
	"github.com/wudi/pdfkernel/security"
	"github.com/wudi/pdfkernel/source"
	"github.com/wudi/pdfkernel/xref"
)

// Config controls high-level PDF parsing (xref resolution + object loading).
type Config struct {
	Recovery    recovery.Strategy
	XRef        xref.ResolverConfig
	MaxIndirect int
	Limits      security.Limits
	Cache       Cache
	Logger      observability.Logger
}

// DocumentParser builds a raw.Document using xref tables/streams and the object loader.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Limits = cfg.Limits.WithDefaults()
	if cfg.MaxIndirect == 0 {
		cfg.MaxIndirect = cfg.Limits.MaxIndirectDepth
	}
	if cfg.XRef.Recovery == nil {
		cfg.XRef.Recovery = cfg.Recovery
	}
	if cfg.XRef.Logger == nil {
		cfg.XRef.Logger = cfg.Logger
	}
	if cfg.XRef.MaxXRefDepth == 0 {
		cfg.XRef.MaxXRefDepth = cfg.Limits.MaxXRefDepth
	}
	if cfg.XRef.Limits.MaxDecompressedSize == 0 {
		cfg.XRef.Limits.MaxDecompressedSize = cfg.Limits.MaxDecompressedSize
		cfg.XRef.Limits.MaxDecodeTime = cfg.Limits.MaxDecodeTime
	}
	return &DocumentParser{cfg: cfg}
}

// Loader resolves the xref of src and returns a loader over it, for callers
// that read objects lazily.
func (p *DocumentParser) Loader(ctx context.Context, src source.ByteSource) (ObjectLoader, xref.Resolver, xref.Table, error) {
	resolver := xref.NewResolver(p.cfg.XRef)
	table, err := resolver.Resolve(ctx, src)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "resolve xref")
	}
	builder := &ObjectLoaderBuilder{maxDepth: p.cfg.MaxIndirect}
	loader, err := builder.
		WithSource(src).
		WithXRef(table).
		WithLimits(p.cfg.Limits).
		WithCache(p.cfg.Cache).
		WithRecovery(p.cfg.Recovery).
		WithLogger(p.cfg.Logger).
		Build()
	if err != nil {
		return nil, nil, nil, err
	}
	return loader, resolver, table, nil
}

// Parse loads every live object of src into memory.
func (p *DocumentParser) Parse(ctx context.Context, src source.ByteSource) (*raw.Document, error) {
	loader, resolver, table, err := p.Loader(ctx, src)
	if err != nil {
		return nil, err
	}

	version, _ := scanner.New(src, scanner.Config{}).CheckPDFHeader()
	version = strings.TrimPrefix(version, "PDF-")
	doc := &raw.Document{
		Objects: make(map[raw.ObjectRef]raw.Object),
		Trailer: resolver.Trailer(),
		Version: version,
	}

	for _, objNum := range table.Objects() {
		if objNum == 0 {
			continue // free head entry
		}
		gen, _ := table.Generation(objNum)
		ref := raw.ObjectRef{Num: objNum, Gen: gen}
		obj, err := loader.Load(ctx, ref)
		if err != nil {
			loc := recovery.Location{ObjectNum: objNum, ObjectGen: gen, Component: "parser"}
			if _, derr := recovery.Decide(p.cfg.Recovery, err, loc); derr != nil {
				return nil, errors.Wrapf(derr, "load object %d", objNum)
			}
			continue
		}
		doc.Objects[ref] = obj
	}
	return doc, nil
}
