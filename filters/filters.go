package filters

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/wudi/pdfkernel/ir/raw"
)

// Decoder reverses one PDF stream filter.
type Decoder interface {
	Name() string
	Decode(ctx context.Context, input []byte, params raw.Dictionary) ([]byte, error)
}

// UnsupportedError reports a filter with no registered decoder or encoder.
type UnsupportedError struct {
	Filter string
}

func (e UnsupportedError) Error() string { return fmt.Sprintf("unsupported filter: %s", e.Filter) }

// ErrLimit is returned when decoding exceeds the pipeline limits.
var ErrLimit = errors.New("decompressed size exceeds limit")

type Pipeline struct {
	decoders []Decoder
	limits   Limits
}

// NewPipeline constructs a pipeline with provided decoders and limits.
func NewPipeline(decoders []Decoder, limits Limits) *Pipeline {
	return &Pipeline{decoders: decoders, limits: limits}
}

// NewDefaultPipeline returns a pipeline with every built-in decoder.
func NewDefaultPipeline(limits Limits) *Pipeline {
	return NewPipeline(DefaultDecoders(), limits)
}

// DefaultDecoders lists the built-in decoders.
func DefaultDecoders() []Decoder {
	return []Decoder{
		NewFlateDecoder(),
		NewLZWDecoder(),
		NewASCII85Decoder(),
		NewASCIIHexDecoder(),
		NewRunLengthDecoder(),
	}
}

func (p *Pipeline) findDecoder(name string) Decoder {
	name = canonicalName(name)
	for _, d := range p.decoders {
		if d.Name() == name {
			return d
		}
	}
	return nil
}

// Decode applies filterNames in order. params is aligned with filterNames;
// missing or nil entries mean default parameters.
func (p *Pipeline) Decode(ctx context.Context, input []byte, filterNames []string, params []raw.Dictionary) ([]byte, error) {
	if p.limits.MaxDecodeTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.MaxDecodeTime)
		defer cancel()
	}
	data := input
	for i, name := range filterNames {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "decode %s", name)
		}
		dec := p.findDecoder(name)
		if dec == nil {
			return nil, UnsupportedError{Filter: name}
		}
		var param raw.Dictionary
		if i < len(params) {
			param = params[i]
		}
		out, err := dec.Decode(ctx, data, param)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", name)
		}
		if p.limits.MaxDecompressedSize > 0 && int64(len(out)) > p.limits.MaxDecompressedSize {
			return nil, errors.Wrapf(ErrLimit, "decode %s: %d bytes", name, len(out))
		}
		data = out
	}
	return data, nil
}

// DecodeStream decodes the data of s according to its /Filter and
// /DecodeParms entries.
func (p *Pipeline) DecodeStream(ctx context.Context, s *raw.StreamObj) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	if s.Dict == nil {
		return s.Data, nil
	}
	names, params := ExtractFilters(s.Dict)
	if len(names) == 0 {
		return s.Data, nil
	}
	return p.Decode(ctx, s.Data, names, params)
}

type Registry struct{ decoders map[string]Decoder }

func (r *Registry) Register(d Decoder) {
	if r.decoders == nil {
		r.decoders = make(map[string]Decoder)
	}
	r.decoders[d.Name()] = d
}

func (r *Registry) Get(name string) (Decoder, bool) {
	d, ok := r.decoders[canonicalName(name)]
	return d, ok
}

// canonicalName expands the abbreviated filter names allowed in inline
// images.
func canonicalName(name string) string {
	switch name {
	case "Fl":
		return "FlateDecode"
	case "LZW":
		return "LZWDecode"
	case "A85":
		return "ASCII85Decode"
	case "AHx":
		return "ASCIIHexDecode"
	case "RL":
		return "RunLengthDecode"
	case "DCT":
		return "DCTDecode"
	case "CCF":
		return "CCITTFaxDecode"
	}
	return name
}
