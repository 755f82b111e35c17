package writer

type PDFVersion string

const (
	PDF14 PDFVersion = "1.4"
	PDF15 PDFVersion = "1.5"
	PDF17 PDFVersion = "1.7"
	PDF20 PDFVersion = "2.0"
)

type ContentFilter int

const (
	FilterNone ContentFilter = iota
	FilterFlate
	FilterASCIIHex
	FilterASCII85
	FilterRunLength
)

// Name returns the PDF filter name, or "" for FilterNone.
func (f ContentFilter) Name() string {
	switch f {
	case FilterFlate:
		return "FlateDecode"
	case FilterASCIIHex:
		return "ASCIIHexDecode"
	case FilterASCII85:
		return "ASCII85Decode"
	case FilterRunLength:
		return "RunLengthDecode"
	}
	return ""
}

// Precision selects the number formatting mode of a document's output.
type Precision int

const (
	// PrecisionDefault follows SetDefaultHighPrecision at stream creation.
	PrecisionDefault Precision = iota
	PrecisionHigh
	PrecisionRounded
)

type Config struct {
	Version PDFVersion
	// Compression enables Flate for unfiltered streams when ContentFilter
	// is FilterNone.
	Compression   int
	ContentFilter ContentFilter
	XRefStreams   bool
	// Deterministic derives /ID from content only.
	Deterministic bool
	Precision     Precision
}

func pdfVersion(cfg Config) string {
	if cfg.Version == "" {
		return string(PDF17)
	}
	return string(cfg.Version)
}

func pickContentFilter(cfg Config) ContentFilter {
	if cfg.ContentFilter != FilterNone {
		return cfg.ContentFilter
	}
	if cfg.Compression != 0 {
		return FilterFlate
	}
	return FilterNone
}

// Apply sets the stream's precision mode from cfg.
func (cfg Config) Apply(o *OutputStream) {
	switch cfg.Precision {
	case PrecisionHigh:
		o.SetLocalHighPrecision(true)
	case PrecisionRounded:
		o.SetLocalHighPrecision(false)
	}
}
