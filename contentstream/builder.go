package contentstream

import (
	"github.com/wudi/pdfkernel/ir/raw"
	"github.com/wudi/pdfkernel/writer"
)

// Builder assembles content stream bytes. Each operator ends a line.
type Builder struct {
	buf  []byte
	high bool
	open int
	err  error
}

// NewBuilder returns a builder using the current default number precision.
func NewBuilder() *Builder { return &Builder{high: writer.DefaultHighPrecision()} }

func (b *Builder) SetHighPrecision(v bool) *Builder { b.high = v; return b }

// Bytes returns the content built so far.
func (b *Builder) Bytes() []byte { return b.buf }

func (b *Builder) Err() error { return b.err }

// OpenMarkedContent is the number of sequences begun and not yet ended.
func (b *Builder) OpenMarkedContent() int { return b.open }

// Op writes numeric operands followed by op.
func (b *Builder) Op(op string, operands ...float64) *Builder {
	for _, v := range operands {
		b.buf = writer.FormatFloat(b.buf, v, b.high)
		b.buf = append(b.buf, ' ')
	}
	b.buf = append(b.buf, op...)
	b.buf = append(b.buf, '\n')
	return b
}

// Raw appends pre-built content, ending it with a newline if needed.
func (b *Builder) Raw(content string) *Builder {
	if content == "" {
		return b
	}
	b.buf = append(b.buf, content...)
	if content[len(content)-1] != '\n' {
		b.buf = append(b.buf, '\n')
	}
	return b
}

func (b *Builder) object(obj raw.Object) {
	data, err := writer.Marshal(obj)
	if err != nil {
		if b.err == nil {
			b.err = err
		}
		return
	}
	b.buf = append(b.buf, data...)
	b.buf = append(b.buf, ' ')
}

// BeginMarkedContentTag writes "/tag BMC".
func (b *Builder) BeginMarkedContentTag(tag string) *Builder {
	b.object(raw.NameLiteral(tag))
	b.open++
	return b.Op("BMC")
}

// BeginMarkedContent writes "/tag <</MCID mcid>> BDC".
func (b *Builder) BeginMarkedContent(tag string, mcid int) *Builder {
	return b.BeginMarkedContentProps(tag, raw.DictOf("MCID", raw.NumberInt(int64(mcid))))
}

// BeginMarkedContentProps writes "/tag props BDC".
func (b *Builder) BeginMarkedContentProps(tag string, props *raw.DictObj) *Builder {
	b.object(raw.NameLiteral(tag))
	b.object(props)
	b.open++
	return b.Op("BDC")
}

func (b *Builder) EndMarkedContent() *Builder {
	if b.open > 0 {
		b.open--
	}
	return b.Op("EMC")
}

func (b *Builder) SaveState() *Builder    { return b.Op("q") }
func (b *Builder) RestoreState() *Builder { return b.Op("Q") }

func (b *Builder) Rectangle(x, y, w, h float64) *Builder { return b.Op("re", x, y, w, h) }
func (b *Builder) Fill() *Builder                        { return b.Op("f") }
func (b *Builder) Stroke() *Builder                      { return b.Op("S") }
func (b *Builder) BeginText() *Builder                   { return b.Op("BT") }
func (b *Builder) EndText() *Builder                     { return b.Op("ET") }
func (b *Builder) MoveText(x, y float64) *Builder        { return b.Op("Td", x, y) }

// SetFont writes "/name size Tf".
func (b *Builder) SetFont(name string, size float64) *Builder {
	b.object(raw.NameLiteral(name))
	return b.Op("Tf", size)
}

// ShowText writes text as a literal string followed by Tj.
func (b *Builder) ShowText(text []byte) *Builder {
	b.object(raw.Str(text))
	return b.Op("Tj")
}
