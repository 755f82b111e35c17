// Package scanner implements the PDF tokenizer: a seekable cursor over a
// byte source that produces names, numbers, strings, delimiters, keywords
// and indirect references one at a time.
package scanner

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/tdewolff/parse/v2/strconv"

	"github.com/wudi/pdfkernel/observability"
	"github.com/wudi/pdfkernel/recovery"
	"github.com/wudi/pdfkernel/source"
)

type TokenType int

const (
	TokenEOF        TokenType = iota
	TokenNumber               // 12, -3.5, .5
	TokenString               // literal (...) or hex <...>
	TokenName                 // /Name
	TokenComment              // % to end of line
	TokenStartArray           // [
	TokenEndArray             // ]
	TokenStartDict            // <<
	TokenEndDict              // >>
	TokenRef                  // 12 0 R
	TokenKeyword              // obj, endobj, stream, true, null, content operators...
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenNumber:
		return "Number"
	case TokenString:
		return "String"
	case TokenName:
		return "Name"
	case TokenComment:
		return "Comment"
	case TokenStartArray:
		return "StartArray"
	case TokenEndArray:
		return "EndArray"
	case TokenStartDict:
		return "StartDic"
	case TokenEndDict:
		return "EndDic"
	case TokenRef:
		return "Ref"
	case TokenKeyword:
		return "Other"
	default:
		return fmt.Sprintf("TokenType(%d)", int(t))
	}
}

// Token is one lexical unit. Raw holds the bytes as they appear in the
// source without delimiters; Bytes holds decoded string content.
type Token struct {
	Type  TokenType
	Str   string
	Bytes []byte
	Raw   []byte
	Int   int64 // integer value, truncated value of a real, or object number of a Ref
	Float float64
	IsInt bool
	Gen   int
	Hex   bool
	Pos   int64
	End   int64
}

// IsKeyword reports whether the token is the keyword kw.
func (t Token) IsKeyword(kw string) bool { return t.Type == TokenKeyword && t.Str == kw }

type Config struct {
	MaxStringLength int64
	MaxNameLength   int
	MaxStreamScan   int64
	MaxStreamLength int64
	MaxInlineImage  int64
	// WindowSize is the size of the read-ahead buffer.
	WindowSize int
	Recovery   recovery.Strategy
	Logger     observability.Logger
}

const defaultWindow = 4096

// Tokenizer reads tokens from a ByteSource. It is not safe for concurrent use.
type Tokenizer struct {
	src source.ByteSource
	cfg Config
	pos int64

	buf      []byte
	bufStart int64
	bufLen   int
	ioErr    error

	tok    Token
	recLoc recovery.Location
}

func New(src source.ByteSource, cfg Config) *Tokenizer {
	w := cfg.WindowSize
	if w < 16 {
		w = defaultWindow
	}
	return &Tokenizer{src: src, cfg: cfg, buf: make([]byte, w)}
}

// FromBytes tokenizes an in-memory buffer.
func FromBytes(b []byte, cfg Config) *Tokenizer {
	return New(source.NewArraySource(b), cfg)
}

// FromReaderAt tokenizes size bytes of r.
func FromReaderAt(r io.ReaderAt, size int64, cfg Config) *Tokenizer {
	return New(source.NewReaderAtSource(r, size), cfg)
}

// Source returns the underlying byte source.
func (t *Tokenizer) Source() source.ByteSource { return t.src }

func (t *Tokenizer) Length() int64 { return t.src.Length() }

func (t *Tokenizer) Position() int64 { return t.pos }

// Seek moves the cursor. Positions past the end are allowed; reads there
// report end of input.
func (t *Tokenizer) Seek(pos int64) error {
	if pos < 0 {
		return errors.Wrapf(source.ErrIllegalArgument, "seek to %d", pos)
	}
	t.pos = pos
	return nil
}

// SetRecoveryLocation attaches object context to recovery reports.
func (t *Tokenizer) SetRecoveryLocation(loc recovery.Location) { t.recLoc = loc }

// byteAt returns the byte at p through the read-ahead window, or -1.
func (t *Tokenizer) byteAt(p int64) int {
	if p >= t.bufStart && p < t.bufStart+int64(t.bufLen) {
		return int(t.buf[p-t.bufStart])
	}
	if p < 0 {
		return -1
	}
	n, err := t.src.GetRange(p, t.buf)
	if err != nil {
		t.ioErr = err
		return -1
	}
	if n <= 0 {
		return -1
	}
	t.bufStart, t.bufLen = p, n
	return int(t.buf[0])
}

// Read returns the byte at the cursor and advances, or -1 at end of input.
func (t *Tokenizer) Read() int {
	c := t.byteAt(t.pos)
	if c >= 0 {
		t.pos++
	}
	return c
}

// Peek returns the byte at the cursor without advancing.
func (t *Tokenizer) Peek() int { return t.byteAt(t.pos) }

// PeekInto fills buf from the cursor without advancing. It returns -1 at end
// of input.
func (t *Tokenizer) PeekInto(buf []byte) (int, error) {
	return t.src.GetRange(t.pos, buf)
}

// readSpan copies [from, to) out of the source.
func (t *Tokenizer) readSpan(from, to int64) []byte {
	if to <= from {
		return nil
	}
	out := make([]byte, to-from)
	if from >= t.bufStart && to <= t.bufStart+int64(t.bufLen) {
		copy(out, t.buf[from-t.bufStart:to-t.bufStart])
		return out
	}
	if err := source.ReadFull(t.src, from, out); err != nil {
		t.ioErr = err
	}
	return out
}

// Token returns the current token.
func (t *Tokenizer) Token() Token         { return t.tok }
func (t *Tokenizer) TokenType() TokenType { return t.tok.Type }

// StringValue returns the token text as it appears in the source, without
// delimiters.
func (t *Tokenizer) StringValue() string { return string(t.tok.Raw) }

func (t *Tokenizer) ByteContent() []byte { return t.tok.Raw }

// DecodedString returns the decoded bytes of a string token.
func (t *Tokenizer) DecodedString() []byte { return t.tok.Bytes }

func (t *Tokenizer) IntValue() int          { return int(t.tok.Int) }
func (t *Tokenizer) LongValue() int64       { return t.tok.Int }
func (t *Tokenizer) FloatValue() float64    { return t.tok.Float }
func (t *Tokenizer) ObjNr() int             { return int(t.tok.Int) }
func (t *Tokenizer) GenNr() int             { return t.tok.Gen }
func (t *Tokenizer) IsHexString() bool      { return t.tok.Hex }
func (t *Tokenizer) setEOF()                { t.tok = Token{Type: TokenEOF, Pos: t.pos, End: t.pos} }
func (t *Tokenizer) keyword(kw string) bool { return t.tok.IsKeyword(kw) }

// NextToken reads the next lexical unit, comments included. It returns false
// at end of input.
func (t *Tokenizer) NextToken() (bool, error) {
	c := t.skipWhitespace()
	if c == -1 {
		t.setEOF()
		return false, t.ioErr
	}
	start := t.pos
	t.pos++
	var err error
	switch c {
	case '[':
		t.tok = Token{Type: TokenStartArray, Str: "[", Raw: []byte("["), Pos: start, End: t.pos}
	case ']':
		t.tok = Token{Type: TokenEndArray, Str: "]", Raw: []byte("]"), Pos: start, End: t.pos}
	case '/':
		err = t.scanName(start)
	case '>':
		if t.Peek() == '>' {
			t.pos++
			t.tok = Token{Type: TokenEndDict, Str: ">>", Raw: []byte(">>"), Pos: start, End: t.pos}
			break
		}
		if err = t.recover(t.formatErr(start, "'>' not expected"), "delimiter"); err == nil {
			t.tok = Token{Type: TokenKeyword, Str: ">", Raw: []byte(">"), Pos: start, End: t.pos}
		}
	case '<':
		if t.Peek() == '<' {
			t.pos++
			t.tok = Token{Type: TokenStartDict, Str: "<<", Raw: []byte("<<"), Pos: start, End: t.pos}
			break
		}
		err = t.scanHexString(start)
	case '%':
		for c = t.Peek(); c != -1 && c != '\r' && c != '\n'; c = t.Peek() {
			t.pos++
		}
		raw := t.readSpan(start+1, t.pos)
		t.tok = Token{Type: TokenComment, Str: string(raw), Raw: raw, Pos: start, End: t.pos}
	case '(':
		err = t.scanLiteralString(start)
	default:
		if isNumberStart(byte(c)) {
			t.pos = start
			t.scanNumber(start)
			break
		}
		// keywords and stray delimiters such as ')' or '{'
		for c = t.Peek(); c != -1 && !isDelimiter(byte(c)); c = t.Peek() {
			t.pos++
		}
		raw := t.readSpan(start, t.pos)
		t.tok = Token{Type: TokenKeyword, Str: string(raw), Raw: raw, Pos: start, End: t.pos}
	}
	if err != nil {
		return false, err
	}
	return true, t.ioErr
}

// NextValidToken reads the next token, skipping comments, and collapses
// "<int> <int> R" into a single TokenRef. When the lookahead does not form a
// reference the cursor is moved back behind the first number.
func (t *Tokenizer) NextValidToken() error {
	level := 0
	var first, gen Token
	var ptr int64
	for {
		ok, err := t.NextToken()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if t.tok.Type == TokenComment {
			continue
		}
		switch level {
		case 0:
			if !isRefPart(t.tok) {
				return nil
			}
			first, ptr, level = t.tok, t.pos, 1
		case 1:
			if !isRefPart(t.tok) {
				t.pos, t.tok = ptr, first
				return nil
			}
			gen, level = t.tok, 2
		default:
			if t.keyword("R") {
				t.tok = Token{
					Type: TokenRef,
					Str:  fmt.Sprintf("%d %d R", first.Int, gen.Int),
					Raw:  t.readSpan(first.Pos, t.pos),
					Int:  first.Int,
					Gen:  int(gen.Int),
					Pos:  first.Pos,
					End:  t.pos,
				}
				return nil
			}
			t.pos, t.tok = ptr, first
			return nil
		}
	}
	if level > 0 {
		t.pos, t.tok = ptr, first
	}
	return nil
}

func isRefPart(tok Token) bool { return tok.Type == TokenNumber && tok.IsInt && tok.Int >= 0 }

// Next returns the next valid token, or io.EOF at end of input.
func (t *Tokenizer) Next() (Token, error) {
	if err := t.NextValidToken(); err != nil {
		return Token{}, err
	}
	if t.tok.Type == TokenEOF {
		return t.tok, io.EOF
	}
	return t.tok, nil
}

// skipWhitespace advances over whitespace and returns the next byte, or -1.
func (t *Tokenizer) skipWhitespace() int {
	for {
		c := t.Peek()
		if c == -1 || !isWhitespace(byte(c)) {
			return c
		}
		t.pos++
	}
}

func (t *Tokenizer) scanName(start int64) error {
	for c := t.Peek(); c != -1 && !isDelimiter(byte(c)); c = t.Peek() {
		t.pos++
		if t.cfg.MaxNameLength > 0 && t.pos-start-1 > int64(t.cfg.MaxNameLength) {
			return t.recover(t.formatErr(start, "name too long"), "name")
		}
	}
	raw := t.readSpan(start+1, t.pos)
	t.tok = Token{Type: TokenName, Str: DecodeName(raw), Raw: raw, Pos: start, End: t.pos}
	return nil
}

func (t *Tokenizer) scanLiteralString(start int64) error {
	nesting := 0
	c := -1
	for {
		c = t.Read()
		if c == -1 {
			break
		}
		if c == '\\' {
			if c = t.Read(); c == -1 {
				break
			}
		} else if c == '(' {
			nesting++
		} else if c == ')' {
			if nesting == 0 {
				break
			}
			nesting--
		}
		if t.cfg.MaxStringLength > 0 && t.pos-start > t.cfg.MaxStringLength {
			return t.recover(t.formatErr(start, "literal string too long"), "literal")
		}
	}
	end := t.pos
	if c == ')' {
		end--
	} else if err := t.recover(t.formatErr(start, "unterminated literal string"), "literal"); err != nil {
		return err
	}
	raw := t.readSpan(start+1, end)
	t.tok = Token{Type: TokenString, Bytes: DecodeLiteralString(raw), Raw: raw, Pos: start, End: t.pos}
	t.tok.Str = string(t.tok.Bytes)
	return nil
}

func (t *Tokenizer) scanHexString(start int64) error {
	closed := false
	for {
		c := t.Read()
		if c == -1 {
			break
		}
		if c == '>' {
			closed = true
			break
		}
		if !isWhitespace(byte(c)) && hexValue(byte(c)) < 0 {
			if err := t.recover(t.formatErr(t.pos-1, "invalid hex string character"), "hex"); err != nil {
				return err
			}
		}
	}
	end := t.pos
	if closed {
		end--
	} else if err := t.recover(t.formatErr(start, "unterminated hex string"), "hex"); err != nil {
		return err
	}
	raw := t.readSpan(start+1, end)
	decoded := DecodeHexString(raw)
	if t.cfg.MaxStringLength > 0 && int64(len(decoded)) > t.cfg.MaxStringLength {
		return t.recover(t.formatErr(start, "hex string too long"), "hex")
	}
	t.tok = Token{Type: TokenString, Bytes: decoded, Str: string(decoded), Raw: raw, Hex: true, Pos: start, End: t.pos}
	return nil
}

// scanNumber reads a numeric literal. Repeated signs collapse, a lone '.' is
// zero and a trailing '.' keeps the integer value.
func (t *Tokenizer) scanNumber(start int64) {
	neg := false
	c := t.Peek()
	for c == '-' || c == '+' {
		if c == '-' {
			neg = true
		}
		t.pos++
		c = t.Peek()
	}
	intStart := t.pos
	for c >= '0' && c <= '9' {
		t.pos++
		c = t.Peek()
	}
	intPart := t.readSpan(intStart, t.pos)
	var frac []byte
	dot := false
	if c == '.' {
		dot = true
		t.pos++
		fracStart := t.pos
		for c = t.Peek(); c >= '0' && c <= '9'; c = t.Peek() {
			t.pos++
		}
		frac = t.readSpan(fracStart, t.pos)
	}
	raw := t.readSpan(start, t.pos)
	tok := Token{Type: TokenNumber, Str: string(raw), Raw: raw, Pos: start, End: t.pos}
	tok.Int, tok.Float, tok.IsInt = parseNumber(neg, intPart, frac, dot)
	t.tok = tok
}

// parseNumber evaluates the digit runs captured by scanNumber.
func parseNumber(neg bool, intPart, frac []byte, dot bool) (int64, float64, bool) {
	if len(frac) == 0 {
		var i int64
		if len(intPart) > 0 {
			v, n := strconv.ParseInt(intPart)
			if n != len(intPart) {
				// overflow; keep magnitude as a real
				f, _ := strconv.ParseFloat(intPart)
				if neg {
					f = -f
				}
				return int64(f), f, false
			}
			i = v
		}
		if neg {
			i = -i
		}
		return i, float64(i), !dot || len(intPart) > 0
	}
	text := make([]byte, 0, len(intPart)+len(frac)+2)
	text = append(text, '0')
	text = append(text, intPart...)
	text = append(text, '.')
	text = append(text, frac...)
	f, _ := strconv.ParseFloat(text)
	if neg {
		f = -f
	}
	return int64(f), f, false
}

func (t *Tokenizer) formatErr(pos int64, msg string) error {
	return &FormatError{Pos: pos, Msg: msg}
}

// recover consults the configured strategy. It returns nil when scanning may
// continue.
func (t *Tokenizer) recover(err error, what string) error {
	loc := t.recLoc
	loc.ByteOffset = t.pos
	if loc.Component != "" {
		loc.Component += "->"
	}
	loc.Component += "scanner:" + what
	_, err = recovery.Decide(t.cfg.Recovery, err, loc)
	return err
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }
