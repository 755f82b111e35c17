package scanner

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrFormat matches every *FormatError.
	ErrFormat         = errors.New("pdf format error")
	ErrEOFNotFound    = errors.New("pdf startxref or %%EOF marker not found")
	ErrHeaderNotFound = errors.New("pdf header not found")
)

// FormatError reports malformed input at a byte offset.
type FormatError struct {
	Pos int64
	Msg string
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s at file pointer %d", e.Msg, e.Pos)
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// DecodeLiteralString resolves the escapes of a literal string body (the
// bytes between the outer parentheses). Octal escapes take up to three
// digits, an unknown escape drops the backslash, a backslash before an end
// of line continues the line and a bare end of line becomes '\n'.
func DecodeLiteralString(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '\\':
			i++
			if i >= len(raw) {
				return out
			}
			c = raw[i]
			switch c {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '(', ')', '\\':
				out = append(out, c)
			case '\r':
				if i+1 < len(raw) && raw[i+1] == '\n' {
					i++
				}
			case '\n':
			default:
				if c < '0' || c > '7' {
					out = append(out, c)
					break
				}
				v := int(c - '0')
				for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
					i++
					v = v<<3 + int(raw[i]-'0')
				}
				out = append(out, byte(v))
			}
		case c == '\r':
			out = append(out, '\n')
			if i+1 < len(raw) && raw[i+1] == '\n' {
				i++
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

// DecodeHexString decodes hex digit pairs, ignoring whitespace and invalid
// characters. An odd trailing digit is padded with 0.
func DecodeHexString(raw []byte) []byte {
	out := make([]byte, 0, len(raw)/2+1)
	hi := -1
	for _, c := range raw {
		v := hexValue(c)
		if v < 0 {
			continue
		}
		if hi < 0 {
			hi = v
			continue
		}
		out = append(out, byte(hi<<4|v))
		hi = -1
	}
	if hi >= 0 {
		out = append(out, byte(hi<<4))
	}
	return out
}

// DecodeName resolves #xx escapes in a name body. A '#' that is not followed
// by two hex digits is kept literally.
func DecodeName(raw []byte) string {
	if !containsByte(raw, '#') {
		return string(raw)
	}
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c == '#' && i+2 < len(raw) && hexValue(raw[i+1]) >= 0 && hexValue(raw[i+2]) >= 0 {
			sb.WriteByte(byte(hexValue(raw[i+1])<<4 | hexValue(raw[i+2])))
			i += 2
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func containsByte(b []byte, c byte) bool {
	for _, x := range b {
		if x == c {
			return true
		}
	}
	return false
}

func hexValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	default:
		return -1
	}
}
