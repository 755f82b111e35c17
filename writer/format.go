package writer

import (
	"math"
	"strconv"
	"sync/atomic"

	"github.com/wudi/pdfkernel/observability"
)

var defaultHighPrecision atomic.Bool

// SetDefaultHighPrecision sets the precision mode picked up by output
// streams created afterwards. Streams already open keep their mode.
func SetDefaultHighPrecision(v bool) { defaultHighPrecision.Store(v) }

// DefaultHighPrecision reports the process-wide precision mode.
func DefaultHighPrecision() bool { return defaultHighPrecision.Load() }

// FormatInt appends the decimal form of v to dst.
func FormatInt(dst []byte, v int64) []byte { return strconv.AppendInt(dst, v, 10) }

// FormatFloat appends the PDF literal for f to dst.
//
// Rounded mode: magnitudes below 0.000015 are 0, below 1 keep five
// decimals, up to 32767 keep two and larger values are written as
// integers. High precision mode keeps six decimals and zeroes anything
// below 1e-6. Trailing zeros and a bare decimal point are dropped. NaN and
// infinities are written as 0 and logged.
func FormatFloat(dst []byte, f float64, highPrecision bool) []byte {
	out, ok := appendFloat(dst, f, highPrecision)
	if !ok {
		observability.Default().Warn("invalid number written as 0", observability.Float64("value", f))
	}
	return out
}

// appendFloat reports false when f had to be replaced by 0.
func appendFloat(dst []byte, f float64, highPrecision bool) ([]byte, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(dst, '0'), false
	}
	if highPrecision {
		if math.Abs(f) < 0.000001 {
			return append(dst, '0'), true
		}
		return trimFraction(strconv.AppendFloat(dst, f, 'f', 6, 64), len(dst)), true
	}

	if math.Abs(f) < 0.000015 {
		return append(dst, '0'), true
	}
	neg := f < 0
	if neg {
		f = -f
	}
	start := len(dst)
	if neg {
		dst = append(dst, '-')
	}
	switch {
	case f < 1.0:
		f += 0.000005
		if f >= 1 {
			return append(dst, '1'), true
		}
		v := int64(f * 100000)
		dst = append(dst, '0', '.')
		dst = appendPadded(dst, v, 5)
		return trimFraction(dst, start), true
	case f <= 32767:
		f += 0.005
		v := int64(f * 100)
		dst = strconv.AppendInt(dst, v/100, 10)
		dst = append(dst, '.')
		dst = appendPadded(dst, v%100, 2)
		return trimFraction(dst, start), true
	default:
		f += 0.5
		return strconv.AppendInt(dst, int64(f), 10), true
	}
}

func appendPadded(dst []byte, v int64, width int) []byte {
	var buf [20]byte
	s := strconv.AppendInt(buf[:0], v, 10)
	for i := len(s); i < width; i++ {
		dst = append(dst, '0')
	}
	return append(dst, s...)
}

// trimFraction strips trailing zeros after the decimal point, the point
// itself when nothing follows it, and turns "-0" into "0".
func trimFraction(b []byte, start int) []byte {
	dot := -1
	for i := start; i < len(b); i++ {
		if b[i] == '.' {
			dot = i
			break
		}
	}
	if dot >= 0 {
		end := len(b)
		for end > dot+1 && b[end-1] == '0' {
			end--
		}
		if end == dot+1 {
			end = dot
		}
		b = b[:end]
	}
	if len(b)-start == 2 && b[start] == '-' && b[start+1] == '0' {
		b = append(b[:start], '0')
	}
	return b
}
