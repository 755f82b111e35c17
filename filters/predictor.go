package filters

import (
	"fmt"

	"github.com/wudi/pdfkernel/ir/raw"
)

// applyPredictor undoes the /Predictor transform described by params.
// Predictor 1 (or none) is the identity, 2 is TIFF horizontal differencing
// and 10..15 select PNG row filters with a per-row tag byte.
func applyPredictor(data []byte, params raw.Dictionary) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	columns := intParam(params, "Columns", 1)
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	if err := validatePredictorParams(columns, colors, bpc); err != nil {
		return nil, err
	}
	switch {
	case predictor == 2:
		return tiffPredictor(data, columns, colors, bpc)
	case predictor >= 10 && predictor <= 15:
		return pngPredictor(data, columns, colors, bpc)
	}
	return nil, fmt.Errorf("unsupported predictor: %d", predictor)
}

func tiffPredictor(data []byte, columns, colors, bpc int) ([]byte, error) {
	rowLen := (columns*colors*bpc + 7) / 8
	out := append([]byte(nil), data...)
	for start := 0; start < len(out); start += rowLen {
		end := start + rowLen
		if end > len(out) {
			end = len(out)
		}
		row := out[start:end]
		switch bpc {
		case 8:
			for i := colors; i < len(row); i++ {
				row[i] += row[i-colors]
			}
		case 16:
			for i := 2 * colors; i+1 < len(row); i += 2 {
				v := uint16(row[i])<<8 | uint16(row[i+1])
				p := uint16(row[i-2*colors])<<8 | uint16(row[i-2*colors+1])
				v += p
				row[i], row[i+1] = byte(v>>8), byte(v)
			}
		default:
			if err := tiffSubByte(row, columns, colors, bpc); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// tiffSubByte handles TIFF differencing for components narrower than a byte.
func tiffSubByte(row []byte, columns, colors, bpc int) error {
	mask := byte(1<<bpc - 1)
	get := func(i int) byte {
		bit := i * bpc
		shift := 8 - bpc - bit%8
		return (row[bit/8] >> shift) & mask
	}
	set := func(i int, v byte) {
		bit := i * bpc
		shift := 8 - bpc - bit%8
		row[bit/8] = row[bit/8]&^(mask<<shift) | (v&mask)<<shift
	}
	n := columns * colors
	if n*bpc > len(row)*8 {
		n = len(row) * 8 / bpc
	}
	for i := colors; i < n; i++ {
		set(i, get(i)+get(i-colors))
	}
	return nil
}

func pngPredictor(data []byte, columns, colors, bpc int) ([]byte, error) {
	bpp := (colors*bpc + 7) / 8
	rowLen := (columns*colors*bpc + 7) / 8
	stride := rowLen + 1
	rows := (len(data) + stride - 1) / stride
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for start := 0; start < len(data); start += stride {
		end := start + stride
		if end > len(data) {
			end = len(data)
		}
		tag := data[start]
		src := data[start+1 : end]
		for i := range cur {
			cur[i] = 0
		}
		copy(cur, src)
		n := len(src)
		switch tag {
		case 0:
		case 1:
			for i := bpp; i < n; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2:
			for i := 0; i < n; i++ {
				cur[i] += prev[i]
			}
		case 3:
			for i := 0; i < n; i++ {
				var left int
				if i >= bpp {
					left = int(cur[i-bpp])
				}
				cur[i] += byte((left + int(prev[i])) / 2)
			}
		case 4:
			for i := 0; i < n; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = cur[i-bpp]
					upLeft = prev[i-bpp]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("invalid PNG predictor tag %d at byte %d", tag, start)
		}
		out = append(out, cur[:n]...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
