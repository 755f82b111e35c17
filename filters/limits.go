package filters

import (
	"fmt"
	"time"
)

type Limits struct {
	MaxDecompressedSize int64
	MaxDecodeTime       time.Duration
}

const (
	// maxPredictorColumns caps /Columns so corrupted parameters cannot force
	// huge row buffers.
	maxPredictorColumns = 1 << 20
	maxPredictorColors  = 32
)

func validatePredictorParams(columns, colors, bpc int) error {
	if columns <= 0 || colors <= 0 {
		return fmt.Errorf("predictor parameters invalid (columns %d, colors %d)", columns, colors)
	}
	if columns > maxPredictorColumns || colors > maxPredictorColors {
		return fmt.Errorf("predictor row exceeds limit (columns %d, colors %d)", columns, colors)
	}
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return fmt.Errorf("unsupported bits per component %d", bpc)
	}
	return nil
}
