package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	l := Limits{MaxXRefDepth: 3, MaxDecodeTime: time.Second}.WithDefaults()

	assert.Equal(t, 3, l.MaxXRefDepth)
	assert.Equal(t, time.Second, l.MaxDecodeTime)
	assert.Equal(t, DefaultLimits().MaxIndirectDepth, l.MaxIndirectDepth)
	assert.Equal(t, DefaultLimits().MaxStringLength, l.MaxStringLength)
}
