package recovery

import (
	"fmt"
	"sync"

	"github.com/wudi/pdfkernel/observability"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy implements a best-effort recovery strategy. Every anomaly is
// logged and recorded, and the reader is told to repair and continue.
type LenientStrategy struct {
	Logger observability.Logger

	mu     sync.Mutex
	Errors []error
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

func (s *LenientStrategy) OnError(ctx Context, err error, location Location) Action {
	s.mu.Lock()
	s.Errors = append(s.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	s.mu.Unlock()
	observability.OrDefault(s.Logger).Warn("recovered from malformed input",
		observability.String("component", location.Component),
		observability.Int64("offset", location.ByteOffset),
		observability.Error("error", err))
	return ActionFix
}

// Count returns the number of anomalies seen so far.
func (s *LenientStrategy) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Errors)
}

// Decide runs strategy (nil means strict) and returns nil when the caller may
// continue, or err otherwise.
func Decide(strategy Strategy, err error, loc Location) (Action, error) {
	if strategy == nil {
		return ActionFail, err
	}
	action := strategy.OnError(nil, err, loc)
	if action.Continues() {
		return action, nil
	}
	return action, err
}
