package recovery

import "fmt"

// Strategy decides what happens when a reader component meets malformed input.
type Strategy interface {
	OnError(ctx Context, err error, location Location) Action
}

// Location pinpoints where an anomaly was found.
type Location struct {
	ByteOffset int64
	ObjectNum  int
	ObjectGen  int
	Component  string
}

func (l Location) String() string {
	if l.ObjectNum > 0 {
		return fmt.Sprintf("%s at offset %d (object %d %d)", l.Component, l.ByteOffset, l.ObjectNum, l.ObjectGen)
	}
	return fmt.Sprintf("%s at offset %d", l.Component, l.ByteOffset)
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionFix
	ActionWarn
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	case ActionFix:
		return "fix"
	case ActionWarn:
		return "warn"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Continues reports whether the caller should carry on after the action.
func (a Action) Continues() bool { return a == ActionSkip || a == ActionFix || a == ActionWarn }

type Context interface{ Done() <-chan struct{} }
