// Package contentstream reads and writes page content streams.
package contentstream

import (
	"context"
	"errors"
	"fmt"
)

type Processor interface {
	Process(ctx context.Context, content []byte) error
	RegisterHandler(op string, h OperatorHandler)
}

type OperatorHandler interface {
	Handle(ctx *ExecutionContext, op Operation) error
}

// HandlerFunc adapts a function to OperatorHandler.
type HandlerFunc func(ctx *ExecutionContext, op Operation) error

func (f HandlerFunc) Handle(ctx *ExecutionContext, op Operation) error { return f(ctx, op) }

// ExecutionContext is the state visible to handlers. Marked holds the open
// marked-content sequences, innermost last.
type ExecutionContext struct {
	GraphicsState *GraphicsState
	Marked        []MarkedContent
}

// MarkedContent is an open BMC or BDC sequence. MCID is -1 when the
// sequence has none.
type MarkedContent struct {
	Tag  string
	MCID int
}

type GraphicsState struct {
	LineWidth float64
	stack     []*GraphicsState
}

func (gs *GraphicsState) Save() { clone := *gs; gs.stack = append(gs.stack, &clone) }
func (gs *GraphicsState) Restore() error {
	n := len(gs.stack)
	if n == 0 {
		return errors.New("state stack empty")
	}
	*gs = *gs.stack[n-1]
	gs.stack = gs.stack[:n-1]
	return nil
}

// Depth is the number of saved states.
func (gs *GraphicsState) Depth() int { return len(gs.stack) }

type simpleProcessor struct{ handlers map[string]OperatorHandler }

func NewProcessor() Processor { return &simpleProcessor{handlers: make(map[string]OperatorHandler)} }

func (p *simpleProcessor) RegisterHandler(op string, h OperatorHandler) { p.handlers[op] = h }

// Process parses content and dispatches each operation. Graphics state and
// marked-content nesting are tracked before the handler runs for q and
// BMC/BDC, and after it runs for Q and EMC.
func (p *simpleProcessor) Process(ctx context.Context, content []byte) error {
	ec := &ExecutionContext{GraphicsState: &GraphicsState{LineWidth: 1}}
	return Parse(content, func(op Operation) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		switch op.Operator {
		case "q":
			ec.GraphicsState.Save()
		case "w":
			if v, ok := op.Float(0); ok {
				ec.GraphicsState.LineWidth = v
			}
		case "BMC", "BDC":
			ec.Marked = append(ec.Marked, MarkedContent{Tag: op.Name(0), MCID: op.MCID()})
		}
		if h, ok := p.handlers[op.Operator]; ok {
			if err := h.Handle(ec, op); err != nil {
				return err
			}
		}
		switch op.Operator {
		case "Q":
			if err := ec.GraphicsState.Restore(); err != nil {
				return fmt.Errorf("Q at offset %d: %w", op.Offset, err)
			}
		case "EMC":
			if len(ec.Marked) == 0 {
				return fmt.Errorf("EMC at offset %d without open marked content", op.Offset)
			}
			ec.Marked = ec.Marked[:len(ec.Marked)-1]
		}
		return nil
	})
}
