package observability

import (
	"context"
	"sync/atomic"
)

// Logger is the structured logging surface used throughout the kernel.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type Field interface {
	Key() string
	Value() interface{}
}

type field struct {
	key string
	val interface{}
}

func (f field) Key() string        { return f.key }
func (f field) Value() interface{} { return f.val }

func String(key, value string) Field      { return field{key, value} }
func Int(key string, value int) Field     { return field{key, value} }
func Int64(key string, value int64) Field { return field{key, value} }
func Bool(key string, value bool) Field   { return field{key, value} }
func Float64(key string, v float64) Field { return field{key, v} }
func Error(key string, err error) Field   { return field{key, err} }
func Any(key string, v interface{}) Field { return field{key, v} }
func ObjectRef(num, gen int) []Field      { return []Field{Int("obj", num), Int("gen", gen)} }
func Offset(key string, off int64) Field  { return field{key, off} }

type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (NopLogger) With(...Field) Logger { return NopLogger{} }

type loggerHolder struct{ l Logger }

var defaultLogger atomic.Value

func init() { defaultLogger.Store(loggerHolder{NopLogger{}}) }

// Default returns the process-wide fallback logger. It is a NopLogger unless
// SetDefault was called.
func Default() Logger { return defaultLogger.Load().(loggerHolder).l }

// SetDefault replaces the process-wide fallback logger. A nil logger restores
// the NopLogger.
func SetDefault(l Logger) {
	if l == nil {
		l = NopLogger{}
	}
	defaultLogger.Store(loggerHolder{l})
}

// OrDefault returns l, or Default() when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default()
	}
	return l
}

// Tracer provides distributed tracing hooks for library operations.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span represents a tracing span.
type Span interface {
	SetTag(key string, value interface{})
	SetError(err error)
	Finish()
}

type nopTracer struct{}

func (nopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// NopTracer returns a tracer that does nothing.
func NopTracer() Tracer { return nopTracer{} }

type nopSpan struct{}

func (nopSpan) SetTag(string, interface{}) {}
func (nopSpan) SetError(error)             {}
func (nopSpan) Finish()                    {}

// Standard metric names emitted by the library.
const (
	MetricParseTime     = "pdf.parse.duration"
	MetricObjectCount   = "pdf.objects.count"
	MetricPageCount     = "pdf.pages.count"
	MetricDecodedBytes  = "pdf.decoded.bytes"
	MetricFlushedCount  = "pdf.objects.flushed"
	MetricWriteTime     = "pdf.write.duration"
	MetricTagFlushCount = "pdf.tags.flushed"
)
