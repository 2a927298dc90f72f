package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Compile-time interface checks.
var (
	_ MetricsRecorder = NoopMetrics{}
	_ SpanManager     = NoopSpanManager{}
)

// NoopMetrics discards every measurement. It is the engine default.
type NoopMetrics struct{}

func (NoopMetrics) RecordCheckpoint(context.Context, string, int, int64, time.Duration, error) {}
func (NoopMetrics) RecordRestore(context.Context, int, int, time.Duration) {}
func (NoopMetrics) RecordPrune(context.Context, int, int) {}
func (NoopMetrics) RecordSkippedFile(context.Context, string) {}
func (NoopMetrics) RecordIndexFlush(context.Context, int, error) {}

// NoopSpanManager starts no spans. It is the engine default.
type NoopSpanManager struct{}

// StartOperationSpan returns ctx unchanged with a span that records nothing.
func (NoopSpanManager) StartOperationSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
