package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrOperation    = "rewind.operation"
	AttrCheckpointID = "rewind.checkpoint.id"
	AttrBackupID     = "rewind.backup.id"
	AttrFileCount    = "rewind.files"
	AttrTotalSize    = "rewind.bytes"
	AttrSkipped      = "rewind.skipped"
	AttrRestored     = "rewind.restored"
	AttrFailed       = "rewind.failed"
)

// tracer resolves against the global provider, so a provider installed
// after import still takes effect.
var tracer = otel.Tracer("github.com/randalmurphal/rewind")

// SpanManager opens one span per engine operation.
// NewSpanManager traces through OpenTelemetry; NoopSpanManager discards.
type SpanManager interface {
	// StartOperationSpan starts the span for op (create, restore, prune,
	// ...). id names the checkpoint involved and may be empty.
	StartOperationSpan(ctx context.Context, op, id string) (context.Context, trace.Span)

	// EndSpanWithError ends span, marking it failed when err is non-nil.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent records a milestone on the span carried by ctx.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager backed by the global tracer
// provider. Install the provider with otel.SetTracerProvider first.
func NewSpanManager() SpanManager {
	return otelSpanManager{}
}

func (otelSpanManager) StartOperationSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return StartOperationSpan(ctx, op, id)
}

func (otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// StartOperationSpan starts an internal span named "rewind.<op>".
func StartOperationSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String(AttrOperation, op)}
	if id != "" {
		attrs = append(attrs, attribute.String(AttrCheckpointID, id))
	}
	return tracer.Start(ctx, "rewind."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndSpanWithError ends span with an Ok status, or records err and an
// Error status. A nil span is ignored.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanEvent adds an event to the span in ctx when it is recording.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SnapshotAttributes describes a committed snapshot.
func SnapshotAttributes(id string, files int, size int64, skipped int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCheckpointID, id),
		attribute.Int(AttrFileCount, files),
		attribute.Int64(AttrTotalSize, size),
		attribute.Int(AttrSkipped, skipped),
	}
}
