package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records checkpoint engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordCheckpoint records a checkpoint creation with its size and duration.
	RecordCheckpoint(ctx context.Context, trigger string, fileCount int, sizeBytes int64, duration time.Duration, err error)

	// RecordRestore records a restore with restored and failed file counts.
	RecordRestore(ctx context.Context, restored, failed int, duration time.Duration)

	// RecordPrune records checkpoints deleted by retention.
	RecordPrune(ctx context.Context, deleted, failed int)

	// RecordSkippedFile records a file left out of a snapshot.
	RecordSkippedFile(ctx context.Context, reason string)

	// RecordIndexFlush records a metadata index write.
	RecordIndexFlush(ctx context.Context, entries int, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	checkpoints     metric.Int64Counter
	checkpointSize  metric.Int64Histogram
	checkpointFiles metric.Int64Histogram
	checkpointTime  metric.Float64Histogram
	checkpointErrs  metric.Int64Counter
	restoredFiles   metric.Int64Counter
	restoreFailures metric.Int64Counter
	restoreTime     metric.Float64Histogram
	pruned          metric.Int64Counter
	pruneFailures   metric.Int64Counter
	skippedFiles    metric.Int64Counter
	indexFlushes    metric.Int64Counter
	indexErrors     metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("rewind")
	m := &otelMetrics{}
	var err error

	if m.checkpoints, err = meter.Int64Counter("rewind.checkpoint.created",
		metric.WithDescription("Number of checkpoints created"),
	); err != nil {
		return nil, err
	}
	if m.checkpointSize, err = meter.Int64Histogram("rewind.checkpoint.size_bytes",
		metric.WithDescription("Checkpoint content size in bytes"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.checkpointFiles, err = meter.Int64Histogram("rewind.checkpoint.files",
		metric.WithDescription("Files captured per checkpoint"),
	); err != nil {
		return nil, err
	}
	if m.checkpointTime, err = meter.Float64Histogram("rewind.checkpoint.latency_ms",
		metric.WithDescription("Checkpoint creation latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.checkpointErrs, err = meter.Int64Counter("rewind.checkpoint.errors",
		metric.WithDescription("Number of failed checkpoint creations"),
	); err != nil {
		return nil, err
	}
	if m.restoredFiles, err = meter.Int64Counter("rewind.restore.files",
		metric.WithDescription("Files written back by restores"),
	); err != nil {
		return nil, err
	}
	if m.restoreFailures, err = meter.Int64Counter("rewind.restore.failures",
		metric.WithDescription("Files that failed to restore"),
	); err != nil {
		return nil, err
	}
	if m.restoreTime, err = meter.Float64Histogram("rewind.restore.latency_ms",
		metric.WithDescription("Restore latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.pruned, err = meter.Int64Counter("rewind.retention.deleted",
		metric.WithDescription("Checkpoints deleted by retention"),
	); err != nil {
		return nil, err
	}
	if m.pruneFailures, err = meter.Int64Counter("rewind.retention.failures",
		metric.WithDescription("Retention deletions that failed"),
	); err != nil {
		return nil, err
	}
	if m.skippedFiles, err = meter.Int64Counter("rewind.snapshot.skipped_files",
		metric.WithDescription("Files left out of snapshots"),
	); err != nil {
		return nil, err
	}
	if m.indexFlushes, err = meter.Int64Counter("rewind.index.flushes",
		metric.WithDescription("Metadata index writes"),
	); err != nil {
		return nil, err
	}
	if m.indexErrors, err = meter.Int64Counter("rewind.index.flush_errors",
		metric.WithDescription("Failed metadata index writes"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordCheckpoint records a checkpoint creation.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, trigger string, fileCount int, sizeBytes int64, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("trigger", trigger))
	if err != nil {
		m.checkpointErrs.Add(ctx, 1, attrs)
		return
	}
	m.checkpoints.Add(ctx, 1, attrs)
	m.checkpointSize.Record(ctx, sizeBytes, attrs)
	m.checkpointFiles.Record(ctx, int64(fileCount), attrs)
	m.checkpointTime.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordRestore records a restore.
func (m *otelMetrics) RecordRestore(ctx context.Context, restored, failed int, duration time.Duration) {
	m.restoredFiles.Add(ctx, int64(restored))
	if failed > 0 {
		m.restoreFailures.Add(ctx, int64(failed))
	}
	m.restoreTime.Record(ctx, float64(duration.Milliseconds()))
}

// RecordPrune records a retention pass.
func (m *otelMetrics) RecordPrune(ctx context.Context, deleted, failed int) {
	m.pruned.Add(ctx, int64(deleted))
	if failed > 0 {
		m.pruneFailures.Add(ctx, int64(failed))
	}
}

// RecordSkippedFile records a skipped file.
func (m *otelMetrics) RecordSkippedFile(ctx context.Context, reason string) {
	m.skippedFiles.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordIndexFlush records an index write.
func (m *otelMetrics) RecordIndexFlush(ctx context.Context, entries int, err error) {
	if err != nil {
		m.indexErrors.Add(ctx, 1)
		return
	}
	m.indexFlushes.Add(ctx, 1, metric.WithAttributes(attribute.Int("entries", entries)))
}
