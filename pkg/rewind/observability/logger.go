// Package observability provides the logging, metrics and tracing hooks
// used across the checkpoint engine.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds workspace context to a logger.
// Returns nil when logger is nil so callers can keep using the nil-safe helpers.
func EnrichLogger(logger *slog.Logger, workspace string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("workspace", workspace))
}

// LogCheckpointCreated logs a completed checkpoint creation.
func LogCheckpointCreated(logger *slog.Logger, id, trigger string, fileCount int, totalSize int64, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("checkpoint created",
		slog.String("checkpoint_id", id),
		slog.String("trigger", trigger),
		slog.Int("file_count", fileCount),
		slog.Int64("total_size", totalSize),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogCheckpointError logs a failed engine operation.
func LogCheckpointError(logger *slog.Logger, op, id string, err error) {
	if logger == nil {
		return
	}
	logger.Error("checkpoint operation failed",
		slog.String("operation", op),
		slog.String("checkpoint_id", id),
		slog.String("error", err.Error()),
	)
}

// LogSkippedFile logs a file left out of a snapshot (non-fatal).
func LogSkippedFile(logger *slog.Logger, path string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("file skipped",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}

// LogOversizedFile logs a file excluded by the size cap.
func LogOversizedFile(logger *slog.Logger, path string, size, limit int64) {
	if logger == nil {
		return
	}
	logger.Warn("file exceeds size limit, excluded",
		slog.String("path", path),
		slog.Int64("size", size),
		slog.Int64("limit", limit),
	)
}

// LogRestoreFailure logs a single file that could not be restored.
func LogRestoreFailure(logger *slog.Logger, id, path string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("file restore failed",
		slog.String("checkpoint_id", id),
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}

// LogRestoreComplete logs the outcome of a restore.
func LogRestoreComplete(logger *slog.Logger, id string, restored, failed int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("checkpoint restored",
		slog.String("checkpoint_id", id),
		slog.Int("restored", restored),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogIndexFlushError logs a failed metadata index write. The in-memory
// index stays authoritative until the next successful flush.
func LogIndexFlushError(logger *slog.Logger, path string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("metadata index flush failed",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
