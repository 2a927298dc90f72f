// Package snapshot walks a workspace, stores each eligible file's content as
// a content-addressed blob and builds the manifest describing the capture.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/ignore"
	"github.com/randalmurphal/rewind/pkg/rewind/observability"
)

// Snapshotter captures a workspace into a BlobSink.
// It is stateless between calls and safe for concurrent use.
type Snapshotter struct {
	filter  *ignore.Filter
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// Option configures a Snapshotter.
type Option func(*Snapshotter)

// WithLogger sets the logger used for skipped-file warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Snapshotter) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Snapshotter) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a Snapshotter. A nil filter admits every regular file.
func New(filter *ignore.Filter, opts ...Option) *Snapshotter {
	s := &Snapshotter{
		filter:  filter,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Filter returns the ignore filter the snapshotter walks with.
func (s *Snapshotter) Filter() *ignore.Filter {
	return s.filter
}

// Snapshot captures every eligible file under root into sink.
//
// For each file the full content is read and hashed; the blob is written
// unless the sink already holds that hash. Per-file failures (unreadable,
// vanished, oversized, write errors) are logged, returned as ScanErrors and
// leave the file out of the manifest. The manifest's stats cover only the
// recorded entries.
//
// The returned error is non-nil only when root is unusable or ctx is
// cancelled; in that case the manifest is nil.
func (s *Snapshotter) Snapshot(ctx context.Context, root string, sink BlobSink) (*checkpoint.Manifest, []ScanError, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}

	manifest := checkpoint.NewManifest()
	var skipped []ScanError

	skip := func(e ScanError) {
		skipped = append(skipped, e)
		if errors.Is(e.Err, ErrFileTooLarge) && s.filter != nil {
			observability.LogOversizedFile(s.logger, e.Path, e.Size, s.filter.MaxFileSize())
		} else {
			observability.LogSkippedFile(s.logger, e.Path, e.Err)
		}
		s.metrics.RecordSkippedFile(ctx, reason(e.Err))
	}

	err = Walk(ctx, absRoot, s.filter, func(rel, abs string, info fs.FileInfo) error {
		entry, err := s.capture(abs, info, sink)
		if err != nil {
			skip(ScanError{Path: rel, Err: err, Size: info.Size()})
			return nil
		}
		entry.Path = rel
		manifest.Add(entry)
		return nil
	}, skip)
	if err != nil {
		return nil, skipped, err
	}

	return manifest, skipped, nil
}

// capture reads, hashes and stores one file.
func (s *Snapshotter) capture(abs string, info fs.FileInfo, sink BlobSink) (checkpoint.FileSnapshot, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return checkpoint.FileSnapshot{}, err
	}
	// The file may have grown between stat and read.
	if s.filter != nil && s.filter.Oversized(int64(len(data))) {
		return checkpoint.FileSnapshot{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, len(data), s.filter.MaxFileSize())
	}

	hash := HashBytes(data)
	exists, err := sink.HasBlob(hash)
	if err != nil {
		return checkpoint.FileSnapshot{}, fmt.Errorf("check blob: %w", err)
	}
	if !exists {
		if err := sink.WriteBlob(hash, data); err != nil {
			return checkpoint.FileSnapshot{}, fmt.Errorf("write blob: %w", err)
		}
	}

	return checkpoint.FileSnapshot{
		Hash:    hash,
		Size:    int64(len(data)),
		ModTime: info.ModTime().UTC(),
		Mode:    info.Mode().Perm(),
	}, nil
}
