// Package restore writes checkpoint contents back into a workspace.
//
// Restores are additive: files recorded in the checkpoint are written over
// whatever is on disk, and files the checkpoint does not know about are left
// alone. Each file is written through a temp file and renamed into place,
// then its recorded permissions and modification time are applied.
//
// A failure on one file is logged and reported; the remaining files are
// still restored and nothing is rolled back.
package restore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/observability"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
)

// ErrPathEscapes indicates a manifest path would resolve outside the root.
var ErrPathEscapes = errors.New("path escapes workspace root")

// ErrNoManifest indicates the checkpoint was loaded without its manifest.
var ErrNoManifest = errors.New("checkpoint has no manifest")

// defaultMode applies when a manifest entry carries no permissions.
const defaultMode os.FileMode = 0o644

// BlobReader reads checkpoint blobs. store.Backend satisfies it.
type BlobReader interface {
	ReadBlob(ctx context.Context, id, hash string) ([]byte, error)
}

// Options narrows a restore.
type Options struct {
	// Selective restricts the restore to these slash-separated paths. A
	// path matches itself and, as a directory, everything below it.
	// Empty restores every file.
	Selective []string
}

// Report describes a finished restore.
type Report struct {
	CheckpointID string
	Restored     []string
	Failed       map[string]error

	// Unmatched lists Selective entries that matched no manifest path.
	Unmatched []string

	Duration time.Duration
}

// FailedPaths returns the failed paths in sorted order.
func (r Report) FailedPaths() []string {
	out := make([]string, 0, len(r.Failed))
	for p := range r.Failed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Restorer writes checkpoints to disk.
type Restorer struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// Option configures a Restorer.
type Option func(*Restorer)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Restorer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(r *Restorer) {
		if m != nil {
			r.metrics = m
		}
	}
}

// New creates a Restorer.
func New(opts ...Option) *Restorer {
	r := &Restorer{logger: slog.Default(), metrics: observability.NoopMetrics{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore writes the files of cp under root, reading content from blobs.
//
// The returned error is non-nil only when the restore could not run at all
// (missing manifest, unusable root) or ctx was cancelled; per-file problems
// are in Report.Failed.
func (r *Restorer) Restore(ctx context.Context, cp *checkpoint.Checkpoint, blobs BlobReader, root string, opts Options) (Report, error) {
	if cp == nil || cp.Manifest == nil {
		return Report{}, ErrNoManifest
	}
	info, err := os.Stat(root)
	if err != nil {
		return Report{}, fmt.Errorf("restore root: %w", err)
	}
	if !info.IsDir() {
		return Report{}, fmt.Errorf("restore root %s is not a directory", root)
	}

	elapsed := observability.TimedOperation()
	logger := r.logger.With(slog.String("checkpoint_id", cp.ID))
	report := Report{
		CheckpointID: cp.ID,
		Restored:     []string{},
		Failed:       make(map[string]error),
	}

	entries, unmatched := selectEntries(cp.Manifest, opts.Selective)
	report.Unmatched = unmatched

	for _, f := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.restoreFile(ctx, cp.ID, f, blobs, root); err != nil {
			report.Failed[f.Path] = err
			observability.LogRestoreFailure(logger, cp.ID, f.Path, err)
			continue
		}
		report.Restored = append(report.Restored, f.Path)
		logger.Debug("file restored", slog.String("path", f.Path))
	}

	ms := elapsed()
	report.Duration = time.Duration(ms * float64(time.Millisecond))
	observability.LogRestoreComplete(logger, cp.ID, len(report.Restored), len(report.Failed), ms)
	r.metrics.RecordRestore(ctx, len(report.Restored), len(report.Failed), report.Duration)
	return report, nil
}

func (r *Restorer) restoreFile(ctx context.Context, id string, f checkpoint.FileSnapshot, blobs BlobReader, root string) error {
	target, err := resolve(root, f.Path)
	if err != nil {
		return err
	}
	data, err := blobs.ReadBlob(ctx, id, f.Hash)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	if got := snapshot.HashBytes(data); got != f.Hash {
		return fmt.Errorf("blob %s has hash %s", f.Hash, got)
	}

	mode := f.Mode.Perm()
	if mode == 0 {
		mode = defaultMode
	}
	if err := snapshot.WriteFileAtomic(target, data, mode); err != nil {
		return err
	}
	if !f.ModTime.IsZero() {
		if err := os.Chtimes(target, f.ModTime, f.ModTime); err != nil {
			return fmt.Errorf("set modification time: %w", err)
		}
	}
	return nil
}

// resolve maps a manifest path to a location under root, refusing any path
// that would leave it.
func resolve(root, rel string) (string, error) {
	native := filepath.FromSlash(rel)
	if rel == "" || !filepath.IsLocal(native) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapes, rel)
	}
	return filepath.Join(root, native), nil
}

// selectEntries returns the manifest entries matching selective, sorted by
// path, plus the selective entries that matched nothing.
func selectEntries(m *checkpoint.Manifest, selective []string) ([]checkpoint.FileSnapshot, []string) {
	files := append([]checkpoint.FileSnapshot(nil), m.Files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	if len(selective) == 0 {
		return files, nil
	}

	wanted := make([]string, 0, len(selective))
	for _, s := range selective {
		s = strings.TrimSpace(filepath.ToSlash(s))
		if s == "" {
			continue
		}
		wanted = append(wanted, strings.TrimPrefix(path.Clean(s), "./"))
	}

	hit := make(map[string]bool, len(wanted))
	var out []checkpoint.FileSnapshot
	for _, f := range files {
		matched := false
		for _, w := range wanted {
			if f.Path == w || w == "." || strings.HasPrefix(f.Path, w+"/") {
				hit[w] = true
				matched = true
			}
		}
		if matched {
			out = append(out, f)
		}
	}

	var unmatched []string
	for _, w := range wanted {
		if !hit[w] {
			unmatched = append(unmatched, w)
		}
	}
	return out, unmatched
}
