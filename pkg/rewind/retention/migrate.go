package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/store"
)

// ErrCopyMismatch indicates a copied checkpoint did not read back the same
// as its source.
var ErrCopyMismatch = errors.New("migrated checkpoint does not match source")

// MigrateOptions selects which checkpoints Migrate copies.
type MigrateOptions struct {
	// Trigger restricts the copy to one trigger. Empty copies every trigger.
	Trigger checkpoint.Trigger

	// After and Before bound Created inclusively. Zero means unbounded.
	After  time.Time
	Before time.Time

	// Move deletes each checkpoint from the source once its copy is verified.
	Move bool

	// Logger receives per-checkpoint progress. Nil uses slog.Default().
	Logger *slog.Logger
}

func (o MigrateOptions) match(meta checkpoint.Metadata) bool {
	if o.Trigger != "" && meta.Trigger != o.Trigger {
		return false
	}
	if !o.After.IsZero() && meta.Created.Before(o.After) {
		return false
	}
	if !o.Before.IsZero() && meta.Created.After(o.Before) {
		return false
	}
	return true
}

// MigrateReport describes a migration.
type MigrateReport struct {
	// Copied lists checkpoints written to the target.
	Copied []string

	// Removed lists checkpoints deleted from the source (Move only).
	Removed []string

	// Skipped lists matching checkpoints the target already held.
	Skipped []string

	Failed map[string]error
}

// Migrate copies matching checkpoints, with their manifests and every blob,
// from one backend to another. Ids already present in to are skipped. A
// failure on one checkpoint is recorded and the batch continues; the error
// is non-nil only when listing the source fails or ctx is cancelled.
func Migrate(ctx context.Context, from, to store.Backend, opts MigrateOptions) (MigrateReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("from", from.Name()), slog.String("to", to.Name()))

	report := MigrateReport{
		Copied:  []string{},
		Removed: []string{},
		Skipped: []string{},
		Failed:  make(map[string]error),
	}

	ids, err := from.IDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list source checkpoints: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		cp, err := from.Load(ctx, id)
		if err != nil {
			report.Failed[id] = err
			continue
		}
		if !opts.match(cp.Metadata) {
			continue
		}

		exists, err := store.Exists(ctx, to, id)
		if err != nil {
			report.Failed[id] = err
			continue
		}
		if exists {
			report.Skipped = append(report.Skipped, id)
			continue
		}

		if err := copyCheckpoint(ctx, from, to, cp); err != nil {
			report.Failed[id] = err
			logger.Warn("checkpoint migration failed",
				slog.String("checkpoint_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Copied = append(report.Copied, id)

		if opts.Move {
			if err := from.Delete(ctx, id); err != nil {
				report.Failed[id] = fmt.Errorf("remove source after copy: %w", err)
				continue
			}
			report.Removed = append(report.Removed, id)
		}
	}

	logger.Info("migration complete",
		slog.Int("copied", len(report.Copied)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func copyCheckpoint(ctx context.Context, from, to store.Backend, cp *checkpoint.Checkpoint) (err error) {
	meta := cp.Metadata
	w, err := to.Begin(ctx, &meta)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()

	for _, hash := range cp.Manifest.Hashes() {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := from.ReadBlob(ctx, cp.ID, hash)
		if err != nil {
			return fmt.Errorf("read blob %s: %w", hash, err)
		}
		if err := w.WriteBlob(hash, data); err != nil {
			return fmt.Errorf("write blob %s: %w", hash, err)
		}
	}
	if err := w.Commit(ctx, cp.Manifest); err != nil {
		return err
	}

	if err := verifyCopy(ctx, to, cp); err != nil {
		_ = to.Delete(ctx, cp.ID)
		return err
	}
	return nil
}

// verifyCopy reads the target back and compares it with the source.
func verifyCopy(ctx context.Context, to store.Backend, src *checkpoint.Checkpoint) error {
	got, err := to.Load(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCopyMismatch, err)
	}
	if got.Stats != src.Stats {
		return fmt.Errorf("%w: stats %+v, want %+v", ErrCopyMismatch, got.Stats, src.Stats)
	}
	want := src.Manifest.HashIndex()
	for path, hash := range got.Manifest.HashIndex() {
		if want[path] != hash {
			return fmt.Errorf("%w: %s", ErrCopyMismatch, path)
		}
	}
	return nil
}
