package rewind

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/rewind/pkg/rewind/store"
)

// OrphanReport describes a CleanupOrphans run.
type OrphanReport struct {
	// Store lists partially written checkpoints removed from the store.
	Store []string

	// Index counts index entries dropped because the store lacks them.
	Index int
}

// CleanupOrphans repairs divergence between the store and the index: it
// removes checkpoints whose creation never completed and drops index
// entries for checkpoints the store no longer holds. Running it twice in a
// row removes nothing the second time.
func (e *Engine) CleanupOrphans(ctx context.Context) (OrphanReport, error) {
	report := OrphanReport{Store: []string{}}
	err := e.run(ctx, "cleanup-orphans", "", true, func(ctx context.Context) error {
		if cleaner, ok := e.backend.(store.OrphanCleaner); ok {
			removed, err := cleaner.CleanupOrphans(ctx)
			if err != nil {
				return err
			}
			report.Store = removed
		}

		ids, err := e.backend.IDs(ctx)
		if err != nil {
			return err
		}
		report.Index = e.index.CleanupOrphaned(ids)

		e.logger.Info("orphan cleanup complete",
			slog.Int("store", len(report.Store)),
			slog.Int("index", report.Index),
		)
		return nil
	})
	return report, err
}

// RebuildIndex replaces the index with summaries read from the store and
// returns how many it holds. Checkpoints that fail to load are skipped and
// logged.
func (e *Engine) RebuildIndex(ctx context.Context) (int, error) {
	var n int
	err := e.run(ctx, "rebuild-index", "", true, func(ctx context.Context) error {
		var err error
		n, err = e.rebuildIndex(ctx)
		return err
	})
	return n, err
}

func (e *Engine) rebuildIndex(ctx context.Context) (int, error) {
	cps, errs := store.LoadAll(ctx, e.backend)
	for _, err := range errs {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		e.logger.Warn("checkpoint skipped during index rebuild", slog.String("error", err.Error()))
	}
	if err := e.index.Replace(cps); err != nil {
		return 0, err
	}
	if err := e.index.FlushNow(); err != nil {
		e.logger.Warn("index flush after rebuild failed", slog.String("error", err.Error()))
	}
	e.logger.Info("index rebuilt", slog.Int("checkpoints", len(cps)))
	return len(cps), nil
}
