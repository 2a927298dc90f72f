package rewind

import (
	"context"
	"fmt"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/retention"
	"github.com/randalmurphal/rewind/pkg/rewind/store"
)

// RetentionPolicy returns the policy configured under retention.* in the
// workspace settings.
func (e *Engine) RetentionPolicy() retention.Policy {
	return retention.Policy{
		MaxAge:       e.settings.RetentionMaxAge,
		MaxCount:     e.settings.RetentionMaxCount,
		PreserveTags: append([]string(nil), e.settings.PreserveTags...),
	}
}

// PlanPrune reports what Prune would do under policy without deleting.
func (e *Engine) PlanPrune(ctx context.Context, policy retention.Policy) ([]retention.Decision, error) {
	var plan []retention.Decision
	err := e.run(ctx, "plan-prune", "", false, func(context.Context) error {
		plan = retention.Plan(e.index.GetAll(), policy, e.now())
		return nil
	})
	return plan, err
}

// Prune deletes every checkpoint policy selects: those older than MaxAge
// and those beyond the MaxCount newest, except checkpoints carrying a
// preserve tag. Each deletion is independent; failures are listed in the
// report and do not stop the others.
func (e *Engine) Prune(ctx context.Context, policy retention.Policy) (retention.Report, error) {
	var report retention.Report
	err := e.run(ctx, "prune", "", true, func(ctx context.Context) error {
		pruner := retention.NewPruner(e.index, e.delete,
			retention.WithLogger(e.logger),
			retention.WithMetrics(e.metrics),
			retention.WithClock(e.now),
		)
		var err error
		report, err = pruner.Prune(ctx, policy)
		return err
	})
	return report, err
}

// PruneByAge deletes checkpoints older than days, keeping those with a
// configured preserve tag.
func (e *Engine) PruneByAge(ctx context.Context, days int) (retention.Report, error) {
	if days <= 0 {
		return retention.Report{}, opError("prune", "", fmt.Errorf("%w: days must be positive, got %d", ErrInvalidArgument, days))
	}
	return e.Prune(ctx, retention.Policy{
		MaxAge:       time.Duration(days) * 24 * time.Hour,
		PreserveTags: e.settings.PreserveTags,
	})
}

// PruneByCount keeps the n newest checkpoints and deletes the rest, except
// those with a configured preserve tag.
func (e *Engine) PruneByCount(ctx context.Context, n int) (retention.Report, error) {
	if n <= 0 {
		return retention.Report{}, opError("prune", "", fmt.Errorf("%w: count must be positive, got %d", ErrInvalidArgument, n))
	}
	return e.Prune(ctx, retention.Policy{
		MaxCount:     n,
		PreserveTags: e.settings.PreserveTags,
	})
}

// Migrate copies matching checkpoints from this engine's store into to.
// With opts.Move the copies are removed here, store and index alike, once
// verified. to is not closed.
func (e *Engine) Migrate(ctx context.Context, to store.Backend, opts retention.MigrateOptions) (retention.MigrateReport, error) {
	var report retention.MigrateReport
	err := e.run(ctx, "migrate", "", true, func(ctx context.Context) error {
		if to == nil {
			return fmt.Errorf("%w: nil target backend", ErrInvalidArgument)
		}
		if opts.Logger == nil {
			opts.Logger = e.logger
		}
		var err error
		report, err = retention.Migrate(ctx, e.backend, to, opts)
		for _, id := range report.Removed {
			e.index.Remove(id)
		}
		return err
	})
	return report, err
}
