// Package retention decides which checkpoints to prune and moves
// checkpoints between store backends.
//
// A Policy combines an age limit, a count limit and a set of preserve tags.
// A checkpoint is pruned when it is older than MaxAge or falls outside the
// MaxCount newest, unless it carries a preserve tag. Preserved checkpoints
// still occupy their place in the count ordering.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/index"
	"github.com/randalmurphal/rewind/pkg/rewind/observability"
)

// Reasons reported by Plan.
const (
	ReasonAge       = "older than max age"
	ReasonCount     = "beyond max count"
	ReasonPreserved = "has preserve tag"
	ReasonRetained  = "within policy"
)

// Policy bounds how many checkpoints are kept and for how long.
// Zero MaxAge and MaxCount disable the respective limit.
type Policy struct {
	MaxAge       time.Duration
	MaxCount     int
	PreserveTags []string
}

// Empty reports whether the policy prunes nothing.
func (p Policy) Empty() bool {
	return p.MaxAge <= 0 && p.MaxCount <= 0
}

// Preserves reports whether cp carries one of the preserve tags.
func (p Policy) Preserves(cp *checkpoint.Checkpoint) bool {
	for _, tag := range p.PreserveTags {
		if cp.HasTag(tag) {
			return true
		}
	}
	return false
}

// Decision is the outcome of a policy for one checkpoint.
type Decision struct {
	ID      string
	Name    string
	Created time.Time
	Prune   bool
	Reason  string
}

// Plan evaluates policy against summaries at now. Decisions are returned
// newest first.
func Plan(summaries []*checkpoint.Checkpoint, policy Policy, now time.Time) []Decision {
	ordered := append([]*checkpoint.Checkpoint(nil), summaries...)
	index.SortNewestFirst(ordered)

	cutoff := time.Time{}
	if policy.MaxAge > 0 {
		cutoff = now.Add(-policy.MaxAge)
	}

	out := make([]Decision, 0, len(ordered))
	for i, cp := range ordered {
		d := Decision{ID: cp.ID, Name: cp.Name, Created: cp.Created, Reason: ReasonRetained}
		switch {
		case policy.Preserves(cp):
			d.Reason = ReasonPreserved
		case !cutoff.IsZero() && cp.Created.Before(cutoff):
			d.Prune, d.Reason = true, ReasonAge
		case policy.MaxCount > 0 && i >= policy.MaxCount:
			d.Prune, d.Reason = true, ReasonCount
		}
		out = append(out, d)
	}
	return out
}

// Candidates returns the ids policy would prune, newest first: the union of
// age and count candidates, minus preserved checkpoints.
func Candidates(summaries []*checkpoint.Checkpoint, policy Policy, now time.Time) []string {
	var ids []string
	for _, d := range Plan(summaries, policy, now) {
		if d.Prune {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// Catalog lists checkpoint summaries. *index.Index satisfies it.
type Catalog interface {
	GetAll() []*checkpoint.Checkpoint
}

// DeleteFunc removes one checkpoint.
type DeleteFunc func(ctx context.Context, id string) error

// Report describes a prune run.
type Report struct {
	Deleted []string
	Failed  map[string]error
}

// Pruner applies a Policy to a catalog.
type Pruner struct {
	catalog Catalog
	remove  DeleteFunc
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	now     func() time.Time
}

// PrunerOption configures a Pruner.
type PrunerOption func(*Pruner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) PrunerOption {
	return func(p *Pruner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) PrunerOption {
	return func(p *Pruner) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithClock sets the time source used for age cutoffs.
func WithClock(now func() time.Time) PrunerOption {
	return func(p *Pruner) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPruner creates a Pruner that lists from catalog and deletes through remove.
func NewPruner(catalog Catalog, remove DeleteFunc, opts ...PrunerOption) *Pruner {
	p := &Pruner{
		catalog: catalog,
		remove:  remove,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prune deletes every candidate of policy. Each deletion is independent: a
// failure is recorded and the rest still run. The error is non-nil only when
// ctx is cancelled.
func (p *Pruner) Prune(ctx context.Context, policy Policy) (Report, error) {
	report := Report{Deleted: []string{}, Failed: make(map[string]error)}
	if policy.Empty() {
		return report, nil
	}

	for _, id := range Candidates(p.catalog.GetAll(), policy, p.now()) {
		if err := ctx.Err(); err != nil {
			p.metrics.RecordPrune(ctx, len(report.Deleted), len(report.Failed))
			return report, err
		}
		if err := p.remove(ctx, id); err != nil {
			report.Failed[id] = err
			p.logger.Warn("prune failed",
				slog.String("checkpoint_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Deleted = append(report.Deleted, id)
	}

	p.logger.Info("prune complete",
		slog.Int("deleted", len(report.Deleted)),
		slog.Int("failed", len(report.Failed)),
	)
	p.metrics.RecordPrune(ctx, len(report.Deleted), len(report.Failed))
	return report, nil
}

// FailedIDs returns the ids that failed to delete, sorted.
func (r Report) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Err joins every per-checkpoint failure, or returns nil.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, id := range r.FailedIDs() {
		errs = append(errs, fmt.Errorf("%s: %w", id, r.Failed[id]))
	}
	return errors.Join(errs...)
}
