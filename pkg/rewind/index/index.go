// Package index keeps a fast, rebuildable catalog of checkpoint summaries.
//
// The index is loaded fully into memory and is authoritative while the
// process runs. Mutations are coalesced and written to a single JSON file
// atomically; a missing or corrupt file yields an empty index, which the
// engine can rebuild from the store.
//
// # File Format
//
//	{
//	  "version": "1.0.0",
//	  "lastUpdated": "2024-05-01T12:00:00Z",
//	  "checkpoints": [ { "id": "cp-...", "name": "...", "stats": {...}, ... } ]
//	}
//
// Legacy 0.x files are migrated on load.
//
// # Thread Safety
//
// All Index methods are safe for concurrent use.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/observability"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
)

// Version is the schema version written to the index file.
const Version = "1.0.0"

// FileName is the index file's base name inside the git common dir's info/.
const FileName = "checkpoints.json"

// MainWorktree labels checkpoints without a worktree id in statistics.
const MainWorktree = "main"

// ErrIndexClosed indicates the index has been closed.
var ErrIndexClosed = errors.New("checkpoint index closed")

// Filter selects checkpoints. Zero fields match everything.
type Filter struct {
	WorktreeID string
	Trigger    checkpoint.Trigger

	// Tags must all be present.
	Tags []string

	// After and Before bound Created inclusively.
	After  time.Time
	Before time.Time

	// Text matches name, description or any tag, case-insensitively.
	Text string

	// Limit caps the result after ordering. Zero means no limit.
	Limit int
}

// Statistics aggregates the indexed checkpoints.
type Statistics struct {
	Count      int                        `json:"count"`
	ByTrigger  map[checkpoint.Trigger]int `json:"byTrigger"`
	ByWorktree map[string]int             `json:"byWorktree"`
	TotalSize  int64                      `json:"totalSize"`
	TotalFiles int                        `json:"totalFiles"`
	Oldest     time.Time                  `json:"oldest"`
	Newest     time.Time                  `json:"newest"`
}

type document struct {
	Version     string            `json:"version"`
	LastUpdated time.Time         `json:"lastUpdated"`
	Checkpoints []json.RawMessage `json:"checkpoints"`
}

// Index is the in-memory catalog backed by one JSON file.
type Index struct {
	path    string
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]*checkpoint.Checkpoint
	closed  bool

	saveMu sync.Mutex
	flush  *flushQueue
}

type options struct {
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	scheduler Scheduler
	debounce  time.Duration
	now       func() time.Time
}

// Option configures an Index.
type Option func(*options)

// WithLogger sets the logger. Default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder for index writes.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithDebounce sets the coalescing window. Default DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		o.debounce = d
	}
}

// WithScheduler replaces the timer used to schedule coalesced writes.
func WithScheduler(s Scheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

// WithClock sets the time source for lastUpdated.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Open loads the index at path.
//
// A missing file yields an empty index. A file that cannot be decoded also
// yields an empty index, logged at Warn. Entries that fail to decode are
// skipped individually.
func Open(path string, opts ...Option) (*Index, error) {
	o := options{debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observability.NoopMetrics{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.debounce <= 0 {
		o.debounce = DefaultDebounce
	}

	ix := &Index{
		path:    path,
		logger:  o.logger.With(slog.String("index", path)),
		metrics: o.metrics,
		now:     o.now,
		entries: make(map[string]*checkpoint.Checkpoint),
	}
	ix.flush = newFlushQueue(o.scheduler, o.debounce, ix.persist, func(err error) {
		observability.LogIndexFlushError(ix.logger, ix.path, err)
	})

	if err := ix.load(); err != nil {
		return nil, err
	}
	return ix, nil
}

// Path returns the index file path.
func (ix *Index) Path() string {
	return ix.path
}

func (ix *Index) load() error {
	data, err := os.ReadFile(ix.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		ix.logger.Warn("index file unreadable, starting empty",
			slog.Any("error", err),
		)
		return nil
	}
	migrated, err := json.Marshal(migrateFile(raw))
	if err != nil {
		return fmt.Errorf("re-encode migrated index: %w", err)
	}
	var doc document
	if err := json.Unmarshal(migrated, &doc); err != nil {
		ix.logger.Warn("index file unreadable, starting empty",
			slog.String("error", err.Error()),
		)
		return nil
	}

	skipped := 0
	for _, rawEntry := range doc.Checkpoints {
		var cp checkpoint.Checkpoint
		if err := json.Unmarshal(rawEntry, &cp); err != nil || !checkpoint.ValidID(cp.ID) {
			skipped++
			continue
		}
		cp.Tags = checkpoint.NormalizeTags(cp.Tags)
		ix.entries[cp.ID] = &cp
	}
	if skipped > 0 {
		ix.logger.Warn("skipped undecodable index entries", slog.Int("count", skipped))
	}
	ix.logger.Debug("index loaded", slog.Int("entries", len(ix.entries)))
	return nil
}

// Upsert inserts or replaces the summary for cp.ID.
func (ix *Index) Upsert(cp *checkpoint.Checkpoint) error {
	if cp == nil || !checkpoint.ValidID(cp.ID) {
		return fmt.Errorf("%w: index entry without a valid id", checkpoint.ErrInvalidMetadata)
	}
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return ErrIndexClosed
	}
	ix.entries[cp.ID] = cp.Summary()
	ix.mu.Unlock()

	ix.flush.mark()
	return nil
}

// Remove drops id and reports whether it was present.
func (ix *Index) Remove(id string) bool {
	ix.mu.Lock()
	_, ok := ix.entries[id]
	if ok && ix.closed {
		ok = false
	}
	if ok {
		delete(ix.entries, id)
	}
	ix.mu.Unlock()

	if ok {
		ix.flush.mark()
	}
	return ok
}

// Replace swaps the whole catalog for summaries.
func (ix *Index) Replace(summaries []*checkpoint.Checkpoint) error {
	entries := make(map[string]*checkpoint.Checkpoint, len(summaries))
	for _, cp := range summaries {
		if cp == nil || !checkpoint.ValidID(cp.ID) {
			continue
		}
		entries[cp.ID] = cp.Summary()
	}

	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return ErrIndexClosed
	}
	ix.entries = entries
	ix.mu.Unlock()

	ix.flush.mark()
	return nil
}

// Get returns a copy of the summary for id.
func (ix *Index) Get(id string) (*checkpoint.Checkpoint, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	cp, ok := ix.entries[id]
	if !ok {
		return nil, false
	}
	return cp.Summary(), true
}

// Len returns the number of indexed checkpoints.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// GetAll returns every summary newest first. Equal timestamps are ordered
// by id descending.
func (ix *Index) GetAll() []*checkpoint.Checkpoint {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.sortedLocked()
}

func (ix *Index) sortedLocked() []*checkpoint.Checkpoint {
	out := make([]*checkpoint.Checkpoint, 0, len(ix.entries))
	for _, cp := range ix.entries {
		out = append(out, cp.Summary())
	}
	SortNewestFirst(out)
	return out
}

// SortNewestFirst orders summaries newest first, ties by id descending.
func SortNewestFirst(cps []*checkpoint.Checkpoint) {
	sort.Slice(cps, func(i, j int) bool {
		a, b := cps[i], cps[j]
		if !a.Created.Equal(b.Created) {
			return a.Created.After(b.Created)
		}
		return a.ID > b.ID
	})
}

// Query returns the summaries matching f, newest first.
func (ix *Index) Query(f Filter) []*checkpoint.Checkpoint {
	all := ix.GetAll()
	out := all[:0]
	for _, cp := range all {
		if f.Match(cp) {
			out = append(out, cp)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Match reports whether cp satisfies every set field of f.
func (f Filter) Match(cp *checkpoint.Checkpoint) bool {
	if f.WorktreeID != "" && worktreeLabel(cp.WorktreeID) != worktreeLabel(f.WorktreeID) {
		return false
	}
	if f.Trigger != "" && cp.Trigger != f.Trigger {
		return false
	}
	for _, tag := range f.Tags {
		if !cp.HasTag(tag) {
			return false
		}
	}
	if !f.After.IsZero() && cp.Created.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && cp.Created.After(f.Before) {
		return false
	}
	if f.Text != "" && !matchText(cp, strings.ToLower(f.Text)) {
		return false
	}
	return true
}

func matchText(cp *checkpoint.Checkpoint, needle string) bool {
	if strings.Contains(strings.ToLower(cp.Name), needle) ||
		strings.Contains(strings.ToLower(cp.Description), needle) {
		return true
	}
	for _, tag := range cp.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func worktreeLabel(id string) string {
	if id == "" {
		return MainWorktree
	}
	return id
}

// Statistics aggregates the current catalog.
func (ix *Index) Statistics() Statistics {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	stats := Statistics{
		ByTrigger:  make(map[checkpoint.Trigger]int),
		ByWorktree: make(map[string]int),
	}
	for _, cp := range ix.entries {
		stats.Count++
		stats.ByTrigger[cp.Trigger]++
		stats.ByWorktree[worktreeLabel(cp.WorktreeID)]++
		stats.TotalSize += cp.Stats.TotalSize
		stats.TotalFiles += cp.Stats.FileCount
		if stats.Oldest.IsZero() || cp.Created.Before(stats.Oldest) {
			stats.Oldest = cp.Created
		}
		if cp.Created.After(stats.Newest) {
			stats.Newest = cp.Created
		}
	}
	return stats
}

// CleanupOrphaned drops entries whose id is not in existing and returns how
// many were removed.
func (ix *Index) CleanupOrphaned(existing []string) int {
	keep := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		keep[id] = struct{}{}
	}

	ix.mu.Lock()
	removed := 0
	if !ix.closed {
		for id := range ix.entries {
			if _, ok := keep[id]; !ok {
				delete(ix.entries, id)
				removed++
			}
		}
	}
	ix.mu.Unlock()

	if removed > 0 {
		ix.flush.mark()
	}
	return removed
}

// Pending reports whether a mutation has not been written yet.
func (ix *Index) Pending() bool {
	return ix.flush.isPending()
}

// FlushNow writes pending mutations synchronously and cancels the
// scheduled write.
func (ix *Index) FlushNow() error {
	return ix.flush.flushNow()
}

// ForceSave writes the index whether or not anything is pending.
func (ix *Index) ForceSave() error {
	ix.flush.discard()
	if err := ix.persist(); err != nil {
		ix.flush.rearm()
		return err
	}
	return nil
}

// Close writes the index and stops scheduled writes. Later mutations fail
// with ErrIndexClosed. Close is idempotent.
func (ix *Index) Close() error {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return nil
	}
	ix.mu.Unlock()

	ix.flush.stop()
	err := ix.persist()

	ix.mu.Lock()
	ix.closed = true
	ix.mu.Unlock()
	return err
}

// persist writes the current catalog atomically.
func (ix *Index) persist() error {
	ix.saveMu.Lock()
	defer ix.saveMu.Unlock()

	ix.mu.RLock()
	all := ix.sortedLocked()
	ix.mu.RUnlock()

	doc := document{
		Version:     Version,
		LastUpdated: ix.now().UTC(),
		Checkpoints: make([]json.RawMessage, 0, len(all)),
	}
	for _, cp := range all {
		entry, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("encode index entry %s: %w", cp.ID, err)
		}
		doc.Checkpoints = append(doc.Checkpoints, entry)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err == nil {
		err = snapshot.WriteFileAtomic(ix.path, append(data, '\n'), 0o644)
	}
	ix.metrics.RecordIndexFlush(context.Background(), len(all), err)
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	ix.logger.Debug("index written", slog.Int("entries", len(all)))
	return nil
}
