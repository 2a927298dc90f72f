package rewind

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/config"
	"github.com/randalmurphal/rewind/pkg/rewind/index"
	"github.com/randalmurphal/rewind/pkg/rewind/observability"
	"github.com/randalmurphal/rewind/pkg/rewind/store"
	"github.com/randalmurphal/rewind/pkg/rewind/vcs"
)

// engineConfig holds everything Open needs besides the workspace.
type engineConfig struct {
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	settings  *config.Settings
	indexPath string
	git       vcs.Client
	history   vcs.Client
	noHistory bool
	backend   store.Backend
	scheduler index.Scheduler
	now       func() time.Time
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		now:     time.Now,
	}
}

// Option configures an Engine.
type Option func(*engineConfig)

// WithLogger sets the logger. The engine enriches it with the workspace path.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default: observability.NoopMetrics.
//
// Example:
//
//	eng, err := rewind.Open(ctx, dir, rewind.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *engineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing sets the span manager. Default: observability.NoopSpanManager.
func WithTracing(spans observability.SpanManager) Option {
	return func(c *engineConfig) {
		if spans != nil {
			c.spans = spans
		}
	}
}

// WithSettings uses s instead of reading <workspace>/.rewind.yaml.
func WithSettings(s config.Settings) Option {
	return func(c *engineConfig) {
		c.settings = &s
	}
}

// WithIndexPath places the metadata index at path instead of
// <git-common-dir>/info/checkpoints.json. A workspace outside any git
// repository can only be opened with this option.
func WithIndexPath(path string) Option {
	return func(c *engineConfig) {
		c.indexPath = path
	}
}

// WithGit sets the client used for the workspace repository: the common
// directory lookup and the .gitignore entries.
func WithGit(client vcs.Client) Option {
	return func(c *engineConfig) {
		c.git = client
	}
}

// WithStoreHistory sets the client that commits the fs store's own
// history. Its Dir must be the store directory. A nil client turns the
// history off.
func WithStoreHistory(client vcs.Client) Option {
	return func(c *engineConfig) {
		c.history = client
		c.noHistory = client == nil
	}
}

// WithBackend uses b instead of building one from settings. The engine
// takes ownership and closes b on Close.
func WithBackend(b store.Backend) Option {
	return func(c *engineConfig) {
		c.backend = b
	}
}

// WithIndexScheduler sets the scheduler driving debounced index flushes.
func WithIndexScheduler(s index.Scheduler) Option {
	return func(c *engineConfig) {
		c.scheduler = s
	}
}

// WithClock sets the time source for checkpoint ids and retention.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) {
		if now != nil {
			c.now = now
		}
	}
}
