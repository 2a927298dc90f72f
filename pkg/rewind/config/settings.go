package config

import "time"

// Defaults for Settings.
const (
	DefaultStoreDir     = ".rewind"
	DefaultWorktreesDir = ".rewind-worktrees"
	DefaultBackend      = "fs"
	DefaultMaxFileSize  = 10 * 1024 * 1024
	DefaultDebounce     = 500 * time.Millisecond
	DefaultQuietPeriod  = 30 * time.Second
	DefaultMinInterval  = 5 * time.Minute
	DefaultGitTimeout   = 30 * time.Second
)

// Settings is the typed view of a workspace configuration.
type Settings struct {
	StoreDir     string
	WorktreesDir string
	Backend      string
	// BackendPath locates non-fs backends (sqlite file, badger dir).
	// Relative paths resolve against the store directory.
	BackendPath string

	MaxFileSize         int64
	IncludeDependencies bool
	ExtraIgnores        []string

	IndexPath     string
	IndexDebounce time.Duration

	RetentionMaxAge   time.Duration
	RetentionMaxCount int
	PreserveTags      []string

	WatchEnabled     bool
	WatchQuietPeriod time.Duration
	WatchMinInterval time.Duration

	GitTimeout time.Duration
}

// Defaults returns Settings with every default applied.
func Defaults() Settings {
	return FromConfig(New(nil))
}

// FromConfig extracts Settings from cfg, falling back to defaults per key.
//
// Recognized keys:
//
//	store.dir, store.worktrees_dir, store.backend, store.path
//	snapshot.max_file_size, snapshot.include_dependencies, snapshot.extra_ignores
//	index.path, index.debounce
//	retention.max_age, retention.max_count, retention.preserve_tags
//	watch.enabled, watch.quiet_period, watch.min_interval
//	git.timeout
func FromConfig(cfg Config) Settings {
	return Settings{
		StoreDir:     cfg.String("store.dir", DefaultStoreDir),
		WorktreesDir: cfg.String("store.worktrees_dir", DefaultWorktreesDir),
		Backend:      cfg.String("store.backend", DefaultBackend),
		BackendPath:  cfg.String("store.path", ""),

		MaxFileSize:         cfg.Int64("snapshot.max_file_size", DefaultMaxFileSize),
		IncludeDependencies: cfg.Bool("snapshot.include_dependencies", false),
		ExtraIgnores:        cfg.StringSlice("snapshot.extra_ignores", nil),

		IndexPath:     cfg.String("index.path", ""),
		IndexDebounce: cfg.Duration("index.debounce", DefaultDebounce),

		RetentionMaxAge:   cfg.Duration("retention.max_age", 0),
		RetentionMaxCount: cfg.Int("retention.max_count", 0),
		PreserveTags:      cfg.StringSlice("retention.preserve_tags", nil),

		WatchEnabled:     cfg.Bool("watch.enabled", false),
		WatchQuietPeriod: cfg.Duration("watch.quiet_period", DefaultQuietPeriod),
		WatchMinInterval: cfg.Duration("watch.min_interval", DefaultMinInterval),

		GitTimeout: cfg.Duration("git.timeout", DefaultGitTimeout),
	}
}
