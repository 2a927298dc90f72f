package rewind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/randalmurphal/rewind/pkg/rewind/config"
	"github.com/randalmurphal/rewind/pkg/rewind/ignore"
	"github.com/randalmurphal/rewind/pkg/rewind/index"
	"github.com/randalmurphal/rewind/pkg/rewind/observability"
	"github.com/randalmurphal/rewind/pkg/rewind/restore"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
	"github.com/randalmurphal/rewind/pkg/rewind/store"
	"github.com/randalmurphal/rewind/pkg/rewind/vcs"
)

// Engine manages the checkpoints of one workspace.
//
// Every store-mutating operation (create, delete, restore, edits, import,
// prune, migrate, cleanup, rebuild) holds a single-writer lock for its
// duration; reads run concurrently. Every operation returns an *OpError on
// failure and recovers panics into KindInternal.
type Engine struct {
	workspace string
	settings  config.Settings

	filter      *ignore.Filter
	snapshotter *snapshot.Snapshotter
	restorer    *restore.Restorer
	backend     store.Backend
	index       *index.Index
	git         vcs.Client

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	now     func() time.Time

	lock *semaphore.Weighted

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open readies the workspace at path: it loads settings, initializes the
// store (directory, README, history), adds the store and worktrees
// directories to the workspace .gitignore and loads the metadata index.
//
// Without WithIndexPath the workspace must be inside a git repository;
// otherwise Open fails with KindNotRepository. An index that is empty while
// the store holds checkpoints is rebuilt from the store.
func Open(ctx context.Context, workspace string, opts ...Option) (eng *Engine, err error) {
	const op = "open"
	defer func() {
		if r := recover(); r != nil {
			eng = nil
			err = &OpError{Op: op, Kind: KindInternal, Err: &PanicError{Value: r, Stack: string(debug.Stack())}}
		}
	}()

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, opError(op, "", fmt.Errorf("%w: workspace: %v", ErrInvalidArgument, err))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, opError(op, "", fmt.Errorf("%w: workspace: %v", ErrInvalidArgument, err))
	}
	if !info.IsDir() {
		return nil, opError(op, "", fmt.Errorf("%w: workspace %s is not a directory", ErrInvalidArgument, abs))
	}

	var settings config.Settings
	if cfg.settings != nil {
		settings = *cfg.settings
	} else if settings, err = config.Load(abs); err != nil {
		return nil, opError(op, "", fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}
	if settings.StoreDir == "" {
		settings.StoreDir = config.DefaultStoreDir
	}
	if settings.WorktreesDir == "" {
		settings.WorktreesDir = config.DefaultWorktreesDir
	}

	logger := observability.EnrichLogger(cfg.logger, abs)
	git := cfg.git
	if git == nil {
		git = vcs.New(abs, vcs.WithTimeout(settings.GitTimeout))
	}

	isRepo := git.IsRepository(ctx)
	indexPath, err := resolveIndexPath(ctx, abs, cfg.indexPath, settings.IndexPath, git, isRepo)
	if err != nil {
		return nil, opError(op, "", err)
	}

	filter, err := ignore.New(abs,
		ignore.WithIncludeDependencies(settings.IncludeDependencies),
		ignore.WithPatterns(settings.ExtraIgnores...),
		ignore.WithMaxFileSize(settings.MaxFileSize),
		ignore.WithStoreDir(settings.StoreDir),
		ignore.WithWorktreesDir(settings.WorktreesDir),
	)
	if errors.Is(err, ignore.ErrInvalidOption) {
		err = fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err != nil {
		return nil, opError(op, "", err)
	}

	backend := cfg.backend
	if backend == nil {
		backend, err = openBackend(ctx, abs, settings, cfg, logger)
		if err != nil {
			return nil, opError(op, "", err)
		}
	}

	if isRepo {
		added, err := vcs.EnsureIgnoreEntries(ctx, git, abs, settings.StoreDir, settings.WorktreesDir)
		if err != nil {
			logger.Warn("could not update .gitignore", slog.String("error", err.Error()))
		} else if len(added) > 0 {
			logger.Info("added checkpoint directories to .gitignore", slog.Any("entries", added))
		}
	}

	ixOpts := []index.Option{
		index.WithLogger(logger),
		index.WithMetrics(cfg.metrics),
		index.WithDebounce(settings.IndexDebounce),
		index.WithClock(cfg.now),
	}
	if cfg.scheduler != nil {
		ixOpts = append(ixOpts, index.WithScheduler(cfg.scheduler))
	}
	ix, err := index.Open(indexPath, ixOpts...)
	if err != nil {
		backend.Close()
		return nil, opError(op, "", err)
	}

	e := &Engine{
		workspace: abs,
		settings:  settings,
		filter:    filter,
		snapshotter: snapshot.New(filter,
			snapshot.WithLogger(logger),
			snapshot.WithMetrics(cfg.metrics),
		),
		restorer: restore.New(
			restore.WithLogger(logger),
			restore.WithMetrics(cfg.metrics),
		),
		backend: backend,
		index:   ix,
		git:     git,
		logger:  logger,
		metrics: cfg.metrics,
		spans:   cfg.spans,
		now:     cfg.now,
		lock:    semaphore.NewWeighted(1),
	}

	if ix.Len() == 0 {
		ids, err := backend.IDs(ctx)
		if err == nil && len(ids) > 0 {
			logger.Info("index empty, rebuilding from store", slog.Int("checkpoints", len(ids)))
			if _, err := e.rebuildIndex(ctx); err != nil {
				logger.Warn("index rebuild failed", slog.String("error", err.Error()))
			}
		}
	}

	logger.Debug("engine opened",
		slog.String("backend", backend.Name()),
		slog.String("index", indexPath),
	)
	return e, nil
}

// resolveIndexPath picks the index location: an explicit option, then the
// configured path, then <git-common-dir>/info/checkpoints.json.
func resolveIndexPath(ctx context.Context, workspace, override, configured string, git vcs.Client, isRepo bool) (string, error) {
	for _, p := range []string{override, configured} {
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(workspace, p)
		}
		return p, nil
	}
	if !isRepo {
		return "", fmt.Errorf("%w: %s (set an index path to use it anyway)", ErrNotRepository, workspace)
	}
	common, err := git.CommonDir(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(common, "info", index.FileName), nil
}

// openBackend builds the configured backend. fs lives at the store dir;
// sqlite and badger default to files inside it.
func openBackend(ctx context.Context, workspace string, s config.Settings, cfg engineConfig, logger *slog.Logger) (store.Backend, error) {
	storeDir := s.StoreDir
	if !filepath.IsAbs(storeDir) {
		storeDir = filepath.Join(workspace, storeDir)
	}

	switch s.Backend {
	case store.KindFS, "":
		var fsOpts []store.FSOption
		switch {
		case cfg.history != nil:
			fsOpts = append(fsOpts, store.WithHistory(cfg.history))
		case !cfg.noHistory && vcs.Available():
			fsOpts = append(fsOpts, store.WithHistory(vcs.New(storeDir, vcs.WithTimeout(s.GitTimeout))))
		}
		return store.Open(ctx, store.KindFS, storeDir, logger, fsOpts...)
	case store.KindMemory:
		return store.Open(ctx, store.KindMemory, "", logger)
	}

	path := s.BackendPath
	switch {
	case path == "" && s.Backend == store.KindBadger:
		path = filepath.Join(storeDir, "badger")
	case path == "":
		path = filepath.Join(storeDir, "checkpoints.db")
	case !filepath.IsAbs(path):
		path = filepath.Join(storeDir, path)
	}
	return store.Open(ctx, s.Backend, path, logger)
}

// Workspace returns the absolute workspace root.
func (e *Engine) Workspace() string {
	return e.workspace
}

// Settings returns the settings the engine was opened with.
func (e *Engine) Settings() config.Settings {
	return e.settings
}

// Backend returns the checkpoint store.
func (e *Engine) Backend() store.Backend {
	return e.backend
}

// IndexPath returns the metadata index file location.
func (e *Engine) IndexPath() string {
	return e.index.Path()
}

// Close flushes the index and closes the store. In-flight writes finish
// first. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		_ = e.lock.Acquire(context.Background(), 1)
		defer e.lock.Release(1)
		e.closed.Store(true)

		var errs []error
		if err := e.index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
		if err := e.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		e.closeErr = opError("close", "", errors.Join(errs...))
		e.logger.Debug("engine closed")
	})
	return e.closeErr
}

func (e *Engine) isClosed() bool {
	return e.closed.Load()
}

// run executes fn as operation op inside a span, under the writer lock
// when write is set. Errors come back as *OpError; panics are recovered.
func (e *Engine) run(ctx context.Context, op, id string, write bool, fn func(ctx context.Context) error) (err error) {
	ctx, span := e.spans.StartOperationSpan(ctx, op, id)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("operation panicked",
				slog.String("op", op),
				slog.Any("panic", r),
			)
			err = &OpError{Op: op, ID: id, Kind: KindInternal, Err: &PanicError{Value: r, Stack: string(debug.Stack())}}
		}
		e.spans.EndSpanWithError(span, err)
	}()

	if e.isClosed() {
		return opError(op, id, ErrEngineClosed)
	}
	if write {
		if err := e.lock.Acquire(ctx, 1); err != nil {
			return opError(op, id, err)
		}
		defer e.lock.Release(1)
		// Close may have won the lock while we waited.
		if e.isClosed() {
			return opError(op, id, ErrEngineClosed)
		}
	}
	return opError(op, id, fn(ctx))
}
