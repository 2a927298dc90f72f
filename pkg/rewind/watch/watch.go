// Package watch takes automatic checkpoints while a workspace is being
// edited.
//
// A Watcher follows every non-ignored directory of the workspace with
// fsnotify. Changes are collected until the tree has been quiet for the
// quiet period, then one checkpoint with trigger automatic is requested.
// Automatic checkpoints are spaced at least the minimum interval apart;
// changes that arrive sooner are held until the interval has passed.
//
// The watcher only requests checkpoints. It never restores or syncs.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/ignore"
)

// Defaults for Options.
const (
	DefaultQuietPeriod = 30 * time.Second
	DefaultMinInterval = 5 * time.Minute
)

// ErrWatcherClosed indicates Run was called on a closed Watcher.
var ErrWatcherClosed = errors.New("watcher closed")

// Request asks for one automatic checkpoint.
type Request struct {
	Name    string
	Trigger checkpoint.Trigger

	// Changed lists the workspace-relative paths seen since the previous
	// checkpoint, sorted.
	Changed []string
}

// Checkpointer creates checkpoints on behalf of the watcher.
type Checkpointer interface {
	Create(ctx context.Context, req Request) error
}

// CheckpointerFunc adapts a function to Checkpointer.
type CheckpointerFunc func(ctx context.Context, req Request) error

// Create implements Checkpointer.
func (f CheckpointerFunc) Create(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Options configures a Watcher.
type Options struct {
	// QuietPeriod is how long the tree must be unchanged before a
	// checkpoint is taken. Default: 30s.
	QuietPeriod time.Duration

	// MinInterval is the minimum spacing between automatic checkpoints.
	// Default: 5m.
	MinInterval time.Duration

	// Filter excludes paths from watching. Nil watches everything.
	Filter *ignore.Filter

	// Logger receives watcher events. Nil uses slog.Default().
	Logger *slog.Logger
}

// Watcher watches a workspace and requests automatic checkpoints.
//
// Safe for concurrent use. Checkpointer.Create is called from the Run
// goroutine only.
type Watcher struct {
	root    string
	target  Checkpointer
	filter  *ignore.Filter
	logger  *slog.Logger
	quiet   time.Duration
	spacing time.Duration

	watcher *fsnotify.Watcher

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	running bool
	taken   int
}

// New creates a Watcher for root and starts following its directories.
// Events are buffered by the kernel until Run is called.
func New(root string, target Checkpointer, opts Options) (*Watcher, error) {
	if target == nil {
		return nil, errors.New("watch: nil checkpointer")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if opts.QuietPeriod <= 0 {
		opts.QuietPeriod = DefaultQuietPeriod
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:    abs,
		target:  target,
		filter:  opts.Filter,
		logger:  opts.Logger.With(slog.String("workspace", abs)),
		quiet:   opts.QuietPeriod,
		spacing: opts.MinInterval,
		watcher: fw,
		done:    make(chan struct{}),
	}
	if err := w.addRecursive(abs); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Checkpoints returns how many automatic checkpoints the watcher has taken.
func (w *Watcher) Checkpoints() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.taken
}

// Run processes events until ctx is cancelled or Close is called. It
// returns nil in both cases. Pending changes that have not reached the
// quiet period are dropped.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		return ErrWatcherClosed
	default:
	}
	if w.running {
		w.mu.Unlock()
		return errors.New("watch: already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	w.logger.Info("watching workspace",
		slog.Duration("quiet_period", w.quiet),
		slog.Duration("min_interval", w.spacing),
	)

	pending := make(map[string]struct{})
	var last time.Time
	var timer *time.Timer
	var timerC <-chan time.Time

	arm := func(d time.Duration) {
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		timerC = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			rel, ok := w.handle(event)
			if !ok {
				continue
			}
			pending[rel] = struct{}{}
			arm(w.quiet)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timerC:
			timerC = nil
			if len(pending) == 0 {
				continue
			}
			if wait := w.spacing - time.Since(last); !last.IsZero() && wait > 0 {
				w.logger.Debug("holding changes for minimum interval", slog.Duration("wait", wait))
				arm(wait)
				continue
			}

			changed := sortedPaths(pending)
			req := Request{
				Name:    autoName(len(changed)),
				Trigger: checkpoint.TriggerAutomatic,
				Changed: changed,
			}
			if err := w.target.Create(ctx, req); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Warn("automatic checkpoint failed",
					slog.Int("changed", len(changed)),
					slog.String("error", err.Error()),
				)
				continue
			}
			clear(pending)
			last = time.Now()

			w.mu.Lock()
			w.taken++
			w.mu.Unlock()
			w.logger.Info("automatic checkpoint taken", slog.Int("changed", len(changed)))
		}
	}
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

// handle filters one event and follows newly created directories. It
// returns the workspace-relative path and whether the event counts as a
// change.
func (w *Watcher) handle(event fsnotify.Event) (string, bool) {
	if event.Op == fsnotify.Chmod {
		return "", false
	}
	rel, ok := w.relative(event.Name)
	if !ok {
		return "", false
	}

	isDir := false
	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}
	if w.ignored(rel, isDir) {
		return "", false
	}
	if isDir {
		if err := w.addRecursive(event.Name); err != nil {
			w.logger.Warn("watch new directory", slog.String("path", rel), slog.String("error", err.Error()))
		}
	}
	return rel, true
}

// addRecursive follows dir and every non-ignored directory below it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root {
			rel, ok := w.relative(path)
			if !ok || w.ignored(rel, true) {
				return filepath.SkipDir
			}
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// ignored checks rel and every parent directory, so events from a
// directory that was ignored before it was created are dropped too.
func (w *Watcher) ignored(rel string, isDir bool) bool {
	if w.filter == nil {
		return false
	}
	if isDir {
		return w.filter.MatchDir(rel)
	}
	if w.filter.MatchFile(rel) {
		return true
	}
	for dir := parent(rel); dir != ""; dir = parent(dir) {
		if w.filter.MatchDir(dir) {
			return true
		}
	}
	return false
}

func parent(rel string) string {
	i := strings.LastIndex(rel, "/")
	if i < 0 {
		return ""
	}
	return rel[:i]
}

func sortedPaths(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func autoName(changed int) string {
	if changed == 1 {
		return "auto: 1 file changed"
	}
	return fmt.Sprintf("auto: %d files changed", changed)
}
