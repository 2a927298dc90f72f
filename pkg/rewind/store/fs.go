package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
	"github.com/randalmurphal/rewind/pkg/rewind/vcs"
)

// On-disk names inside an FSBackend root.
const (
	MetadataFile  = "metadata.json"
	ManifestFile  = "manifest.json"
	ReadmeFile    = "README"
	stagingPrefix = ".staging-"
)

const readme = `This directory holds workspace checkpoints.

Each subdirectory is one checkpoint: metadata.json, manifest.json and the
file contents under files/, named by SHA-256. Do not edit these files by hand;
use the rewind tooling to list, restore, export or delete checkpoints.
`

// FSBackend stores each checkpoint as a directory under root:
//
//	<root>/README
//	<root>/<id>/metadata.json
//	<root>/<id>/manifest.json
//	<root>/<id>/files/<sha256>
//
// A directory without manifest.json is an orphan left by an interrupted
// creation. When a history client is configured, every change is also
// committed into a git repository rooted at root. History is best-effort:
// its failures are logged, never returned.
type FSBackend struct {
	root    string
	history vcs.Client
	logger  *slog.Logger

	mu          sync.RWMutex
	initialized bool
	closed      bool

	historyMu    sync.Mutex
	historyReady bool
}

// Compile-time interface checks.
var (
	_ Backend       = (*FSBackend)(nil)
	_ OrphanCleaner = (*FSBackend)(nil)
)

// FSOption configures an FSBackend.
type FSOption func(*FSBackend)

// WithHistory commits store changes through client, whose Dir must be the
// store root.
func WithHistory(client vcs.Client) FSOption {
	return func(b *FSBackend) {
		b.history = client
	}
}

// WithLogger sets the logger for history failures.
func WithLogger(logger *slog.Logger) FSOption {
	return func(b *FSBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewFSBackend returns an uninitialized backend rooted at root.
// Call Initialize before use.
func NewFSBackend(root string, opts ...FSOption) *FSBackend {
	b := &FSBackend{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Root returns the store directory.
func (b *FSBackend) Root() string {
	return b.root
}

// Name implements Backend.
func (b *FSBackend) Name() string {
	return "fs"
}

// Initialize creates the store directory and README and records them in
// history. It is idempotent, but two processes initializing the same root
// for the first time at once may race on the history repository.
func (b *FSBackend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStoreClosed
	}
	if err := os.MkdirAll(b.root, 0o755); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("create store dir: %w", err)
	}
	readmePath := filepath.Join(b.root, ReadmeFile)
	created := false
	if _, err := os.Stat(readmePath); errors.Is(err, fs.ErrNotExist) {
		if err := snapshot.WriteFileAtomic(readmePath, []byte(readme), 0o644); err != nil {
			b.mu.Unlock()
			return fmt.Errorf("write readme: %w", err)
		}
		created = true
	}
	b.initialized = true
	b.mu.Unlock()

	if created || !b.hasHistoryRepo() {
		b.record(ctx, "initialize checkpoint store", ReadmeFile)
	}
	return nil
}

// Initialized reports whether Initialize has run.
func (b *FSBackend) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

func (b *FSBackend) check() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStoreClosed
	}
	if !b.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (b *FSBackend) dir(id string) string {
	return filepath.Join(b.root, id)
}

// Begin implements Backend.
func (b *FSBackend) Begin(_ context.Context, meta *checkpoint.Metadata) (Writer, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	md, err := validateBegin(meta)
	if err != nil {
		return nil, err
	}

	dir := b.dir(md.ID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, md.ID)
		}
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, MetadataFile), md); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	return &fsWriter{backend: b, meta: md, sink: snapshot.NewDirSink(dir)}, nil
}

// Load implements Backend.
func (b *FSBackend) Load(_ context.Context, id string) (*checkpoint.Checkpoint, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return loadDir(b.dir(id), id)
}

// loadDir reads a committed checkpoint directory.
func loadDir(dir, id string) (*checkpoint.Checkpoint, error) {
	if !checkpoint.ValidID(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var manifest checkpoint.Manifest
	if err := readJSON(filepath.Join(dir, ManifestFile), &manifest); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var meta checkpoint.Metadata
	if err := readJSON(filepath.Join(dir, MetadataFile), &meta); err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if meta.ID != id {
		return nil, fmt.Errorf("%w: metadata id %q in directory %q", checkpoint.ErrInvalidMetadata, meta.ID, id)
	}

	return (&checkpoint.Checkpoint{Metadata: meta}).WithManifest(&manifest), nil
}

// ReadBlob implements Backend.
func (b *FSBackend) ReadBlob(_ context.Context, id, hash string) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if !checkpoint.ValidID(id) || !snapshot.ValidHash(hash) {
		return nil, fmt.Errorf("%w: blob %s in %s", ErrNotFound, hash, id)
	}
	data, err := snapshot.NewDirSink(b.dir(id)).ReadBlob(hash)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: blob %s in %s", ErrNotFound, hash, id)
		}
		return nil, err
	}
	return data, nil
}

// Delete implements Backend.
func (b *FSBackend) Delete(ctx context.Context, id string) error {
	if err := b.check(); err != nil {
		return err
	}
	if !b.committed(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.RemoveAll(b.dir(id)); err != nil {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	b.record(ctx, "delete checkpoint "+id, id)
	return nil
}

// IDs implements Backend.
func (b *FSBackend) IDs(context.Context) ([]string, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	committed, _, err := b.scan()
	return committed, err
}

// Orphans implements OrphanCleaner. Leftover import staging directories
// count as orphans too.
func (b *FSBackend) Orphans(context.Context) ([]string, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	_, orphans, err := b.scan()
	return orphans, err
}

// CleanupOrphans implements OrphanCleaner.
func (b *FSBackend) CleanupOrphans(ctx context.Context) ([]string, error) {
	orphans, err := b.Orphans(ctx)
	if err != nil {
		return nil, err
	}
	removed := make([]string, 0, len(orphans))
	var errs []error
	for _, name := range orphans {
		if err := os.RemoveAll(b.dir(name)); err != nil {
			errs = append(errs, fmt.Errorf("remove orphan %s: %w", name, err))
			continue
		}
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		b.record(ctx, "remove orphaned checkpoints", removed...)
	}
	return removed, errors.Join(errs...)
}

// scan classifies the entries under root.
func (b *FSBackend) scan() (committed, orphans []string, err error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, nil, fmt.Errorf("read store dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasPrefix(name, stagingPrefix):
			orphans = append(orphans, name)
		case checkpoint.ValidID(name):
			if b.committed(name) {
				committed = append(committed, name)
			} else {
				orphans = append(orphans, name)
			}
		}
	}
	return committed, orphans, nil
}

func (b *FSBackend) committed(id string) bool {
	if !checkpoint.ValidID(id) {
		return false
	}
	_, err := os.Stat(filepath.Join(b.dir(id), ManifestFile))
	return err == nil
}

// UpdateMetadata implements Backend.
func (b *FSBackend) UpdateMetadata(ctx context.Context, meta *checkpoint.Metadata) error {
	if err := b.check(); err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("%w: nil metadata", checkpoint.ErrInvalidMetadata)
	}
	if !b.committed(meta.ID) {
		return fmt.Errorf("%w: %s", ErrNotFound, meta.ID)
	}

	path := filepath.Join(b.dir(meta.ID), MetadataFile)
	var stored checkpoint.Metadata
	if err := readJSON(path, &stored); err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	updated, err := applyCosmetic(stored, meta)
	if err != nil {
		return err
	}
	if err := writeJSON(path, updated); err != nil {
		return err
	}
	b.record(ctx, "update checkpoint "+meta.ID, meta.ID)
	return nil
}

// Close implements Backend.
func (b *FSBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// hasHistoryRepo reports whether root holds its own git repository, as
// opposed to merely sitting inside the workspace's.
func (b *FSBackend) hasHistoryRepo() bool {
	if b.history == nil {
		return true
	}
	_, err := os.Stat(filepath.Join(b.root, ".git"))
	return err == nil
}

// record stages paths and commits them into the store history, creating
// the repository on first use.
func (b *FSBackend) record(ctx context.Context, message string, paths ...string) {
	if b.history == nil {
		return
	}
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	if !b.historyReady {
		if !b.hasHistoryRepo() {
			if err := b.history.Init(ctx); err != nil {
				b.logger.Warn("store history init failed",
					slog.String("root", b.root),
					slog.String("error", err.Error()),
				)
				return
			}
		}
		b.historyReady = true
	}

	if err := b.history.Add(ctx, paths...); err != nil {
		b.logger.Warn("store history add failed",
			slog.String("message", message),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := b.history.Commit(ctx, message); err != nil {
		b.logger.Warn("store history commit failed",
			slog.String("message", message),
			slog.String("error", err.Error()),
		)
	}
}

// fsWriter writes one checkpoint directory.
type fsWriter struct {
	backend *FSBackend
	meta    checkpoint.Metadata
	sink    *snapshot.DirSink

	mu   sync.Mutex
	done bool
}

func (w *fsWriter) HasBlob(hash string) (bool, error) {
	return w.sink.HasBlob(hash)
}

func (w *fsWriter) WriteBlob(hash string, data []byte) error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done {
		return ErrWriterDone
	}
	return w.sink.WriteBlob(hash, data)
}

func (w *fsWriter) Commit(ctx context.Context, manifest *checkpoint.Manifest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrWriterDone
	}
	if err := verifyManifest(manifest, w.sink.HasBlob); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(w.sink.Dir(), ManifestFile), manifest); err != nil {
		return err
	}
	w.done = true

	w.backend.record(ctx, commitMessage(w.meta), w.meta.ID)
	return nil
}

func (w *fsWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	if err := os.RemoveAll(w.sink.Dir()); err != nil {
		return fmt.Errorf("remove partial checkpoint: %w", err)
	}
	return nil
}

func commitMessage(meta checkpoint.Metadata) string {
	msg := fmt.Sprintf("checkpoint %s (%s)", meta.ID, meta.Trigger)
	if meta.Name != "" {
		msg += ": " + meta.Name
	}
	return msg
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := snapshot.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
