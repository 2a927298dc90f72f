package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
)

// Key prefixes in a BadgerStore.
const (
	badgerMetaPrefix     = "meta/"
	badgerManifestPrefix = "manifest/"
	badgerBlobPrefix     = "blob/"
)

// BadgerConfig holds configuration for a BadgerStore.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns durable defaults for a store at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// BadgerStore keeps checkpoints in an embedded BadgerDB:
//
//	meta/<id>            metadata JSON
//	manifest/<id>        manifest JSON, present once committed
//	blob/<id>/<hash>     raw blob bytes
type BadgerStore struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface checks.
var (
	_ Backend       = (*BadgerStore)(nil)
	_ OrphanCleaner = (*BadgerStore)(nil)
)

// NewBadgerStore opens a BadgerStore with cfg.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent badger store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Name implements Backend.
func (s *BadgerStore) Name() string {
	return "badger"
}

func (s *BadgerStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func metaKey(id string) []byte     { return []byte(badgerMetaPrefix + id) }
func manifestKey(id string) []byte { return []byte(badgerManifestPrefix + id) }
func blobPrefix(id string) []byte  { return []byte(badgerBlobPrefix + id + "/") }
func blobKey(id, hash string) []byte {
	return []byte(badgerBlobPrefix + id + "/" + hash)
}

// Begin implements Backend.
func (s *BadgerStore) Begin(_ context.Context, meta *checkpoint.Metadata) (Writer, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	md, err := validateBegin(meta)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(md.ID)); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, md.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(metaKey(md.ID), encoded)
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("begin checkpoint: %w", err)
	}
	return &badgerWriter{store: s, id: md.ID}, nil
}

// Load implements Backend.
func (s *BadgerStore) Load(_ context.Context, id string) (*checkpoint.Checkpoint, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var meta checkpoint.Metadata
	var manifest checkpoint.Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		mItem, err := txn.Get(manifestKey(id))
		if err != nil {
			return err
		}
		if err := mItem.Value(func(v []byte) error { return json.Unmarshal(v, &manifest) }); err != nil {
			return fmt.Errorf("decode manifest: %w", err)
		}
		item, err := txn.Get(metaKey(id))
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &meta) }); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return (&checkpoint.Checkpoint{Metadata: meta}).WithManifest(&manifest), nil
}

// ReadBlob implements Backend.
func (s *BadgerStore) ReadBlob(_ context.Context, id, hash string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(id, hash))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: blob %s in %s", ErrNotFound, hash, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Delete implements Backend.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	if !s.has(manifestKey(id)) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.drop(id)
}

// drop removes every key belonging to id. Blob deletes go through a write
// batch so large checkpoints do not exceed a single transaction.
func (s *BadgerStore) drop(id string) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false, Prefix: blobPrefix(id)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list blobs: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("delete blob: %w", err)
		}
	}
	if err := wb.Delete(manifestKey(id)); err != nil {
		return fmt.Errorf("delete manifest: %w", err)
	}
	if err := wb.Delete(metaKey(id)); err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *BadgerStore) has(key []byte) bool {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	return err == nil
}

// IDs implements Backend.
func (s *BadgerStore) IDs(context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.keysWithPrefix(badgerManifestPrefix)
}

// Orphans implements OrphanCleaner.
func (s *BadgerStore) Orphans(context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	metas, err := s.keysWithPrefix(badgerMetaPrefix)
	if err != nil {
		return nil, err
	}
	var orphans []string
	for _, id := range metas {
		if !s.has(manifestKey(id)) {
			orphans = append(orphans, id)
		}
	}
	return orphans, nil
}

// CleanupOrphans implements OrphanCleaner.
func (s *BadgerStore) CleanupOrphans(ctx context.Context) ([]string, error) {
	orphans, err := s.Orphans(ctx)
	if err != nil {
		return nil, err
	}
	removed := make([]string, 0, len(orphans))
	var errs []error
	for _, id := range orphans {
		if err := s.drop(id); err != nil {
			errs = append(errs, fmt.Errorf("remove orphan %s: %w", id, err))
			continue
		}
		removed = append(removed, id)
	}
	return removed, errors.Join(errs...)
}

// keysWithPrefix returns the key suffixes under prefix in key order.
func (s *BadgerStore) keysWithPrefix(prefix string) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false, Prefix: []byte(prefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), prefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	return ids, nil
}

// UpdateMetadata implements Backend.
func (s *BadgerStore) UpdateMetadata(ctx context.Context, meta *checkpoint.Metadata) error {
	if meta == nil {
		return fmt.Errorf("%w: nil metadata", checkpoint.ErrInvalidMetadata)
	}
	cp, err := s.Load(ctx, meta.ID)
	if err != nil {
		return err
	}
	updated, err := applyCosmetic(cp.Metadata, meta)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(meta.ID), encoded)
	})
}

// Close implements Backend.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// badgerWriter writes blobs directly under the checkpoint's prefix.
type badgerWriter struct {
	store *BadgerStore
	id    string

	mu   sync.Mutex
	done bool
}

func (w *badgerWriter) HasBlob(hash string) (bool, error) {
	if err := w.store.check(); err != nil {
		return false, err
	}
	return w.store.has(blobKey(w.id, hash)), nil
}

func (w *badgerWriter) WriteBlob(hash string, data []byte) error {
	if !snapshot.ValidHash(hash) {
		return fmt.Errorf("%w: %q", snapshot.ErrInvalidHash, hash)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrWriterDone
	}
	if err := w.store.check(); err != nil {
		return err
	}
	return w.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blobKey(w.id, hash), data)
	})
}

func (w *badgerWriter) Commit(_ context.Context, manifest *checkpoint.Manifest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrWriterDone
	}
	if err := verifyManifest(manifest, w.HasBlob); err != nil {
		return err
	}
	encoded, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := w.store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(w.id), encoded)
	}); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	w.done = true
	return nil
}

func (w *badgerWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	if err := w.store.check(); err != nil {
		return nil
	}
	return w.store.drop(w.id)
}
