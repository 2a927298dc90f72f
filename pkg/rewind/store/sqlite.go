package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists checkpoints to a single SQLite file.
// It is suitable for single-process use and as a migration target.
//
// A row with a NULL manifest is a checkpoint that was begun but never
// committed.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface checks.
var (
	_ Backend       = (*SQLiteStore)(nil)
	_ OrphanCleaner = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite checkpoint store.
// The path should be a file path (e.g., "./checkpoints.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			metadata TEXT NOT NULL,
			manifest TEXT,
			created TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			checkpoint_id TEXT NOT NULL,
			hash TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (checkpoint_id, hash)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create blobs table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Name implements Backend.
func (s *SQLiteStore) Name() string {
	return "sqlite"
}

func (s *SQLiteStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Begin implements Backend.
func (s *SQLiteStore) Begin(ctx context.Context, meta *checkpoint.Metadata) (Writer, error) {
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, metadata, manifest, created)
		VALUES (?, ?, NULL, ?)
		ON CONFLICT(id) DO NOTHING
	`, md.ID, string(encoded), md.Created.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("begin checkpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, md.ID)
	}

	return &sqliteWriter{store: s, id: md.ID}, nil
}

// Load implements Backend.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var metaJSON string
	var manifestJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT metadata, manifest FROM checkpoints WHERE id = ?
	`, id).Scan(&metaJSON, &manifestJSON)
	if err == sql.ErrNoRows || (err == nil && !manifestJSON.Valid) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var meta checkpoint.Metadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	var manifest checkpoint.Manifest
	if err := json.Unmarshal([]byte(manifestJSON.String), &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return (&checkpoint.Checkpoint{Metadata: meta}).WithManifest(&manifest), nil
}

// ReadBlob implements Backend.
func (s *SQLiteStore) ReadBlob(ctx context.Context, id, hash string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM blobs WHERE checkpoint_id = ? AND hash = ?
	`, id, hash).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: blob %s in %s", ErrNotFound, hash, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Delete implements Backend.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE id = ? AND manifest IS NOT NULL
	`, id)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE checkpoint_id = ?`, id); err != nil {
		return fmt.Errorf("delete blobs: %w", err)
	}
	return nil
}

// IDs implements Backend.
func (s *SQLiteStore) IDs(ctx context.Context) ([]string, error) {
	return s.ids(ctx, "manifest IS NOT NULL")
}

// Orphans implements OrphanCleaner.
func (s *SQLiteStore) Orphans(ctx context.Context) ([]string, error) {
	return s.ids(ctx, "manifest IS NULL")
}

func (s *SQLiteStore) ids(ctx context.Context, where string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM checkpoints WHERE `+where+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan checkpoint id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return ids, nil
}

// CleanupOrphans implements OrphanCleaner.
func (s *SQLiteStore) CleanupOrphans(ctx context.Context) ([]string, error) {
	orphans, err := s.Orphans(ctx)
	if err != nil {
		return nil, err
	}
	removed := make([]string, 0, len(orphans))
	var errs []error
	for _, id := range orphans {
		if err := s.discard(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, id)
	}
	return removed, errors.Join(errs...)
}

// discard removes an uncommitted checkpoint and its blobs.
func (s *SQLiteStore) discard(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE checkpoint_id = ?`, id); err != nil {
		return fmt.Errorf("discard blobs %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ? AND manifest IS NULL`, id); err != nil {
		return fmt.Errorf("discard checkpoint %s: %w", id, err)
	}
	return nil
}

// UpdateMetadata implements Backend.
func (s *SQLiteStore) UpdateMetadata(ctx context.Context, meta *checkpoint.Metadata) error {
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
	if _, err := s.db.ExecContext(ctx, `
		UPDATE checkpoints SET metadata = ? WHERE id = ?
	`, string(encoded), meta.ID); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

// Close implements Backend.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// sqliteWriter streams blobs into the blobs table as they arrive.
type sqliteWriter struct {
	store *SQLiteStore
	id    string

	mu   sync.Mutex
	done bool
}

func (w *sqliteWriter) HasBlob(hash string) (bool, error) {
	if err := w.store.check(); err != nil {
		return false, err
	}
	var one int
	err := w.store.db.QueryRow(`
		SELECT 1 FROM blobs WHERE checkpoint_id = ? AND hash = ?
	`, w.id, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check blob: %w", err)
	}
	return true, nil
}

func (w *sqliteWriter) WriteBlob(hash string, data []byte) error {
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
	if _, err := w.store.db.Exec(`
		INSERT OR IGNORE INTO blobs (checkpoint_id, hash, data) VALUES (?, ?, ?)
	`, w.id, hash, data); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

func (w *sqliteWriter) Commit(ctx context.Context, manifest *checkpoint.Manifest) error {
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
	if _, err := w.store.db.ExecContext(ctx, `
		UPDATE checkpoints SET manifest = ? WHERE id = ?
	`, string(encoded), w.id); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	w.done = true
	return nil
}

func (w *sqliteWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	if err := w.store.check(); err != nil {
		return nil
	}
	return w.store.discard(context.Background(), w.id)
}
