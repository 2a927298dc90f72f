// Package store provides durable homes for checkpoints: metadata, manifest
// and the blobs a manifest references, kept per checkpoint.
//
// Every backend implements Backend. A checkpoint is written through a Writer
// obtained from Begin and becomes visible to IDs and Load only after Commit.
// A Begin that is never committed or aborted leaves an orphan, which
// backends implementing OrphanCleaner can remove.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a checkpoint or blob doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrNotInitialized indicates an operation ran before Initialize.
	ErrNotInitialized = errors.New("checkpoint store not initialized")

	// ErrAlreadyExists indicates a checkpoint id is already taken.
	ErrAlreadyExists = errors.New("checkpoint already exists")

	// ErrMissingBlob indicates a manifest references a blob that was never written.
	ErrMissingBlob = errors.New("manifest references missing blob")

	// ErrWriterDone indicates a Writer was used after Commit or Abort.
	ErrWriterDone = errors.New("checkpoint writer already finished")

	// ErrUnknownBackend indicates Open was asked for an unsupported backend.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Backend persists checkpoints.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend kind ("fs", "memory", "sqlite", "badger").
	Name() string

	// Begin starts writing a checkpoint. meta is validated here.
	// Returns ErrAlreadyExists if meta.ID is taken.
	Begin(ctx context.Context, meta *checkpoint.Metadata) (Writer, error)

	// Load returns the metadata, stats and manifest of a committed checkpoint.
	// Returns ErrNotFound if it doesn't exist.
	Load(ctx context.Context, id string) (*checkpoint.Checkpoint, error)

	// ReadBlob returns a blob stored under checkpoint id.
	// Returns ErrNotFound if either doesn't exist.
	ReadBlob(ctx context.Context, id, hash string) ([]byte, error)

	// Delete removes a checkpoint and its blobs.
	// Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// IDs lists committed checkpoints in ascending id order.
	IDs(ctx context.Context) ([]string, error)

	// UpdateMetadata applies cosmetic edits (name, description, tags) to a
	// committed checkpoint. Identity, trigger and timestamps are kept.
	UpdateMetadata(ctx context.Context, meta *checkpoint.Metadata) error

	// Close releases any resources (connections, files).
	Close() error
}

// Writer receives one checkpoint's blobs and manifest.
type Writer interface {
	snapshot.BlobSink

	// Commit persists the manifest and makes the checkpoint visible.
	// Every hash the manifest references must have been written.
	Commit(ctx context.Context, manifest *checkpoint.Manifest) error

	// Abort discards everything written so far. Safe after Commit, where it
	// does nothing.
	Abort() error
}

// OrphanCleaner is implemented by backends that can leave partially written
// checkpoints behind after a crash.
type OrphanCleaner interface {
	// Orphans lists checkpoints that were begun but never committed.
	Orphans(ctx context.Context) ([]string, error)

	// CleanupOrphans removes every orphan and returns what it removed.
	CleanupOrphans(ctx context.Context) ([]string, error)
}

// LoadAll reads every committed checkpoint, skipping any that fail to load.
// Used to rebuild the metadata index from ground truth.
func LoadAll(ctx context.Context, b Backend) ([]*checkpoint.Checkpoint, []error) {
	ids, err := b.IDs(ctx)
	if err != nil {
		return nil, []error{err}
	}
	out := make([]*checkpoint.Checkpoint, 0, len(ids))
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, append(errs, err)
		}
		cp, err := b.Load(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", id, err))
			continue
		}
		out = append(out, cp)
	}
	return out, errs
}

// Exists reports whether a committed checkpoint with id is present.
func Exists(ctx context.Context, b Backend, id string) (bool, error) {
	_, err := b.Load(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// validateBegin checks metadata at the store boundary.
func validateBegin(meta *checkpoint.Metadata) (checkpoint.Metadata, error) {
	if err := meta.Validate(); err != nil {
		return checkpoint.Metadata{}, err
	}
	m := *meta
	m.Tags = append([]string(nil), meta.Tags...)
	m.Created = m.Created.UTC()
	return m, nil
}

// applyCosmetic copies the editable fields of update onto stored.
func applyCosmetic(stored checkpoint.Metadata, update *checkpoint.Metadata) (checkpoint.Metadata, error) {
	if update == nil {
		return stored, fmt.Errorf("%w: nil metadata", checkpoint.ErrInvalidMetadata)
	}
	stored.Name = update.Name
	stored.Description = update.Description
	stored.Tags = append([]string(nil), update.Tags...)
	if err := stored.Validate(); err != nil {
		return stored, err
	}
	return stored, nil
}

// verifyManifest checks every hash the manifest references is present.
func verifyManifest(m *checkpoint.Manifest, has func(hash string) (bool, error)) error {
	if m == nil {
		return fmt.Errorf("%w: nil manifest", checkpoint.ErrInvalidMetadata)
	}
	for _, hash := range m.Hashes() {
		ok, err := has(hash)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingBlob, hash)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
