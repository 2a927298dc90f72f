package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
)

// MemoryStore is an in-memory checkpoint store for tests and ephemeral
// sessions. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry // id -> checkpoint
	pending map[string]bool
	closed  bool
}

// memEntry holds one committed checkpoint. The manifest is kept encoded so
// callers can never mutate stored state through a returned pointer.
type memEntry struct {
	meta     checkpoint.Metadata
	manifest []byte
	blobs    map[string][]byte
}

// Compile-time interface check.
var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		pending: make(map[string]bool),
	}
}

// Name implements Backend.
func (m *MemoryStore) Name() string {
	return "memory"
}

// Begin implements Backend.
func (m *MemoryStore) Begin(_ context.Context, meta *checkpoint.Metadata) (Writer, error) {
	md, err := validateBegin(meta)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	if _, ok := m.entries[md.ID]; ok || m.pending[md.ID] {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, md.ID)
	}
	m.pending[md.ID] = true

	return &memWriter{store: m, meta: md, blobs: make(map[string][]byte)}, nil
}

// Load implements Backend.
func (m *MemoryStore) Load(_ context.Context, id string) (*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var manifest checkpoint.Manifest
	if err := json.Unmarshal(e.manifest, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	cp := &checkpoint.Checkpoint{Metadata: e.meta}
	cp.Tags = append([]string(nil), e.meta.Tags...)
	return cp.WithManifest(&manifest), nil
}

// ReadBlob implements Backend.
func (m *MemoryStore) ReadBlob(_ context.Context, id, hash string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, ok := e.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s in %s", ErrNotFound, hash, id)
	}

	// Return a copy to prevent modification
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// Delete implements Backend.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if _, ok := m.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.entries, id)
	return nil
}

// IDs implements Backend.
func (m *MemoryStore) IDs(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	return sortedKeys(m.entries), nil
}

// UpdateMetadata implements Backend.
func (m *MemoryStore) UpdateMetadata(_ context.Context, meta *checkpoint.Metadata) error {
	if meta == nil {
		return fmt.Errorf("%w: nil metadata", checkpoint.ErrInvalidMetadata)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	e, ok := m.entries[meta.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, meta.ID)
	}
	updated, err := applyCosmetic(e.meta, meta)
	if err != nil {
		return err
	}
	e.meta = updated
	return nil
}

// Close implements Backend.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = nil
	m.pending = nil
	return nil
}

// Len returns the number of committed checkpoints.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// memWriter buffers one checkpoint until Commit.
type memWriter struct {
	store *MemoryStore
	meta  checkpoint.Metadata
	mu    sync.Mutex
	blobs map[string][]byte
	done  bool
}

func (w *memWriter) HasBlob(hash string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.blobs[hash]
	return ok, nil
}

func (w *memWriter) WriteBlob(hash string, data []byte) error {
	if !snapshot.ValidHash(hash) {
		return fmt.Errorf("%w: %q", snapshot.ErrInvalidHash, hash)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrWriterDone
	}

	// Copy data to avoid retaining caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)
	w.blobs[hash] = stored
	return nil
}

func (w *memWriter) Commit(_ context.Context, manifest *checkpoint.Manifest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrWriterDone
	}
	if err := verifyManifest(manifest, func(h string) (bool, error) {
		_, ok := w.blobs[h]
		return ok, nil
	}); err != nil {
		return err
	}
	encoded, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if w.store.closed {
		return ErrStoreClosed
	}
	delete(w.store.pending, w.meta.ID)
	w.store.entries[w.meta.ID] = &memEntry{meta: w.meta, manifest: encoded, blobs: w.blobs}
	w.done = true
	return nil
}

func (w *memWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil
	}
	w.done = true
	w.blobs = nil

	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if !w.store.closed {
		delete(w.store.pending, w.meta.ID)
	}
	return nil
}
