package benchmarks

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
	"github.com/randalmurphal/rewind/pkg/rewind/store"
)

func createBackend(b *testing.B, kind string) store.Backend {
	b.Helper()
	path := b.TempDir()
	if kind == store.KindSQLite {
		path = filepath.Join(path, "checkpoints.db")
	}
	backend, err := store.Open(context.Background(), kind, path, nil)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = backend.Close() })
	return backend
}

// save writes one checkpoint of files blobs of 1KB each.
func save(ctx context.Context, backend store.Backend, id string, files int) error {
	cp := checkpoint.New("bench", checkpoint.TriggerManual, time.Now())
	cp.ID = id
	w, err := backend.Begin(ctx, &cp.Metadata)
	if err != nil {
		return err
	}
	m := checkpoint.NewManifest()
	for i := 0; i < files; i++ {
		data := []byte(fmt.Sprintf("%s-%d-%01024d", id, i, i))
		hash := snapshot.HashBytes(data)
		if err := w.WriteBlob(hash, data); err != nil {
			_ = w.Abort()
			return err
		}
		m.Add(checkpoint.FileSnapshot{Path: fmt.Sprintf("file%04d", i), Hash: hash, Size: int64(len(data)), Mode: 0o644})
	}
	return w.Commit(ctx, m)
}

func benchmarkSave(b *testing.B, kind string) {
	backend := createBackend(b, kind)
	ctx := context.Background()
	base := time.Now()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := save(ctx, backend, checkpoint.NewID(base.Add(time.Duration(i)*time.Millisecond)), 20); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkLoad(b *testing.B, kind string) {
	backend := createBackend(b, kind)
	ctx := context.Background()
	id := checkpoint.NewID(time.Now())
	if err := save(ctx, backend, id, 20); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := backend.Load(ctx, id); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkMemoryStore_Save measures in-memory checkpoint save.
func BenchmarkMemoryStore_Save(b *testing.B) { benchmarkSave(b, store.KindMemory) }

// BenchmarkMemoryStore_Load measures in-memory checkpoint load.
func BenchmarkMemoryStore_Load(b *testing.B) { benchmarkLoad(b, store.KindMemory) }

// BenchmarkFSStore_Save measures directory-per-checkpoint save.
func BenchmarkFSStore_Save(b *testing.B) { benchmarkSave(b, store.KindFS) }

// BenchmarkFSStore_Load measures directory-per-checkpoint load.
func BenchmarkFSStore_Load(b *testing.B) { benchmarkLoad(b, store.KindFS) }

// BenchmarkSQLiteStore_Save measures SQLite checkpoint save.
func BenchmarkSQLiteStore_Save(b *testing.B) { benchmarkSave(b, store.KindSQLite) }

// BenchmarkSQLiteStore_Load measures SQLite checkpoint load.
func BenchmarkSQLiteStore_Load(b *testing.B) { benchmarkLoad(b, store.KindSQLite) }

// BenchmarkBadgerStore_Save measures BadgerDB checkpoint save.
func BenchmarkBadgerStore_Save(b *testing.B) { benchmarkSave(b, store.KindBadger) }

// BenchmarkBadgerStore_Load measures BadgerDB checkpoint load.
func BenchmarkBadgerStore_Load(b *testing.B) { benchmarkLoad(b, store.KindBadger) }
