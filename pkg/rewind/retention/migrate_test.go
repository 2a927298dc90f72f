package retention_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/retention"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
	"github.com/randalmurphal/rewind/pkg/rewind/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seed commits one checkpoint with the given files into b.
func seed(t *testing.T, b store.Backend, name string, trigger checkpoint.Trigger, at time.Time, files map[string]string) *checkpoint.Checkpoint {
	t.Helper()
	ctx := context.Background()

	cp := checkpoint.New(name, trigger, at)
	if trigger == checkpoint.TriggerPreRestoreSafety {
		cp.RestoreTarget = "cp-0-00000000"
	}
	w, err := b.Begin(ctx, &cp.Metadata)
	require.NoError(t, err)

	m := checkpoint.NewManifest()
	for path, content := range files {
		data := []byte(content)
		hash := snapshot.HashBytes(data)
		require.NoError(t, w.WriteBlob(hash, data))
		m.Add(checkpoint.FileSnapshot{Path: path, Hash: hash, Size: int64(len(data)), Mode: 0o644})
	}
	require.NoError(t, w.Commit(ctx, m))
	return cp.WithManifest(m)
}

func targets(t *testing.T) map[string]func(t *testing.T) store.Backend {
	return map[string]func(t *testing.T) store.Backend{
		"memory": func(t *testing.T) store.Backend { return store.NewMemoryStore() },
		"sqlite": func(t *testing.T) store.Backend {
			s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
			require.NoError(t, err)
			return s
		},
		"badger": func(t *testing.T) store.Backend {
			s, err := store.NewBadgerStore(store.InMemoryBadgerConfig())
			require.NoError(t, err)
			return s
		},
	}
}

func TestMigrate(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, open := range targets(t) {
		t.Run(name, func(t *testing.T) {
			from := store.NewMemoryStore()
			defer from.Close()
			to := open(t)
			defer to.Close()

			a := seed(t, from, "a", checkpoint.TriggerManual, t0, map[string]string{"x.txt": "one", "y/z.txt": "two"})
			b := seed(t, from, "b", checkpoint.TriggerAutomatic, t0.Add(time.Hour), map[string]string{"x.txt": "three"})

			report, err := retention.Migrate(ctx, from, to, retention.MigrateOptions{})
			require.NoError(t, err)
			assert.Equal(t, []string{a.ID, b.ID}, report.Copied)
			assert.Empty(t, report.Failed)
			assert.Empty(t, report.Removed)

			got, err := to.Load(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, a.Name, got.Name)
			assert.Equal(t, a.Stats, got.Stats)
			assert.Equal(t, a.Manifest.HashIndex(), got.Manifest.HashIndex())

			data, err := to.ReadBlob(ctx, a.ID, snapshot.HashBytes([]byte("two")))
			require.NoError(t, err)
			assert.Equal(t, "two", string(data))

			ids, err := from.IDs(ctx)
			require.NoError(t, err)
			assert.Len(t, ids, 2, "copy leaves the source alone")
		})
	}
}

func TestMigrate_Filters(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	from := store.NewMemoryStore()
	early := seed(t, from, "early", checkpoint.TriggerManual, t0, map[string]string{"f": "1"})
	auto := seed(t, from, "auto", checkpoint.TriggerAutomatic, t0.Add(time.Hour), map[string]string{"f": "2"})
	late := seed(t, from, "late", checkpoint.TriggerManual, t0.Add(2*time.Hour), map[string]string{"f": "3"})

	tests := []struct {
		name string
		opts retention.MigrateOptions
		want []string
	}{
		{"trigger", retention.MigrateOptions{Trigger: checkpoint.TriggerManual}, []string{early.ID, late.ID}},
		{"after", retention.MigrateOptions{After: t0.Add(time.Hour)}, []string{auto.ID, late.ID}},
		{"before", retention.MigrateOptions{Before: t0.Add(time.Hour)}, []string{early.ID, auto.ID}},
		{"range and trigger", retention.MigrateOptions{Trigger: checkpoint.TriggerManual, After: t0.Add(time.Minute)}, []string{late.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to := store.NewMemoryStore()
			report, err := retention.Migrate(ctx, from, to, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, report.Copied)

			ids, err := to.IDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestMigrate_SkipsExisting(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	from := store.NewMemoryStore()
	to := store.NewMemoryStore()
	a := seed(t, from, "a", checkpoint.TriggerManual, t0, map[string]string{"f": "1"})
	b := seed(t, from, "b", checkpoint.TriggerManual, t0.Add(time.Minute), map[string]string{"f": "2"})

	first, err := retention.Migrate(ctx, from, to, retention.MigrateOptions{Trigger: checkpoint.TriggerManual, Before: t0})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, first.Copied)

	second, err := retention.Migrate(ctx, from, to, retention.MigrateOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, second.Copied)
	assert.Equal(t, []string{a.ID}, second.Skipped)
}

func TestMigrate_Move(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	from := store.NewMemoryStore()
	to, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer to.Close()

	a := seed(t, from, "a", checkpoint.TriggerManual, t0, map[string]string{"f": "1"})
	safety := seed(t, from, "safety", checkpoint.TriggerPreRestoreSafety, t0.Add(time.Minute), map[string]string{"f": "2"})

	report, err := retention.Migrate(ctx, from, to, retention.MigrateOptions{Move: true, Trigger: checkpoint.TriggerManual})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, report.Copied)
	assert.Equal(t, []string{a.ID}, report.Removed)

	ids, err := from.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{safety.ID}, ids)

	got, err := to.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Manifest.HashIndex(), got.Manifest.HashIndex())
}

// lossyStore drops one blob on read so a copy cannot complete.
type lossyStore struct {
	*store.MemoryStore
	lost string
}

func (l lossyStore) ReadBlob(ctx context.Context, id, hash string) ([]byte, error) {
	if hash == l.lost {
		return nil, store.ErrNotFound
	}
	return l.MemoryStore.ReadBlob(ctx, id, hash)
}

func TestMigrate_FailureContinues(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mem := store.NewMemoryStore()
	broken := seed(t, mem, "broken", checkpoint.TriggerManual, t0, map[string]string{"f": "lost"})
	fine := seed(t, mem, "fine", checkpoint.TriggerManual, t0.Add(time.Minute), map[string]string{"f": "ok"})
	from := lossyStore{MemoryStore: mem, lost: snapshot.HashBytes([]byte("lost"))}

	to := store.NewMemoryStore()
	report, err := retention.Migrate(ctx, from, to, retention.MigrateOptions{Move: true})
	require.NoError(t, err)
	assert.Equal(t, []string{fine.ID}, report.Copied)
	require.Contains(t, report.Failed, broken.ID)
	assert.ErrorIs(t, report.Failed[broken.ID], store.ErrNotFound)

	exists, err := store.Exists(ctx, to, broken.ID)
	require.NoError(t, err)
	assert.False(t, exists, "failed copy leaves nothing behind")

	exists, err = store.Exists(ctx, mem, broken.ID)
	require.NoError(t, err)
	assert.True(t, exists, "failed copy is not removed from the source")
}

func TestMigrate_Cancelled(t *testing.T) {
	from := store.NewMemoryStore()
	seed(t, from, "a", checkpoint.TriggerManual, time.Now(), map[string]string{"f": "1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := retention.Migrate(ctx, from, store.NewMemoryStore(), retention.MigrateOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
