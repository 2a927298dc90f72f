package rewind_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind"
	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/config"
	"github.com/randalmurphal/rewind/pkg/rewind/index"
	"github.com/randalmurphal/rewind/pkg/rewind/observability"
	"github.com/randalmurphal/rewind/pkg/rewind/retention"
	"github.com/randalmurphal/rewind/pkg/rewind/store"
	"github.com/randalmurphal/rewind/pkg/rewind/vcs/vcstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// stepClock returns a clock that advances one minute per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

// repoGit returns a fake repository client that already ignores the store
// directories, so Open leaves the workspace untouched.
func repoGit(dir string) *vcstest.Fake {
	git := vcstest.New(dir)
	git.SetIgnored(config.DefaultStoreDir)
	git.SetIgnored(config.DefaultWorktreesDir)
	return git
}

func openEngine(t *testing.T, dir string, opts ...rewind.Option) *rewind.Engine {
	t.Helper()
	base := []rewind.Option{
		rewind.WithSettings(config.Defaults()),
		rewind.WithGit(repoGit(dir)),
		rewind.WithStoreHistory(nil),
		rewind.WithClock(stepClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))),
	}
	eng, err := rewind.Open(context.Background(), dir, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func create(t *testing.T, eng *rewind.Engine, name string) *checkpoint.Checkpoint {
	t.Helper()
	cp, err := eng.Create(context.Background(), rewind.CreateRequest{Name: name})
	require.NoError(t, err)
	return cp
}

func TestEngine_CheckpointCompareRestore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "F1", strings.Repeat("1", 100))
	writeFile(t, dir, "F2", strings.Repeat("2", 100))
	writeFile(t, dir, "F3", strings.Repeat("3", 100))
	eng := openEngine(t, dir)

	a := create(t, eng, "A")
	assert.Equal(t, 3, a.Stats.FileCount)
	assert.Equal(t, int64(300), a.Stats.TotalSize)
	assert.Equal(t, checkpoint.TriggerManual, a.Trigger)
	assert.NoFileExists(t, filepath.Join(dir, ".gitignore"))

	writeFile(t, dir, "F2", "changed")
	b := create(t, eng, "B")

	res, err := eng.Compare(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"F2"}, res.Modified)
	assert.Empty(t, res.Added)
	assert.Empty(t, res.Removed)
	assert.ElementsMatch(t, []string{"F1", "F3"}, res.Unchanged)

	live, err := eng.CompareLive(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"F2"}, live.Modified)

	restored, err := eng.Restore(ctx, a.ID, rewind.RestoreOptions{})
	require.NoError(t, err)
	assert.Len(t, restored.Restored, 3)
	assert.Empty(t, restored.Failed)
	assert.Nil(t, restored.Backup)
	assert.Equal(t, strings.Repeat("2", 100), readFile(t, dir, "F2"))

	live, err = eng.CompareLive(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, live.Empty())

	list, err := eng.List(ctx, index.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Nil(t, list[0].Manifest)
}

func TestEngine_Open(t *testing.T) {
	ctx := context.Background()

	t.Run("not a repository", func(t *testing.T) {
		dir := t.TempDir()
		_, err := rewind.Open(ctx, dir,
			rewind.WithSettings(config.Defaults()),
			rewind.WithGit(vcstest.New(dir).NotRepository()),
			rewind.WithStoreHistory(nil),
		)
		require.Error(t, err)
		assert.Equal(t, rewind.KindNotRepository, rewind.KindOf(err))
		assert.ErrorIs(t, err, rewind.ErrNotRepository)
	})

	t.Run("explicit index path outside a repository", func(t *testing.T) {
		dir := t.TempDir()
		indexPath := filepath.Join(t.TempDir(), "index.json")
		eng := openEngine(t, dir,
			rewind.WithGit(vcstest.New(dir).NotRepository()),
			rewind.WithIndexPath(indexPath),
		)
		assert.Equal(t, indexPath, eng.IndexPath())
		create(t, eng, "A")
		require.NoError(t, eng.Close())
		assert.FileExists(t, indexPath)
	})

	t.Run("index in git common dir", func(t *testing.T) {
		dir := t.TempDir()
		eng := openEngine(t, dir)
		assert.Equal(t, filepath.Join(dir, ".git", "info", index.FileName), eng.IndexPath())
	})

	t.Run("missing workspace", func(t *testing.T) {
		_, err := rewind.Open(ctx, filepath.Join(t.TempDir(), "nope"), rewind.WithSettings(config.Defaults()))
		assert.Equal(t, rewind.KindInvalid, rewind.KindOf(err))
	})

	t.Run("workspace is a file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "f", "x")
		_, err := rewind.Open(ctx, filepath.Join(dir, "f"), rewind.WithSettings(config.Defaults()))
		assert.Equal(t, rewind.KindInvalid, rewind.KindOf(err))
	})

	t.Run("adds store dirs to gitignore", func(t *testing.T) {
		dir := t.TempDir()
		eng := openEngine(t, dir, rewind.WithGit(vcstest.New(dir)))
		data := readFile(t, dir, ".gitignore")
		assert.Contains(t, data, config.DefaultStoreDir+"/")
		assert.Contains(t, data, config.DefaultWorktreesDir+"/")
		assert.DirExists(t, filepath.Join(dir, config.DefaultStoreDir))
		assert.Equal(t, "fs", eng.Backend().Name())
	})

	t.Run("zero settings get default dirs", func(t *testing.T) {
		dir := t.TempDir()
		eng := openEngine(t, dir, rewind.WithSettings(config.Settings{}))
		assert.Equal(t, config.DefaultStoreDir, eng.Settings().StoreDir)
		assert.DirExists(t, filepath.Join(dir, config.DefaultStoreDir))
	})
}

func TestEngine_OpenBackends(t *testing.T) {
	for _, kind := range []string{store.KindFS, store.KindMemory, store.KindSQLite, store.KindBadger} {
		t.Run(kind, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "main.go", "package main")
			settings := config.Defaults()
			settings.Backend = kind
			eng := openEngine(t, dir, rewind.WithSettings(settings))
			assert.Equal(t, kind, eng.Backend().Name())

			cp := create(t, eng, "A")
			got, err := eng.Get(context.Background(), cp.ID)
			require.NoError(t, err)
			require.NotNil(t, got.Manifest)
			_, ok := got.Manifest.Lookup("main.go")
			assert.True(t, ok)
		})
	}
}

func TestEngine_StoreNeverSnapshotted(t *testing.T) {
	ctx := context.Background()
	for _, kind := range []string{store.KindFS, store.KindMemory, store.KindSQLite, store.KindBadger} {
		t.Run(kind, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "a.txt", "v1")
			settings := config.Defaults()
			settings.Backend = kind
			eng := openEngine(t, dir, rewind.WithSettings(settings))

			first := create(t, eng, "A")
			writeFile(t, dir, "a.txt", "v2")
			second := create(t, eng, "B")

			for _, cp := range []*checkpoint.Checkpoint{first, second} {
				got, err := eng.Get(ctx, cp.ID)
				require.NoError(t, err)
				assert.Equal(t, []string{"a.txt"}, got.Manifest.Paths())
			}

			res, err := eng.Restore(ctx, first.ID, rewind.RestoreOptions{})
			require.NoError(t, err)
			for _, p := range res.Restored {
				assert.False(t, strings.HasPrefix(p, config.DefaultStoreDir), "restored %s", p)
			}
			assert.Equal(t, "v1", readFile(t, dir, "a.txt"))
		})
	}
}

func TestEngine_AbsoluteStoreDirInsideWorkspace(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	settings := config.Defaults()
	settings.StoreDir = filepath.Join(dir, "state", "checkpoints")
	eng := openEngine(t, dir, rewind.WithSettings(settings))

	create(t, eng, "A")
	second := create(t, eng, "B")
	assert.DirExists(t, settings.StoreDir)

	got, err := eng.Get(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, got.Manifest.Paths())
}

func TestEngine_SQLiteDefaultsInsideStoreDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	settings := config.Defaults()
	settings.Backend = store.KindSQLite
	eng := openEngine(t, dir, rewind.WithSettings(settings))
	create(t, eng, "A")

	assert.FileExists(t, filepath.Join(dir, config.DefaultStoreDir, "checkpoints.db"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Name() != config.DefaultStoreDir {
			assert.False(t, strings.HasPrefix(e.Name(), config.DefaultStoreDir), "stray %s", e.Name())
		}
	}
}

func TestEngine_OpenRejectsNegativeMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	settings := config.Defaults()
	settings.MaxFileSize = -1
	_, err := rewind.Open(context.Background(), dir,
		rewind.WithSettings(settings),
		rewind.WithGit(repoGit(dir)),
		rewind.WithStoreHistory(nil),
	)

	var opErr *rewind.OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, rewind.KindInvalid, opErr.Kind)
	assert.ErrorIs(t, err, rewind.ErrInvalidArgument)
}

func TestEngine_OpenRebuildsEmptyIndex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")

	eng := openEngine(t, dir)
	create(t, eng, "one")
	create(t, eng, "two")
	indexPath := eng.IndexPath()
	require.NoError(t, eng.Close())
	require.NoError(t, os.Remove(indexPath))

	eng = openEngine(t, dir)
	list, err := eng.List(context.Background(), index.Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestEngine_Create(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	writeFile(t, dir, "node_modules/dep/index.js", "dep")
	eng := openEngine(t, dir)

	t.Run("defaults", func(t *testing.T) {
		cp, err := eng.Create(ctx, rewind.CreateRequest{})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(cp.Name, "checkpoint "))
		assert.Equal(t, checkpoint.TriggerManual, cp.Trigger)
		assert.Equal(t, 1, cp.Stats.FileCount)
		_, ok := cp.Manifest.Lookup("node_modules/dep/index.js")
		assert.False(t, ok)
	})

	t.Run("details and tags", func(t *testing.T) {
		cp, err := eng.Create(ctx, rewind.CreateRequest{
			Name:       "after commit",
			Trigger:    checkpoint.TriggerPostCommit,
			CommitHash: "abc123",
			Tags:       []string{" b", "a", "b"},
			WorktreeID: "wt-1",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, cp.Tags)

		list, err := eng.List(ctx, index.Filter{WorktreeID: "wt-1"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "abc123", list[0].CommitHash)
	})

	t.Run("missing trigger detail", func(t *testing.T) {
		before, err := eng.Backend().IDs(ctx)
		require.NoError(t, err)

		_, err = eng.Create(ctx, rewind.CreateRequest{Trigger: checkpoint.TriggerAgentMode})
		require.Error(t, err)
		assert.Equal(t, rewind.KindInvalid, rewind.KindOf(err))
		assert.ErrorIs(t, err, checkpoint.ErrInvalidMetadata)

		after, err := eng.Backend().IDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := eng.Create(cctx, rewind.CreateRequest{})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEngine_ConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	eng := openEngine(t, dir)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Create(ctx, rewind.CreateRequest{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ids, err := eng.Backend().IDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, n)
	stats, err := eng.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, stats.Count)
}

func TestEngine_Get_NotFound(t *testing.T) {
	eng := openEngine(t, t.TempDir())

	_, err := eng.Get(context.Background(), "cp-1-deadbeef")
	require.Error(t, err)
	assert.True(t, rewind.IsNotFound(err))

	var opErr *rewind.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "get", opErr.Op)
	assert.Equal(t, "cp-1-deadbeef", opErr.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEngine_Restore(t *testing.T) {
	ctx := context.Background()

	t.Run("with backup", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.txt", "v1")
		eng := openEngine(t, dir)
		a := create(t, eng, "A")
		writeFile(t, dir, "a.txt", "v2")

		res, err := eng.Restore(ctx, a.ID, rewind.RestoreOptions{CreateBackup: true})
		require.NoError(t, err)
		require.NotNil(t, res.Backup)
		assert.Equal(t, checkpoint.TriggerPreRestoreSafety, res.Backup.Trigger)
		assert.Equal(t, a.ID, res.Backup.RestoreTarget)
		assert.Equal(t, "v1", readFile(t, dir, "a.txt"))

		// The backup holds the content from before the restore.
		restored, err := eng.Restore(ctx, res.Backup.ID, rewind.RestoreOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.txt"}, restored.Restored)
		assert.Equal(t, "v2", readFile(t, dir, "a.txt"))

		list, err := eng.List(ctx, index.Filter{Trigger: checkpoint.TriggerPreRestoreSafety})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("selective", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "src/a.go", "a1")
		writeFile(t, dir, "docs/b.md", "b1")
		eng := openEngine(t, dir)
		cp := create(t, eng, "A")
		writeFile(t, dir, "src/a.go", "a2")
		writeFile(t, dir, "docs/b.md", "b2")

		res, err := eng.Restore(ctx, cp.ID, rewind.RestoreOptions{Selective: []string{"src"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"src/a.go"}, res.Restored)
		assert.Equal(t, "a1", readFile(t, dir, "src/a.go"))
		assert.Equal(t, "b2", readFile(t, dir, "docs/b.md"))
	})

	t.Run("additive", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.txt", "a")
		eng := openEngine(t, dir)
		cp := create(t, eng, "A")
		writeFile(t, dir, "new.txt", "new")

		_, err := eng.Restore(ctx, cp.ID, rewind.RestoreOptions{})
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(dir, "new.txt"))
	})

	t.Run("unknown checkpoint takes no backup", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.txt", "a")
		eng := openEngine(t, dir)

		_, err := eng.Restore(ctx, "cp-1-deadbeef", rewind.RestoreOptions{CreateBackup: true})
		assert.True(t, rewind.IsNotFound(err))
		ids, err := eng.Backend().IDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestEngine_Delete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	eng := openEngine(t, dir)
	cp := create(t, eng, "A")

	require.NoError(t, eng.Delete(ctx, cp.ID))
	_, err := eng.Get(ctx, cp.ID)
	assert.True(t, rewind.IsNotFound(err))
	list, err := eng.List(ctx, index.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	err = eng.Delete(ctx, cp.ID)
	assert.True(t, rewind.IsNotFound(err))
}

func TestEngine_Delete_DropsStaleIndexEntry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	eng := openEngine(t, dir)
	cp := create(t, eng, "A")
	require.NoError(t, eng.Backend().Delete(ctx, cp.ID))

	err := eng.Delete(ctx, cp.ID)
	assert.True(t, rewind.IsNotFound(err))
	list, err := eng.List(ctx, index.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEngine_Edit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	eng := openEngine(t, dir)
	cp := create(t, eng, "A")

	got, err := eng.Rename(ctx, cp.ID, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, cp.Created, got.Created)

	got, err = eng.Describe(ctx, cp.ID, "before the big refactor")
	require.NoError(t, err)
	assert.Equal(t, "before the big refactor", got.Description)

	got, err = eng.Tag(ctx, cp.ID, "release", "stable", "release")
	require.NoError(t, err)
	assert.Equal(t, []string{"release", "stable"}, got.Tags)

	got, err = eng.Untag(ctx, cp.ID, "stable", "missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"release"}, got.Tags)

	list, err := eng.List(ctx, index.Filter{Tags: []string{"release"}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "renamed", list[0].Name)

	list, err = eng.List(ctx, index.Filter{Text: "big refactor"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = eng.Rename(ctx, cp.ID, "  ")
	assert.Equal(t, rewind.KindInvalid, rewind.KindOf(err))

	_, err = eng.Tag(ctx, "cp-1-deadbeef", "x")
	assert.True(t, rewind.IsNotFound(err))
}

func TestEngine_ExportImport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")
	eng := openEngine(t, dir)
	cp := create(t, eng, "A")

	archive := filepath.Join(t.TempDir(), "a.tar.gz")
	require.NoError(t, eng.Export(ctx, cp.ID, archive))
	require.NoError(t, eng.Delete(ctx, cp.ID))

	imported, err := eng.Import(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, cp.ID, imported.ID)
	assert.Equal(t, checkpoint.TriggerImported, imported.Trigger)
	assert.Equal(t, "a.tar.gz", imported.SourceArchive)

	list, err := eng.List(ctx, index.Filter{Trigger: checkpoint.TriggerImported})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, cp.ID, list[0].ID)

	_, err = eng.Import(ctx, archive)
	assert.Equal(t, rewind.KindInvalid, rewind.KindOf(err))

	err = eng.Export(ctx, "cp-1-deadbeef", filepath.Join(t.TempDir(), "x.tar.gz"))
	assert.True(t, rewind.IsNotFound(err))
}

func TestEngine_Prune(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	settings := config.Defaults()
	settings.PreserveTags = []string{"keep"}
	eng := openEngine(t, dir, rewind.WithSettings(settings))

	var cps []*checkpoint.Checkpoint
	for _, name := range []string{"c1", "c2", "c3", "c4", "c5"} {
		cps = append(cps, create(t, eng, name))
	}
	_, err := eng.Tag(ctx, cps[0].ID, "keep")
	require.NoError(t, err)

	plan, err := eng.PlanPrune(ctx, retention.Policy{MaxCount: 2, PreserveTags: settings.PreserveTags})
	require.NoError(t, err)
	require.Len(t, plan, 5)
	ids, err := eng.Backend().IDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 5)

	report, err := eng.PruneByCount(ctx, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{cps[1].ID, cps[2].ID}, report.Deleted)
	assert.Empty(t, report.Failed)

	list, err := eng.List(ctx, index.Filter{})
	require.NoError(t, err)
	var names []string
	for _, cp := range list {
		names = append(names, cp.Name)
	}
	assert.Equal(t, []string{"c5", "c4", "c1"}, names)

	_, err = eng.PruneByCount(ctx, 0)
	assert.Equal(t, rewind.KindInvalid, rewind.KindOf(err))
	_, err = eng.PruneByAge(ctx, -1)
	assert.Equal(t, rewind.KindInvalid, rewind.KindOf(err))
}

func TestEngine_RetentionPolicy(t *testing.T) {
	settings := config.Defaults()
	settings.RetentionMaxAge = 48 * time.Hour
	settings.RetentionMaxCount = 10
	settings.PreserveTags = []string{"release"}
	eng := openEngine(t, t.TempDir(), rewind.WithSettings(settings))

	assert.Equal(t, retention.Policy{
		MaxAge:       48 * time.Hour,
		MaxCount:     10,
		PreserveTags: []string{"release"},
	}, eng.RetentionPolicy())
}

func TestEngine_Migrate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	eng := openEngine(t, dir)
	a := create(t, eng, "A")
	b := create(t, eng, "B")

	target := store.NewMemoryStore()
	defer target.Close()

	report, err := eng.Migrate(ctx, target, retention.MigrateOptions{Move: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, report.Copied)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, report.Removed)

	ids, err := target.IDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	list, err := eng.List(ctx, index.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = eng.Migrate(ctx, nil, retention.MigrateOptions{})
	assert.Equal(t, rewind.KindInvalid, rewind.KindOf(err))
}

func TestEngine_CleanupOrphans(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	eng := openEngine(t, dir)
	keep := create(t, eng, "keep")
	gone := create(t, eng, "gone")

	// A creation that never committed, and a checkpoint removed behind the
	// index's back.
	orphan := checkpoint.NewID(time.Now())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, config.DefaultStoreDir, orphan), 0o755))
	require.NoError(t, eng.Backend().Delete(ctx, gone.ID))

	report, err := eng.CleanupOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, report.Store)
	assert.Equal(t, 1, report.Index)
	assert.NoDirExists(t, filepath.Join(dir, config.DefaultStoreDir, orphan))

	list, err := eng.List(ctx, index.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID, list[0].ID)

	report, err = eng.CleanupOrphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Store)
	assert.Zero(t, report.Index)
}

func TestEngine_RebuildIndex(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	eng := openEngine(t, dir)
	a := create(t, eng, "A")
	create(t, eng, "B")

	// Edits made straight to the store are invisible until a rebuild.
	meta := a.Metadata
	meta.Name = "renamed behind the index"
	require.NoError(t, eng.Backend().UpdateMetadata(ctx, &meta))

	n, err := eng.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := eng.List(ctx, index.Filter{Text: "behind the index"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestEngine_Statistics(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "12345")
	eng := openEngine(t, dir)
	create(t, eng, "A")
	_, err := eng.Create(ctx, rewind.CreateRequest{Trigger: checkpoint.TriggerAutomatic})
	require.NoError(t, err)

	stats, err := eng.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, int64(10), stats.TotalSize)
	assert.Equal(t, 1, stats.ByTrigger[checkpoint.TriggerManual])
	assert.Equal(t, 1, stats.ByTrigger[checkpoint.TriggerAutomatic])
}

func TestEngine_Close(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	eng := openEngine(t, dir)
	cp := create(t, eng, "A")

	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())

	_, err := eng.Create(ctx, rewind.CreateRequest{})
	assert.Equal(t, rewind.KindNotInitialized, rewind.KindOf(err))
	assert.ErrorIs(t, err, rewind.ErrEngineClosed)

	_, err = eng.Get(ctx, cp.ID)
	assert.ErrorIs(t, err, rewind.ErrEngineClosed)

	err = eng.Watch(ctx)
	assert.ErrorIs(t, err, rewind.ErrEngineClosed)
}

// panickyStore panics on Load.
type panickyStore struct {
	*store.MemoryStore
}

func (panickyStore) Load(context.Context, string) (*checkpoint.Checkpoint, error) {
	panic("corrupt state")
}

func TestEngine_RecoversPanics(t *testing.T) {
	dir := t.TempDir()
	eng := openEngine(t, dir, rewind.WithBackend(panickyStore{store.NewMemoryStore()}))

	_, err := eng.Get(context.Background(), "cp-1-deadbeef")
	require.Error(t, err)
	assert.Equal(t, rewind.KindInternal, rewind.KindOf(err))

	var panicErr *rewind.PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "corrupt state", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)

	// The writer lock is released after a panic.
	_, err = eng.Restore(context.Background(), "cp-1-deadbeef", rewind.RestoreOptions{})
	assert.Equal(t, rewind.KindInternal, rewind.KindOf(err))
	_, err = eng.Create(context.Background(), rewind.CreateRequest{})
	assert.NoError(t, err)
}

func TestEngine_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	settings := config.Defaults()
	settings.WatchQuietPeriod = 50 * time.Millisecond
	settings.WatchMinInterval = 0
	eng := openEngine(t, dir, rewind.WithSettings(settings))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Watch(ctx) }()

	// Give the watcher time to register the tree.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "a.txt", "changed")

	require.Eventually(t, func() bool {
		list, err := eng.List(context.Background(), index.Filter{Trigger: checkpoint.TriggerAutomatic})
		return err == nil && len(list) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}

	list, err := eng.List(context.Background(), index.Filter{Trigger: checkpoint.TriggerAutomatic})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "auto: 1 file changed", list[0].Name)
}

func TestEngine_ErrorsAreOpErrors(t *testing.T) {
	eng := openEngine(t, t.TempDir())
	_, err := eng.Compare(context.Background(), "cp-1-deadbeef", "cp-2-deadbeef")

	var opErr *rewind.OpError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, "compare", opErr.Op)
	assert.Equal(t, rewind.KindNotFound, opErr.Kind)
	assert.Contains(t, err.Error(), "cp-1-deadbeef")
}

// recordingSpans traces into a private provider instead of the global one.
type recordingSpans struct{ tracer trace.Tracer }

func (r recordingSpans) StartOperationSpan(ctx context.Context, op, _ string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "rewind."+op)
}

func (recordingSpans) EndSpanWithError(span trace.Span, err error) {
	observability.EndSpanWithError(span, err)
}

func (recordingSpans) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	observability.AddSpanEvent(ctx, name, attrs...)
}

func TestEngine_SpanEvents(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "one")
	eng := openEngine(t, dir, rewind.WithTracing(recordingSpans{tracer: tp.Tracer("test")}))
	ctx := context.Background()

	cp, err := eng.Create(ctx, rewind.CreateRequest{Name: "traced"})
	require.NoError(t, err)
	_, err = eng.Restore(ctx, cp.ID, rewind.RestoreOptions{CreateBackup: true})
	require.NoError(t, err)

	events := map[string][]string{}
	for _, s := range exporter.GetSpans() {
		for _, ev := range s.Events {
			events[s.Name] = append(events[s.Name], ev.Name)
		}
	}
	assert.Equal(t, []string{"snapshot.committed"}, events["rewind.create"])
	assert.Equal(t, []string{"snapshot.committed", "restore.backup", "restore.written"}, events["rewind.restore"])
}
