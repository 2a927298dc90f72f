package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/store"
	"github.com/randalmurphal/rewind/pkg/rewind/vcs/vcstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSBackend_Layout(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)

	meta := newMeta("layout", time.Now())
	m := commitFiles(t, b, meta, map[string]string{"a.txt": "alpha"})

	dir := filepath.Join(b.Root(), meta.ID)
	assert.FileExists(t, filepath.Join(b.Root(), store.ReadmeFile))
	assert.FileExists(t, filepath.Join(dir, store.MetadataFile))
	assert.FileExists(t, filepath.Join(dir, store.ManifestFile))
	assert.FileExists(t, filepath.Join(dir, "files", m.Files[0].Hash))

	ids, err := b.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{meta.ID}, ids)
}

func TestFSBackend_NotInitialized(t *testing.T) {
	ctx := context.Background()
	b := store.NewFSBackend(filepath.Join(t.TempDir(), ".rewind"))
	assert.False(t, b.Initialized())

	_, err := b.IDs(ctx)
	assert.ErrorIs(t, err, store.ErrNotInitialized)
	_, err = b.Begin(ctx, newMeta("x", time.Now()))
	assert.ErrorIs(t, err, store.ErrNotInitialized)

	require.NoError(t, b.Initialize(ctx))
	require.NoError(t, b.Initialize(ctx), "initialize is idempotent")
	assert.True(t, b.Initialized())
}

func TestFSBackend_KeepsExistingReadme(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".rewind")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, store.ReadmeFile), []byte("custom\n"), 0o644))

	b := store.NewFSBackend(root)
	require.NoError(t, b.Initialize(context.Background()))

	data, err := os.ReadFile(filepath.Join(root, store.ReadmeFile))
	require.NoError(t, err)
	assert.Equal(t, "custom\n", string(data))
}

func TestFSBackend_Orphans(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)

	good := newMeta("good", time.Now())
	commitFiles(t, b, good, map[string]string{"a": "1"})

	// Simulate a crash between Begin and Commit.
	crashed := newMeta("crashed", time.Now())
	_, err := b.Begin(ctx, crashed)
	require.NoError(t, err)

	staging := filepath.Join(b.Root(), ".staging-leftover")
	require.NoError(t, os.Mkdir(staging, 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(b.Root(), "unrelated"), 0o755))

	ids, err := b.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{good.ID}, ids)

	orphans, err := b.Orphans(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{crashed.ID, ".staging-leftover"}, orphans)

	removed, err := b.CleanupOrphans(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, orphans, removed)
	assert.NoDirExists(t, filepath.Join(b.Root(), crashed.ID))
	assert.NoDirExists(t, staging)
	assert.DirExists(t, filepath.Join(b.Root(), "unrelated"))

	_, err = b.Load(ctx, good.ID)
	assert.NoError(t, err)
}

func TestFSBackend_LoadRejectsMismatchedMetadata(t *testing.T) {
	ctx := context.Background()
	b := newFSBackend(t)

	meta := newMeta("orig", time.Now())
	commitFiles(t, b, meta, map[string]string{"a": "1"})

	other := newMeta("other", time.Now())
	require.NoError(t, os.Rename(filepath.Join(b.Root(), meta.ID), filepath.Join(b.Root(), other.ID)))

	_, err := b.Load(ctx, other.ID)
	assert.ErrorIs(t, err, checkpoint.ErrInvalidMetadata)
}

func TestFSBackend_History(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), ".rewind")
	git := vcstest.New(root).NotRepository()

	b := store.NewFSBackend(root, store.WithHistory(git))
	require.NoError(t, b.Initialize(ctx))
	assert.Equal(t, 1, git.Inits)
	require.Equal(t, 1, git.CommitCount())
	assert.Equal(t, "initialize checkpoint store", git.Commits[0])

	meta := newMeta("feature", time.Now())
	commitFiles(t, b, meta, map[string]string{"a": "1"})
	require.Equal(t, 2, git.CommitCount())
	assert.Equal(t, "checkpoint "+meta.ID+" (manual): feature", git.Commits[1])
	assert.Equal(t, []string{meta.ID}, git.Added[1])

	edit := *meta
	edit.Name = "renamed"
	require.NoError(t, b.UpdateMetadata(ctx, &edit))
	require.NoError(t, b.Delete(ctx, meta.ID))

	assert.Equal(t, 4, git.CommitCount())
	assert.Equal(t, "update checkpoint "+meta.ID, git.Commits[2])
	assert.Equal(t, "delete checkpoint "+meta.ID, git.Commits[3])
	assert.Equal(t, 1, git.Inits, "history repository is created once")
}

func TestFSBackend_HistoryFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), ".rewind")
	git := vcstest.New(root)
	git.Err = errors.New("git exploded")

	b := store.NewFSBackend(root, store.WithHistory(git))
	require.NoError(t, b.Initialize(ctx))

	meta := newMeta("still works", time.Now())
	commitFiles(t, b, meta, map[string]string{"a": "1"})

	_, err := b.Load(ctx, meta.ID)
	assert.NoError(t, err)
	assert.Zero(t, git.CommitCount())
}
