package restore_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/restore"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobMap serves blobs from memory.
type blobMap map[string][]byte

func (b blobMap) ReadBlob(_ context.Context, _, hash string) ([]byte, error) {
	data, ok := b[hash]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

var mtime = time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC)

type file struct {
	content string
	mode    os.FileMode
}

func build(files map[string]file) (*checkpoint.Checkpoint, blobMap) {
	cp := checkpoint.New("test", checkpoint.TriggerManual, time.Now())
	blobs := blobMap{}
	m := checkpoint.NewManifest()
	for path, f := range files {
		data := []byte(f.content)
		hash := snapshot.HashBytes(data)
		blobs[hash] = data
		m.Add(checkpoint.FileSnapshot{Path: path, Hash: hash, Size: int64(len(data)), ModTime: mtime, Mode: f.mode})
	}
	return cp.WithManifest(m), blobs
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestRestore_Full(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("modified"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "untracked.txt"), []byte("keep me"), 0o644))

	cp, blobs := build(map[string]file{
		"a.txt":            {content: "original", mode: 0o644},
		"deep/dir/b.txt":   {content: "nested", mode: 0o600},
		"scripts/build.sh": {content: "#!/bin/sh\n", mode: 0o755},
	})

	r := restore.New()
	report, err := r.Restore(context.Background(), cp, blobs, root, restore.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "deep/dir/b.txt", "scripts/build.sh"}, report.Restored)
	assert.Empty(t, report.Failed)
	assert.Equal(t, cp.ID, report.CheckpointID)

	assert.Equal(t, "original", readFile(t, root, "a.txt"))
	assert.Equal(t, "nested", readFile(t, root, "deep/dir/b.txt"))
	assert.Equal(t, "keep me", readFile(t, root, "untracked.txt"), "restore is additive")

	info, err := os.Stat(filepath.Join(root, "deep", "dir", "b.txt"))
	require.NoError(t, err)
	assert.True(t, mtime.Equal(info.ModTime()))
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
		info, err = os.Stat(filepath.Join(root, "scripts", "build.sh"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
}

func TestRestore_RoundTripWithSnapshot(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "pkg", "lib.go"), []byte("package pkg"), 0o644))

	sink := snapshot.NewDirSink(t.TempDir())
	m, skipped, err := snapshot.New(nil).Snapshot(context.Background(), src, sink)
	require.NoError(t, err)
	require.Empty(t, skipped)

	cp := checkpoint.New("rt", checkpoint.TriggerManual, time.Now()).WithManifest(m)
	dst := t.TempDir()
	report, err := restore.New().Restore(context.Background(), cp, dirBlobs{sink}, dst, restore.Options{})
	require.NoError(t, err)
	assert.Len(t, report.Restored, 2)
	assert.Equal(t, "package main", readFile(t, dst, "main.go"))
	assert.Equal(t, "package pkg", readFile(t, dst, "pkg/lib.go"))
}

type dirBlobs struct{ sink *snapshot.DirSink }

func (d dirBlobs) ReadBlob(_ context.Context, _, hash string) ([]byte, error) {
	return d.sink.ReadBlob(hash)
}

func TestRestore_Selective(t *testing.T) {
	cp, blobs := build(map[string]file{
		"src/a.go":     {content: "a"},
		"src/sub/b.go": {content: "b"},
		"srcfile":      {content: "not in src/"},
		"README.md":    {content: "readme"},
	})

	tests := []struct {
		name      string
		selective []string
		restored  []string
		unmatched []string
	}{
		{"directory prefix", []string{"src"}, []string{"src/a.go", "src/sub/b.go"}, nil},
		{"trailing slash", []string{"src/"}, []string{"src/a.go", "src/sub/b.go"}, nil},
		{"exact file", []string{"README.md"}, []string{"README.md"}, nil},
		{"overlapping", []string{"src", "src/a.go"}, []string{"src/a.go", "src/sub/b.go"}, nil},
		{"unmatched", []string{"docs", "srcfile"}, []string{"srcfile"}, []string{"docs"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			report, err := restore.New().Restore(context.Background(), cp, blobs, root, restore.Options{Selective: tt.selective})
			require.NoError(t, err)
			assert.Equal(t, tt.restored, report.Restored)
			assert.Equal(t, tt.unmatched, report.Unmatched)
			if !contains(tt.restored, "README.md") {
				assert.NoFileExists(t, filepath.Join(root, "README.md"))
			}
		})
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestRestore_PerFileFailures(t *testing.T) {
	root := t.TempDir()
	cp, blobs := build(map[string]file{
		"good.txt":    {content: "fine"},
		"missing.txt": {content: "blob lost"},
	})
	cp.Manifest.Add(checkpoint.FileSnapshot{Path: "../escape.txt", Hash: snapshot.HashBytes([]byte("fine")), Size: 4})
	delete(blobs, snapshot.HashBytes([]byte("blob lost")))

	var logs bytes.Buffer
	r := restore.New(restore.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	report, err := r.Restore(context.Background(), cp, blobs, root, restore.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"good.txt"}, report.Restored)
	assert.Equal(t, []string{"../escape.txt", "missing.txt"}, report.FailedPaths())
	assert.ErrorIs(t, report.Failed["../escape.txt"], restore.ErrPathEscapes)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(root), "escape.txt"))
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Equal(t, "fine", readFile(t, root, "good.txt"))
}

func TestRestore_CorruptBlob(t *testing.T) {
	root := t.TempDir()
	cp, blobs := build(map[string]file{"a.txt": {content: "right"}})
	blobs[cp.Manifest.Files[0].Hash] = []byte("wrong")

	report, err := restore.New().Restore(context.Background(), cp, blobs, root, restore.Options{})
	require.NoError(t, err)
	assert.Contains(t, report.Failed, "a.txt")
	assert.NoFileExists(t, filepath.Join(root, "a.txt"))
}

func TestRestore_Errors(t *testing.T) {
	cp, blobs := build(map[string]file{"a": {content: "1"}})

	_, err := restore.New().Restore(context.Background(), &checkpoint.Checkpoint{}, blobs, t.TempDir(), restore.Options{})
	assert.ErrorIs(t, err, restore.ErrNoManifest)

	_, err = restore.New().Restore(context.Background(), cp, blobs, filepath.Join(t.TempDir(), "missing"), restore.Options{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = restore.New().Restore(ctx, cp, blobs, t.TempDir(), restore.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
