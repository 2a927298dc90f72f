package snapshot_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSink(t *testing.T) {
	dir := t.TempDir()
	sink := snapshot.NewDirSink(dir)
	hash := snapshot.HashBytes([]byte("payload"))

	has, err := sink.HasBlob(hash)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, sink.WriteBlob(hash, []byte("payload")))

	has, err = sink.HasBlob(hash)
	require.NoError(t, err)
	assert.True(t, has)

	data, err := sink.ReadBlob(hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, filepath.Join(dir, "files", hash), sink.BlobPath(hash))

	entries, err := os.ReadDir(filepath.Join(dir, "files"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestDirSink_RejectsBadHash(t *testing.T) {
	sink := snapshot.NewDirSink(t.TempDir())

	for _, hash := range []string{"", "../../etc/passwd", strings.Repeat("A", 64), strings.Repeat("a", 63)} {
		_, err := sink.HasBlob(hash)
		assert.ErrorIs(t, err, snapshot.ErrInvalidHash, hash)
		assert.ErrorIs(t, sink.WriteBlob(hash, nil), snapshot.ErrInvalidHash, hash)
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	hash, size, err := snapshot.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash)
	assert.Equal(t, hash, snapshot.HashBytes([]byte("hello")))

	_, _, err = snapshot.HashFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFileAtomic_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file")
	require.NoError(t, snapshot.WriteFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, snapshot.WriteFileAtomic(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}
