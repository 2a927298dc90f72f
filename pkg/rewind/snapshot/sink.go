package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// BlobSink receives content-addressed blobs during a snapshot.
//
// HasBlob lets the snapshotter skip writing content it already delivered
// under the same hash, so identical files within one checkpoint share a blob.
type BlobSink interface {
	HasBlob(hash string) (bool, error)
	WriteBlob(hash string, data []byte) error
}

// BlobsDir is the directory under a checkpoint that holds its blobs.
const BlobsDir = "files"

// DirSink stores blobs as <dir>/files/<sha256>.
type DirSink struct {
	dir string
}

// Compile-time interface check.
var _ BlobSink = (*DirSink)(nil)

// NewDirSink returns a sink writing into targetDir/files.
func NewDirSink(targetDir string) *DirSink {
	return &DirSink{dir: targetDir}
}

// Dir returns the checkpoint directory the sink writes under.
func (s *DirSink) Dir() string {
	return s.dir
}

// BlobPath returns where the blob for hash lives.
func (s *DirSink) BlobPath(hash string) string {
	return filepath.Join(s.dir, BlobsDir, hash)
}

// HasBlob implements BlobSink.
func (s *DirSink) HasBlob(hash string) (bool, error) {
	if !ValidHash(hash) {
		return false, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	_, err := os.Stat(s.BlobPath(hash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// WriteBlob implements BlobSink. The blob appears under its final name only
// once fully written.
func (s *DirSink) WriteBlob(hash string, data []byte) error {
	if !ValidHash(hash) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return WriteFileAtomic(s.BlobPath(hash), data, 0o644)
}

// ReadBlob returns the stored bytes for hash.
func (s *DirSink) ReadBlob(hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return os.ReadFile(s.BlobPath(hash))
}

// WriteFileAtomic writes data to a temp file beside path, then renames it
// into place. Parent directories are created as needed.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

// HashBytes returns the lowercase hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile streams the file at path through SHA-256.
func HashFile(path string) (hash string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err = io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// ValidHash reports whether hash is 64 lowercase hex characters.
func ValidHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
