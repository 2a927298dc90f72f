// Package diff compares checkpoint manifests with each other and with the
// live workspace.
//
// Comparisons work on path to hash maps, so they are linear in the number
// of files. Every list in a Result is sorted.
package diff

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/ignore"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
)

// Result lists paths by how they changed going from the first side to the
// second.
type Result struct {
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Modified  []string `json:"modified"`
	Unchanged []string `json:"unchanged"`
}

// Empty reports whether nothing was added, removed or modified.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Modified) == 0
}

// Changed returns the number of added, removed and modified paths.
func (r Result) Changed() int {
	return len(r.Added) + len(r.Removed) + len(r.Modified)
}

// Summary renders the counts, e.g. "2 added, 1 removed, 3 modified, 10 unchanged".
func (r Result) Summary() string {
	return fmt.Sprintf("%d added, %d removed, %d modified, %d unchanged",
		len(r.Added), len(r.Removed), len(r.Modified), len(r.Unchanged))
}

// Manifests compares a (before) with b (after). A nil manifest is empty.
func Manifests(a, b *checkpoint.Manifest) Result {
	return compare(a.HashIndex(), b.HashIndex())
}

func compare(before, after map[string]string) Result {
	r := Result{
		Added:     []string{},
		Removed:   []string{},
		Modified:  []string{},
		Unchanged: []string{},
	}
	for path, hash := range before {
		next, ok := after[path]
		switch {
		case !ok:
			r.Removed = append(r.Removed, path)
		case next != hash:
			r.Modified = append(r.Modified, path)
		default:
			r.Unchanged = append(r.Unchanged, path)
		}
	}
	for path := range after {
		if _, ok := before[path]; !ok {
			r.Added = append(r.Added, path)
		}
	}
	sort.Strings(r.Added)
	sort.Strings(r.Removed)
	sort.Strings(r.Modified)
	sort.Strings(r.Unchanged)
	return r
}

// Live compares a checkpoint's manifest (before) with the workspace at root
// (after).
//
// Every manifest path is hashed on disk, ignored or not. The workspace is
// also walked through filter to find files the checkpoint does not have;
// those are reported as Added and would survive a restore. Removed paths
// are files a restore would bring back.
func Live(ctx context.Context, m *checkpoint.Manifest, root string, filter *ignore.Filter) (Result, error) {
	before := m.HashIndex()
	after := make(map[string]string, len(before))

	for path := range before {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		current, ok, err := hashPath(root, path, sizeOf(m, path))
		if err != nil {
			return Result{}, fmt.Errorf("hash %s: %w", path, err)
		}
		if !ok {
			continue
		}
		// An empty hash means the size changed; it never equals a real hash.
		after[path] = current
	}

	err := snapshot.Walk(ctx, root, filter, func(rel, _ string, _ fs.FileInfo) error {
		if _, tracked := before[rel]; !tracked {
			after[rel] = ""
		}
		return nil
	}, nil)
	if err != nil {
		return Result{}, err
	}
	return compare(before, after), nil
}

func sizeOf(m *checkpoint.Manifest, path string) int64 {
	f, ok := m.Lookup(path)
	if !ok {
		return -1
	}
	return f.Size
}

// hashPath hashes the regular file at root/rel. ok is false when the file is
// gone or no longer a regular file. When size is known and differs from the
// file on disk, hashing is skipped and hash is empty.
func hashPath(root, rel string, size int64) (hash string, ok bool, err error) {
	native := filepath.FromSlash(rel)
	if !filepath.IsLocal(native) {
		return "", false, nil
	}
	abs := filepath.Join(root, native)
	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !info.Mode().IsRegular() {
		return "", false, nil
	}
	if size >= 0 && info.Size() != size {
		return "", true, nil
	}
	hash, _, err = snapshot.HashFile(abs)
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}
