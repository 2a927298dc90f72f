package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/randalmurphal/rewind/pkg/rewind/ignore"
)

// WalkFunc is called for each eligible regular file. rel is slash-separated.
// Returning an error aborts the walk.
type WalkFunc func(rel, abs string, info fs.FileInfo) error

// Walk visits every regular file under root that filter admits, depth first
// in lexical order. Ignored directories are pruned, symlinks and other
// non-regular entries are skipped, and oversized files are reported to
// onErr with ErrFileTooLarge. A nil filter admits everything.
//
// Per-entry failures go to onErr and the walk continues. Walk returns an
// error only when root is unusable, fn fails, or ctx is cancelled.
func Walk(ctx context.Context, root string, filter *ignore.Filter, fn WalkFunc, onErr func(ScanError)) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, root)
	}
	if onErr == nil {
		onErr = func(ScanError) {}
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return walkErr
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			onErr(ScanError{Path: filepath.ToSlash(path), Err: err})
			return nil
		}
		rel = filepath.ToSlash(rel)

		if walkErr != nil {
			onErr(ScanError{Path: rel, Err: walkErr})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if filter != nil && filter.MatchDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if filter != nil && filter.MatchFile(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			onErr(ScanError{Path: rel, Err: err})
			return nil
		}
		if filter != nil && filter.Oversized(info.Size()) {
			onErr(ScanError{
				Path: rel,
				Err:  fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, info.Size(), filter.MaxFileSize()),
				Size: info.Size(),
			})
			return nil
		}

		return fn(rel, path, info)
	})
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func isPermission(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}
