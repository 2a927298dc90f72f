package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Backend kinds accepted by Open.
const (
	KindFS     = "fs"
	KindMemory = "memory"
	KindSQLite = "sqlite"
	KindBadger = "badger"
)

// Kinds lists every backend Open can build.
var Kinds = []string{KindFS, KindMemory, KindSQLite, KindBadger}

// Open builds and readies a backend of the given kind at path.
//
// path is the store directory for "fs", the database file for "sqlite" and
// the database directory for "badger"; "memory" ignores it. An fs backend is
// initialized before it is returned. logger may be nil.
func Open(ctx context.Context, kind, path string, logger *slog.Logger, opts ...FSOption) (Backend, error) {
	switch kind {
	case KindFS, "":
		if logger != nil {
			opts = append([]FSOption{WithLogger(logger)}, opts...)
		}
		b := NewFSBackend(path, opts...)
		if err := b.Initialize(ctx); err != nil {
			return nil, err
		}
		return b, nil
	case KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		if path != ":memory:" {
			if filepath.Ext(path) == "" {
				path = filepath.Join(path, "checkpoints.db")
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		return NewSQLiteStore(path)
	case KindBadger:
		cfg := DefaultBadgerConfig(path)
		cfg.Logger = logger
		return NewBadgerStore(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}
