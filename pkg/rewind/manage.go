package rewind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/store"
)

// Delete removes a checkpoint from the store and the index. An index entry
// whose checkpoint is already gone from the store is dropped as well, and
// the call still reports not-found.
func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.run(ctx, "delete", id, true, func(ctx context.Context) error {
		return e.delete(ctx, id)
	})
}

// delete runs under the writer lock.
func (e *Engine) delete(ctx context.Context, id string) error {
	err := e.backend.Delete(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	e.index.Remove(id)
	if err == nil {
		e.logger.Info("checkpoint deleted", slog.String("checkpoint_id", id))
	}
	return err
}

// Rename changes a checkpoint's name.
func (e *Engine) Rename(ctx context.Context, id, name string) (*checkpoint.Checkpoint, error) {
	if strings.TrimSpace(name) == "" {
		return nil, opError("rename", id, fmt.Errorf("%w: empty name", ErrInvalidArgument))
	}
	return e.edit(ctx, "rename", id, func(m *checkpoint.Metadata) {
		m.Name = name
	})
}

// Describe replaces a checkpoint's description.
func (e *Engine) Describe(ctx context.Context, id, description string) (*checkpoint.Checkpoint, error) {
	return e.edit(ctx, "describe", id, func(m *checkpoint.Metadata) {
		m.Description = description
	})
}

// Tag adds tags to a checkpoint.
func (e *Engine) Tag(ctx context.Context, id string, tags ...string) (*checkpoint.Checkpoint, error) {
	return e.edit(ctx, "tag", id, func(m *checkpoint.Metadata) {
		m.Tags = append(m.Tags, tags...)
	})
}

// Untag removes tags from a checkpoint. Tags it does not carry are ignored.
func (e *Engine) Untag(ctx context.Context, id string, tags ...string) (*checkpoint.Checkpoint, error) {
	drop := make(map[string]bool, len(tags))
	for _, t := range tags {
		drop[strings.TrimSpace(t)] = true
	}
	return e.edit(ctx, "untag", id, func(m *checkpoint.Metadata) {
		kept := m.Tags[:0:0]
		for _, t := range m.Tags {
			if !drop[t] {
				kept = append(kept, t)
			}
		}
		m.Tags = kept
	})
}

// edit applies a cosmetic change through the store and refreshes the index.
func (e *Engine) edit(ctx context.Context, op, id string, change func(*checkpoint.Metadata)) (*checkpoint.Checkpoint, error) {
	var out *checkpoint.Checkpoint
	err := e.run(ctx, op, id, true, func(ctx context.Context) error {
		cp, err := e.backend.Load(ctx, id)
		if err != nil {
			return err
		}
		meta := cp.Metadata
		meta.Tags = append([]string(nil), cp.Tags...)
		change(&meta)
		if err := e.backend.UpdateMetadata(ctx, &meta); err != nil {
			return err
		}

		out, err = e.backend.Load(ctx, id)
		if err != nil {
			return err
		}
		return e.index.Upsert(out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Export writes checkpoint id to a tar.gz archive at dest.
func (e *Engine) Export(ctx context.Context, id, dest string) error {
	return e.run(ctx, "export", id, false, func(ctx context.Context) error {
		if err := store.Export(ctx, e.backend, id, dest); err != nil {
			return err
		}
		e.logger.Info("checkpoint exported",
			slog.String("checkpoint_id", id),
			slog.String("archive", dest),
		)
		return nil
	})
}

// Import adds the checkpoint in the archive at src to the store and index.
// The archive is validated completely before anything becomes visible.
func (e *Engine) Import(ctx context.Context, src string) (*checkpoint.Checkpoint, error) {
	var cp *checkpoint.Checkpoint
	err := e.run(ctx, "import", "", true, func(ctx context.Context) error {
		var err error
		cp, err = store.Import(ctx, e.backend, src)
		if err != nil {
			return err
		}
		if err := e.index.Upsert(cp); err != nil {
			return err
		}
		e.logger.Info("checkpoint imported",
			slog.String("checkpoint_id", cp.ID),
			slog.String("archive", src),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}
