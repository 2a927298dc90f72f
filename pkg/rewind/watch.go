package rewind

import (
	"context"

	"github.com/randalmurphal/rewind/pkg/rewind/watch"
)

// Watch takes automatic checkpoints while the workspace changes, using the
// watch.* settings, until ctx is cancelled.
func (e *Engine) Watch(ctx context.Context) error {
	if e.isClosed() {
		return opError("watch", "", ErrEngineClosed)
	}
	w, err := watch.New(e.workspace, watch.CheckpointerFunc(e.autoCheckpoint), watch.Options{
		QuietPeriod: e.settings.WatchQuietPeriod,
		MinInterval: e.settings.WatchMinInterval,
		Filter:      e.filter,
		Logger:      e.logger,
	})
	if err != nil {
		return opError("watch", "", err)
	}
	defer w.Close()
	return opError("watch", "", w.Run(ctx))
}

func (e *Engine) autoCheckpoint(ctx context.Context, req watch.Request) error {
	_, err := e.Create(ctx, CreateRequest{
		Name:    req.Name,
		Trigger: req.Trigger,
	})
	return err
}
