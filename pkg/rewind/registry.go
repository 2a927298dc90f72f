package rewind

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Registry hands out one Engine per workspace. It is owned by a caller's
// session and torn down with it; there is no package-level registry.
//
// Open for a workspace that already has a live engine returns that engine.
// Opening is serialized, so each workspace is initialized by one caller.
type Registry struct {
	opts []Option

	mu      sync.Mutex
	engines map[string]*Engine
	closed  bool
}

// NewRegistry creates a Registry whose engines are opened with opts.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:    opts,
		engines: make(map[string]*Engine),
	}
}

// Open returns the engine for workspace, opening it on first use. Paths
// naming the same directory share one engine. A closed engine is replaced.
func (r *Registry) Open(ctx context.Context, workspace string, opts ...Option) (*Engine, error) {
	key, err := workspaceKey(workspace)
	if err != nil {
		return nil, opError("open", "", fmt.Errorf("%w: workspace: %v", ErrInvalidArgument, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, opError("open", "", ErrRegistryClosed)
	}
	if e, ok := r.engines[key]; ok && !e.isClosed() {
		return e, nil
	}

	all := append(append([]Option(nil), r.opts...), opts...)
	e, err := Open(ctx, key, all...)
	if err != nil {
		return nil, err
	}
	r.engines[key] = e
	return e, nil
}

// Get returns the live engine for workspace, if any.
func (r *Registry) Get(workspace string) (*Engine, bool) {
	key, err := workspaceKey(workspace)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[key]
	if !ok || e.isClosed() {
		return nil, false
	}
	return e, true
}

// Workspaces returns the workspaces with live engines, sorted.
func (r *Registry) Workspaces() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.engines))
	for key, e := range r.engines {
		if !e.isClosed() {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// Release closes and forgets the engine for workspace.
func (r *Registry) Release(workspace string) error {
	key, err := workspaceKey(workspace)
	if err != nil {
		return opError("close", "", fmt.Errorf("%w: workspace: %v", ErrInvalidArgument, err))
	}
	r.mu.Lock()
	e, ok := r.engines[key]
	delete(r.engines, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return e.Close()
}

// Close closes every engine and refuses further opens. Errors from
// individual engines are joined.
func (r *Registry) Close() error {
	r.mu.Lock()
	engines := r.engines
	r.engines = make(map[string]*Engine)
	r.closed = true
	r.mu.Unlock()

	var errs []error
	for _, e := range engines {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// workspaceKey cleans and absolutizes path, resolving symlinks when the
// path exists.
func workspaceKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err == nil {
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
	}
	return filepath.Clean(abs), nil
}
