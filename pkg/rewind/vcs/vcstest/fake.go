// Package vcstest provides an in-memory vcs.Client for tests that must not
// depend on a git binary.
package vcstest

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/randalmurphal/rewind/pkg/rewind/vcs"
)

// Fake records calls and answers from configured state.
type Fake struct {
	mu sync.Mutex

	dir       string
	repo      bool
	commonDir string
	ignored   map[string]bool

	// Err, when set, is returned from Init, Add and Commit.
	Err error

	Added   [][]string
	Commits []string
	Inits   int
}

// Compile-time interface check.
var _ vcs.Client = (*Fake)(nil)

// New returns a Fake rooted at dir that reports itself as a repository
// whose common directory is dir/.git.
func New(dir string) *Fake {
	return &Fake{
		dir:       dir,
		repo:      true,
		commonDir: filepath.Join(dir, ".git"),
		ignored:   make(map[string]bool),
	}
}

// NotRepository makes the fake report that Dir is outside any repository.
func (f *Fake) NotRepository() *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repo = false
	return f
}

// SetIgnored marks path as ignored by git.
func (f *Fake) SetIgnored(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ignored[path] = true
}

// Dir implements vcs.Client.
func (f *Fake) Dir() string {
	return f.dir
}

// IsRepository implements vcs.Client.
func (f *Fake) IsRepository(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.repo
}

// Init implements vcs.Client.
func (f *Fake) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Inits++
	f.repo = true
	return nil
}

// Add implements vcs.Client.
func (f *Fake) Add(_ context.Context, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Added = append(f.Added, append([]string(nil), paths...))
	return nil
}

// Commit implements vcs.Client.
func (f *Fake) Commit(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Commits = append(f.Commits, message)
	return nil
}

// CommonDir implements vcs.Client.
func (f *Fake) CommonDir(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.repo {
		return "", vcs.ErrNotRepository
	}
	return f.commonDir, nil
}

// IsIgnored implements vcs.Client.
func (f *Fake) IsIgnored(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ignored[path], nil
}

// Toplevel implements vcs.Client.
func (f *Fake) Toplevel(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.repo {
		return "", vcs.ErrNotRepository
	}
	return f.dir, nil
}

// CommitCount returns how many commits were recorded.
func (f *Fake) CommitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Commits)
}
