// Package vcs wraps the git command line for the two places the engine needs
// version control: the checkpoint store's own history and the workspace's
// ignore rules and common directory.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds every git invocation.
const DefaultTimeout = 30 * time.Second

// Identity used for commits into the store history, so they succeed on
// machines without a configured git user.
const (
	CommitterName  = "rewind"
	CommitterEmail = "rewind@localhost"
)

// Sentinel errors for git operations.
var (
	// ErrNotRepository indicates the directory is not inside a git work tree.
	ErrNotRepository = errors.New("not a git repository")

	// ErrGitTimeout indicates a git command exceeded its timeout.
	ErrGitTimeout = errors.New("git command timed out")
)

// Client is the version-control surface the engine consumes.
// Paths passed to Add and IsIgnored are relative to Dir.
type Client interface {
	// Dir returns the directory commands run in.
	Dir() string

	// IsRepository reports whether Dir is inside a git work tree.
	IsRepository(ctx context.Context) bool

	// Init creates a repository at Dir.
	Init(ctx context.Context) error

	// Add stages paths, including deletions.
	Add(ctx context.Context, paths ...string) error

	// Commit records staged changes. It is a no-op when nothing is staged.
	Commit(ctx context.Context, message string) error

	// CommonDir returns the absolute git common directory.
	CommonDir(ctx context.Context) (string, error)

	// IsIgnored reports whether git's ignore rules exclude path.
	IsIgnored(ctx context.Context, path string) (bool, error)

	// Toplevel returns the absolute root of the work tree.
	Toplevel(ctx context.Context) (string, error)
}

// Git runs the git binary in a fixed directory.
// Thread Safety: Git is safe for concurrent use; git itself serializes
// index writes with its own lock file.
type Git struct {
	dir     string
	timeout time.Duration
}

// Compile-time interface check.
var _ Client = (*Git)(nil)

// Option configures a Git client.
type Option func(*Git)

// WithTimeout sets the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Git) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// New returns a client running commands in dir.
func New(dir string, opts ...Option) *Git {
	g := &Git{dir: dir, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Available reports whether a git binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// Dir implements Client.
func (g *Git) Dir() string {
	return g.dir
}

// run executes git with args and returns trimmed stdout.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%w: git %s after %v", ErrGitTimeout, args[0], g.timeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// IsRepository implements Client.
func (g *Git) IsRepository(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Init implements Client.
func (g *Git) Init(ctx context.Context) error {
	_, err := g.run(ctx, "init", "--quiet")
	return err
}

// Add implements Client.
func (g *Git) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "-A", "--"}, paths...)
	_, err := g.run(ctx, args...)
	return err
}

// Commit implements Client. Hooks are skipped.
func (g *Git) Commit(ctx context.Context, message string) error {
	staged, err := g.hasStagedChanges(ctx)
	if err != nil {
		return err
	}
	if !staged {
		return nil
	}
	_, err = g.run(ctx,
		"-c", "user.name="+CommitterName,
		"-c", "user.email="+CommitterEmail,
		"commit", "--no-verify", "--quiet", "-m", message,
	)
	return err
}

// hasStagedChanges uses diff's exit status: 1 means changes are staged.
func (g *Git) hasStagedChanges(ctx context.Context) (bool, error) {
	_, err := g.run(ctx, "diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	// A repository without commits has no HEAD to diff against.
	if strings.Contains(err.Error(), "HEAD") {
		return true, nil
	}
	return false, err
}

// CommonDir implements Client.
func (g *Git) CommonDir(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotRepository, err)
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(g.dir, out)
	}
	return filepath.Clean(out), nil
}

// IsIgnored implements Client. check-ignore exits 1 for paths that are not
// ignored; any other failure is returned.
func (g *Git) IsIgnored(ctx context.Context, path string) (bool, error) {
	_, err := g.run(ctx, "check-ignore", "-q", "--", path)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, err
}

// Toplevel implements Client.
func (g *Git) Toplevel(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotRepository, err)
	}
	return filepath.Clean(out), nil
}
