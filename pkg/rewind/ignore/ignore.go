// Package ignore decides which workspace paths are eligible for snapshotting.
//
// The pattern set is the union of built-in names (the store's own directory,
// VCS control directories), the workspace .gitignore, dependency directories
// unless they are explicitly included, and caller-supplied extras.
//
// Matching is deliberately simpler than git's:
//
//   - a plain name matches any path segment, or the full path
//   - a pattern containing "/" matches a run of whole segments
//   - "*" is the only wildcard and matches within a segment or the full path
//
// "**", character classes and "!" negations are not supported; negations are
// dropped when reading .gitignore.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidOption reports an option value New cannot use.
var ErrInvalidOption = errors.New("invalid ignore option")

// DefaultMaxFileSize is the per-file cap applied when none is configured.
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Built-in directory names that are always ignored.
const (
	DefaultStoreDir     = ".rewind"
	DefaultWorktreesDir = ".rewind-worktrees"
)

// ControlDirs are version-control directories never worth capturing.
var ControlDirs = []string{".git", ".hg", ".svn"}

// DependencyDirs are ignored unless dependencies are included.
var DependencyDirs = []string{
	"node_modules",
	"vendor",
	".venv",
	"__pycache__",
	"dist",
	"build",
	"target",
}

// Filter matches workspace-relative paths against the compiled pattern set.
// A Filter is immutable after New and safe for concurrent use.
type Filter struct {
	root        string
	patterns    []pattern
	maxFileSize int64
}

type pattern struct {
	raw     string
	dirOnly bool
	glob    *regexp.Regexp
}

type options struct {
	gitignore           bool
	includeDependencies bool
	extra               []string
	maxFileSize         int64
	storeDir            string
	worktreesDir        string
}

// Option configures a Filter.
type Option func(*options)

// WithGitignore controls whether <root>/.gitignore is read. Default true.
func WithGitignore(enabled bool) Option {
	return func(o *options) {
		o.gitignore = enabled
	}
}

// WithIncludeDependencies stops DependencyDirs from being ignored.
func WithIncludeDependencies(include bool) Option {
	return func(o *options) {
		o.includeDependencies = include
	}
}

// WithPatterns adds extra patterns using .gitignore line syntax.
func WithPatterns(patterns ...string) Option {
	return func(o *options) {
		o.extra = append(o.extra, patterns...)
	}
}

// WithMaxFileSize sets the per-file size cap. Zero disables the cap.
func WithMaxFileSize(size int64) Option {
	return func(o *options) {
		o.maxFileSize = size
	}
}

// WithStoreDir replaces the default store directory name. An absolute
// directory inside the workspace is matched by its workspace-relative path.
func WithStoreDir(name string) Option {
	return func(o *options) {
		if name != "" {
			o.storeDir = name
		}
	}
}

// WithWorktreesDir replaces the default alternate-worktrees directory name.
func WithWorktreesDir(name string) Option {
	return func(o *options) {
		if name != "" {
			o.worktreesDir = name
		}
	}
}

// New builds a Filter for the workspace at root.
//
// A missing .gitignore is not an error; an unreadable one is.
func New(root string, opts ...Option) (*Filter, error) {
	o := options{
		gitignore:    true,
		maxFileSize:  DefaultMaxFileSize,
		storeDir:     DefaultStoreDir,
		worktreesDir: DefaultWorktreesDir,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxFileSize < 0 {
		return nil, fmt.Errorf("%w: max file size must not be negative: %d", ErrInvalidOption, o.maxFileSize)
	}

	var lines []string
	for _, dir := range []string{o.storeDir, o.worktreesDir} {
		if rel, ok := insideRoot(root, dir); ok {
			lines = append(lines, rel)
		}
	}
	lines = append(lines, ControlDirs...)

	if o.gitignore {
		gi, err := ReadGitignore(filepath.Join(root, ".gitignore"))
		if err != nil {
			return nil, err
		}
		lines = append(lines, gi...)
	}
	if !o.includeDependencies {
		lines = append(lines, DependencyDirs...)
	}
	lines = append(lines, o.extra...)

	f := &Filter{root: root, maxFileSize: o.maxFileSize}
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		p, ok := compile(line)
		if !ok {
			continue
		}
		key := p.raw
		if p.dirOnly {
			key += "/"
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		f.patterns = append(f.patterns, p)
	}
	return f, nil
}

// insideRoot turns an absolute dir into a root-relative pattern. Relative
// names pass through; absolute dirs outside root yield false since the walk
// never reaches them.
func insideRoot(root, dir string) (string, bool) {
	if !filepath.IsAbs(dir) {
		return dir, true
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// ReadGitignore returns the usable pattern lines of a .gitignore file.
// Blank lines, comments and negations are dropped. A missing file yields nil.
func ReadGitignore(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open gitignore: %w", err)
	}
	defer file.Close()

	var lines []string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read gitignore: %w", err)
	}
	return lines, nil
}

func compile(line string) (pattern, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return pattern{}, false
	}
	line = filepath.ToSlash(line)

	p := pattern{}
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
	}
	line = strings.Trim(line, "/")
	if line == "" {
		return pattern{}, false
	}
	p.raw = line

	if strings.Contains(line, "*") {
		parts := strings.Split(line, "*")
		for i := range parts {
			parts[i] = regexp.QuoteMeta(parts[i])
		}
		p.glob = regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
	}
	return p, true
}

// Root returns the workspace root the filter was built for.
func (f *Filter) Root() string {
	return f.root
}

// Patterns returns the compiled pattern set in precedence order.
// Directory-only patterns carry a trailing "/".
func (f *Filter) Patterns() []string {
	out := make([]string, 0, len(f.patterns))
	for _, p := range f.patterns {
		if p.dirOnly {
			out = append(out, p.raw+"/")
			continue
		}
		out = append(out, p.raw)
	}
	return out
}

// MaxFileSize returns the per-file cap, zero when unlimited.
func (f *Filter) MaxFileSize() int64 {
	return f.maxFileSize
}

// MatchDir reports whether the directory at rel, and so its whole subtree,
// is ignored. rel is workspace-relative in either separator style.
func (f *Filter) MatchDir(rel string) bool {
	return f.match(rel, true)
}

// MatchFile reports whether the file at rel is ignored.
func (f *Filter) MatchFile(rel string) bool {
	return f.match(rel, false)
}

// Oversized reports whether a file of size bytes exceeds the cap.
func (f *Filter) Oversized(size int64) bool {
	return f.maxFileSize > 0 && size > f.maxFileSize
}

func (f *Filter) match(rel string, isDir bool) bool {
	rel = normalize(rel)
	if rel == "" || rel == "." {
		return false
	}
	segments := strings.Split(rel, "/")
	for _, p := range f.patterns {
		if p.matches(rel, segments, isDir) {
			return true
		}
	}
	return false
}

func (p pattern) matches(rel string, segments []string, isDir bool) bool {
	// Directory-only patterns never match a file's own name, only the
	// directories above it.
	candidates := segments
	if p.dirOnly && !isDir {
		candidates = segments[:len(segments)-1]
	}

	switch {
	case p.glob != nil:
		if (isDir || !p.dirOnly) && p.glob.MatchString(rel) {
			return true
		}
		for _, seg := range candidates {
			if p.glob.MatchString(seg) {
				return true
			}
		}
	case strings.Contains(p.raw, "/"):
		want := strings.Split(p.raw, "/")
		limit := len(candidates)
		for i := 0; i+len(want) <= limit; i++ {
			if equalSegments(candidates[i:i+len(want)], want) {
				return true
			}
		}
	default:
		if (isDir || !p.dirOnly) && rel == p.raw {
			return true
		}
		for _, seg := range candidates {
			if seg == p.raw {
				return true
			}
		}
	}
	return false
}

func equalSegments(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func normalize(rel string) string {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimPrefix(rel, "./")
	return strings.Trim(rel, "/")
}
