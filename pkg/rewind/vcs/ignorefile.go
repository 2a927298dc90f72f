package vcs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreHeader precedes the entries EnsureIgnoreEntries appends.
const IgnoreHeader = "# rewind checkpoints"

// EnsureIgnoreEntries appends each entry to <workspace>/.gitignore unless a
// line already names it or git already ignores it. Entries are written as
// directory patterns under IgnoreHeader. It returns the entries it added.
//
// client may be nil, in which case only the file's own lines are consulted.
func EnsureIgnoreEntries(ctx context.Context, client Client, workspace string, entries ...string) ([]string, error) {
	path := filepath.Join(workspace, ".gitignore")

	existing, hasHeader, endsWithNewline, err := readIgnoreLines(path)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, entry := range entries {
		entry = strings.Trim(filepath.ToSlash(entry), "/")
		if entry == "" || listed(existing, entry) {
			continue
		}
		if client != nil {
			if ignored, err := client.IsIgnored(ctx, entry); err == nil && ignored {
				continue
			}
		}
		existing[entry] = struct{}{}
		missing = append(missing, entry)
	}
	if len(missing) == 0 {
		return nil, nil
	}

	var b strings.Builder
	if !endsWithNewline {
		b.WriteString("\n")
	}
	if !hasHeader {
		if len(existing) > len(missing) {
			b.WriteString("\n")
		}
		b.WriteString(IgnoreHeader + "\n")
	}
	for _, entry := range missing {
		b.WriteString(entry + "/\n")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open gitignore: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return nil, fmt.Errorf("append gitignore: %w", err)
	}
	return missing, nil
}

// readIgnoreLines returns the normalized entries in path. A missing file
// reads as empty and ending with a newline.
func readIgnoreLines(path string) (lines map[string]struct{}, hasHeader, endsWithNewline bool, err error) {
	lines = make(map[string]struct{})
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return lines, false, true, nil
		}
		return nil, false, false, fmt.Errorf("read gitignore: %w", err)
	}

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == IgnoreHeader {
			hasHeader = true
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines[strings.Trim(line, "/")] = struct{}{}
	}
	endsWithNewline = len(data) == 0 || data[len(data)-1] == '\n'
	return lines, hasHeader, endsWithNewline, nil
}

func listed(lines map[string]struct{}, entry string) bool {
	_, ok := lines[entry]
	return ok
}
