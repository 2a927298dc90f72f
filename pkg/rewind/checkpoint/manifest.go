package checkpoint

import (
	"encoding/json"
	"io/fs"
	"sort"
	"time"
)

// FileSnapshot records one file as it was captured.
type FileSnapshot struct {
	// Path is workspace-relative and slash-separated.
	Path string `json:"path"`

	// Hash is the lowercase hex SHA-256 of the raw bytes.
	Hash string `json:"hash"`

	Size    int64       `json:"size"`
	ModTime time.Time   `json:"modifiedTime"`
	Mode    fs.FileMode `json:"permissions"`
}

// Manifest is the set of files captured by one checkpoint, unique by path.
// TotalSize and FileCount are always derived from Files.
type Manifest struct {
	Files     []FileSnapshot `json:"files"`
	TotalSize int64          `json:"totalSize"`
	FileCount int            `json:"fileCount"`

	byPath map[string]int
}

// NewManifest builds a manifest from files. Later duplicates of a path win.
func NewManifest(files ...FileSnapshot) *Manifest {
	m := &Manifest{Files: make([]FileSnapshot, 0, len(files))}
	for _, f := range files {
		m.Add(f)
	}
	return m
}

// Add records f, replacing any existing entry for the same path.
func (m *Manifest) Add(f FileSnapshot) {
	m.ensureIndex()
	if i, ok := m.byPath[f.Path]; ok {
		m.TotalSize += f.Size - m.Files[i].Size
		m.Files[i] = f
		return
	}
	m.byPath[f.Path] = len(m.Files)
	m.Files = append(m.Files, f)
	m.TotalSize += f.Size
	m.FileCount = len(m.Files)
}

// Lookup returns the entry for path.
func (m *Manifest) Lookup(path string) (FileSnapshot, bool) {
	m.ensureIndex()
	i, ok := m.byPath[path]
	if !ok {
		return FileSnapshot{}, false
	}
	return m.Files[i], true
}

// Paths returns every recorded path in sorted order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		paths = append(paths, f.Path)
	}
	sort.Strings(paths)
	return paths
}

// HashIndex returns a path to hash map.
func (m *Manifest) HashIndex() map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m.Files))
	for _, f := range m.Files {
		out[f.Path] = f.Hash
	}
	return out
}

// Hashes returns the distinct blob hashes referenced by the manifest.
func (m *Manifest) Hashes() []string {
	seen := make(map[string]struct{}, len(m.Files))
	out := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		if _, ok := seen[f.Hash]; ok {
			continue
		}
		seen[f.Hash] = struct{}{}
		out = append(out, f.Hash)
	}
	sort.Strings(out)
	return out
}

// Recompute rebuilds the derived stats and path index after Files was
// replaced wholesale, dropping duplicate paths (last one wins).
func (m *Manifest) Recompute() {
	files := m.Files
	m.Files = make([]FileSnapshot, 0, len(files))
	m.byPath = nil
	m.TotalSize = 0
	m.FileCount = 0
	for _, f := range files {
		m.Add(f)
	}
}

// UnmarshalJSON decodes a manifest and recomputes its stats so a tampered
// or stale totalSize never survives a load.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	type wire Manifest
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Files = w.Files
	m.Recompute()
	return nil
}

func (m *Manifest) ensureIndex() {
	if m.byPath != nil {
		return
	}
	m.byPath = make(map[string]int, len(m.Files))
	for i, f := range m.Files {
		m.byPath[f.Path] = i
	}
}
