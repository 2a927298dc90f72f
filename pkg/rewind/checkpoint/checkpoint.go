// Package checkpoint defines the data model shared by every part of the
// engine: checkpoint metadata, the per-trigger detail fields, cached stats
// and the file manifest.
package checkpoint

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Version is the current on-disk format version for metadata, manifests
// and the metadata index. Bump when the persisted shape changes.
const Version = "1.0.0"

// ErrInvalidMetadata indicates metadata failed validation at a store boundary.
var ErrInvalidMetadata = errors.New("invalid checkpoint metadata")

// Trigger is the originating cause of a checkpoint.
type Trigger string

const (
	TriggerManual           Trigger = "manual"
	TriggerAutomatic        Trigger = "automatic"
	TriggerPostCommit       Trigger = "post-commit"
	TriggerAgentMode        Trigger = "agent-mode"
	TriggerPreRestoreSafety Trigger = "pre-restore-safety"
	TriggerImported         Trigger = "imported"
)

// Triggers lists every known trigger in display order.
var Triggers = []Trigger{
	TriggerManual,
	TriggerAutomatic,
	TriggerPostCommit,
	TriggerAgentMode,
	TriggerPreRestoreSafety,
	TriggerImported,
}

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	for _, known := range Triggers {
		if t == known {
			return true
		}
	}
	return false
}

// Metadata describes a checkpoint. It is what metadata.json holds.
//
// The detail fields after WorktreeID only apply to particular triggers;
// Validate enforces the ones a trigger requires.
type Metadata struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Trigger     Trigger   `json:"trigger"`
	Tags        []string  `json:"tags,omitempty"`
	Created     time.Time `json:"created"`
	WorktreeID  string    `json:"worktreeId,omitempty"`

	// post-commit
	CommitHash string `json:"commitHash,omitempty"`

	// agent-mode
	AgentSession  string `json:"agentSession,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`

	// pre-restore-safety
	RestoreTarget string `json:"restoreTarget,omitempty"`

	// imported
	SourceArchive string `json:"sourceArchive,omitempty"`
}

// Validate checks the metadata is well formed for its trigger.
// It normalizes Tags as a side effect.
func (m *Metadata) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil metadata", ErrInvalidMetadata)
	}
	if !ValidID(m.ID) {
		return fmt.Errorf("%w: malformed id %q", ErrInvalidMetadata, m.ID)
	}
	if !m.Trigger.Valid() {
		return fmt.Errorf("%w: unknown trigger %q", ErrInvalidMetadata, m.Trigger)
	}
	if m.Created.IsZero() {
		return fmt.Errorf("%w: missing created time", ErrInvalidMetadata)
	}

	switch m.Trigger {
	case TriggerPostCommit:
		if m.CommitHash == "" {
			return fmt.Errorf("%w: post-commit checkpoint requires a commit hash", ErrInvalidMetadata)
		}
	case TriggerAgentMode:
		if m.AgentSession == "" {
			return fmt.Errorf("%w: agent-mode checkpoint requires an agent session", ErrInvalidMetadata)
		}
	case TriggerPreRestoreSafety:
		if m.RestoreTarget == "" {
			return fmt.Errorf("%w: pre-restore-safety checkpoint requires a restore target", ErrInvalidMetadata)
		}
	}

	for _, tag := range m.Tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("%w: empty tag", ErrInvalidMetadata)
		}
	}
	m.Tags = NormalizeTags(m.Tags)
	return nil
}

// HasTag reports whether the metadata carries tag.
func (m *Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// NormalizeTags trims, dedupes and sorts tags. Empty entries are dropped.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Stats is the cached size snapshot kept alongside metadata for fast listing.
type Stats struct {
	FileCount int   `json:"fileCount"`
	TotalSize int64 `json:"totalSize"`
}

// Checkpoint is a named snapshot of the workspace tree.
// Manifest is nil in summaries loaded from the metadata index.
type Checkpoint struct {
	Metadata
	Stats    Stats     `json:"stats"`
	Manifest *Manifest `json:"-"`
}

// New builds a checkpoint with a fresh id stamped at now.
func New(name string, trigger Trigger, now time.Time) *Checkpoint {
	now = now.UTC()
	return &Checkpoint{
		Metadata: Metadata{
			ID:      NewID(now),
			Name:    name,
			Trigger: trigger,
			Created: now,
		},
	}
}

// Summary returns a copy without the manifest, as stored in the index.
func (c *Checkpoint) Summary() *Checkpoint {
	if c == nil {
		return nil
	}
	s := *c
	s.Tags = append([]string(nil), c.Tags...)
	s.Manifest = nil
	return &s
}

// WithManifest attaches m and refreshes the cached stats from it.
func (c *Checkpoint) WithManifest(m *Manifest) *Checkpoint {
	c.Manifest = m
	if m != nil {
		c.Stats = Stats{FileCount: m.FileCount, TotalSize: m.TotalSize}
	}
	return c
}
