package benchmarks

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/ignore"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
)

// createWorkspace writes n files of size bytes spread over ten directories.
func createWorkspace(b *testing.B, n, size int) string {
	b.Helper()
	dir := b.TempDir()
	for i := 0; i < n; i++ {
		sub := filepath.Join(dir, fmt.Sprintf("pkg%02d", i%10))
		if err := os.MkdirAll(sub, 0o755); err != nil {
			b.Fatal(err)
		}
		data := make([]byte, size)
		for j := range data {
			data[j] = byte(i + j)
		}
		if err := os.WriteFile(filepath.Join(sub, fmt.Sprintf("file%04d.go", i)), data, 0o644); err != nil {
			b.Fatal(err)
		}
	}
	return dir
}

func newFilter(b *testing.B, root string) *ignore.Filter {
	b.Helper()
	f, err := ignore.New(root)
	if err != nil {
		b.Fatal(err)
	}
	return f
}

// createManifest builds a manifest of n synthetic files.
func createManifest(n int, salt string) *checkpoint.Manifest {
	m := checkpoint.NewManifest()
	for i := 0; i < n; i++ {
		m.Add(checkpoint.FileSnapshot{
			Path:    fmt.Sprintf("pkg%02d/file%04d.go", i%10, i),
			Hash:    snapshot.HashBytes([]byte(fmt.Sprintf("%s-%d", salt, i))),
			Size:    int64(100 + i),
			ModTime: time.Unix(1718000000, 0),
			Mode:    0o644,
		})
	}
	return m
}

// createSummaries builds n index summaries one minute apart.
func createSummaries(n int) []*checkpoint.Checkpoint {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	triggers := []checkpoint.Trigger{checkpoint.TriggerManual, checkpoint.TriggerAutomatic}
	out := make([]*checkpoint.Checkpoint, n)
	for i := range out {
		cp := checkpoint.New(fmt.Sprintf("checkpoint %d", i), triggers[i%2], base.Add(time.Duration(i)*time.Minute))
		if i%5 == 0 {
			cp.Tags = []string{"release"}
		}
		cp.Stats = checkpoint.Stats{FileCount: 10, TotalSize: 1000}
		out[i] = cp
	}
	return out
}
