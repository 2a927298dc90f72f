package benchmarks

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/index"
	"github.com/randalmurphal/rewind/pkg/rewind/retention"
)

func createIndex(b *testing.B, n int) *index.Index {
	b.Helper()
	ix, err := index.Open(filepath.Join(b.TempDir(), "checkpoints.json"), index.WithDebounce(time.Hour))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = ix.Close() })
	if err := ix.Replace(createSummaries(n)); err != nil {
		b.Fatal(err)
	}
	return ix
}

// BenchmarkIndex_QueryAll measures listing 1000 summaries newest first.
func BenchmarkIndex_QueryAll(b *testing.B) {
	ix := createIndex(b, 1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ix.Query(index.Filter{})
	}
}

// BenchmarkIndex_QueryFiltered measures a tag, trigger and text query.
func BenchmarkIndex_QueryFiltered(b *testing.B) {
	ix := createIndex(b, 1000)
	f := index.Filter{Trigger: checkpoint.TriggerManual, Tags: []string{"release"}, Text: "checkpoint 9", Limit: 10}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ix.Query(f)
	}
}

// BenchmarkIndex_Upsert measures adding a summary with a deferred flush.
func BenchmarkIndex_Upsert(b *testing.B) {
	ix := createIndex(b, 1000)
	base := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := ix.Upsert(checkpoint.New("new", checkpoint.TriggerManual, base.Add(time.Duration(i)))); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkIndex_ForceSave measures writing 1000 summaries to disk.
func BenchmarkIndex_ForceSave(b *testing.B) {
	ix := createIndex(b, 1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := ix.ForceSave(); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRetentionPlan measures a combined age and count policy.
func BenchmarkRetentionPlan(b *testing.B) {
	summaries := createSummaries(1000)
	policy := retention.Policy{MaxAge: 12 * time.Hour, MaxCount: 100, PreserveTags: []string{"release"}}
	now := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = retention.Plan(summaries, policy, now)
	}
}
