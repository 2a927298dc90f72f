package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/config"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func formatCreated(t time.Time) string {
	return t.Local().Format(time.DateTime)
}

// summaryLine is the one-line description used after create and import.
func summaryLine(cp *checkpoint.Checkpoint) string {
	files := "files"
	if cp.Stats.FileCount == 1 {
		files = "file"
	}
	return fmt.Sprintf("%s %q (%d %s, %s)", cp.ID, cp.Name, cp.Stats.FileCount, files, formatSize(cp.Stats.TotalSize))
}

func checkpointRows(cps []*checkpoint.Checkpoint) [][]string {
	rows := make([][]string, 0, len(cps))
	for _, cp := range cps {
		rows = append(rows, []string{
			cp.ID,
			cp.Name,
			string(cp.Trigger),
			strconv.Itoa(cp.Stats.FileCount),
			formatSize(cp.Stats.TotalSize),
			humanize.Time(cp.Created),
			strings.Join(cp.Tags, ","),
		})
	}
	return rows
}

// parseTime accepts RFC 3339, a date (YYYY-MM-DD) or a duration meaning
// that long before now.
func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	if d, err := config.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339, YYYY-MM-DD or a duration like 48h or 7d", s)
}
