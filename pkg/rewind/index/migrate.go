package index

import (
	"strings"
	"time"
)

// migrateFile upgrades a decoded index document to the current schema.
//
// The legacy 0.x layout stored the trigger under "type", the creation time
// under "timestamp" (epoch millis or a string), sizes as flat "size" and
// "files" fields and tags as one comma-joined string. Missing optional
// fields are left absent. The result always carries the current version.
func migrateFile(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	legacy := isLegacy(raw["version"])
	entries, _ := raw["checkpoints"].([]any)
	migrated := make([]any, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			// Left for the loader to skip.
			migrated = append(migrated, e)
			continue
		}
		if legacy {
			m = migrateEntry(m)
		}
		migrated = append(migrated, m)
	}

	out["checkpoints"] = migrated
	out["version"] = Version
	if _, ok := out["lastUpdated"]; !ok {
		if v, ok := raw["updated"]; ok {
			out["lastUpdated"] = v
		}
	}
	delete(out, "updated")
	return out
}

func isLegacy(version any) bool {
	v, _ := version.(string)
	return v == "" || strings.HasPrefix(v, "0.")
}

func migrateEntry(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}

	if t, ok := in["type"]; ok {
		if _, has := in["trigger"]; !has {
			out["trigger"] = t
		}
		delete(out, "type")
	}

	if ts, ok := in["timestamp"]; ok {
		if _, has := in["created"]; !has {
			if created, ok := legacyTime(ts); ok {
				out["created"] = created
			}
		}
		delete(out, "timestamp")
	}

	if _, has := in["stats"]; !has {
		stats := map[string]any{}
		if size, ok := in["size"].(float64); ok {
			stats["totalSize"] = size
		}
		if files, ok := in["files"].(float64); ok {
			stats["fileCount"] = files
		}
		if len(stats) > 0 {
			out["stats"] = stats
		}
	}
	delete(out, "size")
	delete(out, "files")

	if tags, ok := in["tags"].(string); ok {
		var list []any
		for _, tag := range strings.Split(tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				list = append(list, tag)
			}
		}
		out["tags"] = list
	}
	return out
}

// legacyTime converts a 0.x timestamp to RFC 3339.
func legacyTime(v any) (string, bool) {
	switch ts := v.(type) {
	case float64:
		return time.UnixMilli(int64(ts)).UTC().Format(time.RFC3339Nano), true
	case string:
		if ts == "" {
			return "", false
		}
		return ts, true
	default:
		return "", false
	}
}
