package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Config is a read-only view over decoded settings: a YAML or JSON document,
// viper's AllSettings, or a hand-built map.
//
// Keys are dotted paths ("snapshot.max_file_size"); each segment descends
// one nested map. A top-level key that literally contains the dots wins over
// the nested path, so flattened maps work too.
//
// Accessors never fail. A missing key, or a value that cannot be coerced,
// yields the caller's default. Strings are coerced because environment
// variables and flags arrive as text.
type Config struct {
	data map[string]any
}

// New wraps data. A nil map behaves as empty.
func New(data map[string]any) Config {
	if data == nil {
		data = map[string]any{}
	}
	return Config{data: data}
}

// Raw returns the wrapped map. Callers must not modify it.
func (c Config) Raw() map[string]any {
	return c.data
}

// Has reports whether key resolves to a value.
func (c Config) Has(key string) bool {
	_, ok := c.get(key)
	return ok
}

// Merge returns a Config holding c's values overlaid with over's. Nested
// sections merge key by key; any other value in over replaces c's.
func (c Config) Merge(over Config) Config {
	return New(mergeMaps(c.data, over.data))
}

func mergeMaps(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		if sub, ok := section(v); ok {
			if prev, ok := section(out[k]); ok {
				out[k] = mergeMaps(prev, sub)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// section normalizes the two map shapes decoders produce.
func section(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	}
	return nil, false
}

func (c Config) get(key string) (any, bool) {
	if v, ok := c.data[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}
	var node any = c.data
	for _, part := range strings.Split(key, ".") {
		m, ok := section(node)
		if !ok {
			return nil, false
		}
		if node, ok = m[part]; !ok {
			return nil, false
		}
	}
	return node, true
}

// String returns the text at key. Stringers are formatted.
func (c Config) String(key, def string) string {
	switch v := c.lookup(key).(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return def
}

// Bool returns the flag at key. Strings use strconv.ParseBool.
func (c Config) Bool(key string, def bool) bool {
	switch v := c.lookup(key).(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// Int returns the integer at key. See Int64 for the accepted forms.
func (c Config) Int(key string, def int) int {
	return int(c.Int64(key, int64(def)))
}

// Int64 returns the integer at key.
//
// Numbers of any integer type are used directly, floats only when whole.
// Strings may be plain integers or byte sizes with a unit ("10MB",
// "512 KiB").
func (c Config) Int64(key string, def int64) int64 {
	switch v := c.lookup(key).(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		if v == float64(int64(v)) {
			return int64(v)
		}
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		if n, err := humanize.ParseBytes(s); err == nil {
			return int64(n)
		}
	}
	return def
}

// Duration returns the duration at key.
//
// Strings use time.ParseDuration plus a day suffix ("7d"). Bare numbers
// count seconds.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	switch v := c.lookup(key).(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		if d, err := ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// StringSlice returns the list at key. A string is split on commas, which
// is how lists arrive from the environment.
func (c Config) StringSlice(key string, def []string) []string {
	switch v := c.lookup(key).(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return def
			}
			out = append(out, s)
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return def
}

// lookup returns the value at key, or nil when absent.
func (c Config) lookup(key string) any {
	v, _ := c.get(key)
	return v
}

// ParseDuration is time.ParseDuration that also accepts whole days ("30d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
