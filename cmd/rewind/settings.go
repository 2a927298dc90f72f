package main

import (
	"github.com/spf13/viper"

	"github.com/randalmurphal/rewind/pkg/rewind/config"
)

// setDefaults registers every settings key so REWIND_* variables are
// visible for it.
func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	v.SetDefault("store.dir", d.StoreDir)
	v.SetDefault("store.worktrees_dir", d.WorktreesDir)
	v.SetDefault("store.backend", d.Backend)
	v.SetDefault("store.path", d.BackendPath)
	v.SetDefault("snapshot.max_file_size", d.MaxFileSize)
	v.SetDefault("snapshot.include_dependencies", d.IncludeDependencies)
	v.SetDefault("snapshot.extra_ignores", []string{})
	v.SetDefault("index.path", d.IndexPath)
	v.SetDefault("index.debounce", d.IndexDebounce)
	v.SetDefault("retention.max_age", d.RetentionMaxAge)
	v.SetDefault("retention.max_count", d.RetentionMaxCount)
	v.SetDefault("retention.preserve_tags", []string{})
	v.SetDefault("watch.enabled", d.WatchEnabled)
	v.SetDefault("watch.quiet_period", d.WatchQuietPeriod)
	v.SetDefault("watch.min_interval", d.WatchMinInterval)
	v.SetDefault("git.timeout", d.GitTimeout)
}

// settingKeys is every key registered by setDefaults.
var settingKeys = []string{
	"store.dir", "store.worktrees_dir", "store.backend", "store.path",
	"snapshot.max_file_size", "snapshot.include_dependencies", "snapshot.extra_ignores",
	"index.path", "index.debounce",
	"retention.max_age", "retention.max_count", "retention.preserve_tags",
	"watch.enabled", "watch.quiet_period", "watch.min_interval",
	"git.timeout",
}

// settings resolves the layered configuration into typed settings. Raw
// values are handed to config so sizes like "10MB" and ages like "7d" go
// through its coercion rather than viper's, which turns them into zero.
func (c *cli) settings() config.Settings {
	raw := make(map[string]any, len(settingKeys))
	for _, key := range settingKeys {
		if val := c.v.Get(key); val != nil {
			raw[key] = val
		}
	}
	return config.FromConfig(config.New(raw))
}
