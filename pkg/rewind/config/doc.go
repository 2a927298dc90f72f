/*
Package config reads workspace settings for the checkpoint engine.

Settings come from <workspace>/.rewind.yaml, optionally overlaid with
values from flags or the environment, and every key has a default:

	settings, err := config.Load(workspace, config.New(map[string]any{
	    "store.backend": "sqlite",
	}))

Config is the untyped layer underneath. It answers dotted-key lookups over
nested maps and coerces text, so a size may be written "10MB", a duration
"7d", and a list "a,b,c":

	cfg, _ := config.FromYAML([]byte("snapshot:\n  max_file_size: 5MB\n"))
	cfg.Int64("snapshot.max_file_size", 0) // 5000000

Config values are never modified after creation and are safe to share.
*/
package config
