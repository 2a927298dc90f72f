package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the per-workspace settings file read by Load.
const FileName = ".rewind.yaml"

// decoders maps a file extension to its document decoder.
var decoders = map[string]func([]byte) (Config, error){
	".yaml": FromYAML,
	".yml":  FromYAML,
	".json": FromJSON,
}

// FromFile decodes the file at path, choosing the format by extension
// (.yaml, .yml or .json).
func FromFile(path string) (Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return Config{}, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := decode(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// FromYAML decodes a YAML document. An empty document is an empty Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON decodes a JSON object.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}

// Load reads <workspace>/.rewind.yaml, overlays overrides in order, and
// returns the resulting Settings. A missing file contributes nothing.
func Load(workspace string, overrides ...Config) (Settings, error) {
	cfg, err := FromFile(filepath.Join(workspace, FileName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = New(nil)
	case err != nil:
		return Settings{}, err
	}
	for _, o := range overrides {
		cfg = cfg.Merge(o)
	}
	return FromConfig(cfg), nil
}
