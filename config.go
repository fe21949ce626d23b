package assetos

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration shared with every module.
//
// Per-module settings live under Modules as raw maps; each module decodes
// its own section into a typed struct via DecodeModuleSection so that the
// runtime core stays ignorant of module-specific options.
type Config struct {
	// Atlas identifies the remote command service and this asset.
	Atlas AtlasConfig `yaml:"atlas" toml:"atlas"`

	// Checks controls scheduled aggregated health checks.
	Checks ChecksConfig `yaml:"checks" toml:"checks"`

	// EventLog controls the bus traffic recorder.
	EventLog EventLogConfig `yaml:"event_log" toml:"event_log"`

	// Modules holds per-module configuration sections keyed by module
	// name. The reserved key "enabled" toggles the module (default true).
	Modules map[string]map[string]any `yaml:"modules" toml:"modules"`
}

// AtlasConfig identifies the remote command service and the asset itself.
type AtlasConfig struct {
	BaseURL  string      `yaml:"base_url" toml:"base_url"`
	APIToken string      `yaml:"api_token" toml:"api_token"`
	Asset    AssetConfig `yaml:"asset" toml:"asset"`
}

// AssetConfig describes this asset's identity at the command service.
type AssetConfig struct {
	ID      string `yaml:"id" toml:"id"`
	Type    string `yaml:"type" toml:"type"`
	Name    string `yaml:"name" toml:"name"`
	ModelID string `yaml:"model_id" toml:"model_id"`
}

// ChecksConfig controls scheduled aggregated health checks.
type ChecksConfig struct {
	// Schedule is a cron expression; empty disables scheduled checks.
	Schedule string `yaml:"schedule" toml:"schedule"`

	// TimeoutSeconds is the aggregate health check deadline.
	TimeoutSeconds float64 `yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// EventLogConfig controls the bus traffic recorder.
type EventLogConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// ModuleEnabled reports whether the named module is enabled. Modules
// without a config section, or without an "enabled" key, default to
// enabled.
func (c *Config) ModuleEnabled(name string) bool {
	section, ok := c.Modules[name]
	if !ok {
		return true
	}
	enabled, ok := section["enabled"].(bool)
	if !ok {
		return true
	}
	return enabled
}

// DecodeModuleSection decodes the named module's configuration section
// into target, which must be a pointer to a struct with yaml tags. A
// missing section leaves target untouched so that defaults survive.
//
// The section is remarshalled through YAML to convert the raw map into the
// typed struct regardless of which file format it was loaded from.
func (c *Config) DecodeModuleSection(name string, target any) error {
	section, ok := c.Modules[name]
	if !ok {
		return nil
	}
	raw, err := yaml.Marshal(section)
	if err != nil {
		return fmt.Errorf("failed to marshal config section %q: %w", name, err)
	}
	if err := yaml.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode config section %q: %w", name, err)
	}
	return nil
}
