package assetos

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a configuration file and decodes it by extension.
// Supported formats: .yaml, .yml, .toml.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrConfigUnsupportedFormat, filepath.Ext(path))
	}

	if cfg.Modules == nil {
		cfg.Modules = make(map[string]map[string]any)
	}
	if cfg.Checks.TimeoutSeconds <= 0 {
		cfg.Checks.TimeoutSeconds = 5.0
	}
	return cfg, nil
}
