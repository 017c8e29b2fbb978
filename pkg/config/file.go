package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile returns the environment configuration overlaid with values
// from a YAML file. Fields absent from the file keep their environment
// or default values.
func LoadFile(path string) (*Config, error) {
	cfg := Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	if cfg.FetchSize <= 0 {
		return nil, fmt.Errorf("config %q: fetch_size must be positive", path)
	}
	switch cfg.Backend {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("config %q: unknown backend %q", path, cfg.Backend)
	}
	return cfg, nil
}
