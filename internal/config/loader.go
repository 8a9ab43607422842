package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Load parses coop.toml at path and validates the result. This is the only
// entrypoint that should be used at startup; Shared.reload also calls it
// for a hot-reload candidate and then checks the result with
// ValidateForReload.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := Validate(&c); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &c, nil
}
