package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load reads a configuration file over the defaults and validates the result.
// An empty path or a missing file yields the defaults.
//
// Error cases:
//   - File cannot be read
//   - Invalid YAML syntax or mistyped values
//   - Validation failure (*ConfigError)
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to stat config %q: %w", path, err)
			}
		} else {
			k := koanf.New(".")
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
			}
			// Keys absent from the file keep their defaults.
			if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
				return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
