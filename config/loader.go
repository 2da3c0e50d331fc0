package config

// loader.go - configuration loading.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (VRPTERM_*)
//   3. Config file  (--config, YAML or TOML)
//   4. Defaults   (defaults.go)

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every supported environment variable.
const EnvPrefix = "VRPTERM"

// Load returns the defaults overlaid with the file at path (if path is
// not empty) and then the environment.  The result is not validated;
// flags still have to be applied.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv overlays VRPTERM_* environment variables onto cfg.  Unset
// variables leave the existing value alone.
func LoadFromEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// LoadFile overlays the config file at path onto cfg.  The format
// follows the extension: .yaml/.yml or .toml.  Unknown keys are an
// error so typos do not go unnoticed.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// An empty file decodes to io.EOF; treat it as "no overrides".
		if err := dec.Decode(cfg); err != nil && len(bytes.TrimSpace(data)) > 0 {
			return fmt.Errorf("config: %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config: %s: unknown keys %v", path, undecoded)
		}
	default:
		return fmt.Errorf("config: %s: unsupported format %q (use .yaml or .toml)", path, ext)
	}

	cfg.File = path
	return nil
}
