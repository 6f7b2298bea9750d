package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable the SDK reads.
const EnvPrefix = "BRAVOZERO_"

// Source controls where Load looks besides the explicit values.
type Source struct {
	// File is the config file path. Empty uses ~/.bravozero/config.yaml.
	File string
	// SkipFile disables the config file entirely.
	SkipFile bool
	// Environ replaces the process environment, mainly for tests.
	Environ map[string]string
}

// Load resolves configuration with the precedence
// explicit > environment variables > config file > defaults
// and validates the result.
func Load(explicit Config, src Source) (Config, error) {
	cfg, err := Resolve(explicit, src)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Resolve merges the sources without validating.
func Resolve(explicit Config, src Source) (Config, error) {
	cfg := explicit

	fromEnv, err := FromEnv(src.Environ)
	if err != nil {
		return Config{}, err
	}
	cfg.merge(fromEnv)

	if !src.SkipFile {
		store, err := NewFileStore(src.File)
		if err != nil {
			return Config{}, err
		}
		fromFile, err := store.Load()
		if err != nil {
			return Config{}, err
		}
		cfg.merge(fromFile)
	}

	cfg.merge(Default())

	if cfg.PrivateKeyPath != "" {
		expanded, err := ExpandHome(cfg.PrivateKeyPath)
		if err != nil {
			return Config{}, err
		}
		cfg.PrivateKeyPath = expanded
	}
	return cfg, nil
}

// FromEnv reads BRAVOZERO_* variables. A nil environ reads the process
// environment.
func FromEnv(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand ~: %w", err)
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~")), nil
}
