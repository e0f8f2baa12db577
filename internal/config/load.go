package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolved is the effective configuration after all override layers, plus
// the config file path it was read from.
type Resolved struct {
	Config
	Path string `json:"config_path"`
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// The token path is filled in from the platform data directory when no
// layer set it.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.BaseURL != "" {
		cfg.Server.BaseURL = env.BaseURL
	}

	if env.TokenStore != "" {
		cfg.Auth.TokenStore = env.TokenStore
	}

	if env.TokenPath != "" {
		cfg.Auth.TokenPath = env.TokenPath
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	if cli.BaseURL != nil {
		cfg.Server.BaseURL = *cli.BaseURL
	}

	if cli.TokenStore != nil {
		cfg.Auth.TokenStore = *cli.TokenStore
	}

	cfg.Server.BaseURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	cfg.Auth.TokenPath = expandTilde(cfg.Auth.TokenPath)

	if cfg.Auth.TokenPath == "" {
		cfg.Auth.TokenPath = DefaultTokenPath(cfg.Auth.TokenStore)
	}

	// 5. Validate the final result; env and flags bypass Load's check.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &Resolved{Config: *cfg, Path: cfgPath}, nil
}
