// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for the ideaverse CLI. It supports a
// four-layer override chain (defaults -> config file -> environment -> CLI
// flags).
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server" json:"server"`
	Auth    AuthConfig    `toml:"auth" json:"auth"`
	Network NetworkConfig `toml:"network" json:"network"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// ServerConfig locates the IdeaVerse API.
type ServerConfig struct {
	BaseURL string `toml:"base_url" json:"base_url"`
}

// AuthConfig controls where the token pair is persisted. An empty
// TokenPath means the platform data directory.
type AuthConfig struct {
	TokenStore string `toml:"token_store" json:"token_store"`
	TokenPath  string `toml:"token_path" json:"token_path"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	RequestTimeout string `toml:"request_timeout" json:"request_timeout"`
	UserAgent      string `toml:"user_agent" json:"user_agent"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level" json:"log_level"`
	LogFormat string `toml:"log_format" json:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	BaseURL    *string // --base-url flag
	TokenStore *string // --token-store flag
}
