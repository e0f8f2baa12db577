package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minRequestTimeout = 1 * time.Second
	maxRequestTimeout = 10 * time.Minute
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return []error{fmt.Errorf("base_url: %w", err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("base_url: scheme must be http or https, got %q", s.BaseURL)}
	}

	if u.Host == "" {
		return []error{fmt.Errorf("base_url: missing host in %q", s.BaseURL)}
	}

	return nil
}

var validTokenStores = map[string]bool{
	tokenStoreFile:   true,
	tokenStoreSQLite: true,
	tokenStoreMemory: true,
}

func validateAuth(a *AuthConfig) []error {
	if !validTokenStores[a.TokenStore] {
		return []error{fmt.Errorf("token_store: must be one of file, sqlite, memory; got %q", a.TokenStore)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	d, err := time.ParseDuration(n.RequestTimeout)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("request_timeout: invalid duration %q: %w", n.RequestTimeout, err))
	case d < minRequestTimeout || d > maxRequestTimeout:
		errs = append(errs, fmt.Errorf("request_timeout: must be between %s and %s, got %s",
			minRequestTimeout, maxRequestTimeout, d))
	}

	if n.UserAgent == "" {
		errs = append(errs, errors.New("user_agent: must not be empty"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

// Timeout returns the parsed request timeout. Only valid on a
// Config that passed Validate.
func (n NetworkConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(n.RequestTimeout)
	if err != nil {
		return 0
	}

	return d
}
