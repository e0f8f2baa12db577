package config

// Default values for configuration options. These are "layer 0" of the
// four-layer override chain and work against a local development backend
// without any config file.
const (
	defaultBaseURL        = "http://localhost:8000/api"
	defaultTokenStore     = tokenStoreFile
	defaultRequestTimeout = "30s"
	defaultUserAgent      = "ideaverse-cli/0.1"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: defaultBaseURL,
		},
		Auth: AuthConfig{
			TokenStore: defaultTokenStore,
		},
		Network: NetworkConfig{
			RequestTimeout: defaultRequestTimeout,
			UserAgent:      defaultUserAgent,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
