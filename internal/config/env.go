package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "IDEAVERSE_CONFIG"
	EnvBaseURL    = "IDEAVERSE_BASE_URL"
	EnvTokenStore = "IDEAVERSE_TOKEN_STORE"
	EnvTokenPath  = "IDEAVERSE_TOKEN_PATH"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // IDEAVERSE_CONFIG: override config file path
	BaseURL    string // IDEAVERSE_BASE_URL: API root
	TokenStore string // IDEAVERSE_TOKEN_STORE: file, sqlite or memory
	TokenPath  string // IDEAVERSE_TOKEN_PATH: token file or database path
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BaseURL:    os.Getenv(EnvBaseURL),
		TokenStore: os.Getenv(EnvTokenStore),
		TokenPath:  os.Getenv(EnvTokenPath),
	}
}
