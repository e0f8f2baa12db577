package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a debug-level logger so all config output appears in
// test output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func ptr[T any](v T) *T { return &v }

func TestDefaultConfig_IsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[server]
base_url = "https://ideaverse.example.com/api"

[auth]
token_store = "sqlite"
token_path = "/var/lib/ideaverse/tokens.db"

[network]
request_timeout = "10s"
user_agent = "ideaverse-test/1.0"

[logging]
log_level = "debug"
log_format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://ideaverse.example.com/api", cfg.Server.BaseURL)
	assert.Equal(t, "sqlite", cfg.Auth.TokenStore)
	assert.Equal(t, "/var/lib/ideaverse/tokens.db", cfg.Auth.TokenPath)
	assert.Equal(t, 10*time.Second, cfg.Network.Timeout())
	assert.Equal(t, "ideaverse-test/1.0", cfg.Network.UserAgent)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[logging]
log_level = "warn"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.LogLevel)
	assert.Equal(t, defaultLogFormat, cfg.Logging.LogFormat)
	assert.Equal(t, defaultBaseURL, cfg.Server.BaseURL)
	assert.Equal(t, defaultTokenStore, cfg.Auth.TokenStore)
	assert.Equal(t, 30*time.Second, cfg.Network.Timeout())
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[server\nbase_url = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_UnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "typo in section key",
			content: "[network]\nrequest_timout = \"5s\"\n",
			want:    []string{`unknown config key "request_timout" in [network]`, `"request_timeout"`},
		},
		{
			name:    "typo in section name",
			content: "[sever]\nbase_url = \"http://x\"\n",
			want:    []string{"unknown config section [sever]", "[server]"},
		},
		{
			name:    "key outside section",
			content: "log_level = \"debug\"\n",
			want:    []string{`unknown config key "log_level"`, "inside [logging]"},
		},
		{
			name:    "no suggestion",
			content: "[auth]\ncompletely_different = true\n",
			want:    []string{`unknown config key "completely_different" in [auth]`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTestConfig(t, tt.content))
			require.Error(t, err)

			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestLoad_UnknownSectionReportedOnce(t *testing.T) {
	path := writeTestConfig(t, "[sever]\nbase_url = \"http://x\"\nuser_agent = \"y\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, 1, bytes.Count([]byte(err.Error()), []byte("unknown config section")))
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
[server]
base_url = "ftp://ideaverse"

[auth]
token_store = "keyring"

[network]
request_timeout = "soon"

[logging]
log_level = "verbose"
log_format = "xml"
`)

	_, err := Load(path)
	require.Error(t, err)

	for _, field := range []string{"base_url", "token_store", "request_timeout", "log_level", "log_format"} {
		assert.Contains(t, err.Error(), field+":")
	}
}

func TestValidate_RequestTimeoutBounds(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Network.RequestTimeout = "100ms"
	assert.ErrorContains(t, Validate(cfg), "request_timeout: must be between")

	cfg.Network.RequestTimeout = "1h"
	assert.ErrorContains(t, Validate(cfg), "request_timeout: must be between")

	cfg.Network.RequestTimeout = "1s"
	assert.NoError(t, Validate(cfg))
}

func TestValidate_BaseURLNeedsHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.BaseURL = "http://"

	assert.ErrorContains(t, Validate(cfg), "missing host")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Precedence(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	path := writeTestConfig(t, `
[server]
base_url = "http://file.example.com/api"

[auth]
token_store = "sqlite"
`)

	// File only.
	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "http://file.example.com/api", r.Server.BaseURL)
	assert.Equal(t, "sqlite", r.Auth.TokenStore)
	assert.Equal(t, path, r.Path)

	// Env beats file.
	env := EnvOverrides{BaseURL: "http://env.example.com/api/", TokenStore: "memory"}
	r, err = Resolve(env, CLIOverrides{ConfigPath: path})
	require.NoError(t, err)
	assert.Equal(t, "http://env.example.com/api", r.Server.BaseURL, "trailing slash trimmed")
	assert.Equal(t, "memory", r.Auth.TokenStore)
	assert.Empty(t, r.Auth.TokenPath, "memory store has no path")

	// CLI beats env.
	r, err = Resolve(env, CLIOverrides{
		ConfigPath: path,
		BaseURL:    ptr("https://cli.example.com/api"),
		TokenStore: ptr("file"),
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cli.example.com/api", r.Server.BaseURL)
	assert.Equal(t, "file", r.Auth.TokenStore)
	assert.Equal(t, "tokens.json", filepath.Base(r.Auth.TokenPath))
}

func TestResolve_ConfigPathFromEnv(t *testing.T) {
	path := writeTestConfig(t, "[logging]\nlog_level = \"error\"\n")

	r, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "error", r.Logging.LogLevel)
}

func TestResolve_TokenPathFromEnvWithTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	r, err := Resolve(
		EnvOverrides{TokenPath: "~/tokens/ideaverse.json"},
		CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")},
	)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "tokens", "ideaverse.json"), r.Auth.TokenPath)
}

func TestResolve_InvalidOverrideRejected(t *testing.T) {
	_, err := Resolve(
		EnvOverrides{},
		CLIOverrides{
			ConfigPath: filepath.Join(t.TempDir(), "missing.toml"),
			TokenStore: ptr("keychain"),
		},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_store")
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/ideaverse.toml")
	t.Setenv(EnvBaseURL, "http://env")
	t.Setenv(EnvTokenStore, "sqlite")
	t.Setenv(EnvTokenPath, "/tmp/t.db")

	assert.Equal(t, EnvOverrides{
		ConfigPath: "/etc/ideaverse.toml",
		BaseURL:    "http://env",
		TokenStore: "sqlite",
		TokenPath:  "/tmp/t.db",
	}, ReadEnvOverrides())
}

func TestDefaultTokenPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/xdg/data")

	dir := DefaultDataDir()
	require.NotEmpty(t, dir)

	assert.Equal(t, filepath.Join(dir, "tokens.json"), DefaultTokenPath("file"))
	assert.Equal(t, filepath.Join(dir, "tokens.db"), DefaultTokenPath("sqlite"))
	assert.Empty(t, DefaultTokenPath("memory"))
}

func TestRenderEffective(t *testing.T) {
	r := &Resolved{Config: *DefaultConfig(), Path: "/home/u/.config/ideaverse/config.toml"}
	r.Auth.TokenPath = "/data/tokens.json"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(r, &buf))

	out := buf.String()
	assert.Contains(t, out, "config.toml")
	assert.Contains(t, out, `base_url        = "http://localhost:8000/api"`)
	assert.Contains(t, out, `token_path      = "/data/tokens.json"`)
	assert.Contains(t, out, `log_format      = "auto"`)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestRenderEffective_WriteError(t *testing.T) {
	r := &Resolved{Config: *DefaultConfig()}
	assert.ErrorContains(t, RenderEffective(r, failWriter{}), "broken pipe")
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	require.NoError(t, WriteDefault(path, testLogger(t)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(configFilePermissions), info.Mode().Perm())

	// The template is all comments: loading it yields the defaults.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	err = WriteDefault(path, testLogger(t))
	assert.ErrorIs(t, err, ErrConfigExists)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("base_ur", "base_url"))
	assert.Equal(t, 1, levenshtein("sever", "server"))
}
