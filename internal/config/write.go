package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
// Owner read/write, group and others read-only.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteDefault when the target file exists.
var ErrConfigExists = errors.New("config file already exists")

// configTemplate is the config file written by "config init". Every setting
// is present as a commented-out default so users can discover every option
// without reading docs.
const configTemplate = `# ideaverse configuration
# Uncomment and modify to override defaults.

[server]
# API root of the IdeaVerse backend
# base_url = "` + defaultBaseURL + `"

[auth]
# Where the token pair is kept: file, sqlite, memory
# token_store = "` + defaultTokenStore + `"
# Token file or database path (default: platform data directory)
# token_path = ""

[network]
# Per-request timeout
# request_timeout = "` + defaultRequestTimeout + `"
# user_agent = "` + defaultUserAgent + `"

[logging]
# Verbosity: debug, info, warn, error
# log_level = "` + defaultLogLevel + `"
# Format on stderr: auto (text on a terminal, JSON otherwise), text, json
# log_format = "` + defaultLogFormat + `"
`

// WriteDefault creates a config file at path from the default template.
// Returns ErrConfigExists rather than overwriting an existing file.
func WriteDefault(path string, logger *slog.Logger) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	logger.Info("creating config file", slog.String("path", path))

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path. Parent directories are created
// as needed. Files are created with configFilePermissions (0644).
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
