package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "ideaverse"

// File names inside the config and data directories.
const (
	configFileName  = "config.toml"
	tokenFileName   = "tokens.json"
	tokenDBFileName = "tokens.db"
)

// Token store kinds accepted in [auth] token_store.
const (
	tokenStoreFile   = "file"
	tokenStoreSQLite = "sqlite"
	tokenStoreMemory = "memory"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/ideaverse).
// On macOS, uses ~/Library/Application Support/ideaverse.
// Other platforms fall back to ~/.config/ideaverse.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for persisted
// tokens. On Linux, respects XDG_DATA_HOME (defaults to
// ~/.local/share/ideaverse). macOS collapses config and data into one
// directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, ".local/share")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// xdgDir returns $envVar/ideaverse, or ~/fallback/ideaverse when unset.
func xdgDir(envVar, home, fallback string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, filepath.FromSlash(fallback), appName)
}

// DefaultConfigPath returns the full path to the default config file.
// This is used as the fallback when neither IDEAVERSE_CONFIG nor
// --config is specified.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// DefaultTokenPath returns where the given token store kind keeps its data.
// The memory store has no path.
func DefaultTokenPath(store string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	switch store {
	case tokenStoreSQLite:
		return filepath.Join(dir, tokenDBFileName)
	case tokenStoreMemory:
		return ""
	default:
		return filepath.Join(dir, tokenFileName)
	}
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
