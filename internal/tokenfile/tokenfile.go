// Package tokenfile persists a session's token pair as a JSON file holding an
// oauth2.Token. Writes are atomic (temp file + fsync + rename) and the file is
// readable by its owner only. This is a leaf package; tokenstore uses its
// Backend as the default durable storage.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the directory holding the token file.
const DirPerms = 0o700

// Entry names understood by Backend. They are the oauth2.Token JSON field
// names.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
)

// ErrUnknownKey is returned by Backend for entries it does not store.
var ErrUnknownKey = errors.New("tokenfile: unknown key")

// File is the on-disk format of a token file.
type File struct {
	Token *oauth2.Token `json:"token"`
}

// Load reads a saved token file. Returns (nil, nil) if the file does not
// exist.
func Load(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, fmt.Errorf("tokenfile: %s missing token field (re-login required)", path)
	}

	return tf.Token, nil
}

// Save writes a token file atomically with 0600 permissions. Never logs
// token values.
func Save(path string, tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("tokenfile: refusing to save nil token")
	}

	data, err := json.MarshalIndent(File{Token: tok}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	// A power loss between close and rename must not leave a partial file
	// at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the token file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}

// Backend exposes a token file as key/value storage with the entries
// "access_token" and "refresh_token". Every call reads the file, so changes
// made by other processes are visible. The file is removed once both
// entries are gone.
type Backend struct {
	path string
	mu   sync.Mutex
}

// NewBackend returns a Backend for the token file at path.
func NewBackend(path string) *Backend {
	return &Backend{path: path}
}

// Path returns the token file location.
func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) Get(key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tok, err := Load(b.path)
	if err != nil {
		return "", err
	}

	if tok == nil {
		return "", nil
	}

	return field(tok, key)
}

func (b *Backend) Put(key, value string) error {
	return b.update(key, value)
}

func (b *Backend) Delete(key string) error {
	return b.update(key, "")
}

func (b *Backend) update(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tok, err := Load(b.path)
	if err != nil {
		return err
	}

	if tok == nil {
		if value == "" {
			return nil
		}

		tok = &oauth2.Token{TokenType: "Bearer"}
	}

	switch key {
	case keyAccessToken:
		tok.AccessToken = value
	case keyRefreshToken:
		tok.RefreshToken = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return Remove(b.path)
	}

	return Save(b.path, tok)
}

func field(tok *oauth2.Token, key string) (string, error) {
	switch key {
	case keyAccessToken:
		return tok.AccessToken, nil
	case keyRefreshToken:
		return tok.RefreshToken, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
}
