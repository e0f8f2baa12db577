package tokenstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dbDirPerms is used when creating the directory holding the database.
const dbDirPerms = 0o700

const (
	sqlGetToken = `SELECT value FROM tokens WHERE key = ?` //nolint:gosec // G101: query text, not a credential

	sqlUpsertToken = `INSERT INTO tokens (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		 value = excluded.value,
		 updated_at = excluded.updated_at`

	sqlDeleteToken = `DELETE FROM tokens WHERE key = ?`
)

// SQLiteBackend stores token entries in a SQLite database. Useful when the
// tokens live next to other client state in one database file.
type SQLiteBackend struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// pending migrations.
func OpenSQLite(dbPath string, logger *slog.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), dbDirPerms); err != nil {
		return nil, fmt.Errorf("tokenstore: creating directory for %s: %w", dbPath, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := os.Chmod(dbPath, 0o600); err != nil {
		logger.Warn("could not restrict token database permissions",
			slog.String("path", dbPath),
			slog.String("error", err.Error()),
		)
	}

	logger.Debug("sqlite token backend ready", slog.String("db_path", dbPath))

	return &SQLiteBackend{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}, nil
}

// runMigrations applies all pending schema migrations using the goose
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("tokenstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("tokenstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("tokenstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (b *SQLiteBackend) Get(key string) (string, error) {
	var value string

	err := b.db.QueryRowContext(context.Background(), sqlGetToken, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("tokenstore: querying %s: %w", key, err)
	}

	return value, nil
}

func (b *SQLiteBackend) Put(key, value string) error {
	if _, err := b.db.ExecContext(context.Background(), sqlUpsertToken, key, value, b.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("tokenstore: upserting %s: %w", key, err)
	}

	return nil
}

func (b *SQLiteBackend) Delete(key string) error {
	if _, err := b.db.ExecContext(context.Background(), sqlDeleteToken, key); err != nil {
		return fmt.Errorf("tokenstore: deleting %s: %w", key, err)
	}

	return nil
}

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
