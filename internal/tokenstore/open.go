package tokenstore

import (
	"fmt"
	"log/slog"

	"github.com/ideaverse/ideaverse-cli/internal/tokenfile"
)

// Backend kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

// Open builds a Store over the backend named by kind. path is the token file
// or database location; it is ignored for KindMemory. The returned close
// func releases backend resources and is never nil.
func Open(kind, path string, logger *slog.Logger) (*Store, func() error, error) {
	noop := func() error { return nil }

	switch kind {
	case KindFile:
		return New(tokenfile.NewBackend(path), logger), noop, nil
	case KindSQLite:
		b, err := OpenSQLite(path, logger)
		if err != nil {
			return nil, noop, err
		}

		return New(b, logger), b.Close, nil
	case KindMemory:
		return New(NewMemoryBackend(), logger), noop, nil
	default:
		return nil, noop, fmt.Errorf("tokenstore: unknown backend kind %q", kind)
	}
}
