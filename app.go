package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ideaverse/ideaverse-cli/internal/api"
	"github.com/ideaverse/ideaverse-cli/internal/refresh"
	"github.com/ideaverse/ideaverse-cli/internal/session"
	"github.com/ideaverse/ideaverse-cli/internal/tokenstore"
)

// errNotLoggedIn is returned by commands that need a session when none can
// be restored.
var errNotLoggedIn = errors.New("not logged in")

// app is the object graph one command works with: the token store, the
// credential and API clients, the refresh coordinator and the session on top.
type app struct {
	logger  *slog.Logger
	store   *tokenstore.Store
	auth    *api.AuthClient
	coord   *refresh.Coordinator
	client  *api.Client
	session *session.Session

	closeStore func() error
}

// newApp wires the components for the resolved configuration. nav receives
// the session's navigation signals and may be nil. The caller must Close
// the app.
func newApp(logger *slog.Logger, nav session.Navigator) (*app, error) {
	cfg := resolvedCfg

	store, closeStore, err := tokenstore.Open(cfg.Auth.TokenStore, cfg.Auth.TokenPath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening token store: %w", err)
	}

	httpClient := newHTTPClient()
	auth := api.NewAuthClient(cfg.Server.BaseURL, httpClient, cfg.Network.UserAgent, logger)
	coord := refresh.NewCoordinator(store, auth, logger)
	client := api.NewClient(cfg.Server.BaseURL, httpClient, store, coord, cfg.Network.UserAgent, logger)

	logger.Debug("session components ready",
		slog.String("base_url", cfg.Server.BaseURL),
		slog.String("token_store", cfg.Auth.TokenStore),
		slog.String("token_path", cfg.Auth.TokenPath),
	)

	return &app{
		logger:     logger,
		store:      store,
		auth:       auth,
		coord:      coord,
		client:     client,
		session:    session.New(store, auth, client, nav, logger),
		closeStore: closeStore,
	}, nil
}

// Close releases the token store.
func (a *app) Close() error {
	return a.closeStore()
}

// logRefreshStats records how many refreshes a command needed, for -v runs.
func (a *app) logRefreshStats() {
	st := a.coord.Stats()
	if st.Refreshes == 0 && st.Reused == 0 {
		return
	}

	a.logger.Debug("token refresh summary",
		slog.Int64("refreshes", st.Refreshes),
		slog.Int64("joined", st.Joined),
		slog.Int64("reused", st.Reused),
		slog.Int64("failures", st.Failures),
	)
}

// closeApp closes a and reports a failure on w without masking the
// command's own error.
func closeApp(a *app, w io.Writer) {
	a.logRefreshStats()

	if err := a.Close(); err != nil {
		fmt.Fprintf(w, "warning: closing token store: %v\n", err)
	}
}
