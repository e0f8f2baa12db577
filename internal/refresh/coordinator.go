// Package refresh collapses concurrent access-token refreshes into a single
// round-trip. When many requests are rejected with 401 at once, the first
// caller starts a refresh and every later caller awaits the same in-flight
// result instead of issuing its own.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrNoRefreshToken is returned when a refresh is needed but no refresh
// token is stored. No network call is made.
var ErrNoRefreshToken = errors.New("refresh: no refresh token")

// ErrRefreshFailed wraps the backend or transport error of a failed refresh.
// The session's tokens have been cleared.
var ErrRefreshFailed = errors.New("refresh: token refresh failed")

// flightKey is the single singleflight key: one session has one refresh.
const flightKey = "access-token"

// Store is the token storage the coordinator reads and writes.
// *tokenstore.Store satisfies it.
type Store interface {
	AccessToken() (string, error)
	RefreshToken() (string, error)
	SetAccessToken(token string) error
	Clear() error
}

// TokenRefresher performs the network exchange of a refresh token for a new
// access token. *api.AuthClient satisfies it.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Stats counts coordinator activity.
type Stats struct {
	Refreshes int64 // network refreshes started
	Joined    int64 // callers that awaited an in-flight refresh
	Reused    int64 // callers whose stale token had already been replaced
	Failures  int64 // refreshes that ended the session
}

// Coordinator ensures at most one refresh is in flight at any time.
// States: idle (inFlight false) and refreshing (inFlight true).
type Coordinator struct {
	store  Store
	auth   TokenRefresher
	logger *slog.Logger

	group singleflight.Group

	// mu orders "check the current token, then join or start a flight"
	// against "publish the flight's result". A flight cannot return until it
	// has published under mu, so a caller holding mu either sees the new
	// token or joins the flight that is about to produce it.
	mu       sync.Mutex
	inFlight bool
	stats    Stats
}

// NewCoordinator creates a Coordinator refreshing tokens in store via auth.
func NewCoordinator(store Store, auth TokenRefresher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		store:  store,
		auth:   auth,
		logger: logger,
	}
}

// Refresh returns an access token to use instead of staleToken, the token a
// request was rejected with. If the store already holds a different token,
// it is returned without a network call. Otherwise the caller starts a
// refresh or joins the one in flight.
//
// The refresh itself is not tied to ctx: if ctx ends, this caller stops
// waiting but the refresh completes for the others.
func (c *Coordinator) Refresh(ctx context.Context, staleToken string) (string, error) {
	c.mu.Lock()

	current, err := c.store.AccessToken()
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("refresh: reading access token: %w", err)
	}

	if current != "" && current != staleToken {
		c.stats.Reused++
		c.mu.Unlock()

		c.logger.Debug("access token already refreshed, reusing")

		return current, nil
	}

	if c.inFlight {
		c.stats.Joined++
	} else {
		c.inFlight = true
		c.stats.Refreshes++
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.run(flightCtx)
	})

	c.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		tok, _ := res.Val.(string)

		return tok, nil
	case <-ctx.Done():
		return "", fmt.Errorf("refresh: waiting for token refresh: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the coordinator's counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// run is the body of one flight.
func (c *Coordinator) run(ctx context.Context) (string, error) {
	refreshToken, err := c.store.RefreshToken()
	if err != nil {
		return c.fail(fmt.Errorf("%w: reading refresh token: %w", ErrRefreshFailed, err))
	}

	if refreshToken == "" {
		c.logger.Info("no refresh token stored, session cannot be refreshed")
		return c.fail(ErrNoRefreshToken)
	}

	c.logger.Debug("refreshing access token")

	tok, err := c.auth.Refresh(ctx, refreshToken)
	if err != nil {
		c.logger.Warn("access token refresh failed", slog.String("error", err.Error()))
		return c.fail(fmt.Errorf("%w: %w", ErrRefreshFailed, err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.endFlight()

	if err := c.store.SetAccessToken(tok); err != nil {
		c.stats.Failures++
		return "", fmt.Errorf("%w: storing access token: %w", ErrRefreshFailed, err)
	}

	c.logger.Info("access token refreshed")

	return tok, nil
}

// fail publishes a failed flight: tokens are cleared and every waiter
// receives err.
func (c *Coordinator) fail(err error) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endFlight()
	c.stats.Failures++

	if clearErr := c.store.Clear(); clearErr != nil {
		c.logger.Error("failed to clear tokens after refresh failure",
			slog.String("error", clearErr.Error()),
		)
	}

	return "", err
}

// endFlight returns to idle. The singleflight key is dropped here, while mu
// is held, so a caller that sees the published result under mu starts a new
// flight instead of joining the finished one. Caller holds c.mu.
func (c *Coordinator) endFlight() {
	c.inFlight = false
	c.group.Forget(flightKey)
}
