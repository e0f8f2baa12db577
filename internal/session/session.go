// Package session is the application-wide view of who is logged in. It
// mediates login and logout, rehydrates a session from persisted tokens, and
// notifies subscribers whenever the observable state changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/ideaverse/ideaverse-cli/internal/api"
	"github.com/ideaverse/ideaverse-cli/internal/refresh"
)

// Route is a navigation target signalled after login and logout.
type Route string

// Routes of the authenticated and unauthenticated areas.
const (
	RouteDashboard Route = "/dashboard"
	RouteLogin     Route = "/login"
)

// Navigator receives navigation signals.
type Navigator interface {
	Navigate(route Route)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(Route)

func (f NavigatorFunc) Navigate(r Route) { f(r) }

// TokenStore is the token storage the session writes on login and logout.
type TokenStore interface {
	AccessToken() (string, error)
	RefreshToken() (string, error)
	SetTokens(access, refreshTok string) error
	Clear() error
}

// Authenticator exchanges credentials for tokens. *api.AuthClient
// satisfies it.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*api.TokenResponse, error)
}

// Identity is the authenticated part of the API the session uses.
// *api.Client satisfies it.
type Identity interface {
	Me(ctx context.Context) (*api.User, error)
	Logout(ctx context.Context) error
}

// State is a snapshot of the observable session fields.
type State struct {
	User            *api.User
	IsAuthenticated bool
	Loading         bool
}

// Session holds the current user and coordinates the token lifecycle.
// Safe for concurrent use. Invariant: user is non-nil only while an access
// token is stored.
type Session struct {
	tokens   TokenStore
	auth     Authenticator
	identity Identity
	nav      Navigator
	logger   *slog.Logger

	mu        sync.Mutex
	user      *api.User
	loading   int
	listeners map[int]func(State)
	nextID    int
}

// New creates a Session. nav may be nil.
func New(tokens TokenStore, auth Authenticator, identity Identity, nav Navigator, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	if nav == nil {
		nav = NavigatorFunc(func(Route) {})
	}

	return &Session{
		tokens:    tokens,
		auth:      auth,
		identity:  identity,
		nav:       nav,
		logger:    logger,
		listeners: make(map[int]func(State)),
	}
}

// NormalizeEmail trims, NFC-normalizes and lower-cases an email address so
// that visually identical inputs log in to the same account.
func NormalizeEmail(email string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(email)))
}

// Login exchanges credentials, stores the token pair, loads the user and
// navigates to the dashboard. On failure the session is left as it was,
// including a previously stored token pair, and the error is returned;
// rejected credentials come back as *api.ValidationError.
func (s *Session) Login(ctx context.Context, email, password string) error {
	s.beginLoading()
	defer s.endLoading()

	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return &api.ValidationError{Message: "Email and password are required."}
	}

	s.logger.Debug("login started")

	resp, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return err
	}

	prevAccess, prevRefresh, err := s.currentTokens()
	if err != nil {
		return fmt.Errorf("session: reading current tokens: %w", err)
	}

	if err := s.tokens.SetTokens(resp.AccessToken, resp.RefreshToken); err != nil {
		s.restoreTokens(prevAccess, prevRefresh)
		return fmt.Errorf("session: storing tokens: %w", err)
	}

	user, err := s.identity.Me(ctx)
	if err != nil {
		if resp.User == nil || endsSession(err) || !s.hasAccessToken() {
			s.restoreTokens(prevAccess, prevRefresh)
			return fmt.Errorf("session: loading user after login: %w", err)
		}

		s.logger.Warn("fetching user after login failed, using login response",
			slog.String("error", err.Error()),
		)

		user = resp.User
	}

	s.setUser(user)

	s.logger.Info("login successful")
	s.logger.Debug("logged in user", slog.String("user_id", user.ID))
	s.nav.Navigate(RouteDashboard)

	return nil
}

// endsSession reports whether err means the API client already discarded
// the tokens it was using.
func endsSession(err error) bool {
	return errors.Is(err, api.ErrSessionExpired) ||
		errors.Is(err, refresh.ErrRefreshFailed) ||
		errors.Is(err, refresh.ErrNoRefreshToken)
}

func (s *Session) currentTokens() (access, refreshTok string, err error) {
	access, err = s.tokens.AccessToken()
	if err != nil {
		return "", "", err
	}

	refreshTok, err = s.tokens.RefreshToken()
	if err != nil {
		return "", "", err
	}

	return access, refreshTok, nil
}

func (s *Session) hasAccessToken() bool {
	tok, err := s.tokens.AccessToken()
	return err == nil && tok != ""
}

// restoreTokens puts back the pair stored before a failed login. An empty
// pair deletes both entries.
func (s *Session) restoreTokens(access, refreshTok string) {
	if err := s.tokens.SetTokens(access, refreshTok); err != nil {
		s.logger.Error("failed to restore tokens after failed login", slog.String("error", err.Error()))
	}
}

// Logout makes a best-effort server-side logout, then clears the local
// tokens and user no matter what the server said, and navigates to the
// login page.
func (s *Session) Logout(ctx context.Context) {
	s.beginLoading()
	defer s.endLoading()

	if tok, err := s.tokens.AccessToken(); err == nil && tok != "" {
		if err := s.identity.Logout(ctx); err != nil {
			s.logger.Warn("server logout failed, clearing local session anyway",
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.tokens.Clear(); err != nil {
		s.logger.Error("failed to clear tokens", slog.String("error", err.Error()))
	}

	s.setUser(nil)

	s.logger.Info("logged out")
	s.nav.Navigate(RouteLogin)
}

// RefreshAuthState tries to become authenticated from persisted tokens, as
// done at startup and whenever the persisted tokens may have changed. The
// identity fetch goes through the API client, which refreshes an expired
// access token once before giving up. Reports whether the session is now
// authenticated; failures are logged, never returned.
func (s *Session) RefreshAuthState(ctx context.Context) bool {
	s.beginLoading()
	defer s.endLoading()

	tok, err := s.tokens.AccessToken()
	if err != nil {
		s.logger.Warn("reading persisted access token failed", slog.String("error", err.Error()))
		s.setUser(nil)

		return false
	}

	if tok == "" {
		s.logger.Debug("no persisted access token")
		s.setUser(nil)

		return false
	}

	user, err := s.identity.Me(ctx)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, api.ErrUnauthorized) || errors.Is(err, api.ErrSessionExpired) {
			level = slog.LevelInfo
		}

		s.logger.Log(ctx, level, "restoring session failed", slog.String("error", err.Error()))
		s.setUser(nil)

		return false
	}

	s.setUser(user)

	return s.IsAuthenticated()
}

// User returns the current user, or nil. A user whose tokens were cleared
// elsewhere (e.g. by a failed refresh) is reported as nil.
func (s *Session) User() *api.User {
	return s.State().User
}

// IsAuthenticated reports whether a user is loaded and an access token is
// stored.
func (s *Session) IsAuthenticated() bool {
	return s.State().IsAuthenticated
}

// Loading reports whether Login, Logout or RefreshAuthState is running.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loading > 0
}

// State returns a snapshot of the observable fields.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stateLocked()
}

// Subscribe registers fn to receive a State snapshot after every change.
// fn is called synchronously from the goroutine that made the change, with
// no lock held.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// stateLocked builds a snapshot. Caller holds s.mu.
func (s *Session) stateLocked() State {
	st := State{Loading: s.loading > 0}

	if s.user != nil {
		if tok, err := s.tokens.AccessToken(); err == nil && tok != "" {
			st.User = s.user
			st.IsAuthenticated = true
		}
	}

	return st
}

func (s *Session) setUser(u *api.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()

	s.notify()
}

func (s *Session) beginLoading() {
	s.mu.Lock()
	s.loading++
	s.mu.Unlock()

	s.notify()
}

func (s *Session) endLoading() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()

	s.notify()
}

// notify delivers the current state to every listener outside the lock.
func (s *Session) notify() {
	s.mu.Lock()
	st := s.stateLocked()
	fns := make([]func(State), 0, len(s.listeners))

	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
