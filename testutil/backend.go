package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultAccessTTL is the lifetime of access tokens minted by MockBackend.
const DefaultAccessTTL = 15 * time.Minute

// Polling bounds for require.Eventually in tests that wait on the backend.
const (
	EventuallyTimeout = 5 * time.Second
	EventuallyTick    = time.Millisecond
)

// MockUser is an account known to MockBackend.
type MockUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`

	passwordHash []byte
}

// accessClaims are the claims of a mock access token. Generation lets tests
// expire every outstanding token at once.
type accessClaims struct {
	Generation int64 `json:"gen"`
	jwt.RegisteredClaims
}

// MockBackend is an in-memory IdeaVerse auth backend. It issues HS256 JWT
// access tokens and opaque refresh tokens and exposes hooks for tests to
// expire tokens, fail or hold refreshes, and count calls.
type MockBackend struct {
	secret    []byte
	accessTTL time.Duration

	mu            sync.Mutex
	users         map[string]*MockUser // by email
	refreshTokens map[string]string    // token -> user ID
	revoked       map[string]bool      // access token IDs
	generation    int64
	refreshGate   chan struct{}

	FailRefresh atomic.Bool
	FailLogout  atomic.Bool
	// RejectAll makes every bearer-authenticated endpoint answer 401.
	RejectAll atomic.Bool

	LoginCalls        atomic.Int32
	RefreshCalls      atomic.Int32
	MeCalls           atomic.Int32
	LogoutCalls       atomic.Int32
	UnauthorizedCalls atomic.Int32
}

// NewMockBackend returns a backend with no users.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		secret:        []byte(uuid.NewString()),
		accessTTL:     DefaultAccessTTL,
		users:         make(map[string]*MockUser),
		refreshTokens: make(map[string]string),
		revoked:       make(map[string]bool),
	}
}

// StartMockBackend runs a MockBackend behind an httptest server for the
// duration of the test. Returns the backend and the API base URL.
func StartMockBackend(t testing.TB) (*MockBackend, string) {
	t.Helper()

	b := NewMockBackend()
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	return b, srv.URL
}

// AddUser registers an account. bcrypt.MinCost keeps tests fast.
func (b *MockBackend) AddUser(email, password, username, fullName string) *MockUser {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("testutil: hashing password: %v", err))
	}

	u := &MockUser{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(email),
		Username:     username,
		FullName:     fullName,
		passwordHash: hash,
	}

	b.mu.Lock()
	b.users[u.Email] = u
	b.mu.Unlock()

	return u
}

// SetAccessTTL changes the lifetime of access tokens minted from now on.
func (b *MockBackend) SetAccessTTL(d time.Duration) {
	b.mu.Lock()
	b.accessTTL = d
	b.mu.Unlock()
}

// ExpireAccessTokens invalidates every access token issued so far.
// Refresh tokens stay valid.
func (b *MockBackend) ExpireAccessTokens() {
	b.mu.Lock()
	b.generation++
	b.mu.Unlock()
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (b *MockBackend) RevokeRefreshTokens() {
	b.mu.Lock()
	b.refreshTokens = make(map[string]string)
	b.mu.Unlock()
}

// HoldRefreshes makes every refresh request block until the returned
// release func is called. release is safe to call more than once.
func (b *MockBackend) HoldRefreshes() (release func()) {
	gate := make(chan struct{})

	b.mu.Lock()
	b.refreshGate = gate
	b.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.refreshGate = nil
			b.mu.Unlock()
			close(gate)
		})
	}
}

// IssueTokens mints a fresh token pair for the user, as a login would.
func (b *MockBackend) IssueTokens(u *MockUser) (access, refresh string, err error) {
	access, err = b.mintAccess(u.ID)
	if err != nil {
		return "", "", err
	}

	refresh = uuid.NewString()

	b.mu.Lock()
	b.refreshTokens[refresh] = u.ID
	b.mu.Unlock()

	return access, refresh, nil
}

// Handler returns the HTTP handler serving the backend API.
func (b *MockBackend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", b.handleLogin)
	mux.HandleFunc("POST /auth/refresh", b.handleRefresh)
	mux.HandleFunc("GET /auth/me", b.handleMe)
	mux.HandleFunc("POST /auth/logout", b.handleLogout)
	mux.HandleFunc("GET /ideas", b.handleIdeas)
	mux.HandleFunc("POST /ideas", b.handleIdeas)

	return mux
}

func (b *MockBackend) handleLogin(w http.ResponseWriter, r *http.Request) {
	b.LoginCalls.Add(1)

	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed form body")
		return
	}

	email := strings.ToLower(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")

	if email == "" || password == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "field required"}},
		})

		return
	}

	b.mu.Lock()
	u := b.users[email]
	b.mu.Unlock()

	if u == nil || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}

	access, refresh, err := b.IssueTokens(u)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"user":          u,
	})
}

func (b *MockBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.RefreshCalls.Add(1)

	b.mu.Lock()
	gate := b.refreshGate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if b.FailRefresh.Load() {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	var req struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeDetail(w, http.StatusBadRequest, "token is required")
		return
	}

	b.mu.Lock()
	userID, ok := b.refreshTokens[req.Token]
	b.mu.Unlock()

	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, err := b.mintAccess(userID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"access_token": access, "token_type": "bearer"})
}

func (b *MockBackend) handleMe(w http.ResponseWriter, r *http.Request) {
	b.MeCalls.Add(1)

	u, _, ok := b.authenticate(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (b *MockBackend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.LogoutCalls.Add(1)

	if b.FailLogout.Load() {
		writeDetail(w, http.StatusInternalServerError, "logout unavailable")
		return
	}

	_, claims, ok := b.authenticate(w, r)
	if !ok {
		return
	}

	b.mu.Lock()
	b.revoked[claims.ID] = true
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (b *MockBackend) handleIdeas(w http.ResponseWriter, r *http.Request) {
	u, _, ok := b.authenticate(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost {
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid JSON body")
			return
		}

		in["id"] = uuid.NewString()
		in["owner_id"] = u.ID
		writeJSON(w, http.StatusCreated, in)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ideas": []any{}, "owner_id": u.ID})
}

// authenticate validates the bearer token, writing a 401 on failure.
func (b *MockBackend) authenticate(w http.ResponseWriter, r *http.Request) (*MockUser, *accessClaims, bool) {
	unauthorized := func(msg string) (*MockUser, *accessClaims, bool) {
		b.UnauthorizedCalls.Add(1)
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, msg)

		return nil, nil, false
	}

	if b.RejectAll.Load() {
		return unauthorized("Could not validate credentials")
	}

	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return unauthorized("Not authenticated")
	}

	claims := &accessClaims{}

	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return unauthorized("Could not validate credentials")
	}

	b.mu.Lock()
	stale := claims.Generation < b.generation || b.revoked[claims.ID]
	var user *MockUser

	for _, u := range b.users {
		if u.ID == claims.Subject {
			user = u
			break
		}
	}
	b.mu.Unlock()

	if stale || user == nil {
		return unauthorized("Token has expired")
	}

	return user, claims, true
}

func (b *MockBackend) mintAccess(userID string) (string, error) {
	b.mu.Lock()
	gen, ttl := b.generation, b.accessTTL
	b.mu.Unlock()

	now := time.Now()
	claims := accessClaims{
		Generation: gen,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return "", fmt.Errorf("testutil: signing access token: %w", err)
	}

	return signed, nil
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
