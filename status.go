package main

import (
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

// Token state constants for status reporting.
const (
	tokenStateMissing = "missing"
	tokenStateExpired = "expired"
	tokenStateValid   = "valid"
	tokenStateOpaque  = "opaque"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored token state without contacting the server",
		Long: `Display which tokens are stored and when the access token expires.

The expiry is read from the access token's "exp" claim. The signature is not
checked and no request is made; use 'whoami' to verify the session.`,
		RunE: runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	BaseURL         string     `json:"base_url"`
	TokenStore      string     `json:"token_store"`
	TokenPath       string     `json:"token_path,omitempty"`
	AccessToken     string     `json:"access_token"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
	Subject         string     `json:"subject,omitempty"`
	RefreshToken    bool       `json:"refresh_token"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger(cmd.ErrOrStderr())

	a, err := newApp(logger, nil)
	if err != nil {
		return err
	}
	defer closeApp(a, cmd.ErrOrStderr())

	access, err := a.store.AccessToken()
	if err != nil {
		return fmt.Errorf("reading access token: %w", err)
	}

	refreshTok, err := a.store.RefreshToken()
	if err != nil {
		return fmt.Errorf("reading refresh token: %w", err)
	}

	out := statusOutput{
		BaseURL:      resolvedCfg.Server.BaseURL,
		TokenStore:   resolvedCfg.Auth.TokenStore,
		TokenPath:    resolvedCfg.Auth.TokenPath,
		RefreshToken: refreshTok != "",
	}

	out.AccessToken, out.AccessExpiresAt, out.Subject = inspectAccessToken(access, time.Now())

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	printStatusText(cmd.OutOrStdout(), &out, time.Now())

	return nil
}

// inspectAccessToken classifies a stored access token by its "exp" claim.
// Tokens that are not JWTs, or carry no expiry, are reported as opaque.
func inspectAccessToken(tok string, now time.Time) (state string, expiresAt *time.Time, subject string) {
	if tok == "" {
		return tokenStateMissing, nil, ""
	}

	claims := &jwt.RegisteredClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil || claims.ExpiresAt == nil {
		return tokenStateOpaque, nil, ""
	}

	exp := claims.ExpiresAt.Time
	if !now.Before(exp) {
		return tokenStateExpired, &exp, claims.Subject
	}

	return tokenStateValid, &exp, claims.Subject
}

func printStatusText(w io.Writer, s *statusOutput, now time.Time) {
	store := s.TokenStore
	if s.TokenPath != "" {
		store += " (" + s.TokenPath + ")"
	}

	refreshState := tokenStateMissing
	if s.RefreshToken {
		refreshState = "present"
	}

	accessState := s.AccessToken
	if s.AccessExpiresAt != nil {
		accessState = fmt.Sprintf("%s, expires %s (%s)",
			s.AccessToken, formatTime(s.AccessExpiresAt.Local()), formatRemaining(*s.AccessExpiresAt, now))
	}

	rows := [][]string{
		{"Server", s.BaseURL},
		{"Token store", store},
		{"Access token", accessState},
		{"Refresh token", refreshState},
	}

	if s.Subject != "" {
		rows = append(rows, []string{"User ID", s.Subject})
	}

	printTable(w, []string{"FIELD", "VALUE"}, rows)
}
