package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// AuthClient calls the credential endpoints. They are not bearer
// authenticated and never go through token refresh.
type AuthClient struct {
	transport
}

// NewAuthClient creates an AuthClient for the API at baseURL.
func NewAuthClient(baseURL string, httpClient *http.Client, userAgent string, logger *slog.Logger) *AuthClient {
	return &AuthClient{transport: newTransport(baseURL, httpClient, userAgent, logger)}
}

// Login exchanges credentials for a token pair (POST /auth/login, form
// encoded). Rejected credentials and malformed input are returned as
// *ValidationError with a message fit for the user.
func (a *AuthClient) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	resp, reqID, err := a.send(ctx, http.MethodPost, "/auth/login",
		[]byte(form.Encode()), "application/x-www-form-urlencoded", "")
	if err != nil {
		return nil, err
	}

	if !isSuccess(resp.StatusCode) {
		apiErr := errorFromResponse(resp, reqID)

		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity:
			a.logger.Info("login rejected",
				slog.Int("status", apiErr.StatusCode),
				slog.String("request_id", apiErr.RequestID),
			)

			return nil, &ValidationError{StatusCode: apiErr.StatusCode, Message: loginMessage(apiErr)}
		default:
			return nil, apiErr
		}
	}

	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("api: decoding login response: %w", err)
	}

	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return nil, fmt.Errorf("api: login response is missing tokens")
	}

	out := &TokenResponse{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}

	if tr.User != nil {
		out.User = tr.User.toUser()
	}

	return out, nil
}

// loginMessage picks the user-facing text for a rejected login.
func loginMessage(e *APIError) string {
	if msg := strings.TrimSpace(e.Message); msg != "" && !strings.HasPrefix(msg, "{") {
		return msg
	}

	return "Login failed. Check your email and password."
}

// Refresh mints a new access token from a refresh token (POST /auth/refresh).
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (string, error) {
	body, err := json.Marshal(refreshRequest{Token: refreshToken})
	if err != nil {
		return "", fmt.Errorf("api: encoding refresh request: %w", err)
	}

	resp, reqID, err := a.send(ctx, http.MethodPost, "/auth/refresh", body, "application/json", "")
	if err != nil {
		return "", err
	}

	if !isSuccess(resp.StatusCode) {
		return "", errorFromResponse(resp, reqID)
	}

	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("api: decoding refresh response: %w", err)
	}

	if tr.AccessToken == "" {
		return "", fmt.Errorf("api: refresh response has no access token")
	}

	return tr.AccessToken, nil
}
