package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// DefaultUserAgent is sent when the caller does not configure one.
const DefaultUserAgent = "ideaverse-cli/0.1"

// requestIDHeader carries a per-request UUID, echoed by the backend in its
// logs and error responses.
const requestIDHeader = "X-Request-ID"

// maxErrorBody caps how much of an error response is kept for messages.
const maxErrorBody = 64 << 10

// TokenStore is the part of the token store the client needs. Defined at
// the consumer; *tokenstore.Store satisfies it.
type TokenStore interface {
	AccessToken() (string, error)
	Clear() error
}

// Refresher obtains a new access token after the backend rejected
// staleToken. Implementations collapse concurrent calls into one refresh.
type Refresher interface {
	Refresh(ctx context.Context, staleToken string) (string, error)
}

// transport holds what Client and AuthClient share: the base URL, the HTTP
// client and the request decoration.
type transport struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

func newTransport(baseURL string, httpClient *http.Client, userAgent string, logger *slog.Logger) transport {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return transport{
		baseURL:    baseURL,
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// send executes one HTTP request. bearer is attached when non-empty.
// Returns the request ID that was sent along with the response.
func (t *transport) send(
	ctx context.Context, method, path string, body []byte, contentType, bearer string,
) (*http.Response, string, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, rdr)
	if err != nil {
		return nil, "", fmt.Errorf("api: creating request: %w", err)
	}

	reqID := uuid.NewString()

	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, reqID)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, reqID, fmt.Errorf("api: request canceled: %w", ctx.Err())
		}

		return nil, reqID, fmt.Errorf("api: %s %s: %w", method, path, err)
	}

	return resp, reqID, nil
}

// errorFromResponse reads and closes an error response and builds an
// *APIError from it.
func errorFromResponse(resp *http.Response, sentID string) *APIError {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if readErr != nil {
		body = []byte("(failed to read response body)")
	}

	reqID := resp.Header.Get(requestIDHeader)
	if reqID == "" {
		reqID = sentID
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  reqID,
		Message:    detailMessage(body),
		Err:        classifyStatus(resp.StatusCode),
	}
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// Client is an authenticated client for the IdeaVerse API.
// Every request carries the current access token. A 401 is answered by one
// token refresh and one resubmission of the same request; a second 401 ends
// the session.
type Client struct {
	transport
	tokens    TokenStore
	refresher Refresher
}

// NewClient creates an API client. baseURL is the API root, e.g.
// "http://localhost:8000/api". refresher may be nil, in which case 401s are
// returned to the caller unchanged.
func NewClient(
	baseURL string,
	httpClient *http.Client,
	tokens TokenStore,
	refresher Refresher,
	userAgent string,
	logger *slog.Logger,
) *Client {
	return &Client{
		transport: newTransport(baseURL, httpClient, userAgent, logger),
		tokens:    tokens,
		refresher: refresher,
	}
}

// request is one logical call. retried guards against refreshing twice for
// the same call.
type request struct {
	method  string
	path    string
	body    []byte
	retried bool
}

// Do executes an authenticated request. The path is appended to the base
// URL. For non-nil bodies, Content-Type is set to application/json.
// Non-2xx responses are returned as errors wrapping *APIError.
// The caller is responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req := &request{method: method, path: path}

	if body != nil {
		// Buffered so the request can be resubmitted after a refresh.
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("api: reading request body: %w", err)
		}

		req.body = data
	}

	tok, err := c.tokens.AccessToken()
	if err != nil {
		return nil, fmt.Errorf("api: reading access token: %w", err)
	}

	for {
		resp, apiErr, err := c.doOnce(ctx, req, tok)
		if err != nil {
			return nil, err
		}

		if apiErr == nil {
			return resp, nil
		}

		if apiErr.StatusCode != http.StatusUnauthorized || c.refresher == nil {
			return nil, apiErr
		}

		if req.retried {
			return nil, c.endSession(req, apiErr)
		}

		req.retried = true

		c.logger.Debug("access token rejected, refreshing",
			slog.String("method", method),
			slog.String("path", path),
		)

		newTok, refreshErr := c.refresher.Refresh(ctx, tok)
		if refreshErr != nil {
			c.logger.Warn("token refresh failed",
				slog.String("method", method),
				slog.String("path", path),
				slog.String("error", refreshErr.Error()),
			)

			return nil, fmt.Errorf("%w (token refresh: %w)", apiErr, refreshErr)
		}

		tok = newTok
	}
}

// doOnce sends req with the given token. A non-2xx response is returned as
// apiErr with its body already closed; err is reserved for transport failures.
func (c *Client) doOnce(ctx context.Context, req *request, tok string) (*http.Response, *APIError, error) {
	contentType := ""
	if req.body != nil {
		contentType = "application/json"
	}

	resp, reqID, err := c.send(ctx, req.method, req.path, req.body, contentType, tok)
	if err != nil {
		return nil, nil, err
	}

	if isSuccess(resp.StatusCode) {
		c.logger.Debug("request succeeded",
			slog.String("method", req.method),
			slog.String("path", req.path),
			slog.Int("status", resp.StatusCode),
			slog.Bool("retried", req.retried),
		)

		return resp, nil, nil
	}

	return nil, errorFromResponse(resp, reqID), nil
}

// endSession handles a 401 on a request that was already resubmitted with a
// freshly refreshed token. The session cannot recover: tokens are cleared.
func (c *Client) endSession(req *request, apiErr *APIError) error {
	c.logger.Warn("request rejected after token refresh, ending session",
		slog.String("method", req.method),
		slog.String("path", req.path),
		slog.String("request_id", apiErr.RequestID),
	)

	if err := c.tokens.Clear(); err != nil {
		c.logger.Error("failed to clear tokens", slog.String("error", err.Error()))
	}

	return fmt.Errorf("%w: %w", ErrSessionExpired, apiErr)
}

// DoJSON sends in (if non-nil) as JSON and decodes the response into out
// (if non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encoding request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("api: decoding %s %s response: %w", method, path, err)
	}

	return nil
}

// Me returns the identity of the authenticated user (GET /auth/me).
func (c *Client) Me(ctx context.Context) (*User, error) {
	var ur userResponse
	if err := c.DoJSON(ctx, http.MethodGet, "/auth/me", nil, &ur); err != nil {
		return nil, fmt.Errorf("api: fetching current user: %w", err)
	}

	return ur.toUser(), nil
}

// Logout asks the backend to invalidate the session (POST /auth/logout).
// The response body is ignored.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.DoJSON(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("api: logging out: %w", err)
	}

	return nil
}
