// Package uplas is a Go client for the Uplas platform's REST backend. It
// owns the authenticated session: token persistence, single-flight token
// refresh, and transparent retry of requests rejected with 401.
package uplas

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Timeout configuration for different operations.
const (
	refreshTimeout        = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// Request describes one backend call.
//
// JSON, when non-nil, is marshaled as the request body with Content-Type
// application/json. Body, when non-nil, is a body factory: it is invoked once
// per attempt so a 401-triggered retry gets a fresh body even for multipart
// or other one-shot payloads (the caller keeps ownership of the Content-Type
// header in that case, e.g. the multipart boundary). At most one of the two
// should be set; JSON wins.
//
// Public requests are sent without an Authorization header and bypass the
// refresh-on-401 logic entirely.
type Request struct {
	Method string
	Path   string
	Header http.Header
	JSON   any
	Body   func() (io.Reader, error)
	Public bool
}

// Client is the single entry point for calling the backend. Feature code
// never attaches auth headers or handles 401 itself.
type Client struct {
	baseURL       string
	store         *Store
	coord         *refreshCoordinator
	httpc         *retry.Client
	baseHTTP      *http.Client
	logger        *slog.Logger
	timeout       time.Duration
	backendLogout bool
	hook          func(SessionEvent)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Retry handling for
// transient transport failures is layered on top of it either way.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.baseHTTP = h }
}

// WithLogger sets the structured logger (default discards).
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTimeout sets the per-request timeout applied by the default HTTP
// client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSessionHook registers an observer notified whenever the session
// changes: login, logout, or terminal refresh failure.
func WithSessionHook(fn func(SessionEvent)) Option {
	return func(c *Client) {
		if fn != nil {
			c.hook = fn
		}
	}
}

// WithBackendLogout enables the best-effort POST /users/logout/ call before
// the local session is cleared.
func WithBackendLogout(enabled bool) Option {
	return func(c *Client) { c.backendLogout = enabled }
}

// NewClient creates a Client for the backend at baseURL, persisting session
// state in store.
func NewClient(baseURL string, store *Store, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL must not be empty")
	}
	if store == nil {
		return nil, fmt.Errorf("store must not be nil")
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		store:   store,
		logger:  slog.New(slog.DiscardHandler),
		timeout: defaultRequestTimeout,
		hook:    func(SessionEvent) {},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.baseHTTP == nil {
		c.baseHTTP = &http.Client{
			Timeout: c.timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	httpc, err := retry.NewBackgroundClient(retry.WithHTTPClient(c.baseHTTP))
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	c.httpc = httpc

	store.SetLogger(c.logger)
	c.coord = &refreshCoordinator{
		store:   store,
		httpc:   c.httpc,
		baseURL: c.baseURL,
		timeout: refreshTimeout,
		logger:  c.logger,
		notify:  c.emitSession,
	}
	return c, nil
}

// Do performs the request. Non-public requests get a bearer token attached;
// a 401 response triggers one token refresh and one retry, and the retried
// response is returned as-is (a second 401 is not retried again). Non-auth
// HTTP errors pass through untouched for the caller to handle.
func (c *Client) Do(ctx context.Context, r Request) (*http.Response, error) {
	bodyFn, contentType, err := r.body()
	if err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}

	if r.Public {
		return c.send(ctx, r, bodyFn, contentType, "")
	}

	// A request arriving mid-refresh queues behind the in-flight exchange
	// instead of going out with a stale token.
	token, err := c.coord.current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthRequired, err)
	}
	if token == "" || tokenExpired(token) {
		token, err = c.coord.refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAuthRequired, err)
		}
	}

	resp, err := c.send(ctx, r, bodyFn, contentType, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	c.logger.Debug("access token rejected, refreshing", "method", r.Method, "path", r.Path)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token, err = c.coord.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, r, bodyFn, contentType, token)
}

// send issues one attempt: fresh body, fresh headers, fresh request ID.
func (c *Client) send(
	ctx context.Context,
	r Request,
	bodyFn func() (io.Reader, error),
	contentType, token string,
) (*http.Response, error) {
	body, err := bodyFn()
	if err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.baseURL+r.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range r.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpc.DoWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// body normalizes the request payload into a per-attempt factory. JSON
// payloads are marshaled once and replayed from bytes on retry.
func (r Request) body() (func() (io.Reader, error), string, error) {
	if r.JSON != nil {
		payload, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, "", err
		}
		return func() (io.Reader, error) {
			return bytes.NewReader(payload), nil
		}, "application/json", nil
	}
	if r.Body != nil {
		return r.Body, "", nil
	}
	return func() (io.Reader, error) { return nil, nil }, "", nil
}

// Get performs an authenticated GET.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path})
}

// DoJSON performs the request and decodes a 2xx JSON response into out (out
// may be nil to discard the body). Non-2xx responses are returned as an
// *APIError.
func (c *Client) DoJSON(ctx context.Context, r Request, out any) error {
	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// NeedsRefresh reports whether the next authenticated request will have to
// refresh first: there is no access token, or its exp claim has passed.
func (c *Client) NeedsRefresh() bool {
	access, _ := c.store.Tokens()
	return access == "" || tokenExpired(access)
}

// emitSession fans a session change out to the registered hook.
func (c *Client) emitSession(ev SessionEvent) {
	c.hook(ev)
}

// tokenExpired reports whether the access token carries an exp claim in the
// past. Tokens that do not parse as JWTs are assumed usable — a wrong guess
// just means the 401 path handles it.
func tokenExpired(token string) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return time.Now().After(claims.ExpiresAt.Time)
}
