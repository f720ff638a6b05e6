package uplas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	retry "github.com/appleboy/go-httpretry"
)

const refreshPath = "/users/token/refresh/"

// Human-readable termination reasons shown on the next login entry point.
const (
	noticeLoginRequired  = "Please log in to continue."
	noticeSessionExpired = "Your session has expired. Please log in again."
	noticeNetworkProblem = "We couldn't reach the server to renew your session. Please log in again."
)

// SessionEvent notifies observers that the session changed: a login, a
// logout, or a terminal refresh failure.
type SessionEvent struct {
	LoggedIn bool
	Reason   string
	Err      error
}

// refreshOutcome is what every caller of a refresh episode receives: the new
// access token or the episode's failure.
type refreshOutcome struct {
	token string
	err   error
}

// refreshCoordinator guarantees at most one in-flight token refresh for the
// whole process. The first caller to observe the idle state owns the network
// exchange; callers arriving while one is in flight register as waiters and
// share its outcome. Terminal failures end the session exactly once.
type refreshCoordinator struct {
	store   *Store
	httpc   *retry.Client
	baseURL string
	timeout time.Duration
	logger  *slog.Logger
	notify  func(SessionEvent)

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshOutcome
}

// refresh returns a fresh access token, performing the network exchange if no
// refresh is currently in flight, or waiting on the in-flight one otherwise.
// The refreshing flag is set before the network call starts, so there is no
// window in which a second caller could start a concurrent exchange.
func (c *refreshCoordinator) refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.refreshing {
		ch := make(chan refreshOutcome, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()
		select {
		case o := <-ch:
			return o.token, o.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	_, refreshToken := c.store.Tokens()
	if refreshToken == "" {
		c.mu.Unlock()
		c.endSession(noticeLoginRequired, ErrNoRefreshToken)
		return "", ErrNoRefreshToken
	}

	c.refreshing = true
	c.mu.Unlock()

	access, err := c.exchange(ctx, refreshToken)
	if err != nil {
		c.endSession(noticeFor(err), err)
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.refreshing = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshOutcome{token: access, err: err}
	}
	return access, err
}

// current returns the access token a request should use right now. If a
// refresh is in flight the request queues behind it instead of going out with
// a stale token. An empty token with a nil error means "no token, not
// refreshing" — the caller decides whether to trigger a refresh.
func (c *refreshCoordinator) current(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.refreshing {
		ch := make(chan refreshOutcome, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()
		select {
		case o := <-ch:
			return o.token, o.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	c.mu.Unlock()

	access, _ := c.store.Tokens()
	return access, nil
}

// exchange performs the refresh-token network exchange and persists the
// result. The backend rotates the refresh token optionally: a new one in the
// response replaces the old, an absent one leaves it in place.
func (c *refreshCoordinator) exchange(ctx context.Context, refreshToken string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"refresh": refreshToken})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshNetwork, err)
	}

	req, err := http.NewRequestWithContext(
		reqCtx,
		http.MethodPost,
		c.baseURL+refreshPath,
		bytes.NewReader(payload),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.DoWithContext(reqCtx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := "token refresh was rejected"
		var errResp struct {
			Detail string `json:"detail"`
		}
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Detail != "" {
			detail = errResp.Detail
		}
		return "", fmt.Errorf("%w (status %d): %s", ErrRefreshRejected, resp.StatusCode, detail)
	}

	var tokenResp struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("%w: invalid refresh response: %w", ErrRefreshNetwork, err)
	}
	if tokenResp.Access == "" {
		return "", fmt.Errorf("%w: refresh response missing access token", ErrRefreshNetwork)
	}

	if err := c.store.SetTokens(tokenResp.Access, tokenResp.Refresh); err != nil {
		c.logger.Warn("failed to persist refreshed tokens", "error", err)
	}
	c.logger.Debug("access token refreshed", "rotated", tokenResp.Refresh != "")

	return tokenResp.Access, nil
}

// endSession is the single session-termination routine: clear the stored
// session, persist the reason as a one-shot notice, and notify observers.
// Idempotent — with nothing stored it only emits the notification.
func (c *refreshCoordinator) endSession(reason string, cause error) {
	if c.store.HasSession() {
		if err := c.store.Clear(); err != nil {
			c.logger.Warn("failed to clear session", "error", err)
		}
		if err := c.store.SetAuthNotice(reason); err != nil {
			c.logger.Warn("failed to persist auth notice", "error", err)
		}
	}
	c.logger.Info("session terminated", "reason", reason, "cause", cause)
	c.notify(SessionEvent{LoggedIn: false, Reason: reason, Err: cause})
}

// noticeFor maps a refresh failure to the message shown on the next login.
func noticeFor(err error) string {
	switch {
	case errors.Is(err, ErrRefreshRejected):
		return noticeSessionExpired
	case errors.Is(err, ErrNoRefreshToken):
		return noticeLoginRequired
	default:
		return noticeNetworkProblem
	}
}
