package uplas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	loginPath    = "/users/login/"
	registerPath = "/users/register/"
	profilePath  = "/users/profile/"
	logoutPath   = "/users/logout/"
)

// Profile is the subset of the backend user object this client reads. The
// full object is cached verbatim, so fields not listed here survive a
// store round trip untouched.
type Profile struct {
	ID                int64  `json:"id"`
	Email             string `json:"email"`
	FullName          string `json:"full_name"`
	IsInstructor      bool   `json:"is_instructor"`
	ProfilePictureURL string `json:"profile_picture_url"`
	CareerInterest    string `json:"career_interest"`
}

// LoginResult carries what the login endpoint returned beyond the tokens.
type LoginResult struct {
	Profile *Profile
	Message string
}

// Login exchanges credentials for a session. Tokens are persisted before the
// profile is resolved; if the backend omits the user object the profile is
// fetched separately, and a failure there tears the half-built session down
// again.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   loginPath,
		JSON:   map[string]string{"email": email, "password": password},
		Public: true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read login response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}

	var loginResp struct {
		Access  string          `json:"access"`
		Refresh string          `json:"refresh"`
		User    json.RawMessage `json:"user"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &loginResp); err != nil {
		return nil, fmt.Errorf("failed to parse login response: %w", err)
	}
	if loginResp.Access == "" || loginResp.Refresh == "" {
		return nil, fmt.Errorf("login response missing tokens")
	}

	if err := c.store.SetTokens(loginResp.Access, loginResp.Refresh); err != nil {
		c.logger.Warn("failed to persist tokens after login", "error", err)
	}

	var profile *Profile
	if len(loginResp.User) > 0 && string(loginResp.User) != "null" {
		if err := c.store.SetProfile(loginResp.User); err != nil {
			c.logger.Warn("failed to cache profile", "error", err)
		}
		profile = decodeProfile(loginResp.User)
	} else {
		profile, err = c.FetchProfile(ctx)
		if err != nil {
			// The session is half-built: tokens but no profile. Tear it down
			// rather than leaving an inconsistent state behind.
			if clearErr := c.store.Clear(); clearErr != nil {
				c.logger.Warn("failed to clear session", "error", clearErr)
			}
			return nil, fmt.Errorf("login succeeded but profile fetch failed: %w", err)
		}
	}

	c.logger.Info("logged in", "email", email)
	c.emitSession(SessionEvent{LoggedIn: true})
	return &LoginResult{Profile: profile, Message: loginResp.Message}, nil
}

// Register creates a new account. The field set is backend-defined and passed
// through as-is; validation errors come back as *APIError with the per-field
// message map.
func (c *Client) Register(ctx context.Context, fields any) (json.RawMessage, error) {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   registerPath,
		JSON:   fields,
		Public: true,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read register response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}
	return json.RawMessage(body), nil
}

// FetchProfile retrieves the user profile from the backend and caches the
// raw object.
func (c *Client) FetchProfile(ctx context.Context) (*Profile, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: profilePath})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}

	if err := c.store.SetProfile(body); err != nil {
		c.logger.Warn("failed to cache profile", "error", err)
	}
	profile := decodeProfile(body)
	if profile == nil {
		return nil, fmt.Errorf("failed to parse profile response")
	}
	return profile, nil
}

// CachedProfile returns the locally cached profile without a network call,
// or nil if none is cached.
func (c *Client) CachedProfile() *Profile {
	raw := c.store.Profile()
	if raw == nil {
		return nil
	}
	return decodeProfile(raw)
}

// LoggedIn reports whether any token is stored. It says nothing about the
// token still being accepted by the backend.
func (c *Client) LoggedIn() bool {
	access, refresh := c.store.Tokens()
	return access != "" || refresh != ""
}

// ConsumeAuthNotice returns the one-shot message left by the last session
// termination, clearing it.
func (c *Client) ConsumeAuthNotice() string {
	return c.store.ConsumeAuthNotice()
}

// Logout ends the session. With backend logout enabled the refresh token is
// revoked server-side first, best-effort: a failure there never blocks the
// local logout.
func (c *Client) Logout(ctx context.Context) error {
	_, refresh := c.store.Tokens()
	if c.backendLogout && refresh != "" {
		resp, err := c.Do(ctx, Request{
			Method: http.MethodPost,
			Path:   logoutPath,
			JSON:   map[string]string{"refresh": refresh},
		})
		if err != nil {
			c.logger.Warn("backend logout failed", "error", err)
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}

	if err := c.store.Clear(); err != nil {
		c.logger.Warn("failed to clear session", "error", err)
	}
	c.logger.Info("logged out")
	c.emitSession(SessionEvent{LoggedIn: false, Reason: "logged out"})
	return nil
}

func decodeProfile(raw []byte) *Profile {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}
