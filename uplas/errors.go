package uplas

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for the refresh failure taxonomy. All three end the local
// session, but callers (and tests) can tell them apart with errors.Is.
var (
	// ErrNoRefreshToken indicates there is no session to recover: a refresh
	// was requested but no refresh token is stored. No network call is made.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshRejected indicates the backend explicitly invalidated the
	// refresh token (non-2xx from the refresh endpoint).
	ErrRefreshRejected = errors.New("refresh token rejected")

	// ErrRefreshNetwork indicates a transport-level failure during refresh;
	// the refresh token's status on the server is unknown.
	ErrRefreshNetwork = errors.New("refresh request failed")

	// ErrAuthRequired wraps a refresh failure on a request that had no access
	// token to begin with. The session has already been terminated by the
	// refresh path; this is what the original caller sees.
	ErrAuthRequired = errors.New("authentication required")
)

// APIError is a non-2xx backend response decoded into its documented error
// shape: either a flat {"detail": "..."} or a field-error map
// {"field": ["message", ...]} as returned by registration and other forms.
type APIError struct {
	Status int
	Detail string
	Fields map[string][]string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error (status %d): %s", e.Status, e.Detail)
	}
	if len(e.Fields) > 0 {
		names := make([]string, 0, len(e.Fields))
		for name := range e.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+": "+strings.Join(e.Fields[name], "; "))
		}
		return fmt.Sprintf("api error (status %d): %s", e.Status, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("api error (status %d)", e.Status)
}

// decodeAPIError turns a non-2xx response body into an *APIError. The
// backend uses two error shapes: {"detail": "..."} and a per-field map
// {"field": ["message", ...]}. Anything else is carried verbatim as Detail.
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		apiErr.Detail = strings.TrimSpace(string(body))
		return apiErr
	}

	if raw, ok := fields["detail"]; ok {
		var detail string
		if err := json.Unmarshal(raw, &detail); err == nil {
			apiErr.Detail = detail
			return apiErr
		}
	}

	for name, raw := range fields {
		var messages []string
		if err := json.Unmarshal(raw, &messages); err == nil {
			if apiErr.Fields == nil {
				apiErr.Fields = make(map[string][]string)
			}
			apiErr.Fields[name] = messages
			continue
		}
		// Single-string field errors show up from some endpoints.
		var message string
		if err := json.Unmarshal(raw, &message); err == nil {
			if apiErr.Fields == nil {
				apiErr.Fields = make(map[string][]string)
			}
			apiErr.Fields[name] = []string{message}
		}
	}
	if apiErr.Fields == nil {
		apiErr.Detail = strings.TrimSpace(string(body))
	}
	return apiErr
}
