package uplas

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string, opts ...Option) (*Client, *Store) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "session.json"))
	client, err := NewClient(baseURL, store, opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client, store
}

func TestRefresh_SingleFlight(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != refreshPath {
			http.NotFound(w, r)
			return
		}
		refreshCalls.Add(1)

		var body struct {
			Refresh string `json:"refresh"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Refresh != "R1" {
			t.Errorf("Unexpected refresh body, refresh = %q", body.Refresh)
		}

		// Hold the exchange open long enough for every caller to queue.
		time.Sleep(300 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"access": "T2"})
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL)
	if err := store.SetTokens("", "R1"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}

	const callers = 10
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	results := make([]string, callers)
	errs := make([]error, callers)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = client.coord.refresh(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	if got := refreshCalls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 refresh network call, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("Caller %d: unexpected error: %v", i, errs[i])
		}
		if results[i] != "T2" {
			t.Errorf("Caller %d: token = %q, want %q", i, results[i], "T2")
		}
	}

	access, _ := store.Tokens()
	if access != "T2" {
		t.Errorf("Stored access token = %q, want %q", access, "T2")
	}
}

func TestRefresh_NoTokenNoCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	var events atomic.Int32
	client, _ := newTestClient(t, server.URL, WithSessionHook(func(ev SessionEvent) {
		if ev.LoggedIn {
			t.Errorf("Expected logged-out event, got LoggedIn=true")
		}
		events.Add(1)
	}))

	_, err := client.coord.refresh(context.Background())
	if !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("Expected ErrNoRefreshToken, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("Expected no network calls, got %d", calls.Load())
	}
	if events.Load() != 1 {
		t.Errorf("Expected 1 session event, got %d", events.Load())
	}
}

func TestRefresh_Rejected(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Token invalid"})
	}))
	defer server.Close()

	var terminations atomic.Int32
	client, store := newTestClient(t, server.URL, WithSessionHook(func(ev SessionEvent) {
		terminations.Add(1)
	}))
	if err := store.SetTokens("T1", "R1"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	if err := store.SetProfile([]byte(`{"id":1}`)); err != nil {
		t.Fatalf("SetProfile() error = %v", err)
	}

	_, err := client.coord.refresh(context.Background())
	if !errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("Expected ErrRefreshRejected, got %v", err)
	}
	if refreshCalls.Load() != 1 {
		t.Errorf("Expected 1 refresh call, got %d", refreshCalls.Load())
	}
	if terminations.Load() != 1 {
		t.Errorf("Expected 1 session termination, got %d", terminations.Load())
	}

	access, refresh := store.Tokens()
	if access != "" || refresh != "" {
		t.Errorf("Expected cleared tokens, got access=%q refresh=%q", access, refresh)
	}
	if store.Profile() != nil {
		t.Errorf("Expected cleared profile")
	}
	if notice := store.ConsumeAuthNotice(); notice != noticeSessionExpired {
		t.Errorf("Auth notice = %q, want %q", notice, noticeSessionExpired)
	}
}

func TestRefresh_RejectedFansOutToWaiters(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL)
	if err := store.SetTokens("", "R1"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}

	const callers = 5
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	errs := make([]error, callers)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = client.coord.refresh(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	if refreshCalls.Load() != 1 {
		t.Errorf("Expected 1 refresh call, got %d", refreshCalls.Load())
	}
	for i, err := range errs {
		if !errors.Is(err, ErrRefreshRejected) {
			t.Errorf("Caller %d: expected ErrRefreshRejected, got %v", i, err)
		}
	}
}

func TestRefresh_NetworkError(t *testing.T) {
	// Point the client at a server that is already gone.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client, store := newTestClient(t, server.URL)
	if err := store.SetTokens("T1", "R1"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}

	_, err := client.coord.refresh(context.Background())
	if !errors.Is(err, ErrRefreshNetwork) {
		t.Fatalf("Expected ErrRefreshNetwork, got %v", err)
	}
	if notice := store.ConsumeAuthNotice(); notice != noticeNetworkProblem {
		t.Errorf("Auth notice = %q, want %q", notice, noticeNetworkProblem)
	}
}

func TestRefresh_TokenRotation(t *testing.T) {
	tests := []struct {
		name            string
		responseRefresh string // empty means the server did not rotate
		wantRefresh     string
	}{
		{
			name:            "rotation mode - server returns new refresh token",
			responseRefresh: "R2",
			wantRefresh:     "R2",
		},
		{
			name:            "fixed mode - server omits refresh token",
			responseRefresh: "",
			wantRefresh:     "R1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					resp := map[string]string{"access": "T2"}
					if tt.responseRefresh != "" {
						resp["refresh"] = tt.responseRefresh
					}
					w.Header().Set("Content-Type", "application/json")
					json.NewEncoder(w).Encode(resp)
				}),
			)
			defer server.Close()

			client, store := newTestClient(t, server.URL)
			if err := store.SetTokens("T1", "R1"); err != nil {
				t.Fatalf("SetTokens() error = %v", err)
			}

			token, err := client.coord.refresh(context.Background())
			if err != nil {
				t.Fatalf("refresh() error = %v", err)
			}
			if token != "T2" {
				t.Errorf("Token = %q, want %q", token, "T2")
			}

			_, refresh := store.Tokens()
			if refresh != tt.wantRefresh {
				t.Errorf("Stored refresh token = %q, want %q", refresh, tt.wantRefresh)
			}
		})
	}
}

func TestRefresh_MissingAccessInResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"refresh": "R2"})
	}))
	defer server.Close()

	client, store := newTestClient(t, server.URL)
	if err := store.SetTokens("T1", "R1"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}

	_, err := client.coord.refresh(context.Background())
	if !errors.Is(err, ErrRefreshNetwork) {
		t.Fatalf("Expected ErrRefreshNetwork for malformed response, got %v", err)
	}
}

func TestRefresh_TerminationIdempotent(t *testing.T) {
	var events atomic.Int32
	client, store := newTestClient(t, "http://localhost:0", WithSessionHook(func(ev SessionEvent) {
		events.Add(1)
	}))

	// Already logged out: termination only re-emits the notification and
	// must not write a fresh notice.
	client.coord.endSession(noticeSessionExpired, ErrRefreshRejected)
	if notice := store.ConsumeAuthNotice(); notice != "" {
		t.Errorf("Expected no auth notice when already logged out, got %q", notice)
	}
	if events.Load() != 1 {
		t.Errorf("Expected 1 session event, got %d", events.Load())
	}
}
