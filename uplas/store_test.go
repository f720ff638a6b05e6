package uplas

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.json")
	return NewStore(path), path
}

func TestStore_PartialSetSemantics(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.SetTokens("T1", "R1"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}

	// Updating one slot leaves the other alone.
	if err := store.SetTokens("T2", ""); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	access, refresh := store.Tokens()
	if access != "T2" || refresh != "R1" {
		t.Errorf("Tokens() = (%q, %q), want (T2, R1)", access, refresh)
	}

	if err := store.SetTokens("", "R2"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	access, refresh = store.Tokens()
	if access != "T2" || refresh != "R2" {
		t.Errorf("Tokens() = (%q, %q), want (T2, R2)", access, refresh)
	}
}

func TestStore_LatestWriteWins(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.SetTokens("T1", ""); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	if err := store.SetTokens("T2", ""); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}

	access, _ := store.Tokens()
	if access != "T2" {
		t.Errorf("Access token = %q, want %q", access, "T2")
	}
}

func TestStore_SurvivesReload(t *testing.T) {
	store, path := newTestStore(t)

	if err := store.SetTokens("T1", "R1"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	if err := store.SetProfile([]byte(`{"id":1,"email":"a@b.com"}`)); err != nil {
		t.Fatalf("SetProfile() error = %v", err)
	}

	// A fresh Store on the same path sees the same session.
	reloaded := NewStore(path)
	access, refresh := reloaded.Tokens()
	if access != "T1" || refresh != "R1" {
		t.Errorf("Tokens() after reload = (%q, %q), want (T1, R1)", access, refresh)
	}

	var profile struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(reloaded.Profile(), &profile); err != nil {
		t.Fatalf("Failed to parse reloaded profile: %v", err)
	}
	if profile.Email != "a@b.com" {
		t.Errorf("Profile email = %q, want %q", profile.Email, "a@b.com")
	}
}

func TestStore_Clear(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.SetTokens("T1", "R1"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	if err := store.SetProfile([]byte(`{"id":1}`)); err != nil {
		t.Fatalf("SetProfile() error = %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	access, refresh := store.Tokens()
	if access != "" || refresh != "" {
		t.Errorf("Tokens() after Clear = (%q, %q), want empty", access, refresh)
	}
	if store.Profile() != nil {
		t.Errorf("Profile() after Clear should be nil")
	}
	if store.HasSession() {
		t.Errorf("HasSession() after Clear should be false")
	}
}

func TestStore_CorruptProfileWiped(t *testing.T) {
	store, path := newTestStore(t)

	if err := store.SetProfile([]byte(`{"id":1,`)); err != nil {
		t.Fatalf("SetProfile() error = %v", err)
	}

	if got := store.Profile(); got != nil {
		t.Errorf("Profile() = %q, want nil for corrupt entry", got)
	}

	// The corrupt entry is gone from disk, not just hidden.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read session file: %v", err)
	}
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("Session file not valid JSON: %v", err)
	}
	if rec.Profile != "" {
		t.Errorf("Corrupt profile still persisted: %q", rec.Profile)
	}
}

func TestStore_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("not json at all"), 0o600); err != nil {
		t.Fatalf("Failed to write session file: %v", err)
	}

	store := NewStore(path)
	access, refresh := store.Tokens()
	if access != "" || refresh != "" {
		t.Errorf("Tokens() from corrupt file = (%q, %q), want empty", access, refresh)
	}
}

func TestStore_AuthNoticeIsOneShot(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.SetAuthNotice("Your session has expired."); err != nil {
		t.Fatalf("SetAuthNotice() error = %v", err)
	}

	if got := store.ConsumeAuthNotice(); got != "Your session has expired." {
		t.Errorf("ConsumeAuthNotice() = %q", got)
	}
	if got := store.ConsumeAuthNotice(); got != "" {
		t.Errorf("Second ConsumeAuthNotice() = %q, want empty", got)
	}
}

func TestStore_NoticeSurvivesClear(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.SetTokens("T1", "R1"); err != nil {
		t.Fatalf("SetTokens() error = %v", err)
	}
	if err := store.SetAuthNotice("Please log in again."); err != nil {
		t.Fatalf("SetAuthNotice() error = %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	if got := store.ConsumeAuthNotice(); got != "Please log in again." {
		t.Errorf("ConsumeAuthNotice() after Clear = %q", got)
	}
}

func TestStore_ConcurrentWrites(t *testing.T) {
	store, path := newTestStore(t)

	const goroutines = 10
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			if err := store.SetTokens(fmt.Sprintf("access-%d", id), fmt.Sprintf("refresh-%d", id)); err != nil {
				t.Errorf("Goroutine %d: SetTokens() error = %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	access, refresh := store.Tokens()
	if access == "" || refresh == "" {
		t.Errorf("Tokens() = (%q, %q), want one of the written pairs", access, refresh)
	}

	// No lock file left behind.
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("Lock file still exists after all writes completed")
	}
}
