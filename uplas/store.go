package uplas

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
)

// sessionRecord is the on-disk shape of the persisted session. Profile is
// kept as the serialized string the backend sent so that a corrupt entry can
// be detected and wiped on read instead of poisoning the whole record.
type sessionRecord struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Profile      string `json:"profile,omitempty"`
	AuthNotice   string `json:"auth_notice,omitempty"`
}

// Store holds the current session (access/refresh tokens, cached user
// profile, one-shot auth notice) in memory and mirrors it to a JSON file so
// it survives restarts. Reads never fail: any problem with the file or its
// contents degrades to "absent".
type Store struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	rec    sessionRecord
}

// NewStore creates a Store persisting to path. The file is read lazily on
// first access.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		logger: slog.New(slog.DiscardHandler),
	}
}

// SetLogger replaces the store's logger (default discards).
func (s *Store) SetLogger(l *slog.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Tokens returns the persisted access and refresh tokens. Absent tokens are
// returned as empty strings.
func (s *Store) Tokens() (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	return s.rec.AccessToken, s.rec.RefreshToken
}

// SetTokens persists whichever of the two tokens is non-empty, leaving the
// other untouched.
func (s *Store) SetTokens(access, refresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	if access != "" {
		s.rec.AccessToken = access
	}
	if refresh != "" {
		s.rec.RefreshToken = refresh
	}
	return s.persist()
}

// Clear removes both tokens and the cached profile. The one-shot auth notice
// is left alone so a termination reason survives until the next login screen.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	s.rec.AccessToken = ""
	s.rec.RefreshToken = ""
	s.rec.Profile = ""
	return s.persist()
}

// HasSession reports whether any token or profile is currently stored.
func (s *Store) HasSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	return s.rec.AccessToken != "" || s.rec.RefreshToken != "" || s.rec.Profile != ""
}

// Profile returns the cached user profile as raw JSON, or nil if absent. A
// persisted profile that is not valid JSON is treated as absent and the
// corrupt entry is removed.
func (s *Store) Profile() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	if s.rec.Profile == "" {
		return nil
	}
	raw := []byte(s.rec.Profile)
	if !json.Valid(raw) {
		s.logger.Warn("discarding corrupt cached profile")
		s.rec.Profile = ""
		if err := s.persist(); err != nil {
			s.logger.Warn("failed to persist session", "error", err)
		}
		return nil
	}
	return raw
}

// SetProfile caches the raw profile JSON; nil removes the cached profile.
func (s *Store) SetProfile(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	s.rec.Profile = string(raw)
	return s.persist()
}

// SetAuthNotice stores a one-shot human-readable message to show on the next
// login entry point.
func (s *Store) SetAuthNotice(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	s.rec.AuthNotice = msg
	return s.persist()
}

// ConsumeAuthNotice returns the stored auth notice and clears it.
func (s *Store) ConsumeAuthNotice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load()
	msg := s.rec.AuthNotice
	if msg == "" {
		return ""
	}
	s.rec.AuthNotice = ""
	if err := s.persist(); err != nil {
		s.logger.Warn("failed to persist session", "error", err)
	}
	return msg
}

// load populates the in-memory record from disk once. Read or parse failures
// degrade to an empty session.
func (s *Store) load() {
	if s.loaded {
		return
	}
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read session file", "path", s.path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, &s.rec); err != nil {
		s.logger.Warn("session file is not valid JSON, starting fresh", "path", s.path)
		s.rec = sessionRecord{}
	}
}

// persist writes the record to disk atomically (temp file + rename) under
// the cross-process session file lock. Callers hold s.mu.
func (s *Store) persist() error {
	lock, err := lockSessionFile(s.path)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lock.release(); relErr != nil {
			s.logger.Warn("failed to release session file lock", "error", relErr)
		}
	}()

	data, err := json.MarshalIndent(s.rec, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
