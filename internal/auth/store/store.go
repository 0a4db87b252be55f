// Package store persists the identity pool as a versioned JSON document
// with a sibling lock file for cross-process coordination. Writes are
// atomic (temp file plus rename) and read-modify-write sequences take the
// lock with a bounded wait, degrading to lock-free operation rather than
// blocking the gateway when another process wedges the lock.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// SchemaVersion is the current on-disk schema version.
const SchemaVersion = 3

// LockTimeout bounds how long a read-modify-write waits for the lock file.
const LockTimeout = 10 * time.Second

// RateLimitResetTimes holds the persisted per-quota reset timestamps in ms
// since epoch. Per-model entries are runtime state and are not persisted.
type RateLimitResetTimes struct {
	Claude            int64 `json:"claude,omitempty"`
	GeminiAntigravity int64 `json:"gemini-antigravity,omitempty"`
	GeminiCLI         int64 `json:"gemini-cli,omitempty"`
}

// Account is one persisted identity.
type Account struct {
	RefreshToken        string              `json:"refreshToken"`
	Email               string              `json:"email,omitempty"`
	ProjectID           string              `json:"projectId,omitempty"`
	ManagedProjectID    string              `json:"managedProjectId,omitempty"`
	AddedAt             int64               `json:"addedAt"`
	LastUsed            int64               `json:"lastUsed"`
	LastSwitchReason    string              `json:"lastSwitchReason,omitempty"`
	RateLimitResetTimes RateLimitResetTimes `json:"rateLimitResetTimes"`
	CoolingDownUntil    int64               `json:"coolingDownUntil,omitempty"`
	CooldownReason      string              `json:"cooldownReason,omitempty"`
}

// ActiveIndexByFamily tracks the rotation position per model family.
type ActiveIndexByFamily struct {
	Gemini int `json:"gemini"`
	Claude int `json:"claude"`
}

// Storage is the whole persisted document.
type Storage struct {
	Version             int                 `json:"version"`
	Accounts            []Account           `json:"accounts"`
	ActiveIndex         int                 `json:"activeIndex"`
	ActiveIndexByFamily ActiveIndexByFamily `json:"activeIndexByFamily"`
}

// NewStorage returns an empty document at the current schema version.
func NewStorage() *Storage {
	return &Storage{Version: SchemaVersion, Accounts: []Account{}}
}

// Store reads and writes the account document at a fixed path.
type Store struct {
	path string
}

// New creates a store over the given file path. An empty path selects the
// default location, honoring the environment overrides.
func New(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// DefaultPath resolves the accounts file location. ANTIGRAVITY_STORAGE_PATH
// names the file directly, ANTIGRAVITY_STORAGE_DIR its directory; otherwise
// the file lives under the user config directory.
func DefaultPath() string {
	if p := os.Getenv("ANTIGRAVITY_STORAGE_PATH"); p != "" {
		return p
	}
	if dir := os.Getenv("ANTIGRAVITY_STORAGE_DIR"); dir != "" {
		return filepath.Join(dir, "accounts.json")
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = "."
	}
	return filepath.Join(configDir, "antigravity-auth", "accounts.json")
}

// withLock runs fn while holding the sibling lock file. If the lock cannot
// be acquired within LockTimeout, fn runs anyway; a wedged lock must not
// take the gateway down with it.
func (s *Store) withLock(fn func() error) error {
	fl := flock.New(s.path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil || !locked {
		log.Warnf("proceeding without storage lock: %v", err)
		return fn()
	}
	defer func() {
		_ = fl.Unlock()
	}()
	return fn()
}

// Load reads the document. A missing file yields (nil, nil).
func (s *Store) Load() (*Storage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	var st Storage
	if err = json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return &st, nil
}

// loadOrEmpty reads the document, treating a missing or unreadable file as
// an empty pool.
func (s *Store) loadOrEmpty() *Storage {
	st, err := s.Load()
	if err != nil {
		log.Warnf("resetting unreadable account storage: %v", err)
	}
	if st == nil {
		st = NewStorage()
	}
	return st
}

// Save writes the document atomically under the lock.
func (s *Store) Save(st *Storage) error {
	st.Version = SchemaVersion
	return s.withLock(func() error {
		return s.writeAtomic(st)
	})
}

func (s *Store) writeAtomic(st *Storage) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode account storage: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	_ = os.Chmod(tmpName, 0o600)

	// Rename does not replace an existing target on Windows.
	if runtime.GOOS == "windows" {
		_ = os.Remove(s.path)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace account storage: %w", err)
	}
	return nil
}

// Clear removes the document and its lock file.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	_ = os.Remove(s.path + ".lock")
	return nil
}

// AddOrUpdate upserts an identity by email. A matching email has its
// refresh token and project fields replaced in place; otherwise the
// identity is appended. Identities without an email are always appended.
func (s *Store) AddOrUpdate(email, refreshToken, projectID, managedProjectID string) (*Storage, error) {
	var st *Storage
	err := s.withLock(func() error {
		st = s.loadOrEmpty()
		now := time.Now().UnixMilli()

		if email != "" {
			for i := range st.Accounts {
				if st.Accounts[i].Email == email {
					st.Accounts[i].RefreshToken = refreshToken
					st.Accounts[i].ProjectID = projectID
					st.Accounts[i].ManagedProjectID = managedProjectID
					st.Accounts[i].LastUsed = now
					return s.writeAtomic(st)
				}
			}
		}
		st.Accounts = append(st.Accounts, Account{
			RefreshToken:     refreshToken,
			Email:            email,
			ProjectID:        projectID,
			ManagedProjectID: managedProjectID,
			AddedAt:          now,
			LastUsed:         now,
		})
		return s.writeAtomic(st)
	})
	return st, err
}

// RemoveByEmail deletes the identity with the given email, clamping the
// active indices afterwards. It reports whether anything was removed.
func (s *Store) RemoveByEmail(email string) (bool, error) {
	removed := false
	err := s.withLock(func() error {
		st := s.loadOrEmpty()
		kept := st.Accounts[:0]
		for _, a := range st.Accounts {
			if a.Email == email && email != "" {
				removed = true
				continue
			}
			kept = append(kept, a)
		}
		if !removed {
			return nil
		}
		st.Accounts = kept
		clampIndices(st)
		return s.writeAtomic(st)
	})
	return removed, err
}

// SetActive sets both the legacy active index and the per-family indices to
// the given position. It reports whether the index was in range.
func (s *Store) SetActive(index int) (bool, error) {
	ok := false
	err := s.withLock(func() error {
		st := s.loadOrEmpty()
		if index < 0 || index >= len(st.Accounts) {
			return nil
		}
		ok = true
		st.ActiveIndex = index
		st.ActiveIndexByFamily.Gemini = index
		st.ActiveIndexByFamily.Claude = index
		return s.writeAtomic(st)
	})
	return ok, err
}

func clampIndices(st *Storage) {
	n := len(st.Accounts)
	clamp := func(i int) int {
		if n == 0 {
			return 0
		}
		if i < 0 || i >= n {
			return 0
		}
		return i
	}
	st.ActiveIndex = clamp(st.ActiveIndex)
	st.ActiveIndexByFamily.Gemini = clamp(st.ActiveIndexByFamily.Gemini)
	st.ActiveIndexByFamily.Claude = clamp(st.ActiveIndexByFamily.Claude)
}
