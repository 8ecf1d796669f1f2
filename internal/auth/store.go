package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "gemini-bridge"
	keyringUser    = "oauth"
)

// Credentials is the persisted OAuth token record, in the same JSON shape the
// Gemini CLI writes to disk. ExpiryDate is milliseconds since the epoch.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiryDate   int64  `json:"expiry_date,omitempty"`
}

// Expiry converts ExpiryDate to a time.Time, zero when unset.
func (c *Credentials) Expiry() time.Time {
	if c.ExpiryDate == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ExpiryDate)
}

// ErrNoCredentials is returned by Store.Load when no record exists in any
// backing.
var ErrNoCredentials = errors.New("no stored credentials")

// Store persists exactly one credential record.
type Store interface {
	Load() (*Credentials, error)
	Save(*Credentials) error
	Clear() error
}

// keyringStore keeps the record in the platform secure store.
type keyringStore struct{}

func (keyringStore) Load() (*Credentials, error) {
	raw, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("keyring read: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("keyring record corrupt: %w", err)
	}
	return &creds, nil
}

func (keyringStore) Save(creds *Credentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := keyring.Set(keyringService, keyringUser, string(raw)); err != nil {
		return fmt.Errorf("keyring write: %w", err)
	}
	return nil
}

func (keyringStore) Clear() error {
	err := keyring.Delete(keyringService, keyringUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}

// fileStore keeps the record in a plaintext JSON file, the legacy location
// shared with the Gemini CLI (~/.gemini/oauth_creds.json by default).
type fileStore struct {
	path string
}

// DefaultCredentialsFile is the legacy on-disk location.
func DefaultCredentialsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gemini", "oauth_creds.json")
}

func (f fileStore) Load() (*Credentials, error) {
	if f.path == "" {
		return nil, ErrNoCredentials
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("credentials file corrupt: %w", err)
	}
	return &creds, nil
}

func (f fileStore) Save(creds *Credentials) error {
	if f.path == "" {
		return errors.New("no credentials file path configured")
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := os.WriteFile(f.path, raw, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

func (f fileStore) Clear() error {
	if f.path == "" {
		return nil
	}
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", f.path, err)
	}
	return nil
}

// combinedStore reads the secure store first and falls back to the legacy
// file, migrating the record into the secure store one-way on success.
// Writes always target the secure store, with the file as a fallback when
// the platform keyring is unavailable.
type combinedStore struct {
	secure Store
	legacy Store
}

// NewStore returns the production store. legacyPath may be empty to disable
// the file backing entirely.
func NewStore(legacyPath string) Store {
	return &combinedStore{secure: keyringStore{}, legacy: fileStore{path: legacyPath}}
}

func (s *combinedStore) Load() (*Credentials, error) {
	creds, err := s.secure.Load()
	if err == nil {
		return creds, nil
	}
	if !errors.Is(err, ErrNoCredentials) {
		slog.Warn("secure store unavailable, trying legacy file", "error", err)
	}

	creds, err = s.legacy.Load()
	if err != nil {
		return nil, err
	}
	if migrateErr := s.secure.Save(creds); migrateErr == nil {
		slog.Info("migrated credentials from legacy file to secure store")
	} else {
		slog.Warn("could not migrate credentials to secure store", "error", migrateErr)
	}
	return creds, nil
}

func (s *combinedStore) Save(creds *Credentials) error {
	if err := s.secure.Save(creds); err != nil {
		slog.Warn("secure store write failed, writing legacy file", "error", err)
		return s.legacy.Save(creds)
	}
	return nil
}

func (s *combinedStore) Clear() error {
	secureErr := s.secure.Clear()
	legacyErr := s.legacy.Clear()
	if secureErr != nil {
		return secureErr
	}
	return legacyErr
}
