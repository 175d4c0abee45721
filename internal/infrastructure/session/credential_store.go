// Package session holds the client's persisted credentials and the
// coordinator that refreshes them.
package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/damon-houk/subtrack-client/internal/domain/entity"
	"github.com/damon-houk/subtrack-client/internal/domain/repository"
	"github.com/damon-houk/subtrack-client/internal/infrastructure/logger"
)

var sessionKeys = []string{
	repository.AccessTokenKey,
	repository.RefreshTokenKey,
	repository.UserKey,
}

// CredentialStore persists the access and refresh credentials and the
// current user record
type CredentialStore struct {
	kv     repository.KeyValueStore
	logger logger.Logger
	mu     sync.RWMutex
}

// NewCredentialStore creates a credential store over kv
func NewCredentialStore(kv repository.KeyValueStore, log logger.Logger) *CredentialStore {
	return &CredentialStore{
		kv:     kv,
		logger: logger.OrDefault(log).WithField("component", "credential_store"),
	}
}

func (s *CredentialStore) read(key string) string {
	v, ok, err := s.kv.Get(key)
	if err != nil {
		s.logger.Warn("Failed to read credential", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

// GetAccess returns the stored access credential, or "" when absent
func (s *CredentialStore) GetAccess() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(repository.AccessTokenKey)
}

// GetRefresh returns the stored refresh credential, or "" when absent
func (s *CredentialStore) GetRefresh() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(repository.RefreshTokenKey)
}

// SetAccess replaces the access credential; "" removes it
func (s *CredentialStore) SetAccess(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(repository.AccessTokenKey, token)
}

// SetRefresh replaces the refresh credential; "" removes it
func (s *CredentialStore) SetRefresh(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(repository.RefreshTokenKey, token)
}

func (s *CredentialStore) put(key, value string) error {
	if value == "" {
		return s.kv.Delete(key)
	}
	return s.kv.Set(key, value)
}

// SetSession stores a complete session. An empty refresh removes any
// previously stored refresh credential.
func (s *CredentialStore) SetSession(access string, user *entity.User, refresh string) error {
	if access == "" {
		return fmt.Errorf("session requires an access credential")
	}

	pairs := map[string]string{repository.AccessTokenKey: access}
	var stale []string

	if user != nil {
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("failed to marshal user: %w", err)
		}
		pairs[repository.UserKey] = string(data)
	} else {
		stale = append(stale, repository.UserKey)
	}

	if refresh != "" {
		pairs[repository.RefreshTokenKey] = refresh
	} else {
		stale = append(stale, repository.RefreshTokenKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(stale) > 0 {
		if err := s.kv.Delete(stale...); err != nil {
			return fmt.Errorf("failed to store session: %w", err)
		}
	}
	if err := s.kv.SetMany(pairs); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	return nil
}

// Store persists a normalized session
func (s *CredentialStore) Store(sess entity.Session) error {
	return s.SetSession(sess.Access, sess.User, sess.Refresh)
}

// ClearSession removes the access credential, refresh credential and user together
func (s *CredentialStore) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(sessionKeys...); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// IsAuthenticated reports whether an access credential is present
func (s *CredentialStore) IsAuthenticated() bool {
	return s.GetAccess() != ""
}

// GetUser returns the stored user, or nil when absent or unreadable
func (s *CredentialStore) GetUser() *entity.User {
	s.mu.RLock()
	raw := s.read(repository.UserKey)
	s.mu.RUnlock()

	if raw == "" {
		return nil
	}

	var user entity.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Warn("Stored user record is corrupt, treating as absent", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	return &user
}

// IsPrivileged reports whether the stored user has the admin role
func (s *CredentialStore) IsPrivileged() bool {
	return s.GetUser().IsAdmin()
}
