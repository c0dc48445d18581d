package infra

import (
	"sync"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
)

// CredentialStore is the process-wide bearer credential.
// It is set by the login path and read by the scheduler; it is never persisted.
type CredentialStore struct {
	mu    sync.RWMutex
	token string
}

// NewCredentialStore creates an empty (unauthenticated) store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// Set overwrites the credential. Last write wins.
func (s *CredentialStore) Set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Get returns the current credential, possibly empty.
func (s *CredentialStore) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Ensure CredentialStore implements domain.CredentialReader.
var _ domain.CredentialReader = (*CredentialStore)(nil)
