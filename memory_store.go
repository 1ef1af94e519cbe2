package authsync

import (
	"context"
	"sync"
)

// MemoryStore is a process-local CredentialStore. It is the default store of
// Machine and is handy in tests.
type MemoryStore struct {
	key  string
	mu   sync.RWMutex
	cred *StoredCredential
}

// NewMemoryStore returns an empty store for key.
func NewMemoryStore(key string) *MemoryStore {
	if key == "" {
		key = DefaultCredentialKey
	}
	return &MemoryStore{key: key}
}

// Load implements CredentialStore.
func (s *MemoryStore) Load(context.Context) (*StoredCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, nil
	}
	c := *s.cred
	return &c, nil
}

// Save implements CredentialStore.
func (s *MemoryStore) Save(_ context.Context, cred StoredCredential) error {
	cred.Key = s.key
	s.mu.Lock()
	s.cred = &cred
	s.mu.Unlock()
	return nil
}

// Clear implements CredentialStore.
func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	return nil
}
