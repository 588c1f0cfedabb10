// Package client is a Go client for the profileauth HTTP API. It logs in
// with a password, keeps the bearer API token in a CredentialStore and
// renews it before it expires.
package client

import (
	"sort"
	"sync"
	"time"
)

// ServerCredential is the bearer token held for one server.
type ServerCredential struct {
	AccessToken string    `json:"access_token"`
	UserID      int64     `json:"user_id,omitempty"`
	Username    string    `json:"username,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c *ServerCredential) IsExpired() bool {
	return !time.Now().Before(c.ExpiresAt)
}

// IsExpiringSoon reports whether the token expires within the given duration.
func (c *ServerCredential) IsExpiringSoon(within time.Duration) bool {
	return time.Now().Add(within).After(c.ExpiresAt)
}

// CredentialStore holds one credential per server URL.
type CredentialStore interface {
	// GetCredential returns nil, nil when there is no credential.
	GetCredential(serverURL string) (*ServerCredential, error)
	SetCredential(serverURL string, cred *ServerCredential) error
	RemoveCredential(serverURL string) error
	ListServers() ([]string, error)

	// Save persists pending changes.
	Save() error
}

// MemoryCredentialStore keeps credentials for the life of the process.
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	servers map[string]*ServerCredential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{servers: make(map[string]*ServerCredential)}
}

func (s *MemoryCredentialStore) GetCredential(serverURL string) (*ServerCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers[serverURL], nil
}

func (s *MemoryCredentialStore) SetCredential(serverURL string, cred *ServerCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[serverURL] = cred
	return nil
}

func (s *MemoryCredentialStore) RemoveCredential(serverURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, serverURL)
	return nil
}

func (s *MemoryCredentialStore) ListServers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.servers))
	for k := range s.servers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryCredentialStore) Save() error { return nil }
