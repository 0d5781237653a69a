package session

import "sync"

// MemoryStore is the tab-scoped Store backend. Its lifetime is the process
// that owns it, matching the intentionally non-durable session design.
type MemoryStore struct {
	mu   sync.RWMutex
	cred Credential
	held bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Set(cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cred.IsZero() {
		s.cred = Credential{}
		s.held = false
		return
	}

	s.cred = cred
	s.held = true
}

func (s *MemoryStore) SetAccess(access string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.held {
		return
	}
	s.cred.Access = access
}

func (s *MemoryStore) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.held
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = Credential{}
	s.held = false
}
