package ingest

import (
	"context"
	"sync"
)

// MemorySessionStore is an in-memory SessionStore for tests and local runs.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]sessionIdentity
}

type sessionIdentity struct {
	deviceID string
	familyID string
}

// NewMemorySessionStore creates an empty session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]sessionIdentity)}
}

// Put registers a session cookie for a device.
func (s *MemorySessionStore) Put(cookie, deviceID, familyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[cookie] = sessionIdentity{deviceID: deviceID, familyID: familyID}
}

// Lookup implements SessionStore.
func (s *MemorySessionStore) Lookup(_ context.Context, cookie string) (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessions[cookie]
	if !ok {
		return "", "", ErrSessionNotFound
	}
	return id.deviceID, id.familyID, nil
}
