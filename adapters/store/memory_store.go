package store

import (
	"context"
	"sync"

	"github.com/layer-3/otpwallet/core"
	"github.com/layer-3/otpwallet/ports"
)

// MemoryStore is an in-memory implementation of the SessionStore interface
type MemoryStore struct {
	session *core.Session
	pending *core.PendingVerification
	hub     *presenceHub
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hub: newPresenceHub()}
}

var _ ports.SessionStore = (*MemoryStore)(nil)

// Read returns a copy of the stored session
func (s *MemoryStore) Read(ctx context.Context) (core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil || !s.session.Valid() {
		return core.Session{}, core.ErrSessionNotFound
	}
	return *s.session, nil
}

// Write replaces the stored session
func (s *MemoryStore) Write(ctx context.Context, session core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := session
	s.session = &stored
	s.hub.publish(stored.Valid())
	return nil
}

// Clear removes the session and the pending verification
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = nil
	s.pending = nil
	s.hub.publish(false)
	return nil
}

// ObservePresence streams whether a valid session is stored
func (s *MemoryStore) ObservePresence(ctx context.Context) (<-chan bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hub.subscribe(ctx, s.session != nil && s.session.Valid()), nil
}

// Address returns the stored wallet address
func (s *MemoryStore) Address(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return "", nil
	}
	return s.session.Address, nil
}

// PrivateKey returns the stored key material
func (s *MemoryStore) PrivateKey(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return "", nil
	}
	return s.session.PrivateKey, nil
}

// SavePending replaces the pending verification
func (s *MemoryStore) SavePending(ctx context.Context, pending core.PendingVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := pending
	s.pending = &stored
	return nil
}

// Pending returns the live verification
func (s *MemoryStore) Pending(ctx context.Context) (core.PendingVerification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pending == nil {
		return core.PendingVerification{}, core.ErrNoPendingVerification
	}
	return *s.pending, nil
}

// ClearPending drops the pending verification
func (s *MemoryStore) ClearPending(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil
	return nil
}
