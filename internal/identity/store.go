package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by a Store when the key has never been set.
var ErrNotFound = errors.New("identity: key not found")

// Store is the persisted key-value state backing the identity. It only
// ever holds a handful of string keys.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// AbsentSetter is implemented by stores that can write a key only when it
// is not already set. ResolveUserID uses it so processes sharing a store
// settle on one generated id.
type AbsentSetter interface {
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)
}

// MemoryStore keeps values for the lifetime of the process. It is used
// when no persistent backend is configured and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
	}
}

// Get returns the value for key, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value under key.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// SetIfAbsent stores value under key unless key is already set. It
// reports whether value was stored.
func (s *MemoryStore) SetIfAbsent(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value
	return true, nil
}
