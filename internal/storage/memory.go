package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps actor state in process memory for single-instance mode.
// Params: in-memory maps guarded by one mutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
	alarms map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
// Params: none.
// Returns: initialized store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		alarms: make(map[string]time.Time),
	}
}

// Get reads one value.
// Params: storage key.
// Returns: value copy or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put writes one value unconditionally.
// Params: storage key and value.
// Returns: nil.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = stored
	return nil
}

// Delete removes one value; missing keys are not an error.
// Params: storage key.
// Returns: nil.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// List returns all key/value pairs under a prefix.
// Params: key prefix.
// Returns: matching entries with copied values.
func (s *MemoryStore) List(_ context.Context, prefix string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte)
	for key, value := range s.values {
		if strings.HasPrefix(key, prefix) {
			copied := make([]byte, len(value))
			copy(copied, value)
			out[key] = copied
		}
	}
	return out, nil
}

// Keys returns all keys under a prefix.
// Params: key prefix.
// Returns: matching keys in unspecified order.
func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0)
	for key := range s.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// SetAlarm records the actor's single pending wake time, replacing any
// previous one.
// Params: actor name and wake time.
// Returns: nil.
func (s *MemoryStore) SetAlarm(_ context.Context, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms[actor] = at
	return nil
}

// GetAlarm reads the actor's pending wake time.
// Params: actor name.
// Returns: wake time or ErrNotFound.
func (s *MemoryStore) GetAlarm(_ context.Context, actor string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.alarms[actor]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return at, nil
}

// DeleteAlarm clears the actor's pending wake time.
// Params: actor name.
// Returns: nil.
func (s *MemoryStore) DeleteAlarm(_ context.Context, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alarms, actor)
	return nil
}

// Alarms snapshots every pending alarm for resume at process start.
// Params: none.
// Returns: actor name to wake time map.
func (s *MemoryStore) Alarms(_ context.Context) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.alarms))
	for actor, at := range s.alarms {
		out[actor] = at
	}
	return out, nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}
