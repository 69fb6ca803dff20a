package ratelimit

import (
	"context"
	"sort"
	"sync"

	"ai-rivu-backend/model"
)

// WindowStore holds the admission timestamps (ms since epoch, oldest first)
// of every sliding window.
//
// Implementations must be safe for concurrent use.
type WindowStore interface {
	// Get returns the timestamps for key. A missing key yields an empty slice.
	Get(ctx context.Context, key model.AdmissionKey) ([]int64, error)

	// Set replaces the timestamps for key.
	Set(ctx context.Context, key model.AdmissionKey, timestamps []int64) error

	// Delete removes key.
	Delete(ctx context.Context, key model.AdmissionKey) error

	// Keys lists every stored key.
	Keys(ctx context.Context) ([]model.AdmissionKey, error)
}

// MemoryWindowStore is the in-process WindowStore
type MemoryWindowStore struct {
	mu   sync.RWMutex
	data map[model.AdmissionKey][]int64
}

// NewMemoryWindowStore creates an empty store
func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		data: make(map[model.AdmissionKey][]int64),
	}
}

func (s *MemoryWindowStore) Get(ctx context.Context, key model.AdmissionKey) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ts := s.data[key]
	out := make([]int64, len(ts))
	copy(out, ts)
	return out, nil
}

func (s *MemoryWindowStore) Set(ctx context.Context, key model.AdmissionKey, timestamps []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(timestamps) == 0 {
		delete(s.data, key)
		return nil
	}
	stored := make([]int64, len(timestamps))
	copy(stored, timestamps)
	s.data[key] = stored
	return nil
}

func (s *MemoryWindowStore) Delete(ctx context.Context, key model.AdmissionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *MemoryWindowStore) Keys(ctx context.Context) ([]model.AdmissionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]model.AdmissionKey, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// Size returns the number of stored keys (for testing).
func (s *MemoryWindowStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
