package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	attempt   Attempt
	expiresAt time.Time
}

// MemoryStore keeps attempts in process. Expired keys are dropped when read
// and by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string, now time.Time) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return Attempt{}, nil
	}
	if !now.Before(entry.expiresAt) {
		delete(s.entries, key)
		return Attempt{}, nil
	}
	return entry.attempt, nil
}

func (s *MemoryStore) RegisterFailure(ctx context.Context, key string, policy Policy, now time.Time) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &memoryEntry{}
		s.entries[key] = entry
	}
	entry.attempt.Failures++
	if entry.attempt.Failures >= policy.MaxAttempts {
		entry.attempt.BlockedUntil = now.Add(policy.Block)
	}
	entry.expiresAt = now.Add(policy.Block)
	return entry.attempt, nil
}

func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep drops every expired key and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
