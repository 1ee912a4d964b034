package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore provides an in-memory implementation of SubmissionStore.
//
// This implementation is suitable for single-instance relays. For
// load-balanced deployments use RedisStore.
//
// Features:
//   - Thread-safe with mutex protection
//   - Configurable TTL for cached results
//   - In-flight request tracking with wait channels
//   - Lazy cleanup of expired entries
type InMemoryStore struct {
	mu       sync.Mutex
	results  map[string]*Submission
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

// NewInMemoryStore creates a new in-memory submission store with the specified TTL.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		results:  make(map[string]*Submission),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

// CheckAndMark atomically checks the cache and marks the key as in-flight if needed.
func (s *InMemoryStore) CheckAndMark(ctx context.Context, key string) (SubmissionStatus, *Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for cached result first
	if expiry, exists := s.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := s.results[key]; ok {
				return StatusCached, result, nil
			}
		}
		// Expired - clean it up
		delete(s.results, key)
		delete(s.expiry, key)
	}

	if _, exists := s.inFlight[key]; exists {
		return StatusInFlight, nil, nil
	}

	s.inFlight[key] = make(chan struct{})
	return StatusNotFound, nil, nil
}

// WaitForResult waits for an in-flight request to complete, respecting context cancellation.
func (s *InMemoryStore) WaitForResult(ctx context.Context, key string) (*Submission, error) {
	s.mu.Lock()
	done, exists := s.inFlight[key]
	s.mu.Unlock()
	if !exists {
		return s.get(key), nil
	}

	select {
	case <-done:
		return s.get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// get retrieves a cached submission if it exists and hasn't expired.
func (s *InMemoryStore) get(key string) *Submission {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.expiry[key]
	if !exists {
		return nil
	}
	if time.Now().After(expiry) {
		delete(s.results, key)
		delete(s.expiry, key)
		return nil
	}
	return s.results[key]
}

// Complete caches the submission and signals any waiting goroutines.
func (s *InMemoryStore) Complete(ctx context.Context, key string, submission *Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[key] = submission
	s.expiry[key] = time.Now().Add(s.ttl)
	s.releaseLocked(key)
	s.cleanupExpiredLocked()
	return nil
}

// Fail removes the in-flight marker without caching a result.
func (s *InMemoryStore) Fail(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked(key)
	return nil
}

func (s *InMemoryStore) releaseLocked(key string) {
	if done, exists := s.inFlight[key]; exists {
		delete(s.inFlight, key)
		close(done)
	}
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (s *InMemoryStore) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range s.expiry {
		if now.After(expiry) {
			delete(s.results, key)
			delete(s.expiry, key)
		}
	}
}

var _ SubmissionStore = (*InMemoryStore)(nil)
