package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory. Suitable for a single node.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]counter
	maxKeys int
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type counter struct {
	hits      int64
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store holding at most maxKeys windows.
func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = 10000
	}

	s := &MemoryStore{
		data:    make(map[string]counter),
		maxKeys: maxKeys,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go s.cleanup()

	return s
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.data[key]
	if !ok || !now.Before(c.expiresAt) {
		if !ok && len(s.data) >= s.maxKeys {
			s.evictOldest()
		}
		c = counter{expiresAt: now.Add(window)}
	}
	c.hits++
	s.data[key] = c

	return c.hits, c.expiresAt.Sub(now), nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// evictOldest removes the window closest to expiry.
func (s *MemoryStore) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, c := range s.data {
		if oldestKey == "" || c.expiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = c.expiresAt
		}
	}

	if oldestKey != "" {
		delete(s.data, oldestKey)
	}
}

// cleanup periodically removes expired windows.
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for key, c := range s.data {
				if !now.Before(c.expiresAt) {
					delete(s.data, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
