package store

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryStore implements Store with process-local maps. It backs tests and
// serves as the degraded mode when Redis is unreachable. Expiry is checked
// lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	lists   map[string][]string
	strings map[string]string
	windows map[string][]time.Time
	expiry  map[string]time.Time

	// Published records every Publish call for test inspection.
	Published []PublishedMessage
}

// PublishedMessage is one captured pub/sub message.
type PublishedMessage struct {
	Channel string
	Payload string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes:  make(map[string]map[string]string),
		lists:   make(map[string][]string),
		strings: make(map[string]string),
		windows: make(map[string][]time.Time),
		expiry:  make(map[string]time.Time),
	}
}

// expired reports whether key has passed its TTL (lock held).
func (s *MemoryStore) expired(key string) bool {
	at, ok := s.expiry[key]
	if !ok {
		return false
	}
	if time.Now().After(at) {
		delete(s.hashes, key)
		delete(s.lists, key)
		delete(s.strings, key)
		delete(s.windows, key)
		delete(s.expiry, key)
		return true
	}
	return false
}

// HSet writes the given fields into the hash at key.
func (s *MemoryStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

// HGetAll reads all fields of the hash at key.
func (s *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return nil, ErrNotFound
	}
	h, ok := s.hashes[key]
	if !ok || len(h) == 0 {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

// HSetIfFieldEquals conditionally updates the hash at key under the lock.
func (s *MemoryStore) HSetIfFieldEquals(ctx context.Context, key, field, expect string, updates map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return false, nil
	}
	h, ok := s.hashes[key]
	if !ok || h[field] != expect {
		return false, nil
	}
	for k, v := range updates {
		h[k] = v
	}
	return true, nil
}

// Expire sets the time-to-live of key.
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry[key] = time.Now().Add(ttl)
	return nil
}

// LPush prepends value to the list at key.
func (s *MemoryStore) LPush(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired(key)
	s.lists[key] = append([]string{value}, s.lists[key]...)
	return nil
}

// LTrim trims the list at key to [start, stop].
func (s *MemoryStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		delete(s.lists, key)
		return nil
	}
	s.lists[key] = list[start : stop+1]
	return nil
}

// LRange reads [start, stop] of the list at key.
func (s *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return nil, nil
	}
	list := s.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

// Get reads the string value at key.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired(key) {
		return "", ErrNotFound
	}
	val, ok := s.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

// Set writes the string value at key.
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	if ttl > 0 {
		s.expiry[key] = time.Now().Add(ttl)
	} else {
		delete(s.expiry, key)
	}
	return nil
}

// Keys lists keys matching the glob pattern.
func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	match := func(key string) {
		if ok, _ := path.Match(pattern, key); ok && !s.expired(key) {
			out = append(out, key)
		}
	}
	for key := range s.hashes {
		match(key)
	}
	for key := range s.lists {
		match(key)
	}
	for key := range s.strings {
		match(key)
	}
	return out, nil
}

// SlidingWindowAdmit applies the evict-count-record sequence under the lock.
func (s *MemoryStore) SlidingWindowAdmit(ctx context.Context, key string, now time.Time, window time.Duration, maxCalls int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-window)
	kept := s.windows[key][:0]
	for _, t := range s.windows[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= maxCalls {
		s.windows[key] = kept
		return false, nil
	}
	s.windows[key] = append(kept, now)
	return true, nil
}

// Publish records payload for later inspection.
func (s *MemoryStore) Publish(ctx context.Context, channel, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Published = append(s.Published, PublishedMessage{Channel: channel, Payload: payload})
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
