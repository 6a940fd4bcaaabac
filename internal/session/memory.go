package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store guarded by a single mutex.
//
// Sessions are lost on restart and are not shared between instances; use the
// SQL-backed store when either matters.
type MemoryStore[T any] struct {
	mu    sync.Mutex
	items map[string]Entry[T]
	now   Clock
	newID func() string
}

// NewMemoryStore returns an empty store. A nil clock means time.Now.
func NewMemoryStore[T any](now Clock) *MemoryStore[T] {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore[T]{
		items: make(map[string]Entry[T]),
		now:   now,
		newID: uuid.NewString,
	}
}

// lookup returns the live entry under key, evicting it when expired.
// Callers must hold s.mu.
func (s *MemoryStore[T]) lookup(key string) (Entry[T], error) {
	e, ok := s.items[key]
	if !ok {
		return Entry[T]{}, ErrNotFound
	}
	if e.Expired(s.now()) {
		delete(s.items, key)
		return Entry[T]{}, ErrExpired
	}
	return e, nil
}

func (s *MemoryStore[T]) Create(_ context.Context, key string, payload T, ttl time.Duration, guard Guard[T]) (Entry[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.lookup(key); err == nil && guard != nil {
		if gerr := guard(existing); gerr != nil {
			return Entry[T]{}, gerr
		}
	}

	now := s.now()
	e := Entry[T]{
		Key:       key,
		ID:        s.newID(),
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.items[key] = e
	return e, nil
}

func (s *MemoryStore[T]) Get(_ context.Context, key string) (Entry[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(key)
}

func (s *MemoryStore[T]) Update(_ context.Context, key string, fn func(*Entry[T]) error) (Entry[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(key)
	if err != nil {
		return Entry[T]{}, err
	}
	// Identity fields are not the caller's to change.
	id, created, expires := e.ID, e.CreatedAt, e.ExpiresAt
	if err := fn(&e); err != nil {
		return Entry[T]{}, err
	}
	e.Key, e.ID, e.CreatedAt, e.ExpiresAt = key, id, created, expires
	s.items[key] = e
	return e, nil
}

func (s *MemoryStore[T]) RecordAttempt(_ context.Context, key string) (Entry[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(key)
	if err != nil {
		return Entry[T]{}, err
	}
	e.Attempts++
	s.items[key] = e
	return e, nil
}

func (s *MemoryStore[T]) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.items[key]
	delete(s.items, key)
	return ok, nil
}

func (s *MemoryStore[T]) DeleteEntry(_ context.Context, key, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok || e.ID != id {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

func (s *MemoryStore[T]) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, e := range s.items {
		if e.Expired(now) {
			delete(s.items, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore[T]) Count(_ context.Context, match func(Entry[T]) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.items {
		if e.Expired(now) {
			continue
		}
		if match == nil || match(e) {
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored entries, expired ones included.
func (s *MemoryStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
