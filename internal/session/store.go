// Package session implements the expiring, key-scoped session table used by
// the verification flows.
//
// A Store holds at most one live Entry per key. Expiry is lazy: any operation
// that touches an expired entry evicts it and reports ErrExpired once, after
// which the key reads as ErrNotFound. A Sweeper may additionally evict expired
// entries in the background to bound memory, but correctness never depends on it.
//
// All operations on the same key are atomic with respect to each other.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no session exists under a key.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned by the operation that discovers (and evicts) an
	// expired session. Subsequent operations see ErrNotFound.
	ErrExpired = errors.New("session expired")
)

// Entry is a stored session together with its bookkeeping fields.
type Entry[T any] struct {
	Key       string
	ID        string // unique per created session, never reused
	Payload   T
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry[T]) Expired(now time.Time) bool { return now.After(e.ExpiresAt) }

// Guard is evaluated by Create against the live session under the same key,
// inside the same critical section as the insert. A non-nil error aborts the
// create and leaves the existing session untouched.
type Guard[T any] func(existing Entry[T]) error

// Store is the contract shared by the in-memory and SQL-backed tables.
type Store[T any] interface {
	// Create stores a new session under key, superseding any existing one.
	// guard may be nil.
	Create(ctx context.Context, key string, payload T, ttl time.Duration, guard Guard[T]) (Entry[T], error)

	// Get returns the live session under key.
	Get(ctx context.Context, key string) (Entry[T], error)

	// Update applies fn to the live session and persists the result. If fn
	// returns an error nothing is written and the error is returned.
	Update(ctx context.Context, key string, fn func(*Entry[T]) error) (Entry[T], error)

	// RecordAttempt increments the attempt counter and returns the updated
	// session. The store never deletes on a limit; callers decide.
	RecordAttempt(ctx context.Context, key string) (Entry[T], error)

	// Delete removes the session under key, reporting whether one existed.
	Delete(ctx context.Context, key string) (bool, error)

	// DeleteEntry removes the session under key only if its ID matches.
	DeleteEntry(ctx context.Context, key, id string) (bool, error)

	// Sweep evicts every expired session and returns how many were removed.
	Sweep(ctx context.Context) (int, error)

	// Count returns the number of live sessions matching match (all when nil).
	Count(ctx context.Context, match func(Entry[T]) bool) (int, error)
}

// Clock returns the current time. Stores default to time.Now.
type Clock func() time.Time
