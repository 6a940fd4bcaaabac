// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides a SQL-backed session.Store so that
// verification sessions survive restarts and can be shared by instances
// using the same database.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/anirum-backend/internal/domain"
	"github.com/tbourn/anirum-backend/internal/session"
)

// SessionStore persists sessions of payload type T in the
// verification_sessions table under a namespace. Every operation runs in one
// transaction; the mutex serializes operations from this process.
type SessionStore[T any] struct {
	db    *gorm.DB
	ns    string
	now   session.Clock
	newID func() string
	mu    sync.Mutex
}

var _ session.Store[struct{}] = (*SessionStore[struct{}])(nil)

// NewSessionStore returns a store over db. A nil clock means time.Now.
func NewSessionStore[T any](db *gorm.DB, namespace string, now session.Clock) *SessionStore[T] {
	if now == nil {
		now = time.Now
	}
	return &SessionStore[T]{db: db, ns: namespace, now: now, newID: uuid.NewString}
}

func (s *SessionStore[T]) scope(tx *gorm.DB, key string) *gorm.DB {
	return tx.Where("namespace = ? AND key = ?", s.ns, key)
}

func (s *SessionStore[T]) decode(rec domain.SessionRecord) (session.Entry[T], error) {
	var p T
	if err := json.Unmarshal([]byte(rec.Payload), &p); err != nil {
		return session.Entry[T]{}, fmt.Errorf("decode session %s: %w", rec.ID, err)
	}
	return session.Entry[T]{
		Key:       rec.Key,
		ID:        rec.ID,
		Payload:   p,
		Attempts:  rec.Attempts,
		CreatedAt: rec.CreatedAt.UTC(),
		ExpiresAt: rec.ExpiresAt.UTC(),
	}, nil
}

// live runs fn on the live entry under key inside a transaction and writes
// back what fn leaves in the entry. An expired entry is deleted, the deletion
// committed, and session.ErrExpired returned.
func (s *SessionStore[T]) live(ctx context.Context, key string, write bool, fn func(e *session.Entry[T]) error) (session.Entry[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		out     session.Entry[T]
		expired bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec domain.SessionRecord
		err := s.scope(tx, key).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.ErrNotFound
		}
		if err != nil {
			return err
		}
		if s.now().After(rec.ExpiresAt) {
			expired = true
			return s.scope(tx, key).Delete(&domain.SessionRecord{}).Error
		}
		e, err := s.decode(rec)
		if err != nil {
			return err
		}
		if fn != nil {
			if err := fn(&e); err != nil {
				return err
			}
		}
		e.Key, e.ID, e.CreatedAt, e.ExpiresAt = rec.Key, rec.ID, rec.CreatedAt.UTC(), rec.ExpiresAt.UTC()
		if write {
			payload, err := json.Marshal(e.Payload)
			if err != nil {
				return err
			}
			if err := s.scope(tx, key).Where("id = ?", rec.ID).Model(&domain.SessionRecord{}).
				Updates(map[string]any{"payload": string(payload), "attempts": e.Attempts}).Error; err != nil {
				return err
			}
		}
		out = e
		return nil
	})
	if err == nil && expired {
		return session.Entry[T]{}, session.ErrExpired
	}
	return out, err
}

func (s *SessionStore[T]) Create(ctx context.Context, key string, payload T, ttl time.Duration, guard session.Guard[T]) (session.Entry[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return session.Entry[T]{}, err
	}
	now := s.now().UTC()
	rec := domain.SessionRecord{
		Namespace: s.ns,
		Key:       key,
		ID:        s.newID(),
		Payload:   string(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.SessionRecord
		err := s.scope(tx, key).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			if guard != nil && !now.After(existing.ExpiresAt) {
				e, err := s.decode(existing)
				if err != nil {
					return err
				}
				if err := guard(e); err != nil {
					return err
				}
			}
			if err := s.scope(tx, key).Delete(&domain.SessionRecord{}).Error; err != nil {
				return err
			}
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return session.Entry[T]{}, err
	}
	return session.Entry[T]{
		Key:       key,
		ID:        rec.ID,
		Payload:   payload,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *SessionStore[T]) Get(ctx context.Context, key string) (session.Entry[T], error) {
	return s.live(ctx, key, false, nil)
}

func (s *SessionStore[T]) Update(ctx context.Context, key string, fn func(*session.Entry[T]) error) (session.Entry[T], error) {
	return s.live(ctx, key, true, fn)
}

func (s *SessionStore[T]) RecordAttempt(ctx context.Context, key string) (session.Entry[T], error) {
	return s.live(ctx, key, true, func(e *session.Entry[T]) error {
		e.Attempts++
		return nil
	})
}

func (s *SessionStore[T]) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.scope(s.db.WithContext(ctx), key).Delete(&domain.SessionRecord{})
	return res.RowsAffected > 0, res.Error
}

func (s *SessionStore[T]) DeleteEntry(ctx context.Context, key, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.scope(s.db.WithContext(ctx), key).Where("id = ?", id).Delete(&domain.SessionRecord{})
	return res.RowsAffected > 0, res.Error
}

// Sweep compares expiry in Go; SQLite stores timestamps as text.
func (s *SessionStore[T]) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []domain.SessionRecord
	if err := s.db.WithContext(ctx).Select("key", "id", "expires_at").
		Where("namespace = ?", s.ns).Find(&recs).Error; err != nil {
		return 0, err
	}
	now := s.now()
	var ids []string
	for _, r := range recs {
		if now.After(r.ExpiresAt) {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("namespace = ? AND id IN ?", s.ns, ids).Delete(&domain.SessionRecord{})
	return int(res.RowsAffected), res.Error
}

func (s *SessionStore[T]) Count(ctx context.Context, match func(session.Entry[T]) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recs []domain.SessionRecord
	if err := s.db.WithContext(ctx).Where("namespace = ?", s.ns).Find(&recs).Error; err != nil {
		return 0, err
	}
	now := s.now()
	n := 0
	for _, r := range recs {
		if now.After(r.ExpiresAt) {
			continue
		}
		if match == nil {
			n++
			continue
		}
		e, err := s.decode(r)
		if err != nil {
			return 0, err
		}
		if match(e) {
			n++
		}
	}
	return n, nil
}
