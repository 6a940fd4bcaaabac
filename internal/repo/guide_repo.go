// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Guide model.
//
// Error semantics:
//   - When a guide is not found, functions return ErrNotFound.
//   - On DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/anirum-backend/internal/domain"
)

// CreateGuide inserts g, assigning a UUID when ID is empty.
func CreateGuide(ctx context.Context, db *gorm.DB, g *domain.Guide) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.Tags == nil {
		g.Tags = domain.Tags{}
	}
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now
	return db.WithContext(ctx).Create(g).Error
}

// GetGuide fetches a guide by id, or ErrNotFound.
func GetGuide(ctx context.Context, db *gorm.DB, id string) (*domain.Guide, error) {
	var g domain.Guide
	if err := db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// UpdateGuideTags replaces the tags of guide id.
func UpdateGuideTags(ctx context.Context, db *gorm.DB, id string, tags []string) error {
	res := db.WithContext(ctx).Model(&domain.Guide{}).
		Where("id = ?", id).
		Updates(map[string]any{"tags": domain.Tags(tags), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGuidesForTagging returns guides to backfill, oldest first. userID
// restricts to one owner when non-empty; untaggedOnly skips guides that
// already have tags.
func ListGuidesForTagging(ctx context.Context, db *gorm.DB, userID string, untaggedOnly bool) ([]domain.Guide, error) {
	q := db.WithContext(ctx).Model(&domain.Guide{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if untaggedOnly {
		q = q.Where("tags IS NULL OR tags = '' OR tags = '[]'")
	}
	var out []domain.Guide
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// PopularTags counts tags across approved guides and returns the top limit,
// by count descending then tag ascending.
func PopularTags(ctx context.Context, db *gorm.DB, limit int) ([]domain.TagCount, error) {
	var rows []domain.Guide
	if err := db.WithContext(ctx).Model(&domain.Guide{}).
		Select("tags").
		Where("approved = ?", true).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, g := range rows {
		seen := make(map[string]struct{}, len(g.Tags))
		for _, t := range g.Tags {
			if _, dup := seen[t]; dup || t == "" {
				continue
			}
			seen[t] = struct{}{}
			counts[t]++
		}
	}

	out := make([]domain.TagCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, domain.TagCount{Tag: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
