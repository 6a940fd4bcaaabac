// Package services – GuideService
//
// This file implements the GuideService, which creates guides with tags
// enriched by the tagging pipeline, re-tags existing guides, reports popular
// tags and drives the batch backfill. Tag sources never fail a request: the
// pipeline degrades to fewer tags.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/anirum-backend/internal/domain"
	"github.com/tbourn/anirum-backend/internal/tagging"
)

// GuideRepo defines the repository contract required by GuideService.
type GuideRepo interface {
	// CreateGuide inserts a new guide, assigning an id.
	CreateGuide(ctx context.Context, db *gorm.DB, g *domain.Guide) error

	// GetGuide fetches a guide by id.
	GetGuide(ctx context.Context, db *gorm.DB, id string) (*domain.Guide, error)

	// UpdateGuideTags replaces a guide's tags.
	UpdateGuideTags(ctx context.Context, db *gorm.DB, id string, tags []string) error

	// ListGuidesForTagging returns backfill candidates.
	ListGuidesForTagging(ctx context.Context, db *gorm.DB, userID string, untaggedOnly bool) ([]domain.Guide, error)

	// PopularTags counts tags across approved guides.
	PopularTags(ctx context.Context, db *gorm.DB, limit int) ([]domain.TagCount, error)
}

// NewGuide is the input of GuideService.Create.
type NewGuide struct {
	Title    string
	Text     string
	ImageURL string
	Tags     []string
}

const (
	// DefaultPopularTags is the popular-tags limit when none is given.
	DefaultPopularTags = 20
	// MaxPopularTags caps the popular-tags limit.
	MaxPopularTags = 100
)

// GuideService provides guide operations that involve tagging.
type GuideService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the guide repository used by this service.
	Repo GuideRepo
	// Tagger enriches tags. Nil keeps only the manual tags.
	Tagger *tagging.Pipeline

	// TitleMaxLen caps titles by rune length.
	TitleMaxLen int
}

// NewGuideService constructs a GuideService with a 255 rune title limit.
func NewGuideService(db *gorm.DB, r GuideRepo, p *tagging.Pipeline) *GuideService {
	return &GuideService{DB: db, Repo: r, Tagger: p, TitleMaxLen: 255}
}

// Create stores a new, unapproved guide owned by userID. Manual tags come
// first, followed by tags derived from the image and then the text.
func (s *GuideService) Create(ctx context.Context, userID string, in NewGuide) (*domain.Guide, error) {
	title := normalizeTitle(in.Title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return nil, ErrTitleTooLong
	}

	g := &domain.Guide{
		UserID:   userID,
		Title:    title,
		Text:     strings.TrimSpace(in.Text),
		ImageURL: strings.TrimSpace(in.ImageURL),
	}
	g.Tags = s.tags(ctx, tagging.Input{
		ManualTags: in.Tags,
		ImageURL:   g.ImageURL,
		Title:      g.Title,
		Body:       g.Text,
	})
	if err := s.Repo.CreateGuide(ctx, s.DB, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Retag regenerates tags for a guide owned by userID, keeping its current
// tags in front.
func (s *GuideService) Retag(ctx context.Context, userID, id string) (*domain.Guide, error) {
	g, err := s.Repo.GetGuide(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGuideNotFound
		}
		return nil, err
	}
	if g.UserID != userID {
		return nil, ErrGuideNotFound
	}

	tags := s.tags(ctx, tagging.Input{
		ManualTags: g.Tags,
		ImageURL:   g.ImageURL,
		Title:      g.Title,
		Body:       g.Text,
	})
	if err := s.Repo.UpdateGuideTags(ctx, s.DB, g.ID, tags); err != nil {
		return nil, err
	}
	g.Tags = tags
	return g, nil
}

// PopularTags returns the most used tags on approved guides. A zero limit
// means DefaultPopularTags.
func (s *GuideService) PopularTags(ctx context.Context, limit int) ([]domain.TagCount, error) {
	if limit == 0 {
		limit = DefaultPopularTags
	}
	if limit < 1 || limit > MaxPopularTags {
		return nil, ErrInvalidLimit
	}
	return s.Repo.PopularTags(ctx, s.DB, limit)
}

// Backfill generates tags for guides in batches. Without opts.Force only
// guides with no tags are considered. userID restricts the run to one owner.
func (s *GuideService) Backfill(ctx context.Context, userID string, opts tagging.BackfillOptions) (tagging.BackfillResult, error) {
	if s.Tagger == nil {
		return tagging.BackfillResult{}, tagging.ErrNotConfigured
	}
	guides, err := s.Repo.ListGuidesForTagging(ctx, s.DB, userID, !opts.Force)
	if err != nil {
		return tagging.BackfillResult{}, err
	}
	items := make([]tagging.Item, 0, len(guides))
	for _, g := range guides {
		items = append(items, tagging.Item{
			ID:       g.ID,
			Title:    g.Title,
			Body:     g.Text,
			ImageURL: g.ImageURL,
			Tags:     g.Tags,
		})
	}
	return s.Tagger.Backfill(ctx, items, func(ctx context.Context, id string, tags []string) error {
		return s.Repo.UpdateGuideTags(ctx, s.DB, id, tags)
	}, opts)
}

func (s *GuideService) tags(ctx context.Context, in tagging.Input) domain.Tags {
	if s.Tagger == nil {
		return tagging.Merge(in.ManualTags)
	}
	return s.Tagger.Aggregate(ctx, in)
}

// normalizeTitle trims whitespace and collapses multiple spaces to one.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
