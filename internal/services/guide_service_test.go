package services

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/anirum-backend/internal/domain"
	"github.com/tbourn/anirum-backend/internal/tagging"
)

// ----- Fakes -----

type fakeGuideRepo struct {
	guides    map[string]*domain.Guide
	createErr error

	updatedID   string
	updatedTags []string

	listUserID   string
	listUntagged bool

	popularLimit int
	popular      []domain.TagCount
}

func newFakeGuideRepo() *fakeGuideRepo {
	return &fakeGuideRepo{guides: map[string]*domain.Guide{}}
}

func (r *fakeGuideRepo) CreateGuide(ctx context.Context, db *gorm.DB, g *domain.Guide) error {
	if r.createErr != nil {
		return r.createErr
	}
	if g.ID == "" {
		g.ID = "g1"
	}
	cp := *g
	r.guides[g.ID] = &cp
	return nil
}

func (r *fakeGuideRepo) GetGuide(ctx context.Context, db *gorm.DB, id string) (*domain.Guide, error) {
	g, ok := r.guides[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *g
	return &cp, nil
}

func (r *fakeGuideRepo) UpdateGuideTags(ctx context.Context, db *gorm.DB, id string, tags []string) error {
	r.updatedID, r.updatedTags = id, tags
	if g, ok := r.guides[id]; ok {
		g.Tags = tags
	}
	return nil
}

func (r *fakeGuideRepo) ListGuidesForTagging(ctx context.Context, db *gorm.DB, userID string, untaggedOnly bool) ([]domain.Guide, error) {
	r.listUserID, r.listUntagged = userID, untaggedOnly
	var out []domain.Guide
	for _, g := range r.guides {
		out = append(out, *g)
	}
	return out, nil
}

func (r *fakeGuideRepo) PopularTags(ctx context.Context, db *gorm.DB, limit int) ([]domain.TagCount, error) {
	r.popularLimit = limit
	return r.popular, nil
}

type stubImage struct {
	tags []string
	err  error
}

func (s stubImage) TagsFromImage(ctx context.Context, url string) ([]string, error) {
	return s.tags, s.err
}

type stubText struct {
	tags []string
	err  error
}

func (s stubText) TagsFromText(ctx context.Context, title, body string) ([]string, error) {
	return s.tags, s.err
}

func newGuideService(r *fakeGuideRepo, img stubImage, txt stubText) *GuideService {
	return NewGuideService(nil, r, tagging.NewPipeline(img, txt, zerolog.Nop()))
}

// ----- Tests -----

func TestGuideService_Create_MergesTags(t *testing.T) {
	r := newFakeGuideRepo()
	s := newGuideService(r, stubImage{tags: []string{"Hand", "wrist"}}, stubText{tags: []string{"anatomy", "HAND"}})

	g, err := s.Create(context.Background(), "u1", NewGuide{
		Title:    "  Drawing   hands  ",
		Text:     "Step by step",
		ImageURL: "https://cdn.example.com/h.png",
		Tags:     []string{"Hands ", "sketch"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if g.Title != "Drawing hands" || g.UserID != "u1" || g.Approved {
		t.Fatalf("unexpected guide: %+v", g)
	}
	want := []string{"hands", "sketch", "hand", "wrist", "anatomy"}
	if !reflect.DeepEqual([]string(g.Tags), want) {
		t.Fatalf("tags = %v, want %v", g.Tags, want)
	}
}

func TestGuideService_Create_SourceFailureDegrades(t *testing.T) {
	r := newFakeGuideRepo()
	s := newGuideService(r, stubImage{err: errors.New("boom")}, stubText{tags: []string{"face"}})

	g, err := s.Create(context.Background(), "u1", NewGuide{Title: "Faces", ImageURL: "https://x/y.png", Text: "eyes"})
	if err != nil {
		t.Fatalf("Create must not fail on tagging errors: %v", err)
	}
	if !reflect.DeepEqual([]string(g.Tags), []string{"face"}) {
		t.Fatalf("tags = %v", g.Tags)
	}
}

func TestGuideService_Create_Validation(t *testing.T) {
	s := NewGuideService(nil, newFakeGuideRepo(), nil)
	ctx := context.Background()

	if _, err := s.Create(ctx, "u1", NewGuide{Title: "   "}); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
	if _, err := s.Create(ctx, "u1", NewGuide{Title: strings.Repeat("ж", 256)}); !errors.Is(err, ErrTitleTooLong) {
		t.Fatalf("expected ErrTitleTooLong, got %v", err)
	}

	// Without a tagger only manual tags survive, normalized.
	g, err := s.Create(ctx, "u1", NewGuide{Title: "Ok", Tags: []string{" A ", "a", ""}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !reflect.DeepEqual([]string(g.Tags), []string{"a"}) {
		t.Fatalf("tags = %v", g.Tags)
	}
}

func TestGuideService_Retag(t *testing.T) {
	r := newFakeGuideRepo()
	r.guides["g1"] = &domain.Guide{ID: "g1", UserID: "owner", Title: "Hands", Tags: domain.Tags{"hands"}}
	s := newGuideService(r, stubImage{}, stubText{tags: []string{"anatomy"}})
	ctx := context.Background()

	if _, err := s.Retag(ctx, "intruder", "g1"); !errors.Is(err, ErrGuideNotFound) {
		t.Fatalf("expected ErrGuideNotFound for non-owner, got %v", err)
	}
	if _, err := s.Retag(ctx, "owner", "missing"); !errors.Is(err, ErrGuideNotFound) {
		t.Fatalf("expected ErrGuideNotFound, got %v", err)
	}

	g, err := s.Retag(ctx, "owner", "g1")
	if err != nil {
		t.Fatalf("Retag: %v", err)
	}
	want := []string{"hands", "anatomy"}
	if !reflect.DeepEqual([]string(g.Tags), want) || !reflect.DeepEqual(r.updatedTags, want) || r.updatedID != "g1" {
		t.Fatalf("retag = %v (saved %v to %q)", g.Tags, r.updatedTags, r.updatedID)
	}
}

func TestGuideService_PopularTags_Limit(t *testing.T) {
	r := newFakeGuideRepo()
	r.popular = []domain.TagCount{{Tag: "hands", Count: 3}}
	s := NewGuideService(nil, r, nil)
	ctx := context.Background()

	got, err := s.PopularTags(ctx, 0)
	if err != nil || r.popularLimit != DefaultPopularTags || len(got) != 1 {
		t.Fatalf("PopularTags(0) = %v, %v (limit %d)", got, err, r.popularLimit)
	}
	for _, bad := range []int{-1, 101} {
		if _, err := s.PopularTags(ctx, bad); !errors.Is(err, ErrInvalidLimit) {
			t.Fatalf("PopularTags(%d) expected ErrInvalidLimit, got %v", bad, err)
		}
	}
	if _, err := s.PopularTags(ctx, 100); err != nil || r.popularLimit != 100 {
		t.Fatalf("PopularTags(100) = %v (limit %d)", err, r.popularLimit)
	}
}

func TestGuideService_Backfill(t *testing.T) {
	r := newFakeGuideRepo()
	r.guides["g1"] = &domain.Guide{ID: "g1", UserID: "u1", Title: "Hands"}
	s := newGuideService(r, stubImage{}, stubText{tags: []string{"hands"}})

	res, err := s.Backfill(context.Background(), "u1", tagging.BackfillOptions{BatchSize: 2})
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if res.Processed != 1 || res.Errors != 0 || res.Skipped != 0 {
		t.Fatalf("result = %+v", res)
	}
	if r.listUserID != "u1" || !r.listUntagged {
		t.Fatalf("list args = %q, %v", r.listUserID, r.listUntagged)
	}
	if !reflect.DeepEqual(r.updatedTags, []string{"hands"}) {
		t.Fatalf("saved tags = %v", r.updatedTags)
	}

	if _, err := NewGuideService(nil, r, nil).Backfill(context.Background(), "", tagging.BackfillOptions{}); !errors.Is(err, tagging.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without a tagger, got %v", err)
	}
}
