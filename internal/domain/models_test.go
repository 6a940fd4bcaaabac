package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Profile{}).TableName():       "profiles",
		(Guide{}).TableName():         "guides",
		(SessionRecord{}).TableName(): "verification_sessions",
		(Idempotency{}).TableName():   "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes_AndTagsRoundTrip(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&Profile{}, &Guide{}, &SessionRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, tbl := range []any{&Profile{}, &Guide{}, &SessionRecord{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&Guide{}, "idx_user_guides") {
		t.Fatalf("expected index idx_user_guides on guides")
	}

	now := time.Now().UTC()
	g := &Guide{ID: "g1", UserID: "u1", Title: "Hands", Tags: Tags{"hands", "anatomy"}, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(g).Error; err != nil {
		t.Fatalf("insert guide: %v", err)
	}
	var got Guide
	if err := db.First(&got, "id = ?", "g1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "hands" || got.Tags[1] != "anatomy" {
		t.Fatalf("tags round trip = %v", got.Tags)
	}

	// A guide created without tags reads back as an empty list.
	if err := db.Create(&Guide{ID: "g2", UserID: "u1", Title: "Bare"}).Error; err != nil {
		t.Fatalf("insert bare guide: %v", err)
	}
	var bare Guide
	if err := db.First(&bare, "id = ?", "g2").Error; err != nil {
		t.Fatalf("readback bare: %v", err)
	}
	if bare.Tags == nil || len(bare.Tags) != 0 {
		t.Fatalf("expected empty non-nil tags, got %#v", bare.Tags)
	}

	// Session keys are unique per namespace only.
	rec := SessionRecord{Namespace: "direct", Key: "k", ID: "id-1", Payload: "{}", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("insert session: %v", err)
	}
	rec2 := rec
	rec2.Namespace, rec2.ID = "handshake", "id-2"
	if err := db.Create(&rec2).Error; err != nil {
		t.Fatalf("same key in another namespace: %v", err)
	}
	rec3 := rec
	rec3.ID = "id-3"
	if err := db.Create(&rec3).Error; err == nil {
		t.Fatalf("expected primary key violation for duplicate (namespace, key)")
	}
}

func TestTags_Scan(t *testing.T) {
	var tg Tags
	if err := tg.Scan(nil); err != nil || tg == nil || len(tg) != 0 {
		t.Fatalf("Scan(nil) = %v, %v", tg, err)
	}
	if err := tg.Scan([]byte(`["a","b"]`)); err != nil || len(tg) != 2 {
		t.Fatalf("Scan(bytes) = %v, %v", tg, err)
	}
	if err := tg.Scan(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if err := tg.Scan("not json"); err == nil {
		t.Fatalf("expected error for malformed json")
	}
	v, err := Tags(nil).Value()
	if err != nil || v != "[]" {
		t.Fatalf("Value(nil) = %v, %v", v, err)
	}
}
