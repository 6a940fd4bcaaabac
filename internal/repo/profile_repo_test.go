package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/anirum-backend/internal/domain"
)

func TestProfile_MarkVerified_Upserts(t *testing.T) {
	db := newIdemDB(t, &domain.Profile{})
	ctx := context.Background()

	if _, err := GetProfile(ctx, db, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	empty, err := GetOrEmptyProfile(ctx, db, "u1")
	if err != nil || empty.UserID != "u1" || empty.WhatsAppVerified {
		t.Fatalf("GetOrEmptyProfile = %+v, %v", empty, err)
	}

	if err := MarkWhatsAppVerified(ctx, db, "u1", "15551234567"); err != nil {
		t.Fatalf("MarkWhatsAppVerified: %v", err)
	}
	if err := MarkTelegramVerified(ctx, db, "u1", "alice_art", "777"); err != nil {
		t.Fatalf("MarkTelegramVerified: %v", err)
	}
	// Re-verifying a different phone updates in place.
	if err := MarkWhatsAppVerified(ctx, db, "u1", "79123456789"); err != nil {
		t.Fatalf("MarkWhatsAppVerified again: %v", err)
	}

	p, err := GetProfile(ctx, db, "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !p.WhatsAppVerified || p.WhatsAppPhone != "79123456789" {
		t.Fatalf("whatsapp fields = %+v", p)
	}
	if !p.TelegramVerified || p.TelegramUsername != "alice_art" || p.TelegramChatID != "777" {
		t.Fatalf("telegram fields = %+v", p)
	}

	var n int64
	db.Model(&domain.Profile{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected a single profile row, got %d", n)
	}
}
