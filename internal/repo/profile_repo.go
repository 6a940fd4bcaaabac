// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Profile
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/anirum-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetProfile returns the profile for userID, or ErrNotFound.
func GetProfile(ctx context.Context, db *gorm.DB, userID string) (*domain.Profile, error) {
	var p domain.Profile
	if err := db.WithContext(ctx).First(&p, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrEmptyProfile returns the stored profile or a zero profile for userID.
func GetOrEmptyProfile(ctx context.Context, db *gorm.DB, userID string) (*domain.Profile, error) {
	p, err := GetProfile(ctx, db, userID)
	if errors.Is(err, ErrNotFound) {
		return &domain.Profile{UserID: userID}, nil
	}
	return p, err
}

// MarkWhatsAppVerified records phone as the user's verified WhatsApp number.
func MarkWhatsAppVerified(ctx context.Context, db *gorm.DB, userID, phone string) error {
	p := domain.Profile{UserID: userID, WhatsAppPhone: phone, WhatsAppVerified: true}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"whatsapp_phone", "whatsapp_verified", "updated_at"}),
	}).Create(&p).Error
}

// MarkTelegramVerified records handle and chatID as the user's verified
// Telegram identity.
func MarkTelegramVerified(ctx context.Context, db *gorm.DB, userID, handle, chatID string) error {
	p := domain.Profile{UserID: userID, TelegramUsername: handle, TelegramChatID: chatID, TelegramVerified: true}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"telegram_username", "telegram_chat_id", "telegram_verified", "updated_at"}),
	}).Create(&p).Error
}
