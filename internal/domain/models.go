// Package domain defines the persistence models for profiles, guides and
// verification sessions. These types are mapped with GORM and form the data
// layer of the backend.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Profile holds the messenger identities a user has verified. One row per
// user, created on first verification.
//
// Fields:
//   - UserID: identifier of the account owner (primary key).
//   - WhatsAppPhone / WhatsAppVerified: last verified phone, digits only.
//   - TelegramUsername / TelegramChatID / TelegramVerified: last verified
//     handle (lowercase, no '@') and the private chat it was delivered to.
type Profile struct {
	UserID           string    `json:"user_id"           gorm:"type:varchar(64);primaryKey"`
	WhatsAppPhone    string    `json:"whatsapp_phone"    gorm:"column:whatsapp_phone;type:varchar(20)"`
	WhatsAppVerified bool      `json:"whatsapp_verified" gorm:"column:whatsapp_verified;not null;default:false"`
	TelegramUsername string    `json:"telegram_username" gorm:"type:varchar(64);index"`
	TelegramChatID   string    `json:"-"                 gorm:"type:varchar(32)"`
	TelegramVerified bool      `json:"telegram_verified" gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "profiles" }

// Tags is a tag list stored as a JSON array in a TEXT column.
type Tags []string

// Value implements driver.Valuer.
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *Tags) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = Tags{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("tags: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*t = Tags{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	*t = out
	return nil
}

// Guide is a drawing tutorial. Tags are the merged output of the tagging
// pipeline; only approved guides count towards popular tags.
type Guide struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_guides"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null"`
	Text      string         `json:"text"       gorm:"type:text"`
	ImageURL  string         `json:"image_url"  gorm:"type:text"`
	Tags      Tags           `json:"tags"       gorm:"type:text;not null;default:'[]'"`
	Approved  bool           `json:"approved"   gorm:"not null;default:false;index"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Guide.
func (Guide) TableName() string { return "guides" }

// TagCount is a tag with the number of approved guides carrying it.
type TagCount struct {
	Tag   string `json:"tag"   example:"anatomy"`
	Count int    `json:"count" example:"12"`
}

// SessionRecord is a verification session persisted by the SQL-backed
// session store. Namespace separates the direct-send and handshake tables.
type SessionRecord struct {
	Namespace string    `gorm:"type:varchar(32);primaryKey"`
	Key       string    `gorm:"type:varchar(255);primaryKey"`
	ID        string    `gorm:"type:char(36);not null;uniqueIndex"`
	Payload   string    `gorm:"type:text;not null"`
	Attempts  int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName returns the database table name for SessionRecord.
func (SessionRecord) TableName() string { return "verification_sessions" }
