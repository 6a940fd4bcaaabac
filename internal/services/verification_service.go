// Package services – VerificationService
//
// This file implements the VerificationService, which routes verification
// requests to the flow serving the chosen messenger and persists the result
// on the caller's profile. WhatsApp uses the direct-send flow; Telegram uses
// the webhook-correlated handshake flow.
//
// Flow failures are returned unchanged as *verification.Error values so that
// handlers can map their Kind to HTTP results and show their Hint.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/anirum-backend/internal/domain"
	"github.com/tbourn/anirum-backend/internal/messenger"
	"github.com/tbourn/anirum-backend/internal/verification"
)

// ProfileRepo defines the repository contract required by VerificationService.
type ProfileRepo interface {
	// GetOrEmptyProfile returns the stored profile or a zero profile.
	GetOrEmptyProfile(ctx context.Context, db *gorm.DB, userID string) (*domain.Profile, error)

	// MarkWhatsAppVerified stores phone as the user's verified number.
	MarkWhatsAppVerified(ctx context.Context, db *gorm.DB, userID, phone string) error

	// MarkTelegramVerified stores the verified handle and its chat id.
	MarkTelegramVerified(ctx context.Context, db *gorm.DB, userID, handle, chatID string) error
}

// SendResult acknowledges a code request. Telegram is set for the handshake
// flow and carries the deep link (and, in manual fallback mode, the code).
type SendResult struct {
	Messenger messenger.Channel
	Recipient string
	ExpiresAt time.Time
	Telegram  *verification.Ticket
}

// Status is the caller's verification state.
type Status struct {
	WhatsAppVerified bool   `json:"whatsapp_verified"`
	TelegramVerified bool   `json:"telegram_verified"`
	WhatsAppPhone    string `json:"whatsapp_phone,omitempty"`
	TelegramUsername string `json:"telegram_username,omitempty"`
	ActiveCodes      int    `json:"active_codes"`
}

// VerificationService coordinates the verification flows and profile flags.
type VerificationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo persists verification flags.
	Repo ProfileRepo

	// Direct serves WhatsApp. Nil disables direct-send channels.
	Direct *verification.DirectFlow
	// Handshake serves Telegram. Nil disables Telegram.
	Handshake *verification.HandshakeFlow

	Log zerolog.Logger
}

// NewVerificationService constructs a VerificationService. Either flow may be
// nil when its messenger is not configured.
func NewVerificationService(db *gorm.DB, r ProfileRepo, direct *verification.DirectFlow, handshake *verification.HandshakeFlow) *VerificationService {
	return &VerificationService{DB: db, Repo: r, Direct: direct, Handshake: handshake, Log: log.Logger}
}

// SendCode issues a code for recipient over ch.
func (s *VerificationService) SendCode(ctx context.Context, userID string, ch messenger.Channel, recipient string) (SendResult, error) {
	ctx, span := otel.Tracer("services/VerificationService").Start(ctx, "SendCode",
		trace.WithAttributes(attribute.String("channel", string(ch))))
	defer span.End()

	switch {
	case ch == messenger.ChannelTelegram:
		if s.Handshake == nil {
			return SendResult{}, ErrUnsupportedMessenger
		}
		if strings.TrimSpace(recipient) == "" {
			return SendResult{}, ErrHandleRequired
		}
		t, err := s.Handshake.RequestCode(ctx, recipient, userID)
		if err != nil {
			return SendResult{}, err
		}
		return SendResult{Messenger: ch, Recipient: t.Handle, ExpiresAt: t.ExpiresAt, Telegram: &t}, nil

	case s.Direct != nil && s.Direct.Supports(ch):
		issued, err := s.Direct.RequestCode(ctx, ch, recipient, userID)
		if err != nil {
			return SendResult{}, err
		}
		return SendResult{Messenger: ch, Recipient: issued.Recipient, ExpiresAt: issued.ExpiresAt}, nil

	default:
		return SendResult{}, ErrUnsupportedMessenger
	}
}

// VerifyCode checks code and, on success, marks the channel verified on the
// user's profile. The code is consumed even when persisting the flag fails.
func (s *VerificationService) VerifyCode(ctx context.Context, userID string, ch messenger.Channel, recipient, code string) (verification.Verified, error) {
	ctx, span := otel.Tracer("services/VerificationService").Start(ctx, "VerifyCode",
		trace.WithAttributes(attribute.String("channel", string(ch))))
	defer span.End()

	var (
		v   verification.Verified
		err error
	)
	switch {
	case ch == messenger.ChannelTelegram:
		if s.Handshake == nil {
			return v, ErrUnsupportedMessenger
		}
		v, err = s.Handshake.VerifyCode(ctx, recipient, code, userID)
	case s.Direct != nil && s.Direct.Supports(ch):
		v, err = s.Direct.VerifyCode(ctx, ch, recipient, code, userID)
	default:
		return v, ErrUnsupportedMessenger
	}
	if err != nil {
		return v, err
	}

	if err := s.persist(ctx, v); err != nil {
		span.RecordError(err)
		s.Log.Error().Err(err).Str("user_id", userID).Str("channel", string(ch)).
			Msg("verified code but failed to update profile")
		return v, fmt.Errorf("%w: %w", ErrProfileUpdate, err)
	}
	return v, nil
}

func (s *VerificationService) persist(ctx context.Context, v verification.Verified) error {
	switch v.Channel {
	case messenger.ChannelTelegram:
		return s.Repo.MarkTelegramVerified(ctx, s.DB, v.UserID, v.Recipient, v.Address)
	case messenger.ChannelWhatsApp:
		return s.Repo.MarkWhatsAppVerified(ctx, s.DB, v.UserID, v.Recipient)
	default:
		return fmt.Errorf("no profile field for %s", v.Channel)
	}
}

// Status returns the caller's profile flags and the number of codes the
// caller currently has in flight across both flows.
func (s *VerificationService) Status(ctx context.Context, userID string) (Status, error) {
	p, err := s.Repo.GetOrEmptyProfile(ctx, s.DB, userID)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		WhatsAppVerified: p.WhatsAppVerified,
		TelegramVerified: p.TelegramVerified,
		WhatsAppPhone:    p.WhatsAppPhone,
		TelegramUsername: p.TelegramUsername,
	}
	if s.Direct != nil {
		n, err := s.Direct.ActiveSessions(ctx, userID)
		if err != nil {
			return Status{}, err
		}
		st.ActiveCodes += n
	}
	if s.Handshake != nil {
		n, err := s.Handshake.ActiveSessions(ctx, userID)
		if err != nil {
			return Status{}, err
		}
		st.ActiveCodes += n
	}
	return st, nil
}

// HandleTelegramStart forwards an inbound /start to the handshake flow.
// Without a handshake flow the event is ignored.
func (s *VerificationService) HandleTelegramStart(ctx context.Context, senderHandle, chatID string) (verification.StartOutcome, error) {
	if s.Handshake == nil {
		return verification.StartNoSession, nil
	}
	out, err := s.Handshake.HandleStart(ctx, senderHandle, chatID)
	if err != nil && !errors.Is(err, verification.ErrDeliveryFailed) {
		s.Log.Error().Err(err).Str("chat_id", chatID).Msg("telegram start handling failed")
	}
	return out, err
}

// TelegramStatus reports the caller's pending handshake for handle.
func (s *VerificationService) TelegramStatus(ctx context.Context, userID, handle string) (verification.HandshakeStatus, error) {
	if s.Handshake == nil {
		return verification.HandshakeStatus{}, ErrUnsupportedMessenger
	}
	if strings.TrimSpace(handle) == "" {
		return verification.HandshakeStatus{}, ErrHandleRequired
	}
	return s.Handshake.Status(ctx, handle, userID)
}
