// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results (and typed failures) into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/anirum-backend/internal/domain"
	"github.com/tbourn/anirum-backend/internal/http/middleware"
	"github.com/tbourn/anirum-backend/internal/messenger"
	"github.com/tbourn/anirum-backend/internal/services"
	"github.com/tbourn/anirum-backend/internal/verification"
)

//
// Service contracts (context-aware)
//

// VerificationService defines the messenger verification operations consumed
// by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type VerificationService interface {
	// SendCode issues a code (or a Telegram handshake ticket) for recipient.
	SendCode(ctx context.Context, userID string, ch messenger.Channel, recipient string) (services.SendResult, error)
	// VerifyCode checks a code and marks the channel verified on success.
	VerifyCode(ctx context.Context, userID string, ch messenger.Channel, recipient, code string) (verification.Verified, error)
	// Status returns the caller's verification flags and active code count.
	Status(ctx context.Context, userID string) (services.Status, error)
	// HandleTelegramStart correlates an inbound /start with a pending handshake.
	HandleTelegramStart(ctx context.Context, senderHandle, chatID string) (verification.StartOutcome, error)
	// TelegramStatus reports the caller's pending handshake for handle.
	TelegramStatus(ctx context.Context, userID, handle string) (verification.HandshakeStatus, error)
}

// GuideService defines guide operations consumed by HTTP handlers.
type GuideService interface {
	Create(ctx context.Context, userID string, in services.NewGuide) (*domain.Guide, error)
	Retag(ctx context.Context, userID, id string) (*domain.Guide, error)
	PopularTags(ctx context.Context, limit int) ([]domain.TagCount, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for verification, the Telegram webhook and
// guides.
type Handlers struct {
	verifySvc VerificationService
	guideSvc  GuideService

	// webhookSecret, when set, must match X-Telegram-Bot-Api-Secret-Token.
	webhookSecret string
}

// New constructs and returns a Handlers instance bound to the given services.
func New(verifySvc VerificationService, guideSvc GuideService, webhookSecret string) *Handlers {
	return &Handlers{verifySvc: verifySvc, guideSvc: guideSvc, webhookSecret: webhookSecret}
}

// requireUser returns the user id set by the Auth middleware, failing the
// request with 401 when it is absent.
func requireUser(c *gin.Context) (string, bool) {
	uid := strings.TrimSpace(c.GetString(middleware.CtxUserID))
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return "", false
	}
	return uid, true
}

//
// Request validation
//

// RegisterValidators installs the custom binding tags used by request DTOs:
//
//	phone      a phone number NormalizePhone accepts
//	tg_handle  a Telegram username, with or without the leading @
func RegisterValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		_, err := messenger.NormalizePhone(fl.Field().String())
		return err == nil
	}); err != nil {
		return err
	}
	return v.RegisterValidation("tg_handle", func(fl validator.FieldLevel) bool {
		_, err := messenger.NormalizeHandle(fl.Field().String())
		return err == nil
	})
}

// bindingMessage turns a binding error into a client-facing message and code.
// Recipient format errors read like the flows' own hints.
func bindingMessage(err error) (code, msg string) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return ErrCodeBadRequest, "invalid JSON body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "phone":
		return ErrCodeInvalidRecipient, "enter the phone number in international format"
	case "tg_handle":
		return ErrCodeInvalidRecipient, "enter your Telegram username"
	case "required":
		return ErrCodeBadRequest, strings.ToLower(fe.Field()) + " is required"
	}
	return ErrCodeBadRequest, "invalid " + strings.ToLower(fe.Field())
}
