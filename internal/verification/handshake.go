package verification

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/anirum-backend/internal/messenger"
	"github.com/tbourn/anirum-backend/internal/observability"
	"github.com/tbourn/anirum-backend/internal/session"
)

// HandshakePayload is the session state of the handshake flow.
//
// Code is kept in plaintext: it can only be sent once the user opens the bot,
// at an unknown later time. The session TTL bounds its lifetime and the
// session is deleted after a successful verification.
type HandshakePayload struct {
	OwnerUserID string `json:"owner_user_id"`
	Code        string `json:"code"`
	ChatID      string `json:"chat_id,omitempty"`
	Delivered   bool   `json:"delivered"`
	Fallback    bool   `json:"fallback,omitempty"`
}

// Ticket tells the caller how to complete a handshake. FallbackCode is set
// only when RequiresManualFallback is true.
type Ticket struct {
	Handle                 string
	DeepLink               string
	ExpiresAt              time.Time
	RequiresManualFallback bool
	FallbackCode           string
}

// StartOutcome reports what an inbound /start did.
type StartOutcome string

const (
	StartNoSession      StartOutcome = "no_session"
	StartDelivered      StartOutcome = "delivered"
	StartDeliveryFailed StartOutcome = "delivery_failed"
)

// HandshakeStatus describes a user's pending handshake. It never includes the code.
type HandshakeStatus struct {
	Handle    string
	Delivered bool
	ExpiresAt time.Time
}

// HandshakeConfig configures NewHandshakeFlow.
type HandshakeConfig struct {
	BotUsername string
	// ManualFallback returns the code to the requesting client alongside the
	// deep link, for deployments where the bot cannot reliably reach users.
	ManualFallback bool
}

// HandshakeFlow runs the Telegram verification handshake. Sessions are keyed
// by the lowercased username.
type HandshakeFlow struct {
	store   session.Store[HandshakePayload]
	gateway messenger.Gateway
	policy  Policy
	cfg     HandshakeConfig
	opts    options
}

func NewHandshakeFlow(store session.Store[HandshakePayload], gateway messenger.Gateway, policy Policy, cfg HandshakeConfig, opts ...Option) *HandshakeFlow {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	return &HandshakeFlow{store: store, gateway: gateway, policy: policy, cfg: cfg, opts: o}
}

// DeepLink is the t.me link that opens the bot with a start payload.
func (f *HandshakeFlow) DeepLink() string {
	if f.cfg.BotUsername == "" {
		return ""
	}
	return "https://t.me/" + url.PathEscape(f.cfg.BotUsername) + "?start=verify"
}

// RequestCode creates a pending session for handle, superseding any other
// session for the same handle. Nothing is sent until the user opens the bot.
func (f *HandshakeFlow) RequestCode(ctx context.Context, rawHandle, userID string) (Ticket, error) {
	ctx, span := otel.Tracer("verification/HandshakeFlow").Start(ctx, "RequestCode")
	defer span.End()

	handle, err := messenger.NormalizeHandle(rawHandle)
	if err != nil {
		return Ticket{}, &Error{Kind: ErrInvalidRecipient, Channel: messenger.ChannelTelegram, Err: err}
	}
	code, err := f.opts.codes()
	if err != nil {
		return Ticket{}, err
	}

	payload := HandshakePayload{OwnerUserID: userID, Code: code}
	if f.cfg.ManualFallback {
		// The client receives the code directly, so it counts as delivered.
		payload.Delivered = true
		payload.Fallback = true
	}
	entry, err := f.store.Create(ctx, handle, payload, f.policy.TTL, nil)
	if err != nil {
		span.RecordError(err)
		return Ticket{}, fmt.Errorf("create session: %w", err)
	}
	observability.VerificationCodesIssued.WithLabelValues(string(messenger.ChannelTelegram)).Inc()

	t := Ticket{Handle: handle, DeepLink: f.DeepLink(), ExpiresAt: entry.ExpiresAt}
	if f.cfg.ManualFallback {
		f.opts.log.Warn().Str("handle", handle).Str("user_id", userID).
			Msg("telegram manual fallback: returning verification code to client")
		t.RequiresManualFallback = true
		t.FallbackCode = code
	}
	return t, nil
}

// HandleStart processes a /start from senderHandle in chat chatID. It is safe
// to call repeatedly: a live session's stored code is re-sent, never replaced.
// Replies to users without a pending session are best-effort.
func (f *HandshakeFlow) HandleStart(ctx context.Context, senderHandle, chatID string) (StartOutcome, error) {
	ctx, span := otel.Tracer("verification/HandshakeFlow").Start(ctx, "HandleStart")
	defer span.End()

	handle, herr := messenger.NormalizeHandle(senderHandle)
	var entry session.Entry[HandshakePayload]
	err := herr
	if herr == nil {
		entry, err = f.store.Update(ctx, handle, func(e *session.Entry[HandshakePayload]) error {
			e.Payload.ChatID = chatID
			return nil
		})
	}
	if err != nil {
		if herr == nil && !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrExpired) {
			span.RecordError(err)
			return "", fmt.Errorf("correlate session: %w", err)
		}
		f.reply(ctx, chatID, telegramWelcomeMessage)
		span.SetAttributes(attribute.String("outcome", string(StartNoSession)))
		return StartNoSession, nil
	}

	if _, err := f.gateway.Send(ctx, chatID, codeMessage(messenger.ChannelTelegram, entry.Payload.Code, f.policy.TTL)); err != nil {
		span.RecordError(err)
		f.opts.log.Warn().Err(err).Str("handle", handle).Msg("telegram code delivery failed")
		f.reply(ctx, chatID, telegramRetryMessage)
		return StartDeliveryFailed, &Error{Kind: ErrDeliveryFailed, Channel: messenger.ChannelTelegram, Err: err}
	}

	_, err = f.store.Update(ctx, handle, func(e *session.Entry[HandshakePayload]) error {
		if e.ID != entry.ID {
			return errSuperseded
		}
		e.Payload.Delivered = true
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, errSuperseded), errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
		// A newer request or expiry won the race; the user will /start again.
		f.opts.log.Info().Str("handle", handle).Msg("session replaced during delivery")
	default:
		return "", fmt.Errorf("mark delivered: %w", err)
	}
	span.SetAttributes(attribute.String("outcome", string(StartDelivered)))
	return StartDelivered, nil
}

var errSuperseded = errors.New("session superseded")

func (f *HandshakeFlow) reply(ctx context.Context, chatID, text string) {
	if _, err := f.gateway.Send(ctx, chatID, text); err != nil {
		f.opts.log.Debug().Err(err).Msg("telegram reply failed")
	}
}

// VerifyCode checks rawCode against the delivered session for handle. Sessions
// owned by another user read as absent.
func (f *HandshakeFlow) VerifyCode(ctx context.Context, rawHandle, rawCode, userID string) (v Verified, err error) {
	const ch = messenger.ChannelTelegram
	ctx, span := otel.Tracer("verification/HandshakeFlow").Start(ctx, "VerifyCode",
		trace.WithAttributes(attribute.String("channel", string(ch))))
	defer func() {
		outcome := "verified"
		if err != nil {
			outcome = Outcome(err)
		}
		observability.VerificationAttempts.WithLabelValues(string(ch), outcome).Inc()
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
	}()

	handle, err := messenger.NormalizeHandle(rawHandle)
	if err != nil {
		return Verified{}, &Error{Kind: ErrInvalidRecipient, Channel: ch, Err: err}
	}
	code, ok := NormalizeCode(rawCode)
	if !ok {
		return Verified{}, fail(ErrInvalidFormat, ch)
	}

	// Undelivered sessions reject without spending an attempt.
	entry, err := f.store.Update(ctx, handle, func(e *session.Entry[HandshakePayload]) error {
		if e.Payload.OwnerUserID != userID {
			return fail(ErrCodeNotFound, ch)
		}
		if !e.Payload.Delivered {
			return fail(ErrCodeNotDelivered, ch)
		}
		e.Attempts++
		return nil
	})
	if err != nil {
		var verr *Error
		if errors.As(err, &verr) {
			return Verified{}, err
		}
		return Verified{}, storeError(err, ch)
	}

	if entry.Attempts > f.policy.MaxAttempts {
		if _, err := f.store.DeleteEntry(ctx, handle, entry.ID); err != nil {
			return Verified{}, fmt.Errorf("delete session: %w", err)
		}
		return Verified{}, fail(ErrTooManyAttempts, ch)
	}
	if !equalCodes(entry.Payload.Code, code) {
		return Verified{}, &Error{Kind: ErrInvalidCode, Channel: ch, Remaining: f.policy.MaxAttempts - entry.Attempts}
	}

	won, err := f.store.DeleteEntry(ctx, handle, entry.ID)
	if err != nil {
		return Verified{}, fmt.Errorf("delete session: %w", err)
	}
	if !won {
		return Verified{}, fail(ErrCodeNotFound, ch)
	}
	return Verified{Channel: ch, Recipient: handle, Address: entry.Payload.ChatID, UserID: userID}, nil
}

// Status reports the user's pending handshake for handle.
func (f *HandshakeFlow) Status(ctx context.Context, rawHandle, userID string) (HandshakeStatus, error) {
	handle, err := messenger.NormalizeHandle(rawHandle)
	if err != nil {
		return HandshakeStatus{}, &Error{Kind: ErrInvalidRecipient, Channel: messenger.ChannelTelegram, Err: err}
	}
	entry, err := f.store.Get(ctx, handle)
	if err != nil {
		return HandshakeStatus{}, storeError(err, messenger.ChannelTelegram)
	}
	if entry.Payload.OwnerUserID != userID {
		return HandshakeStatus{}, fail(ErrCodeNotFound, messenger.ChannelTelegram)
	}
	return HandshakeStatus{Handle: handle, Delivered: entry.Payload.Delivered, ExpiresAt: entry.ExpiresAt}, nil
}

// ActiveSessions counts live handshake sessions requested by userID.
func (f *HandshakeFlow) ActiveSessions(ctx context.Context, userID string) (int, error) {
	return f.store.Count(ctx, func(e session.Entry[HandshakePayload]) bool {
		return e.Payload.OwnerUserID == userID
	})
}
