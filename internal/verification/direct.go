// Package verification implements one-time-code verification over messenger
// channels.
//
// DirectFlow serves channels where the server may message a recipient first
// (WhatsApp): the code is hashed, stored and sent in one request. HandshakeFlow
// serves Telegram, where the bot may only answer a user who has opened it: the
// code waits in a pending session until the user's /start arrives through the
// webhook, then it is delivered to the chat that sent it.
//
// Both flows keep at most one live session per key. A newer request supersedes
// the older session, which is evicted from the store rather than marked stale.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/anirum-backend/internal/messenger"
	"github.com/tbourn/anirum-backend/internal/observability"
	"github.com/tbourn/anirum-backend/internal/session"
)

// Policy holds the session lifetime and attempt limits shared by both flows.
type Policy struct {
	TTL          time.Duration
	ResendWindow time.Duration
	MaxAttempts  int
}

// DefaultPolicy is 5 minute codes, 60 seconds between requests, 3 attempts.
func DefaultPolicy() Policy {
	return Policy{TTL: 5 * time.Minute, ResendWindow: time.Minute, MaxAttempts: 3}
}

// supersededKept bounds how many previous code hashes a session remembers.
const supersededKept = 2

// DirectPayload is the session state of the direct-send flow.
type DirectPayload struct {
	CodeHash  string            `json:"code_hash"`
	Channel   messenger.Channel `json:"channel"`
	Recipient string            `json:"recipient"`
	UserID    string            `json:"user_id"`
	// Superseded holds hashes of codes replaced by this session, so that a
	// stale code is reported as gone rather than mistyped.
	Superseded []string `json:"superseded,omitempty"`
}

// Issued acknowledges a sent code. It never carries the code.
type Issued struct {
	Channel   messenger.Channel
	Recipient string
	ExpiresAt time.Time
}

// Verified is the result of a successful verification.
type Verified struct {
	Channel   messenger.Channel
	Recipient string // normalized phone or handle
	Address   string // chat id the code was delivered to (handshake only)
	UserID    string
}

// Option configures a flow.
type Option func(*options)

type options struct {
	codes  CodeSource
	hasher Hasher
	now    func() time.Time
	log    zerolog.Logger
}

func defaultOptions() options {
	return options{
		codes:  RandomCode,
		hasher: BcryptHasher{},
		now:    time.Now,
		log:    log.Logger,
	}
}

// WithCodeSource replaces the random code generator.
func WithCodeSource(src CodeSource) Option { return func(o *options) { o.codes = src } }

// WithHasher replaces the bcrypt hasher used by the direct flow.
func WithHasher(h Hasher) Option { return func(o *options) { o.hasher = h } }

// WithClock sets the time source used for the resend window.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithLogger sets the flow's logger.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.log = l } }

// DirectFlow issues and verifies codes on direct-send channels.
type DirectFlow struct {
	store    session.Store[DirectPayload]
	gateways map[messenger.Channel]messenger.Gateway
	policy   Policy
	opts     options
}

// NewDirectFlow wires a flow over store. Each gateway serves its own channel.
func NewDirectFlow(store session.Store[DirectPayload], policy Policy, gateways []messenger.Gateway, opts ...Option) *DirectFlow {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	gw := make(map[messenger.Channel]messenger.Gateway, len(gateways))
	for _, g := range gateways {
		gw[g.Channel()] = g
	}
	return &DirectFlow{store: store, gateways: gw, policy: policy, opts: o}
}

// Supports reports whether a gateway is registered for ch.
func (f *DirectFlow) Supports(ch messenger.Channel) bool {
	_, ok := f.gateways[ch]
	return ok
}

// DirectKey is the session key for a (channel, recipient, user) triple.
func DirectKey(ch messenger.Channel, recipient, userID string) string {
	return string(ch) + "|" + recipient + "|" + userID
}

func (f *DirectFlow) resolve(ch messenger.Channel, raw string) (messenger.Gateway, string, error) {
	gw, ok := f.gateways[ch]
	if !ok {
		return nil, "", fail(ErrUnsupported, ch)
	}
	recipient, err := gw.NormalizeRecipient(raw)
	if err != nil {
		return nil, "", &Error{Kind: ErrInvalidRecipient, Channel: ch, Err: err}
	}
	return gw, recipient, nil
}

// rateLimit rejects a request made within the resend window of existing.
func (f *DirectFlow) rateLimit(ch messenger.Channel, existing session.Entry[DirectPayload]) error {
	wait := existing.CreatedAt.Add(f.policy.ResendWindow).Sub(f.opts.now())
	if wait > 0 {
		return &Error{Kind: ErrRateLimited, Channel: ch, RetryAfter: wait}
	}
	return nil
}

// RequestCode generates a code for recipient, stores its hash and sends it.
// A delivery failure removes the new session and returns ErrDeliveryFailed
// wrapping the gateway's *messenger.DeliveryError.
func (f *DirectFlow) RequestCode(ctx context.Context, ch messenger.Channel, rawRecipient, userID string) (Issued, error) {
	ctx, span := otel.Tracer("verification/DirectFlow").Start(ctx, "RequestCode",
		trace.WithAttributes(attribute.String("channel", string(ch))))
	defer span.End()

	gw, recipient, err := f.resolve(ch, rawRecipient)
	if err != nil {
		return Issued{}, err
	}
	key := DirectKey(ch, recipient, userID)

	// Reject before generating anything; the guard below re-checks atomically.
	var superseded []string
	existing, err := f.store.Get(ctx, key)
	switch {
	case err == nil:
		if rerr := f.rateLimit(ch, existing); rerr != nil {
			return Issued{}, rerr
		}
		superseded = append(superseded, existing.Payload.Superseded...)
		superseded = append(superseded, existing.Payload.CodeHash)
		if len(superseded) > supersededKept {
			superseded = superseded[len(superseded)-supersededKept:]
		}
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrExpired):
	default:
		span.RecordError(err)
		return Issued{}, fmt.Errorf("load session: %w", err)
	}

	code, err := f.opts.codes()
	if err != nil {
		return Issued{}, err
	}
	hash, err := f.opts.hasher.Hash(code)
	if err != nil {
		return Issued{}, err
	}

	entry, err := f.store.Create(ctx, key, DirectPayload{
		CodeHash:   hash,
		Channel:    ch,
		Recipient:  recipient,
		UserID:     userID,
		Superseded: superseded,
	}, f.policy.TTL, func(live session.Entry[DirectPayload]) error {
		return f.rateLimit(ch, live)
	})
	if err != nil {
		var verr *Error
		if errors.As(err, &verr) {
			return Issued{}, err
		}
		span.RecordError(err)
		return Issued{}, fmt.Errorf("create session: %w", err)
	}

	if _, err := gw.Send(ctx, recipient, codeMessage(ch, code, f.policy.TTL)); err != nil {
		if _, derr := f.store.DeleteEntry(ctx, key, entry.ID); derr != nil {
			f.opts.log.Error().Err(derr).Str("channel", string(ch)).Msg("rollback of undelivered session failed")
		}
		span.RecordError(err)
		f.opts.log.Warn().Err(err).Str("channel", string(ch)).Str("reason", string(messenger.ReasonOf(err))).
			Msg("verification code not delivered")
		return Issued{}, &Error{Kind: ErrDeliveryFailed, Channel: ch, Err: err}
	}

	observability.VerificationCodesIssued.WithLabelValues(string(ch)).Inc()
	return Issued{Channel: ch, Recipient: recipient, ExpiresAt: entry.ExpiresAt}, nil
}

// VerifyCode checks rawCode against the live session for recipient and user.
// Format errors are reported before the session is touched and cost no attempt.
func (f *DirectFlow) VerifyCode(ctx context.Context, ch messenger.Channel, rawRecipient, rawCode, userID string) (v Verified, err error) {
	ctx, span := otel.Tracer("verification/DirectFlow").Start(ctx, "VerifyCode",
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

	_, recipient, err := f.resolve(ch, rawRecipient)
	if err != nil {
		return Verified{}, err
	}
	code, ok := NormalizeCode(rawCode)
	if !ok {
		return Verified{}, fail(ErrInvalidFormat, ch)
	}
	key := DirectKey(ch, recipient, userID)

	entry, err := f.store.RecordAttempt(ctx, key)
	if err != nil {
		return Verified{}, storeError(err, ch)
	}
	if entry.Attempts > f.policy.MaxAttempts {
		if _, err := f.store.DeleteEntry(ctx, key, entry.ID); err != nil {
			return Verified{}, fmt.Errorf("delete session: %w", err)
		}
		return Verified{}, fail(ErrTooManyAttempts, ch)
	}

	if !f.opts.hasher.Matches(entry.Payload.CodeHash, code) {
		for _, old := range entry.Payload.Superseded {
			if f.opts.hasher.Matches(old, code) {
				// Still counted: the attempt was recorded before the compare.
				return Verified{}, &Error{Kind: ErrCodeNotFound, Channel: ch, Superseded: true,
					Remaining: f.policy.MaxAttempts - entry.Attempts}
			}
		}
		return Verified{}, &Error{Kind: ErrInvalidCode, Channel: ch, Remaining: f.policy.MaxAttempts - entry.Attempts}
	}

	// Only the caller that removes this exact session wins.
	won, err := f.store.DeleteEntry(ctx, key, entry.ID)
	if err != nil {
		return Verified{}, fmt.Errorf("delete session: %w", err)
	}
	if !won {
		return Verified{}, fail(ErrCodeNotFound, ch)
	}
	return Verified{Channel: ch, Recipient: recipient, UserID: userID}, nil
}

// ActiveSessions counts the user's live direct-send sessions.
func (f *DirectFlow) ActiveSessions(ctx context.Context, userID string) (int, error) {
	return f.store.Count(ctx, func(e session.Entry[DirectPayload]) bool {
		return e.Payload.UserID == userID
	})
}

// storeError maps store lookups to flow failures.
func storeError(err error, ch messenger.Channel) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return fail(ErrCodeNotFound, ch)
	case errors.Is(err, session.ErrExpired):
		return fail(ErrCodeExpired, ch)
	default:
		return fmt.Errorf("session store: %w", err)
	}
}
