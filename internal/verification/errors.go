package verification

import (
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/anirum-backend/internal/messenger"
)

// Failure kinds. Every error returned by a flow is an *Error whose Kind is one
// of these, so errors.Is(err, ErrInvalidCode) and friends work directly.
var (
	ErrInvalidFormat    = errors.New("code must be exactly 6 digits")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrUnsupported      = errors.New("channel is not available")
	ErrRateLimited      = errors.New("a code was requested too recently")
	ErrCodeNotFound     = errors.New("no active verification code")
	ErrCodeExpired      = errors.New("verification code expired")
	ErrTooManyAttempts  = errors.New("too many attempts")
	ErrInvalidCode      = errors.New("invalid verification code")
	ErrCodeNotDelivered = errors.New("verification code has not been delivered yet")
	ErrDeliveryFailed   = errors.New("verification code could not be delivered")
)

// Error is the typed failure returned by the flows. Only the detail fields
// relevant to Kind are set.
type Error struct {
	Kind    error
	Channel messenger.Channel

	// Remaining is the number of attempts left (ErrInvalidCode, and
	// ErrCodeNotFound when Superseded).
	Remaining int
	// Superseded is set when the code belonged to a replaced session.
	Superseded bool
	// RetryAfter is how long to wait before requesting again (ErrRateLimited).
	RetryAfter time.Duration
	// Err is the underlying cause, e.g. a *messenger.DeliveryError.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == ErrInvalidCode:
		return fmt.Sprintf("%s: %d attempts remaining", e.Kind, e.Remaining)
	case e.Kind == ErrRateLimited:
		return fmt.Sprintf("%s: retry in %s", e.Kind, e.RetryAfter.Round(time.Second))
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Hint returns an actionable, user-facing explanation.
func (e *Error) Hint() string {
	switch e.Kind {
	case ErrInvalidCode:
		if e.Remaining == 0 {
			return "the code is incorrect and no attempts remain; request a new code"
		}
		return fmt.Sprintf("the code is incorrect; %d attempts remaining", e.Remaining)
	case ErrRateLimited:
		return fmt.Sprintf("please wait %d seconds before requesting a new code", int(e.RetryAfter.Round(time.Second)/time.Second))
	case ErrCodeNotFound:
		if e.Superseded {
			if e.Remaining == 0 {
				return "that code was replaced by a newer one and no attempts remain; request a new code"
			}
			return fmt.Sprintf("that code was replaced by a newer one; enter the latest code (%d attempts remaining)", e.Remaining)
		}
		return "request a new code"
	case ErrCodeExpired, ErrTooManyAttempts:
		return "request a new code"
	case ErrCodeNotDelivered:
		if e.Channel == messenger.ChannelTelegram {
			return "open the bot in Telegram and press Start to receive the code"
		}
		return "the code has not been delivered yet"
	case ErrDeliveryFailed:
		var de *messenger.DeliveryError
		if errors.As(e.Err, &de) {
			return de.Hint()
		}
	case ErrInvalidFormat:
		return "enter the 6-digit code you received"
	case ErrInvalidRecipient:
		if e.Channel == messenger.ChannelTelegram {
			return "enter your Telegram username"
		}
		return "enter the phone number in international format"
	}
	return e.Error()
}

func fail(kind error, ch messenger.Channel) *Error { return &Error{Kind: kind, Channel: ch} }

// Outcome is the metric label for a failure kind.
func Outcome(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "error"
	}
	switch e.Kind {
	case ErrInvalidFormat:
		return "invalid_format"
	case ErrInvalidRecipient:
		return "invalid_recipient"
	case ErrUnsupported:
		return "unsupported"
	case ErrRateLimited:
		return "rate_limited"
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeExpired:
		return "expired"
	case ErrTooManyAttempts:
		return "too_many_attempts"
	case ErrInvalidCode:
		return "invalid_code"
	case ErrCodeNotDelivered:
		return "not_delivered"
	case ErrDeliveryFailed:
		return "delivery_failed"
	default:
		return "error"
	}
}
