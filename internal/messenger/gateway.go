// Package messenger sends one-off text messages through external messaging
// providers and reports failures as DeliveryError values with a stable Reason.
//
// Each gateway performs exactly one provider call per Send and never retries:
// a duplicate send is a duplicate message for the recipient, so retry policy
// belongs to the caller.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tbourn/anirum-backend/internal/observability"
)

// Channel identifies a messaging provider.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
)

// ErrUnsupportedChannel is returned by ParseChannel for unknown names.
var ErrUnsupportedChannel = errors.New("unsupported messenger")

// ParseChannel maps a client-supplied messenger name to a Channel.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelWhatsApp:
		return ChannelWhatsApp, nil
	case ChannelTelegram:
		return ChannelTelegram, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, s)
	}
}

// Reason classifies a failed delivery.
type Reason string

const (
	// ReasonRecipientNotFound: the recipient does not exist or has never
	// started a conversation with the bot.
	ReasonRecipientNotFound Reason = "recipient_not_found"
	// ReasonRecipientBlocked: the recipient blocked the bot or was deactivated.
	ReasonRecipientBlocked Reason = "recipient_blocked"
	// ReasonRateLimited: the provider throttled us.
	ReasonRateLimited Reason = "rate_limited"
	// ReasonAuthConfigInvalid: credentials are missing or were rejected.
	ReasonAuthConfigInvalid Reason = "auth_config_invalid"
	// ReasonUnknown covers everything else, transport failures and timeouts included.
	ReasonUnknown Reason = "unknown"
)

// reasonTable maps provider status codes to reasons.
type reasonTable map[int]Reason

func (t reasonTable) lookup(code int) Reason {
	if r, ok := t[code]; ok {
		return r
	}
	return ReasonUnknown
}

// Receipt acknowledges an accepted message.
type Receipt struct {
	Channel   Channel
	Recipient string // normalized recipient the provider accepted
	MessageID string // provider message id, may be empty
	SentAt    time.Time
}

// DeliveryError is the only error type a gateway's Send returns.
type DeliveryError struct {
	Channel     Channel
	Reason      Reason
	Status      int           // provider code; 0 for transport failures
	Description string        // provider description, if any
	RetryAfter  time.Duration // provider back-off hint, if any
	Err         error         // underlying transport or decode error
}

func (e *DeliveryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s delivery failed: %s", e.Channel, e.Reason)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Description != "" {
		b.WriteString(": " + e.Description)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Hint is a short, user-facing explanation of the failure.
func (e *DeliveryError) Hint() string {
	switch e.Reason {
	case ReasonRecipientNotFound:
		if e.Channel == ChannelTelegram {
			return "open the bot in Telegram and press Start, then try again"
		}
		return "this number is not registered in WhatsApp"
	case ReasonRecipientBlocked:
		return "the recipient has blocked the bot; unblock it and try again"
	case ReasonRateLimited:
		return "the messenger is temporarily limiting messages; try again later"
	case ReasonAuthConfigInvalid:
		return "the messenger is not configured on the server"
	default:
		return "the message could not be delivered; try again later"
	}
}

// ReasonOf returns the delivery reason carried by err, or "" when err is not
// a DeliveryError.
func ReasonOf(err error) Reason {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}

// ErrInvalidRecipient is returned when a recipient fails normalization.
var ErrInvalidRecipient = errors.New("invalid recipient")

// invalidRecipient reports a recipient rejected before reaching the provider.
func invalidRecipient(ch Channel, err error) *DeliveryError {
	return &DeliveryError{Channel: ch, Reason: ReasonRecipientNotFound, Err: err}
}

// Gateway sends text to a recipient over one channel.
type Gateway interface {
	Channel() Channel
	// NormalizeRecipient returns the canonical form of raw for this channel.
	NormalizeRecipient(raw string) (string, error)
	// Send delivers text and returns a receipt or a *DeliveryError. A recipient
	// that fails normalization is a DeliveryError with ReasonRecipientNotFound
	// that unwraps to ErrInvalidRecipient.
	Send(ctx context.Context, recipient, text string) (Receipt, error)
}

// record counts a send outcome.
func record(ch Channel, err error) {
	reason := "ok"
	if err != nil {
		if r := ReasonOf(err); r != "" {
			reason = string(r)
		} else {
			reason = string(ReasonUnknown)
		}
	}
	observability.MessengerDeliveries.WithLabelValues(string(ch), reason).Inc()
}
