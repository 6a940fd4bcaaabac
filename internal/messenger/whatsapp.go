package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/anirum-backend/internal/config"
)

// whatsappReasons maps Green API HTTP statuses to reasons. 466 is Green API's
// "quota exceeded" response.
var whatsappReasons = reasonTable{
	http.StatusBadRequest:      ReasonRecipientNotFound,
	http.StatusUnauthorized:    ReasonAuthConfigInvalid,
	http.StatusForbidden:       ReasonAuthConfigInvalid,
	http.StatusNotFound:        ReasonAuthConfigInvalid,
	http.StatusTooManyRequests: ReasonRateLimited,
	466:                        ReasonRateLimited,
}

// WhatsApp sends messages through a Green API instance.
type WhatsApp struct {
	baseURL    string
	idInstance string
	token      string
	client     *http.Client
	now        func() time.Time
}

// NewWhatsApp builds a Green API gateway. Each call is bounded by timeout.
func NewWhatsApp(cfg config.WhatsAppConfig, timeout time.Duration) *WhatsApp {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &WhatsApp{
		baseURL:    base,
		idInstance: strings.TrimSpace(cfg.IDInstance),
		token:      strings.TrimSpace(cfg.TokenInstance),
		client:     &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

func (w *WhatsApp) Channel() Channel { return ChannelWhatsApp }

func (w *WhatsApp) NormalizeRecipient(raw string) (string, error) { return NormalizePhone(raw) }

type greenSendRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

type greenSendResponse struct {
	IDMessage string `json:"idMessage"`
	Message   string `json:"message"`
}

// Send posts text to the WhatsApp account registered for recipient's phone.
func (w *WhatsApp) Send(ctx context.Context, recipient, text string) (rcpt Receipt, err error) {
	ctx, span := otel.Tracer("messenger/WhatsApp").Start(ctx, "Send")
	defer func() {
		record(ChannelWhatsApp, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(ReasonOf(err)))
		}
		span.End()
	}()

	if w.idInstance == "" || w.token == "" || w.baseURL == "" {
		return Receipt{}, &DeliveryError{Channel: ChannelWhatsApp, Reason: ReasonAuthConfigInvalid, Description: "green api credentials are not configured"}
	}
	phone, err := NormalizePhone(recipient)
	if err != nil {
		return Receipt{}, invalidRecipient(ChannelWhatsApp, err)
	}

	body, err := json.Marshal(greenSendRequest{ChatID: phone + "@c.us", Message: text})
	if err != nil {
		return Receipt{}, &DeliveryError{Channel: ChannelWhatsApp, Reason: ReasonUnknown, Err: err}
	}
	endpoint := fmt.Sprintf("%s/waInstance%s/sendMessage/%s", w.baseURL, w.idInstance, w.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, &DeliveryError{Channel: ChannelWhatsApp, Reason: ReasonUnknown, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		// Never echo the URL: it embeds the instance token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return Receipt{}, &DeliveryError{Channel: ChannelWhatsApp, Reason: ReasonUnknown, Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	var out greenSendResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK {
		desc := strings.TrimSpace(out.Message)
		if desc == "" {
			desc = strings.TrimSpace(string(raw))
		}
		return Receipt{}, &DeliveryError{
			Channel:     ChannelWhatsApp,
			Reason:      whatsappReasons.lookup(resp.StatusCode),
			Status:      resp.StatusCode,
			Description: truncate(desc, 200),
			RetryAfter:  retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return Receipt{
		Channel:   ChannelWhatsApp,
		Recipient: phone,
		MessageID: out.IDMessage,
		SentAt:    w.now(),
	}, nil
}

func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(h, "%d", &secs); err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// truncate caps s at max runes.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}
