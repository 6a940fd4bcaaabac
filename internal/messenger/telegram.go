package messenger

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/anirum-backend/internal/config"
)

// telegramReasons maps Bot API error_code values to reasons. Telegram
// answers 404 for malformed tokens and 401 for revoked ones.
var telegramReasons = reasonTable{
	http.StatusBadRequest:      ReasonRecipientNotFound,
	http.StatusUnauthorized:    ReasonAuthConfigInvalid,
	http.StatusForbidden:       ReasonRecipientBlocked,
	http.StatusNotFound:        ReasonAuthConfigInvalid,
	http.StatusTooManyRequests: ReasonRateLimited,
}

// newBotAPI is a test seam.
var newBotAPI = tgbotapi.NewBotAPIWithClient

// Telegram sends HTML-formatted messages through the Bot API. The bot client
// is created on first use and cached; creation calls getMe, so a bad token
// surfaces as ReasonAuthConfigInvalid on the first Send.
type Telegram struct {
	token    string
	endpoint string
	client   *http.Client
	now      func() time.Time

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegram builds a Bot API gateway. Each HTTP call is bounded by timeout.
func NewTelegram(cfg config.TelegramConfig, timeout time.Duration) *Telegram {
	endpoint := strings.TrimSpace(cfg.APIEndpoint)
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &Telegram{
		token:    strings.TrimSpace(cfg.BotToken),
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

func (t *Telegram) Channel() Channel { return ChannelTelegram }

// NormalizeRecipient accepts a numeric chat id or a username.
func (t *Telegram) NormalizeRecipient(raw string) (string, error) {
	if id, ok := parseChatID(raw); ok {
		return strconv.FormatInt(id, 10), nil
	}
	return NormalizeHandle(raw)
}

// Bot returns the cached bot client, creating it if needed.
func (t *Telegram) Bot() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	if t.token == "" {
		return nil, &DeliveryError{Channel: ChannelTelegram, Reason: ReasonAuthConfigInvalid, Description: "bot token is not configured"}
	}
	bot, err := newBotAPI(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, mapTelegramError(err)
	}
	t.bot = bot
	return bot, nil
}

// Send delivers text to a chat id or @username.
func (t *Telegram) Send(ctx context.Context, recipient, text string) (rcpt Receipt, err error) {
	_, span := otel.Tracer("messenger/Telegram").Start(ctx, "Send")
	defer func() {
		record(ChannelTelegram, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(ReasonOf(err)))
		}
		span.End()
	}()

	if cerr := ctx.Err(); cerr != nil {
		return Receipt{}, &DeliveryError{Channel: ChannelTelegram, Reason: ReasonUnknown, Err: cerr}
	}
	to, err := t.NormalizeRecipient(recipient)
	if err != nil {
		return Receipt{}, invalidRecipient(ChannelTelegram, err)
	}
	bot, err := t.Bot()
	if err != nil {
		return Receipt{}, err
	}

	var msg tgbotapi.MessageConfig
	if id, ok := parseChatID(to); ok {
		msg = tgbotapi.NewMessage(id, text)
	} else {
		msg = tgbotapi.NewMessageToChannel("@"+to, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	sent, err := bot.Send(msg)
	if err != nil {
		return Receipt{}, mapTelegramError(err)
	}
	return Receipt{
		Channel:   ChannelTelegram,
		Recipient: to,
		MessageID: strconv.Itoa(sent.MessageID),
		SentAt:    t.now(),
	}, nil
}

// mapTelegramError converts a Bot API or transport error into a DeliveryError.
func mapTelegramError(err error) *DeliveryError {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de
	}
	if apiErr, ok := asTelegramAPIError(err); ok {
		return &DeliveryError{
			Channel:     ChannelTelegram,
			Reason:      telegramReasons.lookup(apiErr.Code),
			Status:      apiErr.Code,
			Description: apiErr.Message,
			RetryAfter:  time.Duration(apiErr.RetryAfter) * time.Second,
		}
	}
	return &DeliveryError{Channel: ChannelTelegram, Reason: ReasonUnknown, Err: redactToken(err)}
}

// asTelegramAPIError matches both the value and pointer forms the library uses.
func asTelegramAPIError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

// redactToken strips the request URL, which embeds the bot token, from
// transport errors.
func redactToken(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// SetWebhook registers url as the bot's webhook. Telegram echoes secret in the
// X-Telegram-Bot-Api-Secret-Token header of every update.
func (t *Telegram) SetWebhook(ctx context.Context, hookURL, secret string) error {
	_, span := otel.Tracer("messenger/Telegram").Start(ctx, "SetWebhook")
	defer span.End()

	bot, err := t.Bot()
	if err != nil {
		span.RecordError(err)
		return err
	}
	params := tgbotapi.Params{}
	params.AddNonEmpty("url", hookURL)
	params.AddNonEmpty("secret_token", secret)
	params.AddBool("drop_pending_updates", true)
	if err := params.AddInterface("allowed_updates", []string{"message"}); err != nil {
		return err
	}
	if _, err := bot.MakeRequest("setWebhook", params); err != nil {
		span.RecordError(err)
		return mapTelegramError(err)
	}
	return nil
}

// WebhookStatus summarizes getWebhookInfo.
type WebhookStatus struct {
	URL              string
	PendingUpdates   int
	LastErrorAt      time.Time
	LastErrorMessage string
}

// WebhookInfo reports the webhook Telegram currently has on file.
func (t *Telegram) WebhookInfo(ctx context.Context) (WebhookStatus, error) {
	_, span := otel.Tracer("messenger/Telegram").Start(ctx, "WebhookInfo")
	defer span.End()

	bot, err := t.Bot()
	if err != nil {
		return WebhookStatus{}, err
	}
	info, err := bot.GetWebhookInfo()
	if err != nil {
		return WebhookStatus{}, mapTelegramError(err)
	}
	st := WebhookStatus{
		URL:              info.URL,
		PendingUpdates:   info.PendingUpdateCount,
		LastErrorMessage: info.LastErrorMessage,
	}
	if info.LastErrorDate > 0 {
		st.LastErrorAt = time.Unix(int64(info.LastErrorDate), 0).UTC()
	}
	return st, nil
}
