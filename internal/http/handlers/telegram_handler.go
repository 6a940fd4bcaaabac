package handlers

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tbourn/anirum-backend/internal/http/middleware"
)

// HeaderTelegramSecret carries the secret registered with setWebhook.
const HeaderTelegramSecret = "X-Telegram-Bot-Api-Secret-Token"

// WebhookAck is the body returned for every accepted update.
type WebhookAck struct {
	OK bool `json:"ok" example:"true"`
}

// isStartCommand reports whether text is "/start", "/start <payload>" or
// "/start@bot <payload>".
func isStartCommand(text string) bool {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == "/start"
}

// TelegramWebhook godoc
// @ID          telegramWebhook
// @Summary     Telegram bot webhook
// @Description Receives bot updates. A /start from a private chat delivers the code of the sender's pending handshake.
// @Description Every other well-formed update is acknowledged and ignored.
// @Tags        Telegram
// @Accept      json
// @Produce     json
//
// @Param       X-Telegram-Bot-Api-Secret-Token  header  string  false  "Secret registered with setWebhook"
// @Param       body  body  object  true  "Telegram Update"
//
// @Success     200  {object}  handlers.WebhookAck
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed update"
// @Failure     401  {object}  handlers.ErrorResponse  "Secret token mismatch"
// @Router      /telegram/webhook [post]
func (h *Handlers) TelegramWebhook(c *gin.Context) {
	if h.webhookSecret != "" {
		got := c.GetHeader(HeaderTelegramSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid webhook secret")
			return
		}
	}

	var upd tgbotapi.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid update")
		return
	}

	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil || !msg.Chat.IsPrivate() || !isStartCommand(msg.Text) {
		ok(c, http.StatusOK, WebhookAck{OK: true})
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	out, err := h.verifySvc.HandleTelegramStart(c.Request.Context(), msg.From.UserName, chatID)
	lg := middleware.LoggerFrom(c)
	ev := lg.Info()
	if err != nil {
		ev = lg.Warn().Err(err)
	}
	ev.Int("update_id", upd.UpdateID).Str("outcome", string(out)).Msg("telegram start")

	// Telegram retries non-2xx responses; failures were already reported to
	// the user in the chat.
	ok(c, http.StatusOK, WebhookAck{OK: true})
}
