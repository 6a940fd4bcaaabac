package verification

import (
	"fmt"
	"html"
	"time"

	"github.com/tbourn/anirum-backend/internal/messenger"
)

func ttlMinutes(ttl time.Duration) int {
	m := int(ttl.Round(time.Minute) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

// WhatsApp uses its own lightweight markup: *bold*.
func whatsappCodeMessage(code string, ttl time.Duration) string {
	return fmt.Sprintf("🔐 Код подтверждения Anirum: %s\n\nКод действителен %d минут.\n\n*Никому не сообщайте этот код!*",
		code, ttlMinutes(ttl))
}

// Telegram messages are sent with parse_mode=HTML.
func telegramCodeMessage(code string, ttl time.Duration) string {
	return fmt.Sprintf("✅ Аккаунт активирован!\n\n"+
		"🔐 <b>Код подтверждения Anirum:</b> <code>%s</code>\n\n"+
		"Код действителен <b>%d минут</b>. Введите его в веб-приложении.\n\n"+
		"⚠️ <i>Никому не сообщайте этот код!</i>", html.EscapeString(code), ttlMinutes(ttl))
}

const telegramWelcomeMessage = "👋 Добро пожаловать в Anirum!\n\n" +
	"Сейчас нет активных запросов на подтверждение. " +
	"Запросите код в веб-приложении, затем снова отправьте /start."

const telegramRetryMessage = "❌ Не удалось отправить код. Отправьте /start ещё раз через минуту."

// codeMessage renders the code template for ch.
func codeMessage(ch messenger.Channel, code string, ttl time.Duration) string {
	if ch == messenger.ChannelTelegram {
		return telegramCodeMessage(code, ttl)
	}
	return whatsappCodeMessage(code, ttl)
}
