package verification

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/anirum-backend/internal/messenger"
	"github.com/tbourn/anirum-backend/internal/session"
)

type handshakeFixture struct {
	clock *fakeClock
	store *session.MemoryStore[HandshakePayload]
	gw    *fakeGateway
	codes *codeSeq
	flow  *HandshakeFlow
}

func newHandshakeFixture(cfg HandshakeConfig, codes ...string) *handshakeFixture {
	if len(codes) == 0 {
		codes = []string{"482913"}
	}
	fx := &handshakeFixture{
		clock: newFakeClock(),
		gw:    &fakeGateway{ch: messenger.ChannelTelegram},
		codes: &codeSeq{codes: codes},
	}
	fx.store = session.NewMemoryStore[HandshakePayload](fx.clock.Now)
	fx.flow = NewHandshakeFlow(fx.store, fx.gw, DefaultPolicy(), cfg,
		WithCodeSource(fx.codes.Next),
		WithClock(fx.clock.Now),
		WithLogger(zerolog.Nop()),
	)
	return fx
}

func TestHandshake_RequestSendsNothing(t *testing.T) {
	fx := newHandshakeFixture(HandshakeConfig{BotUsername: "anirum_bot"})

	tk, err := fx.flow.RequestCode(context.Background(), "@Alice_Art", user)
	require.NoError(t, err)
	assert.Equal(t, "alice_art", tk.Handle)
	assert.Equal(t, "https://t.me/anirum_bot?start=verify", tk.DeepLink)
	assert.False(t, tk.RequiresManualFallback)
	assert.Empty(t, tk.FallbackCode)
	assert.Empty(t, fx.gw.Sends())
}

func TestHandshake_Correlation(t *testing.T) {
	fx := newHandshakeFixture(HandshakeConfig{BotUsername: "anirum_bot"}, "482913", "999999")
	ctx := context.Background()

	_, err := fx.flow.RequestCode(ctx, "alice_art", user)
	require.NoError(t, err)

	out, err := fx.flow.HandleStart(ctx, "Alice_Art", "chat-123")
	require.NoError(t, err)
	assert.Equal(t, StartDelivered, out)

	sends := fx.gw.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "chat-123", sends[0].To)
	assert.Contains(t, sends[0].Text, "482913")

	e, err := fx.store.Get(ctx, "alice_art")
	require.NoError(t, err)
	assert.True(t, e.Payload.Delivered)
	assert.Equal(t, "chat-123", e.Payload.ChatID)

	// A repeated /start re-sends the same code.
	out, err = fx.flow.HandleStart(ctx, "alice_art", "chat-123")
	require.NoError(t, err)
	assert.Equal(t, StartDelivered, out)
	sends = fx.gw.Sends()
	require.Len(t, sends, 2)
	assert.Contains(t, sends[1].Text, "482913")
	assert.EqualValues(t, 1, fx.codes.calls.Load())

	v, err := fx.flow.VerifyCode(ctx, "@alice_art", "482913", user)
	require.NoError(t, err)
	assert.Equal(t, messenger.ChannelTelegram, v.Channel)
	assert.Equal(t, "alice_art", v.Recipient)
	assert.Equal(t, "chat-123", v.Address)
	assert.Zero(t, fx.store.Len())
}

func TestHandshake_StartWithoutSessionSendsWelcome(t *testing.T) {
	fx := newHandshakeFixture(HandshakeConfig{})

	out, err := fx.flow.HandleStart(context.Background(), "stranger", "chat-9")
	require.NoError(t, err)
	assert.Equal(t, StartNoSession, out)
	sends := fx.gw.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, telegramWelcomeMessage, sends[0].Text)

	// Users without a username still get a reply.
	out, err = fx.flow.HandleStart(context.Background(), "", "chat-10")
	require.NoError(t, err)
	assert.Equal(t, StartNoSession, out)
	assert.Len(t, fx.gw.Sends(), 2)
}

func TestHandshake_StartAfterExpiry(t *testing.T) {
	fx := newHandshakeFixture(HandshakeConfig{})
	ctx := context.Background()
	_, err := fx.flow.RequestCode(ctx, "alice_art", user)
	require.NoError(t, err)

	fx.clock.Advance(6 * time.Minute)
	out, err := fx.flow.HandleStart(ctx, "alice_art", "chat-123")
	require.NoError(t, err)
	assert.Equal(t, StartNoSession, out)
	assert.Equal(t, telegramWelcomeMessage, fx.gw.Sends()[0].Text)
}

func TestHandshake_DeliveryFailureAllowsRetry(t *testing.T) {
	fx := newHandshakeFixture(HandshakeConfig{})
	fx.gw.err = &messenger.DeliveryError{Channel: messenger.ChannelTelegram, Reason: messenger.ReasonRateLimited, Status: 429}
	fx.gw.failNext = 1
	ctx := context.Background()

	_, err := fx.flow.RequestCode(ctx, "alice_art", user)
	require.NoError(t, err)

	out, err := fx.flow.HandleStart(ctx, "alice_art", "chat-123")
	assert.Equal(t, StartDeliveryFailed, out)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	sends := fx.gw.Sends()
	require.Len(t, sends, 2)
	assert.Equal(t, telegramRetryMessage, sends[1].Text)

	// Correlated but not delivered: verification is refused without an attempt.
	e, err := fx.store.Get(ctx, "alice_art")
	require.NoError(t, err)
	assert.Equal(t, "chat-123", e.Payload.ChatID)
	assert.False(t, e.Payload.Delivered)

	_, err = fx.flow.VerifyCode(ctx, "alice_art", "482913", user)
	assert.ErrorIs(t, err, ErrCodeNotDelivered)

	out, err = fx.flow.HandleStart(ctx, "alice_art", "chat-123")
	require.NoError(t, err)
	assert.Equal(t, StartDelivered, out)
	assert.Contains(t, fx.gw.Sends()[2].Text, "482913")

	_, err = fx.flow.VerifyCode(ctx, "alice_art", "482913", user)
	assert.NoError(t, err)
}

func TestHandshake_SupersedeCorrelatesNewest(t *testing.T) {
	fx := newHandshakeFixture(HandshakeConfig{}, "111111", "222222")
	ctx := context.Background()

	_, err := fx.flow.RequestCode(ctx, "alice_art", user)
	require.NoError(t, err)
	_, err = fx.flow.RequestCode(ctx, "alice_art", user)
	require.NoError(t, err, "handshake requests are never rate limited")
	assert.Equal(t, 1, fx.store.Len())

	_, err = fx.flow.HandleStart(ctx, "alice_art", "chat-123")
	require.NoError(t, err)
	assert.Contains(t, fx.gw.Sends()[0].Text, "222222")

	_, err = fx.flow.VerifyCode(ctx, "alice_art", "111111", user)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestHandshake_VerifyRules(t *testing.T) {
	fx := newHandshakeFixture(HandshakeConfig{})
	ctx := context.Background()

	_, err := fx.flow.VerifyCode(ctx, "alice_art", "482913", user)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	_, err = fx.flow.RequestCode(ctx, "alice_art", user)
	require.NoError(t, err)
	_, err = fx.flow.HandleStart(ctx, "alice_art", "chat-123")
	require.NoError(t, err)

	_, err = fx.flow.VerifyCode(ctx, "no", "482913", user)
	assert.ErrorIs(t, err, ErrInvalidRecipient)
	_, err = fx.flow.VerifyCode(ctx, "alice_art", "48291", user)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	// Another user's session reads as absent.
	_, err = fx.flow.VerifyCode(ctx, "alice_art", "482913", "intruder")
	assert.ErrorIs(t, err, ErrCodeNotFound)

	for want := 2; want >= 0; want-- {
		_, err := fx.flow.VerifyCode(ctx, "alice_art", "000000", user)
		var verr *Error
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, want, verr.Remaining)
	}
	_, err = fx.flow.VerifyCode(ctx, "alice_art", "482913", user)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestHandshake_VerifyExpired(t *testing.T) {
	fx := newHandshakeFixture(HandshakeConfig{})
	ctx := context.Background()
	_, err := fx.flow.RequestCode(ctx, "alice_art", user)
	require.NoError(t, err)
	_, err = fx.flow.HandleStart(ctx, "alice_art", "chat-123")
	require.NoError(t, err)

	fx.clock.Advance(5*time.Minute + time.Second)
	_, err = fx.flow.VerifyCode(ctx, "alice_art", "482913", user)
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestHandshake_ManualFallback(t *testing.T) {
	fx := newHandshakeFixture(HandshakeConfig{BotUsername: "anirum_bot", ManualFallback: true})
	ctx := context.Background()

	tk, err := fx.flow.RequestCode(ctx, "alice_art", user)
	require.NoError(t, err)
	assert.True(t, tk.RequiresManualFallback)
	assert.Equal(t, "482913", tk.FallbackCode)
	assert.NotEmpty(t, tk.DeepLink)

	_, err = fx.flow.VerifyCode(ctx, "alice_art", tk.FallbackCode, user)
	assert.NoError(t, err)
}

func TestHandshake_StatusAndActive(t *testing.T) {
	fx := newHandshakeFixture(HandshakeConfig{})
	ctx := context.Background()
	_, err := fx.flow.RequestCode(ctx, "alice_art", user)
	require.NoError(t, err)

	st, err := fx.flow.Status(ctx, "@alice_art", user)
	require.NoError(t, err)
	assert.False(t, st.Delivered)
	assert.Equal(t, fx.clock.Now().Add(5*time.Minute), st.ExpiresAt)

	_, err = fx.flow.Status(ctx, "alice_art", "intruder")
	assert.ErrorIs(t, err, ErrCodeNotFound)

	n, err := fx.flow.ActiveSessions(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMessages(t *testing.T) {
	wa := codeMessage(messenger.ChannelWhatsApp, "123456", 5*time.Minute)
	assert.Contains(t, wa, "123456")
	assert.Contains(t, wa, "5 минут")

	tg := codeMessage(messenger.ChannelTelegram, "123456", 5*time.Minute)
	assert.Contains(t, tg, "<code>123456</code>")
	assert.Contains(t, tg, "Аккаунт активирован")
}
