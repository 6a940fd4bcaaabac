package verification

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tbourn/anirum-backend/internal/messenger"
	"github.com/tbourn/anirum-backend/internal/session"
)

// ---------- fakes ----------

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sent struct {
	To   string
	Text string
}

// fakeGateway records sends. failNext makes the next n sends fail with err.
type fakeGateway struct {
	ch messenger.Channel

	mu       sync.Mutex
	sends    []sent
	err      error
	failNext int
}

func (g *fakeGateway) Channel() messenger.Channel { return g.ch }

func (g *fakeGateway) NormalizeRecipient(raw string) (string, error) {
	if g.ch == messenger.ChannelTelegram {
		return messenger.NormalizeHandle(raw)
	}
	return messenger.NormalizePhone(raw)
}

func (g *fakeGateway) Send(_ context.Context, to, text string) (messenger.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, sent{To: to, Text: text})
	if g.failNext > 0 {
		g.failNext--
		return messenger.Receipt{}, g.err
	}
	return messenger.Receipt{Channel: g.ch, Recipient: to}, nil
}

func (g *fakeGateway) Sends() []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sent(nil), g.sends...)
}

// codeSeq hands out codes in order and counts calls.
type codeSeq struct {
	codes []string
	calls atomic.Int32
}

func (s *codeSeq) Next() (string, error) {
	i := int(s.calls.Add(1)) - 1
	return s.codes[i%len(s.codes)], nil
}

var fastHasher = BcryptHasher{Cost: bcrypt.MinCost}

type directFixture struct {
	clock *fakeClock
	store *session.MemoryStore[DirectPayload]
	gw    *fakeGateway
	codes *codeSeq
	flow  *DirectFlow
}

func newDirectFixture(codes ...string) *directFixture {
	if len(codes) == 0 {
		codes = []string{"482913"}
	}
	fx := &directFixture{
		clock: newFakeClock(),
		gw:    &fakeGateway{ch: messenger.ChannelWhatsApp},
		codes: &codeSeq{codes: codes},
	}
	fx.store = session.NewMemoryStore[DirectPayload](fx.clock.Now)
	fx.flow = NewDirectFlow(fx.store, DefaultPolicy(), []messenger.Gateway{fx.gw},
		WithCodeSource(fx.codes.Next),
		WithHasher(fastHasher),
		WithClock(fx.clock.Now),
		WithLogger(zerolog.Nop()),
	)
	return fx
}

const (
	phone = "+15551234567"
	user  = "user-1"
)

// ---------- request ----------

func TestDirect_EndToEnd(t *testing.T) {
	fx := newDirectFixture("482913")
	ctx := context.Background()

	iss, err := fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.NoError(t, err)
	assert.Equal(t, "15551234567", iss.Recipient)
	assert.Equal(t, fx.clock.Now().Add(5*time.Minute), iss.ExpiresAt)

	sends := fx.gw.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "15551234567", sends[0].To)
	assert.Contains(t, sends[0].Text, "482913")

	// The stored session holds a hash, never the code.
	e, err := fx.store.Get(ctx, DirectKey(messenger.ChannelWhatsApp, "15551234567", user))
	require.NoError(t, err)
	assert.NotContains(t, e.Payload.CodeHash, "482913")

	v, err := fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "482913", user)
	require.NoError(t, err)
	assert.Equal(t, messenger.ChannelWhatsApp, v.Channel)
	assert.Equal(t, "15551234567", v.Recipient)
	assert.Zero(t, fx.store.Len())

	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "482913", user)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestDirect_RateLimitKeepsExistingSession(t *testing.T) {
	fx := newDirectFixture("111111", "222222")
	ctx := context.Background()

	_, err := fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.NoError(t, err)

	fx.clock.Advance(20 * time.Second)
	_, err = fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.ErrorIs(t, err, ErrRateLimited)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 40*time.Second, verr.RetryAfter)

	// No second code was generated or sent.
	assert.EqualValues(t, 1, fx.codes.calls.Load())
	assert.Len(t, fx.gw.Sends(), 1)

	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "111111", user)
	require.NoError(t, err)
}

func TestDirect_SupersededCodeIsGone(t *testing.T) {
	fx := newDirectFixture("111111", "222222")
	ctx := context.Background()

	_, err := fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.NoError(t, err)
	fx.clock.Advance(61 * time.Second)
	_, err = fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.NoError(t, err)

	n, err := fx.flow.ActiveSessions(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "111111", user)
	assert.ErrorIs(t, err, ErrCodeNotFound)
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Superseded)
	assert.Equal(t, 2, verr.Remaining)
	assert.Contains(t, verr.Hint(), "2 attempts remaining")

	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "222222", user)
	assert.NoError(t, err)
}

func TestDirect_SupersededCodesShareTheAttemptBudget(t *testing.T) {
	fx := newDirectFixture("111111", "222222")
	ctx := context.Background()

	_, err := fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.NoError(t, err)
	fx.clock.Advance(61 * time.Second)
	_, err = fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.NoError(t, err)

	for _, want := range []int{2, 1, 0} {
		_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "111111", user)
		var verr *Error
		require.ErrorAs(t, err, &verr)
		assert.True(t, verr.Superseded)
		assert.Equal(t, want, verr.Remaining)
	}
	assert.Contains(t, (&Error{Kind: ErrCodeNotFound, Superseded: true}).Hint(), "no attempts remain")

	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "222222", user)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestDirect_KeysAreScopedByUser(t *testing.T) {
	fx := newDirectFixture("111111", "222222")
	ctx := context.Background()

	_, err := fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, "a")
	require.NoError(t, err)
	_, err = fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, "b")
	require.NoError(t, err, "another user is not rate limited")

	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "111111", "b")
	assert.ErrorIs(t, err, ErrInvalidCode)
	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "111111", "a")
	assert.NoError(t, err)
}

func TestDirect_DeliveryFailureRollsBack(t *testing.T) {
	fx := newDirectFixture()
	fx.gw.err = &messenger.DeliveryError{Channel: messenger.ChannelWhatsApp, Reason: messenger.ReasonRecipientNotFound, Status: 400}
	fx.gw.failNext = 1
	ctx := context.Background()

	_, err := fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, messenger.ReasonRecipientNotFound, messenger.ReasonOf(err))
	assert.Zero(t, fx.store.Len())

	// Nothing is left behind to rate limit a retry.
	_, err = fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	assert.NoError(t, err)
}

func TestDirect_InvalidInput(t *testing.T) {
	fx := newDirectFixture()
	ctx := context.Background()

	_, err := fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, "12", user)
	assert.ErrorIs(t, err, ErrInvalidRecipient)

	_, err = fx.flow.RequestCode(ctx, messenger.ChannelTelegram, "alice_art", user)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.False(t, fx.flow.Supports(messenger.ChannelTelegram))
	assert.Empty(t, fx.gw.Sends())
}

// ---------- verify ----------

func TestDirect_AttemptBounding(t *testing.T) {
	fx := newDirectFixture("482913")
	ctx := context.Background()
	_, err := fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.NoError(t, err)

	for want := 2; want >= 0; want-- {
		_, err := fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "000000", user)
		var verr *Error
		require.ErrorAs(t, err, &verr)
		assert.ErrorIs(t, err, ErrInvalidCode)
		assert.Equal(t, want, verr.Remaining)
	}

	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "482913", user)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Zero(t, fx.store.Len())

	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "482913", user)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestDirect_FormatErrorCostsNoAttempt(t *testing.T) {
	fx := newDirectFixture("482913")
	ctx := context.Background()
	_, err := fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.NoError(t, err)

	for _, bad := range []string{"", "12345", "1234567", "abcdef"} {
		_, err := fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, bad, user)
		assert.ErrorIs(t, err, ErrInvalidFormat, bad)
	}
	e, err := fx.store.Get(ctx, DirectKey(messenger.ChannelWhatsApp, "15551234567", user))
	require.NoError(t, err)
	assert.Zero(t, e.Attempts)

	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, " 482-913 ", user)
	assert.NoError(t, err)
}

func TestDirect_Expiry(t *testing.T) {
	fx := newDirectFixture("482913")
	ctx := context.Background()
	_, err := fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.NoError(t, err)

	fx.clock.Advance(5*time.Minute + time.Second)
	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "482913", user)
	assert.ErrorIs(t, err, ErrCodeExpired)

	_, err = fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "482913", user)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestDirect_ConcurrentVerifySingleWinner(t *testing.T) {
	fx := newDirectFixture("482913")
	fx.flow.policy.MaxAttempts = 100
	ctx := context.Background()
	_, err := fx.flow.RequestCode(ctx, messenger.ChannelWhatsApp, phone, user)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fx.flow.VerifyCode(ctx, messenger.ChannelWhatsApp, phone, "482913", user); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestError_Hints(t *testing.T) {
	assert.Contains(t, (&Error{Kind: ErrInvalidCode, Remaining: 2}).Hint(), "2 attempts remaining")
	assert.Contains(t, (&Error{Kind: ErrInvalidCode}).Hint(), "request a new code")
	assert.Contains(t, (&Error{Kind: ErrRateLimited, RetryAfter: 42 * time.Second}).Hint(), "42 seconds")
	assert.Equal(t, "invalid verification code: 1 attempts remaining", (&Error{Kind: ErrInvalidCode, Remaining: 1}).Error())

	de := &messenger.DeliveryError{Channel: messenger.ChannelTelegram, Reason: messenger.ReasonRecipientBlocked}
	assert.Equal(t, de.Hint(), (&Error{Kind: ErrDeliveryFailed, Err: de}).Hint())

	assert.Equal(t, "too_many_attempts", Outcome(fail(ErrTooManyAttempts, "")))
	assert.Equal(t, "error", Outcome(assert.AnError))
}

func TestCodes(t *testing.T) {
	for i := 0; i < 50; i++ {
		c, err := RandomCode()
		require.NoError(t, err)
		assert.Len(t, c, CodeLength)
		_, ok := NormalizeCode(c)
		assert.True(t, ok)
	}

	c, ok := NormalizeCode("012 345")
	assert.True(t, ok)
	assert.Equal(t, "012345", c)

	h, err := fastHasher.Hash("012345")
	require.NoError(t, err)
	assert.True(t, fastHasher.Matches(h, "012345"))
	assert.False(t, fastHasher.Matches(h, "012346"))
}
