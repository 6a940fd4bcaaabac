package messenger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/anirum-backend/internal/config"
)

func newWhatsAppFor(t *testing.T, h http.HandlerFunc) *WhatsApp {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewWhatsApp(config.WhatsAppConfig{
		APIURL:        srv.URL,
		IDInstance:    "1101",
		TokenInstance: "secret-token",
	}, 2*time.Second)
}

func TestWhatsApp_SendOK(t *testing.T) {
	var gotPath string
	var gotBody greenSendRequest
	wa := newWhatsAppFor(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"idMessage":"BAE5F4886F6F2D05"}`))
	})

	rcpt, err := wa.Send(context.Background(), "+1 (555) 123-4567", "hello")
	require.NoError(t, err)
	assert.Equal(t, "/waInstance1101/sendMessage/secret-token", gotPath)
	assert.Equal(t, "15551234567@c.us", gotBody.ChatID)
	assert.Equal(t, "hello", gotBody.Message)
	assert.Equal(t, "BAE5F4886F6F2D05", rcpt.MessageID)
	assert.Equal(t, "15551234567", rcpt.Recipient)
	assert.Equal(t, ChannelWhatsApp, rcpt.Channel)
}

func TestWhatsApp_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   Reason
	}{
		{http.StatusBadRequest, ReasonRecipientNotFound},
		{http.StatusUnauthorized, ReasonAuthConfigInvalid},
		{http.StatusForbidden, ReasonAuthConfigInvalid},
		{http.StatusTooManyRequests, ReasonRateLimited},
		{466, ReasonRateLimited},
		{http.StatusInternalServerError, ReasonUnknown},
	}
	for _, tc := range cases {
		wa := newWhatsAppFor(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
		})
		_, err := wa.Send(context.Background(), "15551234567", "x")
		var de *DeliveryError
		require.ErrorAs(t, err, &de, "status %d", tc.status)
		assert.Equal(t, tc.want, de.Reason, "status %d", tc.status)
		assert.Equal(t, tc.status, de.Status)
		assert.Equal(t, "nope", de.Description)
		assert.Equal(t, 7*time.Second, de.RetryAfter)
	}
}

func TestWhatsApp_MissingCredentials(t *testing.T) {
	wa := NewWhatsApp(config.WhatsAppConfig{APIURL: "api.green-api.com"}, time.Second)
	assert.Equal(t, "https://api.green-api.com", wa.baseURL)

	_, err := wa.Send(context.Background(), "15551234567", "x")
	assert.Equal(t, ReasonAuthConfigInvalid, ReasonOf(err))
}

func TestWhatsApp_InvalidRecipientSkipsProvider(t *testing.T) {
	called := false
	wa := newWhatsAppFor(t, func(w http.ResponseWriter, r *http.Request) { called = true })
	_, err := wa.Send(context.Background(), "12", "x")
	assert.ErrorIs(t, err, ErrInvalidRecipient)
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ReasonRecipientNotFound, de.Reason)
	assert.Equal(t, ChannelWhatsApp, de.Channel)
	assert.False(t, called)
}

func TestWhatsApp_TransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	wa := NewWhatsApp(config.WhatsAppConfig{APIURL: srv.URL, IDInstance: "1", TokenInstance: "secret-token"}, time.Second)

	_, err := wa.Send(context.Background(), "15551234567", "x")
	require.Error(t, err)
	assert.Equal(t, ReasonUnknown, ReasonOf(err))
	assert.False(t, strings.Contains(err.Error(), "secret-token"), err.Error())
}

func TestWhatsApp_ContextTimeout(t *testing.T) {
	block := make(chan struct{})
	wa := newWhatsAppFor(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := wa.Send(ctx, "15551234567", "x")
	assert.Equal(t, ReasonUnknown, ReasonOf(err))
}

func TestRetryAfterAndTruncate(t *testing.T) {
	assert.Zero(t, retryAfter(""))
	assert.Zero(t, retryAfter("soon"))
	assert.Equal(t, 3*time.Second, retryAfter("3"))
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 2))
	assert.Equal(t, "Нет…", truncate("Нет такого номера", 3))
	assert.Equal(t, "привет", truncate("привет", 6))
}
