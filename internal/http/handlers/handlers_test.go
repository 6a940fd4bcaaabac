package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/tbourn/anirum-backend/internal/domain"
	"github.com/tbourn/anirum-backend/internal/http/middleware"
	"github.com/tbourn/anirum-backend/internal/messenger"
	"github.com/tbourn/anirum-backend/internal/services"
	"github.com/tbourn/anirum-backend/internal/verification"
)

// ---------- fakes ----------

type sendCall struct {
	userID    string
	ch        messenger.Channel
	recipient string
}

type stubVerifySvc struct {
	sendRes services.SendResult
	sendErr error
	sent    []sendCall

	verified  verification.Verified
	verifyErr error
	verifyArg []string // channel, recipient, code

	status    services.Status
	statusErr error

	startOut     verification.StartOutcome
	startErr     error
	startHandle  string
	startChatID  string
	startInvoked int

	tgStatus    verification.HandshakeStatus
	tgStatusErr error
}

func (s *stubVerifySvc) SendCode(_ context.Context, userID string, ch messenger.Channel, recipient string) (services.SendResult, error) {
	s.sent = append(s.sent, sendCall{userID, ch, recipient})
	return s.sendRes, s.sendErr
}

func (s *stubVerifySvc) VerifyCode(_ context.Context, userID string, ch messenger.Channel, recipient, code string) (verification.Verified, error) {
	s.verifyArg = []string{userID, string(ch), recipient, code}
	return s.verified, s.verifyErr
}

func (s *stubVerifySvc) Status(context.Context, string) (services.Status, error) {
	return s.status, s.statusErr
}

func (s *stubVerifySvc) HandleTelegramStart(_ context.Context, handle, chatID string) (verification.StartOutcome, error) {
	s.startInvoked++
	s.startHandle, s.startChatID = handle, chatID
	return s.startOut, s.startErr
}

func (s *stubVerifySvc) TelegramStatus(_ context.Context, _, handle string) (verification.HandshakeStatus, error) {
	if handle == "" {
		return verification.HandshakeStatus{}, services.ErrHandleRequired
	}
	return s.tgStatus, s.tgStatusErr
}

type stubGuideSvc struct {
	created  services.NewGuide
	guide    *domain.Guide
	err      error
	limit    int
	popular  []domain.TagCount
	retagged string
}

func (s *stubGuideSvc) Create(_ context.Context, userID string, in services.NewGuide) (*domain.Guide, error) {
	s.created = in
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Guide{ID: "6f1c1f9e-3b8e-4a57-9d55-1a3c0b1e7b10", UserID: userID, Title: in.Title, Tags: in.Tags}, nil
}

func (s *stubGuideSvc) Retag(_ context.Context, _, id string) (*domain.Guide, error) {
	s.retagged = id
	return s.guide, s.err
}

func (s *stubGuideSvc) PopularTags(_ context.Context, limit int) ([]domain.TagCount, error) {
	s.limit = limit
	return s.popular, s.err
}

// ---------- router helpers ----------

func newTestRouter(t *testing.T, h *Handlers, userID string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := RegisterValidators(v); err != nil {
			t.Fatalf("register validators: %v", err)
		}
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set(middleware.HeaderRequestID, "rid-test")
		if userID != "" {
			c.Set(middleware.CtxUserID, userID)
		}
		c.Next()
	})
	r.POST("/phone-verification/send-code", h.SendCode)
	r.POST("/phone-verification/verify-code", h.VerifyCode)
	r.GET("/phone-verification/status", h.VerificationStatus)
	r.GET("/telegram/verification-status", h.TelegramStatus)
	r.POST("/telegram/webhook", h.TelegramWebhook)
	r.POST("/guides", h.CreateGuide)
	r.POST("/guides/:id/retag", h.RetagGuide)
	r.GET("/guides/popular-tags", h.PopularTags)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return er
}
