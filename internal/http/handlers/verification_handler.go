// Verification HTTP handlers.
//
// This file exposes the messenger verification endpoints:
//   - POST /phone-verification/send-code    (issue a code or a Telegram deep link)
//   - POST /phone-verification/verify-code  (check a code, mark the profile verified)
//   - GET  /phone-verification/status       (caller's flags and active codes)
//   - GET  /telegram/verification-status    (caller's pending handshake)
package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/anirum-backend/internal/http/middleware"
	"github.com/tbourn/anirum-backend/internal/messenger"
	"github.com/tbourn/anirum-backend/internal/services"
	"github.com/tbourn/anirum-backend/internal/verification"
)

//
// DTOs
//

// SendCodeRequest is the JSON payload for requesting a verification code.
// WhatsApp takes a phone; Telegram takes a handle. When messenger is omitted
// it is inferred from which of the two is present.
type SendCodeRequest struct {
	Phone     string `json:"phone"     binding:"omitempty,phone"     example:"+7 912 345-67-89"`
	Handle    string `json:"handle"    binding:"omitempty,tg_handle" example:"@alice_art"`
	Messenger string `json:"messenger" example:"whatsapp" enums:"whatsapp,telegram"`
}

// TelegramLink tells the client how to complete a Telegram handshake.
type TelegramLink struct {
	// RequiresDeepLink is always true: the code is only delivered after the
	// user opens the bot and presses Start.
	RequiresDeepLink bool   `json:"requiresDeepLink" example:"true"`
	DeepLink         string `json:"deepLink"         example:"https://t.me/anirum_bot?start=verify"`
	// RequiresManualFallback is true when the server runs in manual fallback
	// mode and FallbackCode must be shown to the user.
	RequiresManualFallback bool `json:"requiresManualFallback" example:"false"`
	// FallbackCode is returned once. Responses carrying it are never stored
	// for idempotent replay.
	FallbackCode string `json:"fallbackCode,omitempty" example:"482913"`
}

// SendCodeResponse acknowledges a code request.
type SendCodeResponse struct {
	Success   bool          `json:"success"             example:"true"`
	Message   string        `json:"message"             example:"code sent to WhatsApp"`
	Messenger string        `json:"messenger"           example:"whatsapp"`
	Phone     string        `json:"phone,omitempty"     example:"79123456789"`
	Handle    string        `json:"handle,omitempty"    example:"alice_art"`
	ExpiresAt time.Time     `json:"expires_at"`
	Telegram  *TelegramLink `json:"telegram,omitempty"`
}

// VerifyCodeRequest is the JSON payload for checking a code.
type VerifyCodeRequest struct {
	Phone     string `json:"phone"     binding:"omitempty,phone"     example:"+79123456789"`
	Handle    string `json:"handle"    binding:"omitempty,tg_handle" example:"alice_art"`
	Code      string `json:"code"      binding:"required"            example:"482913"`
	Messenger string `json:"messenger" example:"whatsapp" enums:"whatsapp,telegram"`
}

// VerifyCodeResponse confirms a successful verification.
type VerifyCodeResponse struct {
	Success   bool   `json:"success"   example:"true"`
	Message   string `json:"message"   example:"WhatsApp verified"`
	Verified  bool   `json:"verified"  example:"true"`
	Messenger string `json:"messenger" example:"whatsapp"`
}

// TelegramStatusResponse describes a pending handshake. It never carries the code.
type TelegramStatusResponse struct {
	Handle    string    `json:"handle"    example:"alice_art"`
	Delivered bool      `json:"delivered" example:"false"`
	ExpiresAt time.Time `json:"expires_at"`
}

//
// Helpers
//

// channelFor resolves the requested messenger and the matching recipient.
func channelFor(name, phone, handle string) (messenger.Channel, string, error) {
	if strings.TrimSpace(name) == "" {
		if strings.TrimSpace(handle) != "" {
			return messenger.ChannelTelegram, handle, nil
		}
		return messenger.ChannelWhatsApp, phone, nil
	}
	ch, err := messenger.ParseChannel(name)
	if err != nil {
		return "", "", err
	}
	if ch == messenger.ChannelTelegram {
		return ch, handle, nil
	}
	return ch, phone, nil
}

func channelTitle(ch messenger.Channel) string {
	switch ch {
	case messenger.ChannelWhatsApp:
		return "WhatsApp"
	case messenger.ChannelTelegram:
		return "Telegram"
	default:
		return string(ch)
	}
}

type failure struct {
	status int
	code   string
}

// verificationFailures maps flow failure kinds to HTTP results.
var verificationFailures = map[error]failure{
	verification.ErrInvalidFormat:    {http.StatusBadRequest, ErrCodeInvalidCodeFormat},
	verification.ErrInvalidRecipient: {http.StatusBadRequest, ErrCodeInvalidRecipient},
	verification.ErrUnsupported:      {http.StatusBadRequest, ErrCodeUnsupportedMessenger},
	verification.ErrRateLimited:      {http.StatusTooManyRequests, ErrCodeResendTooSoon},
	verification.ErrCodeNotFound:     {http.StatusNotFound, ErrCodeCodeNotFound},
	verification.ErrCodeExpired:      {http.StatusGone, ErrCodeCodeExpired},
	verification.ErrTooManyAttempts:  {http.StatusTooManyRequests, ErrCodeTooManyAttempts},
	verification.ErrInvalidCode:      {http.StatusBadRequest, ErrCodeInvalidCode},
	verification.ErrCodeNotDelivered: {http.StatusConflict, ErrCodeCodeNotDelivered},
	verification.ErrDeliveryFailed:   {http.StatusBadGateway, ErrCodeDeliveryFailed},
}

// deliveryStatus refines the status of a failed delivery by its reason.
var deliveryStatus = map[messenger.Reason]int{
	messenger.ReasonRecipientNotFound: http.StatusUnprocessableEntity,
	messenger.ReasonRecipientBlocked:  http.StatusUnprocessableEntity,
	messenger.ReasonRateLimited:       http.StatusServiceUnavailable,
}

// verificationFailure writes the response for an error returned by the
// verification service.
func verificationFailure(c *gin.Context, err error) {
	var ve *verification.Error
	switch {
	case errors.As(err, &ve):
		f, ok := verificationFailures[ve.Kind]
		if !ok {
			f = failure{http.StatusInternalServerError, ErrCodeInternal}
		}
		d := &ErrorDetails{Messenger: string(ve.Channel)}
		switch ve.Kind {
		case verification.ErrRateLimited:
			d.RetryAfterSeconds = retryAfterSeconds(ve.RetryAfter)
			c.Header("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
		case verification.ErrInvalidCode:
			d.AttemptsRemaining = &ve.Remaining
		case verification.ErrCodeNotFound:
			if ve.Superseded {
				d.AttemptsRemaining = &ve.Remaining
			}
		case verification.ErrDeliveryFailed:
			reason := messenger.ReasonOf(err)
			d.DeliveryReason = string(reason)
			if st, ok := deliveryStatus[reason]; ok {
				f.status = st
			}
		}
		failWith(c, f.status, f.code, ve.Hint(), d)
	case errors.Is(err, services.ErrUnsupportedMessenger), errors.Is(err, messenger.ErrUnsupportedChannel):
		fail(c, http.StatusBadRequest, ErrCodeUnsupportedMessenger, "messenger is not supported")
	case errors.Is(err, services.ErrHandleRequired):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "handle is required")
	case errors.Is(err, services.ErrProfileUpdate):
		fail(c, http.StatusInternalServerError, ErrCodeProfileUpdateFailed, "the code was accepted but the profile could not be updated")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

//
// Handlers
//

// SendCode godoc
// @ID          sendVerificationCode
// @Summary     Request a verification code
// @Description Sends a 6-digit code over WhatsApp, or opens a Telegram handshake and returns the bot deep link.
// @Description A repeated request within the resend window is rejected with 429 and Retry-After.
// @Tags        Verification
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false  "Replays the first successful response for this key"
// @Param       body             body    handlers.SendCodeRequest  true  "Recipient and messenger"
//
// @Success     200  {object}  handlers.SendCodeResponse
// @Header      200  {string}  Idempotency-Replayed  "true when served from a stored response"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid recipient or messenger"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     422  {object}  handlers.ErrorResponse  "Recipient unreachable"
// @Failure     429  {object}  handlers.ErrorResponse  "Requested too recently"
// @Failure     502  {object}  handlers.ErrorResponse  "Delivery failed"
// @Router      /phone-verification/send-code [post]
func (h *Handlers) SendCode(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	var req SendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		code, msg := bindingMessage(err)
		fail(c, http.StatusBadRequest, code, msg)
		return
	}
	ch, recipient, err := channelFor(req.Messenger, req.Phone, req.Handle)
	if err != nil {
		verificationFailure(c, err)
		return
	}
	if strings.TrimSpace(recipient) == "" {
		field := "phone"
		if ch == messenger.ChannelTelegram {
			field = "handle"
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, field+" is required")
		return
	}

	res, err := h.verifySvc.SendCode(c.Request.Context(), uid, ch, recipient)
	if err != nil {
		verificationFailure(c, err)
		return
	}

	resp := SendCodeResponse{
		Success:   true,
		Messenger: string(res.Messenger),
		ExpiresAt: res.ExpiresAt,
	}
	if t := res.Telegram; t != nil {
		resp.Handle = res.Recipient
		resp.Message = "open the bot in Telegram and press Start to receive the code"
		resp.Telegram = &TelegramLink{RequiresDeepLink: true, DeepLink: t.DeepLink}
		if t.RequiresManualFallback {
			resp.Message = "enter the code shown below"
			resp.Telegram.RequiresManualFallback = true
			resp.Telegram.FallbackCode = t.FallbackCode
			middleware.SkipIdempotencyStore(c)
		}
	} else {
		resp.Phone = res.Recipient
		resp.Message = "code sent to " + channelTitle(res.Messenger)
	}
	ok(c, http.StatusOK, resp)
}

// VerifyCode godoc
// @ID          verifyCode
// @Summary     Check a verification code
// @Description Checks the code for the caller's pending session and marks the messenger verified on the profile.
// @Tags        Verification
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.VerifyCodeRequest  true  "Recipient and code"
//
// @Success     200  {object}  handlers.VerifyCodeResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed or incorrect code"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "No active code"
// @Failure     409  {object}  handlers.ErrorResponse  "Telegram code not delivered yet"
// @Failure     410  {object}  handlers.ErrorResponse  "Code expired"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many attempts"
// @Failure     500  {object}  handlers.ErrorResponse  "Profile update failed"
// @Router      /phone-verification/verify-code [post]
func (h *Handlers) VerifyCode(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	var req VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		code, msg := bindingMessage(err)
		fail(c, http.StatusBadRequest, code, msg)
		return
	}
	ch, recipient, err := channelFor(req.Messenger, req.Phone, req.Handle)
	if err != nil {
		verificationFailure(c, err)
		return
	}
	if strings.TrimSpace(recipient) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone or handle is required")
		return
	}

	v, err := h.verifySvc.VerifyCode(c.Request.Context(), uid, ch, recipient, req.Code)
	if err != nil {
		verificationFailure(c, err)
		return
	}
	ok(c, http.StatusOK, VerifyCodeResponse{
		Success:   true,
		Message:   channelTitle(v.Channel) + " verified",
		Verified:  true,
		Messenger: string(v.Channel),
	})
}

// VerificationStatus godoc
// @ID          verificationStatus
// @Summary     Verification status
// @Description Returns the caller's verification flags and the number of codes currently in flight.
// @Tags        Verification
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  services.Status
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /phone-verification/status [get]
func (h *Handlers) VerificationStatus(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	st, err := h.verifySvc.Status(c.Request.Context(), uid)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load verification status")
		return
	}
	ok(c, http.StatusOK, st)
}

// TelegramStatus godoc
// @ID          telegramVerificationStatus
// @Summary     Telegram handshake status
// @Description Reports whether the code for the caller's pending Telegram handshake has been delivered.
// @Tags        Telegram
// @Produce     json
// @Security    BearerAuth
//
// @Param       handle  query  string  true  "Telegram username"  example(alice_art)
//
// @Success     200  {object}  handlers.TelegramStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing or invalid handle"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     404  {object}  handlers.ErrorResponse  "No pending handshake"
// @Failure     410  {object}  handlers.ErrorResponse  "Handshake expired"
// @Router      /telegram/verification-status [get]
func (h *Handlers) TelegramStatus(c *gin.Context) {
	uid, okUser := requireUser(c)
	if !okUser {
		return
	}
	st, err := h.verifySvc.TelegramStatus(c.Request.Context(), uid, c.Query("handle"))
	if err != nil {
		verificationFailure(c, err)
		return
	}
	ok(c, http.StatusOK, TelegramStatusResponse{Handle: st.Handle, Delivered: st.Delivered, ExpiresAt: st.ExpiresAt})
}
