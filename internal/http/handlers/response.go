// Package handlers provides HTTP handler implementations for the public API.
//
// Every failure is written as an ErrorResponse with a stable `code`. Failures
// of the verification flows also carry `details`, so clients can render a
// countdown or the number of attempts left without parsing the message.
//
// Example verification failure:
//
//	HTTP/1.1 400 Bad Request
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "invalid_code",
//	  "message": "the code is incorrect; 2 attempts remaining",
//	  "details": { "messenger": "whatsapp", "attempts_remaining": 2 }
//	}
//
// Example throttled request (Retry-After: 42 is also set):
//
//	HTTP/1.1 429 Too Many Requests
//	{
//	  "code": "resend_too_soon",
//	  "message": "please wait 42 seconds before requesting a new code",
//	  "details": { "messenger": "whatsapp", "retry_after_seconds": 42 }
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/anirum-backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"code_not_found"`
	// Human-readable message (safe to show to users)
	Message string        `json:"message" example:"request a new code"`
	Details *ErrorDetails `json:"details,omitempty"`
}

// ErrorDetails carries the structured part of a verification failure. Only
// the fields relevant to the failure are set.
type ErrorDetails struct {
	Messenger         string `json:"messenger,omitempty"           example:"whatsapp"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"  example:"2"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty" example:"42"`
	// DeliveryReason is the provider failure class, e.g. recipient_blocked.
	DeliveryReason string `json:"delivery_reason,omitempty" example:"recipient_not_found"`
}

// fail aborts the request with a structured error. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, code, msg, nil)
}

func failWith(c *gin.Context, status int, code, msg string, details *ErrorDetails) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get(middleware.HeaderRequestID),
		Code:      code,
		Message:   msg,
		Details:   details,
	})
}

// Fail is the exported variant of fail, used by the router for NoRoute and
// NoMethod.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
