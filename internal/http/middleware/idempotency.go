// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for unsafe HTTP methods. A request
// carrying an Idempotency-Key header is scoped to (user, method + route, key).
// The first 2xx response for that scope is stored; a later request with the
// same scope is answered from the stored response without reaching the
// handler, and is marked with the Idempotency-Replayed header. This keeps a
// retried send-code request from sending a second message.
//
// Persistence is supplied by the caller through IdempotencyLookup and
// IdempotencySave, which must enforce the TTL themselves.
package middleware

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the canonical request header that clients use to
// convey an idempotency key for unsafe operations (e.g., POST).
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotencyReplayed is set to "true" on responses served from storage.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey     = "idem.key"
	ctxKeyIdemReplay  = "idem.replay"  // bool: true when a stored replay exists
	ctxKeyRateBypass  = "rate.bypass"  // bool: true to skip rate limiting
	ctxKeyIdemNoStore = "idem.nostore" // bool: true when the response must not be kept
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by Idempotency. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the request was answered from a stored response.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// SkipIdempotencyStore marks the current response as not replayable. Handlers
// call it when the body carries a secret that may be shown only once.
func SkipIdempotencyStore(c *gin.Context) {
	c.Set(ctxKeyIdemNoStore, true)
}

func storeSkipped(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemNoStore)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation for Idempotency.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative RFC7230-like
	// token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// StoredResponse is a response kept for replay.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyLookup returns the stored response for (userID, scope, key) if
// one is still valid at now. found=false with a nil error means "not stored".
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (resp StoredResponse, found bool, err error)

// IdempotencySave stores a completed response for (userID, scope, key).
type IdempotencySave func(ctx context.Context, userID, scope, key string, status int, body []byte) error

// Scope returns the idempotency scope of a request: its method and route
// template, e.g. "POST /api/v1/phone-verification/send-code".
func Scope(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return c.Request.Method + " " + path
}

// bodyRecorder tees the response body so it can be stored after the handler.
type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency validates the Idempotency-Key header on unsafe methods, replays
// stored responses and stores new 2xx responses.
//
// Behavior:
//   - Safe methods and requests without the header pass through untouched.
//   - An invalid header is rejected with 400 bad_idempotency_key.
//   - A stored response is written back with Idempotency-Replayed: true and
//     the chain is aborted; the replay flag also bypasses rate limiting.
//   - Responses marked with SkipIdempotencyStore are never stored.
//   - Lookup and save failures never fail the request.
//
// It must run after authentication so that the user id is known.
func Idempotency(opts IdempotencyOptions, lookup IdempotencyLookup, save IdempotencySave) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(HeaderRequestID),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		uid := userIDFromCtx(c)
		if uid == "" {
			c.Next()
			return
		}
		scope := Scope(c)
		ctx := c.Request.Context()

		if lookup != nil {
			resp, found, err := lookup(ctx, uid, scope, key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			}
			if found {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
				c.Header(HeaderIdempotencyReplayed, "true")
				c.Data(resp.Status, "application/json; charset=utf-8", resp.Body)
				c.Abort()
				return
			}
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		status := rec.Status()
		if save == nil || status < 200 || status >= 300 || storeSkipped(c) {
			return
		}
		if err := save(ctx, uid, scope, key, status, rec.buf.Bytes()); err != nil {
			LoggerFrom(c).Warn().Err(err).Msg("idempotency save failed")
		}
	}
}

// userIDFromCtx extracts the user identifier set by the Auth middleware, or
// "" for anonymous requests.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get(CtxUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
