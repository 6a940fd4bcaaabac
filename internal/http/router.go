// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Verification endpoints are never cached and never sent twice on retry
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/anirum-backend/internal/config"
	"github.com/tbourn/anirum-backend/internal/domain"
	"github.com/tbourn/anirum-backend/internal/http/handlers"
	"github.com/tbourn/anirum-backend/internal/http/middleware"
	"github.com/tbourn/anirum-backend/internal/repo"
	"github.com/tbourn/anirum-backend/internal/services"
	"github.com/tbourn/anirum-backend/internal/tagging"
	"github.com/tbourn/anirum-backend/internal/verification"
)

// profileRepoShim adapts the repository free functions to the
// services.ProfileRepo interface expected by the VerificationService.
type profileRepoShim struct{}

// GetOrEmptyProfile proxies repo.GetOrEmptyProfile.
func (profileRepoShim) GetOrEmptyProfile(ctx context.Context, db *gorm.DB, userID string) (*domain.Profile, error) {
	return repo.GetOrEmptyProfile(ctx, db, userID)
}

// MarkWhatsAppVerified proxies repo.MarkWhatsAppVerified.
func (profileRepoShim) MarkWhatsAppVerified(ctx context.Context, db *gorm.DB, userID, phone string) error {
	return repo.MarkWhatsAppVerified(ctx, db, userID, phone)
}

// MarkTelegramVerified proxies repo.MarkTelegramVerified.
func (profileRepoShim) MarkTelegramVerified(ctx context.Context, db *gorm.DB, userID, handle, chatID string) error {
	return repo.MarkTelegramVerified(ctx, db, userID, handle, chatID)
}

// guideRepoShim adapts the repository free functions to services.GuideRepo.
type guideRepoShim struct{}

// CreateGuide proxies repo.CreateGuide.
func (guideRepoShim) CreateGuide(ctx context.Context, db *gorm.DB, g *domain.Guide) error {
	return repo.CreateGuide(ctx, db, g)
}

// GetGuide proxies repo.GetGuide.
func (guideRepoShim) GetGuide(ctx context.Context, db *gorm.DB, id string) (*domain.Guide, error) {
	return repo.GetGuide(ctx, db, id)
}

// UpdateGuideTags proxies repo.UpdateGuideTags.
func (guideRepoShim) UpdateGuideTags(ctx context.Context, db *gorm.DB, id string, tags []string) error {
	return repo.UpdateGuideTags(ctx, db, id, tags)
}

// ListGuidesForTagging proxies repo.ListGuidesForTagging.
func (guideRepoShim) ListGuidesForTagging(ctx context.Context, db *gorm.DB, userID string, untaggedOnly bool) ([]domain.Guide, error) {
	return repo.ListGuidesForTagging(ctx, db, userID, untaggedOnly)
}

// PopularTags proxies repo.PopularTags.
func (guideRepoShim) PopularTags(ctx context.Context, db *gorm.DB, limit int) ([]domain.TagCount, error) {
	return repo.PopularTags(ctx, db, limit)
}

// Deps carries the components built outside the HTTP layer. Direct and
// Handshake may be nil when their messenger is not configured; Tagger may be
// nil to keep only manual tags.
type Deps struct {
	Direct    *verification.DirectFlow
	Handshake *verification.HandshakeFlow
	Tagger    *tagging.Pipeline
}

// NewGuideService builds the guide service over db the same way the router
// does, for callers outside HTTP (the backfill command).
func NewGuideService(db *gorm.DB, tagger *tagging.Pipeline) *services.GuideService {
	return services.NewGuideService(db, guideRepoShim{}, tagger)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), CORS and security
// headers, health and metrics endpoints, and then mounts the API under
// cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with phone/code/handle scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS, security headers and compression
//
// Per group, after routing:
//  8. Auth (bearer JWT) on user endpoints
//  9. Idempotency (before rate limiter so a replay skips the bucket)
//  10. Rate limiter (per user, or per IP on public endpoints)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Deps, cfg config.Config) error {
	r.HandleMethodNotAllowed = true

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		if err := handlers.RegisterValidators(v); err != nil {
			return fmt.Errorf("register validators: %w", err)
		}
	}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{handlers.HeaderTelegramSecret},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics("/metrics", "/health"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderIdempotencyKey, middleware.HeaderRequestID,
	}
	exposeHeaders := []string{
		middleware.HeaderRequestID, "Retry-After", middleware.HeaderIdempotencyReplayed, "Content-Length",
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS).
	// Anything carrying codes or verification state is marked no-store.
	base := cfg.APIBasePath
	if base == "/" {
		base = ""
	}
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{base + "/phone-verification", base + "/telegram"},
		EnablePolicy:    true,
	}))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/flows
	verifySvc := services.NewVerificationService(db, profileRepoShim{}, deps.Direct, deps.Handshake)
	guideSvc := NewGuideService(db, deps.Tagger)
	h := handlers.New(verifySvc, guideSvc, cfg.Telegram.WebhookSecret)

	api := groupWithPrefix(r, cfg.APIBasePath)

	// Public endpoints: the Telegram webhook and read-only tag stats.
	public := api.Group("")
	public.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).Handler())
	{
		public.POST("/telegram/webhook", h.TelegramWebhook)
		public.GET("/guides/popular-tags", h.PopularTags)
	}

	// Authenticated endpoints.
	user := api.Group("")
	user.Use(
		middleware.Auth(middleware.AuthOptions{Secret: cfg.Auth.JWTSecret, Issuer: cfg.Auth.JWTIssuer}),
		middleware.Idempotency(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(db), idempotencySave(db, cfg.IdempotencyTTL)),
		middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).Handler(),
	)
	{
		// Verification
		user.POST("/phone-verification/send-code", h.SendCode)
		user.POST("/phone-verification/verify-code", h.VerifyCode)
		user.GET("/phone-verification/status", h.VerificationStatus)
		user.GET("/telegram/verification-status", h.TelegramStatus)

		// Guides
		user.POST("/guides", h.CreateGuide)
		user.POST("/guides/:id/retag", h.RetagGuide)
	}
	return nil
}

// idempotencyLookup reads stored responses from the idempotency table.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, scope, key string, now time.Time) (middleware.StoredResponse, bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return middleware.StoredResponse{}, false, nil
		}
		if err != nil || rec == nil {
			return middleware.StoredResponse{}, false, err
		}
		return middleware.StoredResponse{Status: rec.Status, Body: rec.Body}, true, nil
	}
}

// idempotencySave stores a response for ttl. A concurrent duplicate is not
// an error: the first stored response wins.
func idempotencySave(db *gorm.DB, ttl time.Duration) middleware.IdempotencySave {
	return func(ctx context.Context, userID, scope, key string, status int, body []byte) error {
		_, err := repo.CreateIdempotency(ctx, db, userID, scope, key, status, body, ttl)
		if errors.Is(err, repo.ErrDuplicate) {
			return nil
		}
		return err
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
