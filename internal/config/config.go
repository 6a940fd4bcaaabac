// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server, logging,
// database, verification, messenger gateway, tagging and observability settings.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Session store backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendSQLite = "sqlite"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig holds bearer-token settings.
type AuthConfig struct {
	JWTSecret string // JWT_SECRET (HS256)
	JWTIssuer string // JWT_ISSUER, checked when non-empty
}

// VerificationConfig controls the lifetime and limits of verification sessions.
type VerificationConfig struct {
	CodeTTL        time.Duration // VERIFICATION_CODE_TTL
	ResendWindow   time.Duration // VERIFICATION_RESEND_WINDOW
	MaxAttempts    int           // VERIFICATION_MAX_ATTEMPTS
	BcryptCost     int           // VERIFICATION_BCRYPT_COST
	SweepInterval  time.Duration // VERIFICATION_SWEEP_INTERVAL
	SessionBackend string        // VERIFICATION_SESSION_BACKEND: memory|sqlite
}

// WhatsAppConfig holds Green API credentials.
type WhatsAppConfig struct {
	APIURL        string // GREEN_API_URL
	IDInstance    string // GREEN_API_ID_INSTANCE
	TokenInstance string // GREEN_API_TOKEN_INSTANCE
}

// Configured reports whether both credentials are present.
func (w WhatsAppConfig) Configured() bool {
	return strings.TrimSpace(w.IDInstance) != "" && strings.TrimSpace(w.TokenInstance) != ""
}

// TelegramConfig holds bot credentials and webhook settings.
type TelegramConfig struct {
	BotToken       string // TELEGRAM_BOT_TOKEN
	BotUsername    string // TELEGRAM_BOT_USERNAME (without '@')
	APIEndpoint    string // TELEGRAM_API_ENDPOINT, "" means the library default
	WebhookURL     string // TELEGRAM_WEBHOOK_URL
	WebhookSecret  string // TELEGRAM_WEBHOOK_SECRET
	ManualFallback bool   // TELEGRAM_MANUAL_FALLBACK
}

// TaggingConfig holds OpenAI and batch settings for tag generation.
type TaggingConfig struct {
	OpenAIKey     string        // OPENAI_API_KEY
	OpenAIBaseURL string        // OPENAI_BASE_URL
	ImageModel    string        // OPENAI_IMAGE_MODEL
	TextModel     string        // OPENAI_TEXT_MODEL
	Timeout       time.Duration // OPENAI_TIMEOUT
	BatchSize     int           // TAGGING_BATCH_SIZE
	BatchDelay    time.Duration // TAGGING_BATCH_DELAY
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig
	Auth     AuthConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Verification and messengers
	Verification     VerificationConfig
	WhatsApp         WhatsAppConfig
	Telegram         TelegramConfig
	MessengerTimeout time.Duration // MESSENGER_TIMEOUT, per outbound call

	// Tagging
	Tagging TaggingConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		DBPath: getenv("DB_PATH", "anirum.db"),

		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		Auth: AuthConfig{
			JWTSecret: getenv("JWT_SECRET", ""),
			JWTIssuer: getenv("JWT_ISSUER", ""),
		},

		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Verification: VerificationConfig{
			CodeTTL:        getdur("VERIFICATION_CODE_TTL", 5*time.Minute),
			ResendWindow:   getdur("VERIFICATION_RESEND_WINDOW", time.Minute),
			MaxAttempts:    getint("VERIFICATION_MAX_ATTEMPTS", 3),
			BcryptCost:     getint("VERIFICATION_BCRYPT_COST", bcrypt.DefaultCost),
			SweepInterval:  getdur("VERIFICATION_SWEEP_INTERVAL", time.Minute),
			SessionBackend: strings.ToLower(strings.TrimSpace(getenv("VERIFICATION_SESSION_BACKEND", SessionBackendMemory))),
		},
		WhatsApp: WhatsAppConfig{
			APIURL:        getenv("GREEN_API_URL", "https://api.green-api.com"),
			IDInstance:    getenv("GREEN_API_ID_INSTANCE", ""),
			TokenInstance: getenv("GREEN_API_TOKEN_INSTANCE", ""),
		},
		Telegram: TelegramConfig{
			BotToken:       getenv("TELEGRAM_BOT_TOKEN", ""),
			BotUsername:    strings.TrimPrefix(strings.TrimSpace(getenv("TELEGRAM_BOT_USERNAME", "")), "@"),
			APIEndpoint:    getenv("TELEGRAM_API_ENDPOINT", ""),
			WebhookURL:     getenv("TELEGRAM_WEBHOOK_URL", ""),
			WebhookSecret:  getenv("TELEGRAM_WEBHOOK_SECRET", ""),
			ManualFallback: getbool("TELEGRAM_MANUAL_FALLBACK", false),
		},
		MessengerTimeout: getdur("MESSENGER_TIMEOUT", 10*time.Second),

		Tagging: TaggingConfig{
			OpenAIKey:     getenv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: strings.TrimRight(getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
			ImageModel:    getenv("OPENAI_IMAGE_MODEL", "gpt-5-nano"),
			TextModel:     getenv("OPENAI_TEXT_MODEL", "gpt-5-nano"),
			Timeout:       getdur("OPENAI_TIMEOUT", 30*time.Second),
			BatchSize:     getint("TAGGING_BATCH_SIZE", 5),
			BatchDelay:    getdur("TAGGING_BATCH_DELAY", time.Second),
		},

		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "anirum-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.GinMode != "test" && strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET must not be empty")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if err := cfg.Verification.validate(); err != nil {
		return cfg, err
	}
	if cfg.MessengerTimeout <= 0 {
		return cfg, errors.New("MESSENGER_TIMEOUT must be > 0")
	}
	if cfg.Tagging.Timeout <= 0 {
		return cfg, errors.New("OPENAI_TIMEOUT must be > 0")
	}
	if cfg.Tagging.BatchSize < 1 {
		return cfg, errors.New("TAGGING_BATCH_SIZE must be >= 1")
	}
	if cfg.Tagging.BatchDelay < 0 {
		return cfg, errors.New("TAGGING_BATCH_DELAY must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

func (v VerificationConfig) validate() error {
	if v.CodeTTL <= 0 {
		return errors.New("VERIFICATION_CODE_TTL must be > 0")
	}
	if v.ResendWindow < 0 {
		return errors.New("VERIFICATION_RESEND_WINDOW must be >= 0")
	}
	if v.MaxAttempts < 1 {
		return errors.New("VERIFICATION_MAX_ATTEMPTS must be >= 1")
	}
	if v.BcryptCost < bcrypt.MinCost || v.BcryptCost > bcrypt.MaxCost {
		return errors.New("VERIFICATION_BCRYPT_COST must be between 4 and 31")
	}
	if v.SweepInterval <= 0 {
		return errors.New("VERIFICATION_SWEEP_INTERVAL must be > 0")
	}
	switch v.SessionBackend {
	case SessionBackendMemory, SessionBackendSQLite:
	default:
		return errors.New("VERIFICATION_SESSION_BACKEND must be one of: memory, sqlite")
	}
	return nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
