package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/anirum-backend/internal/config"
	httpapi "github.com/tbourn/anirum-backend/internal/http"
	"github.com/tbourn/anirum-backend/internal/messenger"
	"github.com/tbourn/anirum-backend/internal/repo"
	"github.com/tbourn/anirum-backend/internal/session"
	"github.com/tbourn/anirum-backend/internal/sysutil"
	"github.com/tbourn/anirum-backend/internal/tagging"
	"github.com/tbourn/anirum-backend/internal/verification"
)

// bootstrap loads the dotenv file (a missing default file is fine), reads the
// configuration and installs the global logger.
func bootstrap(cmd *cobra.Command) (config.Config, error) {
	explicit, _ := cmd.Flags().GetString("env-file")
	path := sysutil.FirstNonEmpty(explicit, os.Getenv("ENV_FILE"), ".env")
	if err := godotenv.Load(path); err != nil {
		if explicit != "" || !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	sysutil.SetLogLevel(cfg.LogLevel)
	sysutil.ConfigureLogger(os.Stderr, cfg.LogPretty, cfg.OTEL.ServiceName)
	return cfg, nil
}

// openDB opens and migrates the SQLite database.
func openDB(cfg config.Config) (*gorm.DB, error) {
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// sweepFunc adapts a plain function to session.Sweepable.
type sweepFunc func(ctx context.Context) (int, error)

func (f sweepFunc) Sweep(ctx context.Context) (int, error) { return f(ctx) }

// components is everything built from configuration that outlives a request.
type components struct {
	deps     httpapi.Deps
	telegram *messenger.Telegram
	sweep    map[string]session.Sweepable
}

func sessionStores(cfg config.Config, db *gorm.DB) (session.Store[verification.DirectPayload], session.Store[verification.HandshakePayload]) {
	if cfg.Verification.SessionBackend == config.SessionBackendSQLite {
		return repo.NewSessionStore[verification.DirectPayload](db, "whatsapp", nil),
			repo.NewSessionStore[verification.HandshakePayload](db, "telegram", nil)
	}
	return session.NewMemoryStore[verification.DirectPayload](nil),
		session.NewMemoryStore[verification.HandshakePayload](nil)
}

// buildComponents wires gateways, flows and the tagging pipeline. A messenger
// without credentials is left out and its channel reports unsupported.
func buildComponents(cfg config.Config, db *gorm.DB) components {
	policy := verification.Policy{
		TTL:          cfg.Verification.CodeTTL,
		ResendWindow: cfg.Verification.ResendWindow,
		MaxAttempts:  cfg.Verification.MaxAttempts,
	}
	opts := []verification.Option{
		verification.WithHasher(verification.BcryptHasher{Cost: cfg.Verification.BcryptCost}),
		verification.WithLogger(log.Logger),
	}
	directStore, handshakeStore := sessionStores(cfg, db)

	c := components{sweep: map[string]session.Sweepable{
		"idempotency": sweepFunc(func(ctx context.Context) (int, error) {
			n, err := repo.PurgeIdempotency(ctx, db, time.Now().UTC())
			return int(n), err
		}),
	}}

	if cfg.WhatsApp.Configured() {
		wa := messenger.NewWhatsApp(cfg.WhatsApp, cfg.MessengerTimeout)
		c.deps.Direct = verification.NewDirectFlow(directStore, policy, []messenger.Gateway{wa}, opts...)
		c.sweep["whatsapp"] = directStore
	} else {
		log.Warn().Msg("GREEN_API credentials not set; WhatsApp verification disabled")
	}

	if cfg.Telegram.BotToken != "" {
		c.telegram = messenger.NewTelegram(cfg.Telegram, cfg.MessengerTimeout)
		c.deps.Handshake = verification.NewHandshakeFlow(handshakeStore, c.telegram, policy, verification.HandshakeConfig{
			BotUsername:    cfg.Telegram.BotUsername,
			ManualFallback: cfg.Telegram.ManualFallback,
		}, opts...)
		c.sweep["telegram"] = handshakeStore
		if cfg.Telegram.WebhookSecret == "" {
			log.Warn().Msg("TELEGRAM_WEBHOOK_SECRET not set; webhook accepts unauthenticated updates")
		}
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set; Telegram verification disabled")
	}

	if cfg.Tagging.OpenAIKey != "" {
		oa := tagging.NewOpenAITagger(cfg.Tagging)
		c.deps.Tagger = tagging.NewPipeline(oa, oa, log.Logger)
	} else {
		log.Warn().Msg("OPENAI_API_KEY not set; guides keep manual tags only")
	}
	return c
}
