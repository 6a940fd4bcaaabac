package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	_ "github.com/tbourn/anirum-backend/docs"
	httpapi "github.com/tbourn/anirum-backend/internal/http"
	"github.com/tbourn/anirum-backend/internal/observability"
	"github.com/tbourn/anirum-backend/internal/session"
	"github.com/tbourn/anirum-backend/internal/sysutil"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	var registerWebhook bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownOTel(sctx); err != nil {
					log.Warn().Err(err).Msg("otel shutdown")
				}
			}()

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			comps := buildComponents(cfg, db)

			if registerWebhook && comps.telegram != nil && cfg.Telegram.WebhookURL != "" {
				if err := comps.telegram.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
					log.Error().Err(err).Msg("telegram webhook registration failed")
				} else {
					log.Info().Msg("telegram webhook registered")
				}
			}

			sweeper, err := session.NewSweeper(cfg.Verification.SweepInterval, log.Logger, comps.sweep)
			if err != nil {
				return err
			}
			sweeper.Start()
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				sweeper.Stop(sctx)
			}()

			gin.SetMode(cfg.GinMode)
			r := gin.New()
			if err := httpapi.RegisterRoutes(r, db, comps.deps, cfg); err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              net.JoinHostPort("", cfg.Port),
				Handler:           r,
				ReadTimeout:       cfg.ReadTimeout,
				ReadHeaderTimeout: cfg.ReadHeaderTimeout,
				WriteTimeout:      cfg.WriteTimeout,
				IdleTimeout:       cfg.IdleTimeout,
				MaxHeaderBytes:    cfg.MaxHeaderBytes,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Str("version", version).
					Str("sessions", cfg.Verification.SessionBackend).Msg("http server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err, ok := <-errCh:
				if ok {
					return fmt.Errorf("listen: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&registerWebhook, "register-webhook", sysutil.IsTruthy(os.Getenv("TELEGRAM_REGISTER_WEBHOOK")),
		"call setWebhook with TELEGRAM_WEBHOOK_URL on startup")
	return cmd
}
