package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/anirum-backend/internal/config"
	"github.com/tbourn/anirum-backend/internal/messenger"
)

var errNoBotToken = errors.New("TELEGRAM_BOT_TOKEN is not set")

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram bot webhook",
	}
	cmd.AddCommand(newWebhookSetCmd(), newWebhookInfoCmd())
	return cmd
}

func telegramFromConfig(cfg config.Config) (*messenger.Telegram, error) {
	if cfg.Telegram.BotToken == "" {
		return nil, errNoBotToken
	}
	return messenger.NewTelegram(cfg.Telegram, cfg.MessengerTimeout), nil
}

func newWebhookSetCmd() *cobra.Command {
	var hookURL string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Register the webhook URL with Telegram",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			tg, err := telegramFromConfig(cfg)
			if err != nil {
				return err
			}
			target := hookURL
			if target == "" {
				target = cfg.Telegram.WebhookURL
			}
			if target == "" {
				return errors.New("no webhook url: pass --url or set TELEGRAM_WEBHOOK_URL")
			}
			if err := tg.SetWebhook(cmd.Context(), target, cfg.Telegram.WebhookSecret); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&hookURL, "url", "", "webhook URL (default TELEGRAM_WEBHOOK_URL)")
	return cmd
}

func newWebhookInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the webhook Telegram has on file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			tg, err := telegramFromConfig(cfg)
			if err != nil {
				return err
			}
			st, err := tg.WebhookInfo(cmd.Context())
			if err != nil {
				return err
			}
			bot, err := tg.Bot()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "bot:             @%s (id %d)\n", bot.Self.UserName, bot.Self.ID)
			fmt.Fprintf(out, "url:             %s\n", st.URL)
			fmt.Fprintf(out, "pending updates: %d\n", st.PendingUpdates)
			if !st.LastErrorAt.IsZero() {
				fmt.Fprintf(out, "last error:      %s (%s)\n", st.LastErrorMessage, st.LastErrorAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}
