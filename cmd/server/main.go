// Command server runs the Anirum verification and tagging API and its
// operational subcommands.
//
//	@title                      Anirum Verification & Tagging API
//	@version                    1.0
//	@description                Messenger verification (WhatsApp, Telegram) and guide tagging for the Anirum CMS.
//	@BasePath                   /api
//	@securityDefinitions.apikey BearerAuth
//	@in                         header
//	@name                       Authorization
//	@description                Type "Bearer" followed by a space and the JWT.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "anirum-backend",
		Short:         "Messenger verification and guide tagging service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env-file", "", "dotenv file to load before reading the environment (default .env)")

	// Without a subcommand the server runs.
	serve := newServeCmd()
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		newWebhookCmd(),
		newTagsCmd(),
		newTokenCmd(),
	)
	return root
}
