package main

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/anirum-backend/internal/http"
	"github.com/tbourn/anirum-backend/internal/tagging"
)

func newTagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Guide tagging maintenance",
	}
	cmd.AddCommand(newTagsBackfillCmd())
	return cmd
}

func newTagsBackfillCmd() *cobra.Command {
	var (
		userID    string
		force     bool
		batchSize int
		delay     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Generate tags for existing guides",
		Long: "Runs the tagging pipeline over stored guides in batches. Without --force only guides " +
			"that have no tags are processed; with --force existing tags are kept first and new ones appended.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("batch-size") {
				batchSize = cfg.Tagging.BatchSize
			}
			if !cmd.Flags().Changed("delay") {
				delay = cfg.Tagging.BatchDelay
			}

			comps := buildComponents(cfg, db)
			svc := httpapi.NewGuideService(db, comps.deps.Tagger)
			res, err := svc.Backfill(cmd.Context(), userID, tagging.BackfillOptions{
				Force:     force,
				BatchSize: batchSize,
				Delay:     delay,
			})
			if err != nil {
				return err
			}
			log.Info().Int("processed", res.Processed).Int("errors", res.Errors).Int("skipped", res.Skipped).
				Msg("tag backfill finished")

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only guides owned by this user id")
	cmd.Flags().BoolVar(&force, "force", false, "also process guides that already have tags")
	cmd.Flags().IntVar(&batchSize, "batch-size", 5, "guides tagged concurrently (default TAGGING_BATCH_SIZE)")
	cmd.Flags().DurationVar(&delay, "delay", time.Second, "pause between batches (default TAGGING_BATCH_DELAY)")
	return cmd
}
