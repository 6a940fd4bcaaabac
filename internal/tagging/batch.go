package tagging

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Item is a guide as seen by Backfill.
type Item struct {
	ID       string
	Title    string
	Body     string
	ImageURL string
	Tags     []string
}

// SaveFunc persists tags for the item with id.
type SaveFunc func(ctx context.Context, id string, tags []string) error

// BackfillOptions tunes Backfill. Zero values mean defaults.
type BackfillOptions struct {
	Force     bool          // regenerate even when an item already has tags
	BatchSize int           // items processed concurrently, default 5
	Delay     time.Duration // pause between batches
}

// BackfillResult counts what happened to each item.
type BackfillResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Skipped   int `json:"skipped"`
}

// sleep is a test seam.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backfill generates tags for items in batches. Items that already have tags
// are skipped unless opts.Force is set; items whose sources produce nothing are
// skipped; items whose sources all fail or whose save fails count as errors.
// Only context cancellation aborts the run.
func (p *Pipeline) Backfill(ctx context.Context, items []Item, save SaveFunc, opts BackfillOptions) (BackfillResult, error) {
	size := opts.BatchSize
	if size <= 0 {
		size = 5
	}
	var processed, failed, skipped atomic.Int64

	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(size)
		for _, it := range items[start:end] {
			g.Go(func() error {
				if !opts.Force && len(it.Tags) > 0 {
					skipped.Add(1)
					return nil
				}
				rep := p.Run(gctx, Input{ImageURL: it.ImageURL, Title: it.Title, Body: it.Body})
				switch {
				case len(rep.Tags) == 0 && rep.AllFailed():
					failed.Add(1)
				case len(rep.Tags) == 0:
					skipped.Add(1)
				default:
					if err := save(gctx, it.ID, rep.Tags); err != nil {
						p.log.Error().Err(err).Str("guide_id", it.ID).Msg("save generated tags")
						failed.Add(1)
						return nil
					}
					processed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
		p.log.Info().Int("batch", start/size+1).Int("batches", (len(items)+size-1)/size).Msg("tag backfill batch done")

		if err := ctx.Err(); err != nil {
			return result(&processed, &failed, &skipped), err
		}
		if end < len(items) {
			if err := sleep(ctx, opts.Delay); err != nil {
				return result(&processed, &failed, &skipped), err
			}
		}
	}
	return result(&processed, &failed, &skipped), nil
}

func result(processed, failed, skipped *atomic.Int64) BackfillResult {
	return BackfillResult{
		Processed: int(processed.Load()),
		Errors:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
}
