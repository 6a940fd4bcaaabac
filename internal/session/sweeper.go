package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tbourn/anirum-backend/internal/observability"
)

// Sweepable is the part of Store the Sweeper needs.
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper periodically evicts expired sessions from one or more stores.
type Sweeper struct {
	cron    *cron.Cron
	targets map[string]Sweepable
	log     zerolog.Logger
}

// NewSweeper schedules a sweep of every target at the given interval. The
// schedule does not start until Start is called.
func NewSweeper(interval time.Duration, logger zerolog.Logger, targets map[string]Sweepable) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	s := &Sweeper{
		cron:    cron.New(),
		targets: targets,
		log:     logger.With().Str("component", "session_sweeper").Logger(),
	}
	if _, err := s.cron.AddFunc("@every "+interval.String(), func() { s.SweepNow(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return s, nil
}

// SweepNow runs one sweep over all targets and returns the total evicted.
func (s *Sweeper) SweepNow(ctx context.Context) int {
	names := make([]string, 0, len(s.targets))
	for name := range s.targets {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 0
	for _, name := range names {
		n, err := s.targets[name].Sweep(ctx)
		if err != nil {
			s.log.Error().Err(err).Str("store", name).Msg("session sweep failed")
			continue
		}
		if n > 0 {
			observability.SessionsSwept.WithLabelValues(name).Add(float64(n))
			s.log.Debug().Str("store", name).Int("evicted", n).Msg("expired sessions swept")
		}
		total += n
	}
	return total
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep, or ctx, to finish.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
