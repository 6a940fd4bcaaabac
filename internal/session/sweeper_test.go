package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/anirum-backend/internal/observability"
)

type failingSweep struct{ calls int }

func (f *failingSweep) Sweep(context.Context) (int, error) {
	f.calls++
	return 0, errors.New("db locked")
}

func TestNewSweeper_RejectsNonPositiveInterval(t *testing.T) {
	_, err := NewSweeper(0, zerolog.Nop(), nil)
	require.Error(t, err)
	_, err = NewSweeper(-time.Second, zerolog.Nop(), nil)
	require.Error(t, err)
}

func TestSweeper_SweepNow(t *testing.T) {
	clk := newFakeClock()
	a := NewMemoryStore[payload](clk.Now)
	b := NewMemoryStore[payload](clk.Now)
	ctx := context.Background()

	_, err := a.Create(ctx, "a1", payload{Owner: "u1"}, time.Minute, nil)
	require.NoError(t, err)
	_, err = a.Create(ctx, "a2", payload{Owner: "u2"}, time.Hour, nil)
	require.NoError(t, err)
	_, err = b.Create(ctx, "b1", payload{Owner: "u3"}, time.Minute, nil)
	require.NoError(t, err)

	broken := &failingSweep{}
	s, err := NewSweeper(time.Minute, zerolog.Nop(), map[string]Sweepable{
		"sweeptest_a":      a,
		"sweeptest_b":      b,
		"sweeptest_broken": broken,
	})
	require.NoError(t, err)

	base := testutil.ToFloat64(observability.SessionsSwept.WithLabelValues("sweeptest_a"))

	assert.Equal(t, 0, s.SweepNow(ctx), "nothing expired yet")

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 2, s.SweepNow(ctx))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 2, broken.calls, "a failing store is retried on the next sweep")

	assert.Equal(t, base+1, testutil.ToFloat64(observability.SessionsSwept.WithLabelValues("sweeptest_a")))
}

func TestSweeper_StartStop(t *testing.T) {
	s, err := NewSweeper(time.Hour, zerolog.Nop(), map[string]Sweepable{})
	require.NoError(t, err)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err(), "stop returns without waiting for the deadline")
}
