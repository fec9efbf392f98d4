package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/chatstat/internal/bot/tasks"
	"github.com/edgard/chatstat/internal/config"
	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/ingest"
	"github.com/edgard/chatstat/internal/source"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type blockingListener struct{}

func (blockingListener) Start(ctx context.Context) { <-ctx.Done() }

type returningListener struct{}

func (returningListener) Start(context.Context) {}

// scriptedIngester returns the scripted errors in order, then blocks until
// the context is cancelled.
type scriptedIngester struct {
	errs  []error
	calls atomic.Int32
}

func (s *scriptedIngester) Ingest(ctx context.Context, _ source.Adapter, chatID int64, _ database.DateRange) (*ingest.Result, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) {
		return &ingest.Result{ChatID: chatID}, s.errs[n]
	}
	<-ctx.Done()
	return &ingest.Result{ChatID: chatID, Partial: true}, ctx.Err()
}

func TestBot_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ing := &scriptedIngester{errs: []error{ingest.ErrTransientFetch}}
	b := NewBot(discardLogger(), blockingListener{}, ing, nil, -1, nil, WithRetryDelay(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return ing.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestBot_RunFailsWhenListenerStops(t *testing.T) {
	t.Parallel()

	b := NewBot(discardLogger(), returningListener{}, &scriptedIngester{}, nil, -1, nil)
	err := b.Run(context.Background())
	assert.ErrorContains(t, err, "telegram listener stopped unexpectedly")
}

func TestBot_RunFailsOnAccessDenied(t *testing.T) {
	t.Parallel()

	ing := &scriptedIngester{errs: []error{ingest.ErrAccessDenied}}
	b := NewBot(discardLogger(), blockingListener{}, ing, nil, -1, nil)

	err := b.Run(context.Background())
	assert.ErrorIs(t, err, ingest.ErrAccessDenied)
}

func TestScheduler_RunsEnabledTasks(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	cfg := &config.SchedulerConfig{Tasks: map[string]config.TaskConfig{
		"tick":     {Enabled: true, Schedule: "* * * * * *"},
		"disabled": {Enabled: false, Schedule: "* * * * * *"},
		"unknown":  {Enabled: true, Schedule: "* * * * * *"},
	}}
	taskMap := map[string]tasks.ScheduledTaskFunc{
		"tick": func(context.Context) error {
			runs.Add(1)
			return nil
		},
		"disabled": func(context.Context) error {
			return errors.New("must not run")
		},
	}

	s, err := NewScheduler(discardLogger(), cfg, taskMap)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	assert.Equal(t, []string{"tick"}, s.Jobs())

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestScheduler_InvalidScheduleIsSkipped(t *testing.T) {
	t.Parallel()

	cfg := &config.SchedulerConfig{Tasks: map[string]config.TaskConfig{
		"broken": {Enabled: true, Schedule: "not a cron"},
	}}
	s, err := NewScheduler(discardLogger(), cfg, map[string]tasks.ScheduledTaskFunc{
		"broken": func(context.Context) error { return nil },
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Jobs())
	require.NoError(t, s.Stop())
}
