// Package bot runs the long-lived service: the Telegram listener, live
// ingestion of the tracked chat, the task scheduler, and the metrics endpoint.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/ingest"
	"github.com/edgard/chatstat/internal/metrics"
	"github.com/edgard/chatstat/internal/source"
)

// liveRetryDelay separates attempts to resume live ingestion after a
// transient failure.
const liveRetryDelay = 30 * time.Second

// Listener receives updates until its context is cancelled.
type Listener interface {
	Start(ctx context.Context)
}

// Ingester runs one ingestion pass.
type Ingester interface {
	Ingest(ctx context.Context, adapter source.Adapter, chatID int64, rng database.DateRange) (*ingest.Result, error)
}

// Bot owns the lifecycle of the service components.
type Bot struct {
	logger      *slog.Logger
	listener    Listener
	ingester    Ingester
	live        source.Adapter
	chatID      int64
	scheduler   *Scheduler
	metrics     *metrics.Metrics
	metricsAddr string
	retryDelay  time.Duration
}

// Option configures optional Bot components.
type Option func(*Bot)

// WithMetricsServer exposes m on addr while the bot runs. An empty addr
// disables the endpoint.
func WithMetricsServer(m *metrics.Metrics, addr string) Option {
	return func(b *Bot) {
		b.metrics = m
		b.metricsAddr = addr
	}
}

// WithRetryDelay overrides the pause before live ingestion is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Bot) { b.retryDelay = d }
}

// NewBot wires the components. live is the source fed by the listener and
// chatID the chat it tracks.
func NewBot(
	logger *slog.Logger,
	listener Listener,
	ingester Ingester,
	live source.Adapter,
	chatID int64,
	scheduler *Scheduler,
	opts ...Option,
) *Bot {
	b := &Bot{
		logger:     logger.With("component", "bot_orchestrator"),
		listener:   listener,
		ingester:   ingester,
		live:       live,
		chatID:     chatID,
		scheduler:  scheduler,
		retryDelay: liveRetryDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting Telegram bot listener...")
		b.listener.Start(gCtx)
		b.logger.Info("Telegram bot listener stopped.")

		if gCtx.Err() == nil {
			b.logger.Warn("Telegram bot listener stopped unexpectedly without context cancellation.")
			return fmt.Errorf("telegram listener stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		return b.runLiveIngest(gCtx)
	})

	if b.scheduler != nil {
		g.Go(func() error {
			b.logger.Info("Starting scheduler...")
			if err := b.scheduler.Start(gCtx); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			<-gCtx.Done()
			b.logger.Info("Shutdown signal received, stopping scheduler...")
			if err := b.scheduler.Stop(); err != nil {
				b.logger.Error("Error stopping scheduler", "error", err)
			}
			return nil
		})
	}

	if b.metrics != nil && b.metricsAddr != "" {
		g.Go(func() error {
			return b.metrics.Serve(gCtx, b.metricsAddr, b.logger)
		})
	}

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

// runLiveIngest keeps the live source draining into the store. Transient
// failures are retried; a denied chat stops the bot.
func (b *Bot) runLiveIngest(ctx context.Context) error {
	log := b.logger.With("chat_id", b.chatID)
	for {
		res, err := b.ingester.Ingest(ctx, b.live, b.chatID, database.DateRange{})
		switch {
		case err == nil:
			log.Info("Live ingestion stream ended", "inserted", res.Inserted)
			return nil
		case ctx.Err() != nil:
			if res != nil {
				log.Info("Live ingestion stopped", "inserted", res.Inserted)
			}
			return nil
		case errors.Is(err, ingest.ErrAccessDenied):
			return fmt.Errorf("live ingestion cannot access chat %d: %w", b.chatID, err)
		}

		log.Warn("Live ingestion interrupted, retrying", "error", err, "retry_in", b.retryDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.retryDelay):
		}
	}
}
