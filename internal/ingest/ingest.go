// Package ingest drives a source stream into the message store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/metrics"
	"github.com/edgard/chatstat/internal/source"
)

const (
	// DefaultBatchSize is the number of accepted messages per commit.
	DefaultBatchSize = 100
	// DefaultPause is the pacing pause taken after every commit.
	DefaultPause = 100 * time.Millisecond

	progressInterval = 1000
)

var (
	// ErrAccessDenied is returned when the chat cannot be reached. Nothing is written.
	ErrAccessDenied = errors.New("ingestion aborted: access denied")
	// ErrTransientFetch is returned when the source fails mid-stream. Batches
	// committed before the failure are kept and the result is marked partial.
	ErrTransientFetch = errors.New("ingestion aborted: transient fetch error")
)

// Sleeper suspends for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Result summarizes one ingestion run.
type Result struct {
	RunID  string `json:"run_id"`
	ChatID int64  `json:"chat_id"`

	Scanned    int `json:"scanned"`
	Accepted   int `json:"accepted"`
	Inserted   int `json:"inserted"`
	OutOfRange int `json:"out_of_range"`

	Batches        int           `json:"batches"`
	RateLimitWaits int           `json:"rate_limit_waits"`
	RateLimitTotal time.Duration `json:"rate_limit_total"`

	// Partial is set when the run stopped before the end of the stream.
	Partial bool `json:"partial"`
}

// Duplicates is the number of accepted messages that were already stored.
func (r *Result) Duplicates() int {
	return r.Accepted - r.Inserted
}

// Controller consumes one stream at a time and commits accepted messages in
// batches. It does not run streams concurrently.
type Controller struct {
	store   database.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	batchSize int
	pause     time.Duration
	sleep     Sleeper
}

// Option configures a Controller.
type Option func(*Controller)

// WithBatchSize sets the commit size. Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithPause sets the pacing pause taken after every commit.
func WithPause(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.pause = d
		}
	}
}

// WithSleeper replaces the function used for pacing and rate-limit waits.
func WithSleeper(s Sleeper) Option {
	return func(c *Controller) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithMetrics records run counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// New creates a Controller writing to store.
func New(store database.Store, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Controller{
		store:     store,
		logger:    logger.With("component", "ingest"),
		batchSize: DefaultBatchSize,
		pause:     DefaultPause,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ingest reads the whole history of chatID from adapter and stores every
// message inside rng. Every record is scanned because the adapter gives no
// ordering guarantee. Re-running only adds ids that are not stored yet.
//
// The returned Result is non-nil whenever the range was valid, including on
// error, so partial progress can be reported.
func (c *Controller) Ingest(ctx context.Context, adapter source.Adapter, chatID int64, rng database.DateRange) (*Result, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	res := &Result{RunID: uuid.NewString(), ChatID: chatID}
	log := c.logger.With("run_id", res.RunID, "chat_id", chatID, "range", rng.String())
	log.InfoContext(ctx, "Starting ingestion", "batch_size", c.batchSize, "pause", c.pause)

	if err := c.withRateLimit(ctx, log, res, func() error { return adapter.CheckAccess(ctx, chatID) }); err != nil {
		return res, c.classify(ctx, log, err)
	}

	var stream source.Stream
	if err := c.withRateLimit(ctx, log, res, func() error {
		var err error
		stream, err = adapter.History(ctx, chatID)
		return err
	}); err != nil {
		return res, c.classify(ctx, log, err)
	}

	pending := make([]database.Message, 0, c.batchSize)
	for {
		rec, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if rl, ok := source.AsRateLimit(err); ok {
				if err := c.waitRateLimit(ctx, log, res, rl); err != nil {
					return res, c.abort(ctx, log, res, pending, err)
				}
				continue
			}
			res.Partial = true
			if ctx.Err() != nil {
				return res, c.abort(ctx, log, res, pending, ctx.Err())
			}
			if flushErr := c.flush(ctx, log, res, pending); flushErr != nil {
				return res, errors.Join(flushErr, fmt.Errorf("%w: %w", ErrTransientFetch, err))
			}
			log.ErrorContext(ctx, "Source stream failed, keeping committed batches",
				"scanned", res.Scanned, "inserted", res.Inserted, "error", err)
			return res, fmt.Errorf("%w: %w", ErrTransientFetch, err)
		}

		res.Scanned++
		c.metrics.AddMessages(metrics.StageScanned, 1)
		if res.Scanned%progressInterval == 0 {
			log.InfoContext(ctx, "Ingestion progress", "scanned", res.Scanned, "accepted", res.Accepted, "inserted", res.Inserted)
		}

		if !rng.Contains(rec.Timestamp) {
			res.OutOfRange++
			c.metrics.AddMessages(metrics.StageOutOfRange, 1)
			continue
		}
		res.Accepted++
		c.metrics.AddMessages(metrics.StageAccepted, 1)

		pending = append(pending, rec.Message())
		if len(pending) < c.batchSize {
			continue
		}
		if err := c.flush(ctx, log, res, pending); err != nil {
			res.Partial = true
			return res, err
		}
		pending = pending[:0]
		if err := c.sleep(ctx, c.pause); err != nil {
			return res, c.abort(ctx, log, res, pending, err)
		}
	}

	if err := c.flush(ctx, log, res, pending); err != nil {
		res.Partial = true
		return res, err
	}

	log.InfoContext(ctx, "Ingestion finished",
		"scanned", res.Scanned,
		"accepted", res.Accepted,
		"inserted", res.Inserted,
		"duplicates", res.Duplicates(),
		"out_of_range", res.OutOfRange,
		"batches", res.Batches,
		"rate_limit_waits", res.RateLimitWaits)
	return res, nil
}

// abort commits the accepted records still pending when ingestion stops
// early. The commit ignores cancellation of ctx: a live stream cannot
// deliver those messages again.
func (c *Controller) abort(ctx context.Context, log *slog.Logger, res *Result, pending []database.Message, cause error) error {
	res.Partial = true
	if err := c.flush(context.WithoutCancel(ctx), log, res, pending); err != nil {
		return errors.Join(err, cause)
	}
	log.WarnContext(ctx, "Ingestion stopped early", "scanned", res.Scanned, "inserted", res.Inserted, "error", cause)
	return cause
}

func (c *Controller) flush(ctx context.Context, log *slog.Logger, res *Result, batch []database.Message) error {
	if len(batch) == 0 {
		return nil
	}
	inserted, err := c.store.SaveMessages(ctx, batch)
	if err != nil {
		log.ErrorContext(ctx, "Failed to commit batch", "size", len(batch), "error", err)
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	res.Inserted += inserted
	res.Batches++
	c.metrics.AddMessages(metrics.StageInserted, inserted)
	c.metrics.BatchCommitted()
	log.DebugContext(ctx, "Committed batch", "size", len(batch), "inserted", inserted)
	return nil
}

// withRateLimit runs call, waiting out and retrying every rate-limit signal.
func (c *Controller) withRateLimit(ctx context.Context, log *slog.Logger, res *Result, call func() error) error {
	for {
		err := call()
		rl, ok := source.AsRateLimit(err)
		if !ok {
			return err
		}
		if err := c.waitRateLimit(ctx, log, res, rl); err != nil {
			return err
		}
	}
}

func (c *Controller) waitRateLimit(ctx context.Context, log *slog.Logger, res *Result, rl *source.RateLimitError) error {
	res.RateLimitWaits++
	res.RateLimitTotal += rl.Wait
	c.metrics.RateLimited(rl.Wait)
	log.WarnContext(ctx, "Rate limited, waiting", "wait", rl.Wait)
	return c.sleep(ctx, rl.Wait)
}

// classify maps a failure before the first record to the run's error taxonomy.
func (c *Controller) classify(ctx context.Context, log *slog.Logger, err error) error {
	switch {
	case errors.Is(err, source.ErrAccessDenied):
		log.ErrorContext(ctx, "Chat access denied", "error", err)
		return fmt.Errorf("%w: %w", ErrAccessDenied, err)
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		log.ErrorContext(ctx, "Failed to open source stream", "error", err)
		return fmt.Errorf("%w: %w", ErrTransientFetch, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
