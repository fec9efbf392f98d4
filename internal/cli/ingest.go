package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/ingest"
	"github.com/edgard/chatstat/internal/metrics"
	"github.com/edgard/chatstat/internal/source/export"
)

// Execute implements the go-flags Commander interface for IngestCommand.
// A transient source failure keeps the committed batches and exits cleanly
// with a warning; access and argument errors fail the command.
func (c *IngestCommand) Execute(_ []string) error {
	rng, err := parseRange(c.From, c.To)
	if err != nil {
		return err
	}

	cfg, log, err := setup(c.globals)
	if err != nil {
		return err
	}
	ctx := c.env.ctx

	loc, err := cfg.ExportLocation()
	if err != nil {
		return err
	}
	adapter := export.New(c.Export, log, export.WithLocation(loc))
	chatID := c.Chat
	if chatID == 0 {
		if chatID, err = adapter.ChatID(ctx); err != nil {
			return fmt.Errorf("%w: %w", errUsage, err)
		}
	}

	db, store, err := openStore(c.globals, cfg, chatID, log)
	if err != nil {
		return err
	}
	defer database.CloseDB(db)

	m := metrics.New()
	controller := ingest.New(store, log,
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithPause(cfg.Ingest.Pause),
		ingest.WithMetrics(m))

	res, err := controller.Ingest(ctx, adapter, chatID, rng)
	if res != nil {
		printResult(c.env.stdout, res, rng)
	}
	switch {
	case errors.Is(err, ingest.ErrTransientFetch):
		log.Warn("Ingestion stopped early, committed batches were kept", "error", err)
		fmt.Fprintf(c.env.stdout, "WARNING: partial result, re-run to continue (%v)\n", err)
	case err != nil:
		return err
	}

	if !c.Analyze {
		return nil
	}

	rep, err := newEngine(store, cfg, log, m).Compute(ctx, rng)
	if err != nil {
		return fmt.Errorf("failed to compute statistics: %w", err)
	}
	return writeReport(c.env.stdout, rep, c.Format, c.Output)
}

func printResult(w io.Writer, res *ingest.Result, rng database.DateRange) {
	fmt.Fprintf(w, "Ingestion run %s, chat %d, range %s\n", res.RunID, res.ChatID, rng)
	fmt.Fprintf(w, "  scanned:          %d\n", res.Scanned)
	fmt.Fprintf(w, "  accepted:         %d\n", res.Accepted)
	fmt.Fprintf(w, "  inserted:         %d\n", res.Inserted)
	fmt.Fprintf(w, "  duplicates:       %d\n", res.Duplicates())
	fmt.Fprintf(w, "  out of range:     %d\n", res.OutOfRange)
	fmt.Fprintf(w, "  batches:          %d\n", res.Batches)
	fmt.Fprintf(w, "  rate-limit waits: %d (%s)\n", res.RateLimitWaits, res.RateLimitTotal)
}
