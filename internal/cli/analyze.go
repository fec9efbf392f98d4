package cli

import (
	"fmt"

	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/metrics"
)

// Execute implements the go-flags Commander interface for AnalyzeCommand.
func (c *AnalyzeCommand) Execute(_ []string) error {
	rng, err := parseRange(c.From, c.To)
	if err != nil {
		return err
	}

	cfg, log, err := setup(c.globals)
	if err != nil {
		return err
	}

	chatID := c.Chat
	if chatID == 0 {
		chatID = cfg.Telegram.ChatID
	}
	if chatID == 0 && c.globals.DB == "" && cfg.Database.Path == "" {
		return fmt.Errorf("%w: --chat or --db is required", errUsage)
	}

	db, store, err := openStore(c.globals, cfg, chatID, log)
	if err != nil {
		return err
	}
	defer database.CloseDB(db)

	rep, err := newEngine(store, cfg, log, metrics.New()).Compute(c.env.ctx, rng)
	if err != nil {
		return fmt.Errorf("failed to compute statistics: %w", err)
	}

	if err := writeReport(c.env.stdout, rep, c.Format, c.Output); err != nil {
		return err
	}
	if c.Output != "" {
		log.Info("Report written", "path", c.Output, "format", c.Format)
	}
	return nil
}
