// Package tasks implements the bot's scheduled jobs: database maintenance
// and periodic import of a chat export.
package tasks

import (
	"context"
	"log/slog"

	"github.com/edgard/chatstat/internal/config"
	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/ingest"
	"github.com/edgard/chatstat/internal/source"
)

// Ingester runs one ingestion pass.
type Ingester interface {
	Ingest(ctx context.Context, adapter source.Adapter, chatID int64, rng database.DateRange) (*ingest.Result, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Ingester Ingester
	Config   *config.Config
}
