package handlers

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatstat/internal/config"
	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/stats"
)

// StatsComputer computes the statistics report for a date range.
type StatsComputer interface {
	Compute(ctx context.Context, rng database.DateRange) (*stats.Report, error)
}

// MessagePublisher receives chat messages seen by the bot.
type MessagePublisher interface {
	Publish(ctx context.Context, msg *models.Message) error
}

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger      *slog.Logger
	Config      *config.Config
	Stats       StatsComputer
	Publisher   MessagePublisher
	BotUsername string
}
