package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/chatstat/internal/config"
	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/logger"
	"github.com/edgard/chatstat/internal/metrics"
	"github.com/edgard/chatstat/internal/report"
	"github.com/edgard/chatstat/internal/stats"
	"github.com/edgard/chatstat/internal/tokenize"
)

// errUsage marks errors caused by bad arguments rather than failures.
var errUsage = errors.New("invalid arguments")

// setup loads the .env file and the configuration, then installs the logger.
func setup(g *GlobalFlags) (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(g.EnvFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Debug("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)
	return cfg, log, nil
}

// openStore opens the database selected by --db, or the configured one for chatID.
func openStore(g *GlobalFlags, cfg *config.Config, chatID int64, log *slog.Logger) (*sqlx.DB, database.Store, error) {
	path := g.DB
	if path == "" {
		path = cfg.DatabasePath(chatID)
	}
	db, err := database.NewDB(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return db, database.NewStore(db, log), nil
}

func parseRange(from, to string) (database.DateRange, error) {
	rng, err := database.ParseDateRange(from, to)
	if err != nil {
		return database.DateRange{}, fmt.Errorf("%w: %w", errUsage, err)
	}
	return rng, nil
}

func newEngine(store database.Store, cfg *config.Config, log *slog.Logger, m *metrics.Metrics) *stats.Engine {
	return stats.NewEngine(store, tokenize.New(), log,
		stats.WithWorkers(cfg.Stats.Workers),
		stats.WithMetrics(m))
}

// writeReport renders rep as format to output, or to stdout when output is empty.
func writeReport(stdout io.Writer, rep *stats.Report, format, output string) (err error) {
	w := stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", output, err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("failed to close %s: %w", output, closeErr)
			}
		}()
		w = f
	}

	if format == "json" {
		return report.WriteJSON(w, rep)
	}
	return report.WriteText(w, rep)
}
