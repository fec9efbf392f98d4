package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/source/export"
)

const exportSyncTimeout = 30 * time.Minute

var errNoExportPath = errors.New("sync.export_path is not configured")

// newExportSyncTask re-reads the configured export file and stores any
// message not seen before. Exports are re-read whole on every run, so a
// file replaced by a newer export is picked up without a restart.
func newExportSyncTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "export_sync")

	return func(ctx context.Context) error {
		path := deps.Config.Sync.ExportPath
		if path == "" {
			return errNoExportPath
		}

		ctx, cancel := context.WithTimeout(ctx, exportSyncTimeout)
		defer cancel()

		loc, err := deps.Config.ExportLocation()
		if err != nil {
			return err
		}
		adapter := export.New(path, deps.Logger, export.WithLocation(loc))
		chatID := deps.Config.Telegram.ChatID
		if chatID == 0 {
			id, err := adapter.ChatID(ctx)
			if err != nil {
				return fmt.Errorf("failed to resolve chat id from export: %w", err)
			}
			chatID = id
		}

		log.InfoContext(ctx, "Starting export sync", "path", path, "chat_id", chatID)
		res, err := deps.Ingester.Ingest(ctx, adapter, chatID, database.DateRange{})
		if err != nil {
			return fmt.Errorf("export sync failed: %w", err)
		}

		log.InfoContext(ctx, "Export sync completed",
			"run_id", res.RunID,
			"scanned", res.Scanned,
			"inserted", res.Inserted,
			"duplicates", res.Duplicates())
		return nil
	}
}
