package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/edgard/chatstat/internal/database"
)

// newSQLMaintenanceTask compacts the tracked chat's database and refreshes
// the planner statistics used by the /stats queries.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	chatID := deps.Config.Telegram.ChatID
	log := deps.Logger.With("task", "sql_maintenance", "chat_id", chatID, "db_path", deps.Config.DatabasePath(chatID))

	return func(ctx context.Context) error {
		stored, err := deps.Store.CountMessages(ctx, database.Filter{})
		if err != nil {
			log.ErrorContext(ctx, "Chat database unavailable, skipping maintenance", "error", err)
			return fmt.Errorf("failed to count stored messages: %w", err)
		}

		log.InfoContext(ctx, "Compacting chat database", "messages", stored)
		started := time.Now()
		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			log.ErrorContext(ctx, "Chat database maintenance failed", "error", err, "duration", time.Since(started))
			return fmt.Errorf("chat database maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Chat database compacted", "messages", stored, "duration", time.Since(started))
		return nil
	}
}
