package config

import (
	"time"

	"github.com/spf13/viper"
)

var defaults = map[string]any{
	"logger.level": "info",
	"logger.json":  false,

	"database.path": "",
	"database.dir":  ".",

	"ingest.batch_size":      100,
	"ingest.pause":           100 * time.Millisecond,
	"ingest.export_timezone": "UTC",

	"stats.workers": 4,

	"telegram.token":              "",
	"telegram.chat_id":            0,
	"telegram.admin_user_id":      0,
	"telegram.batch_size":         1,
	"telegram.max_message_length": 4096,
	"telegram.send_interval":      time.Second,

	"sync.export_path": "",

	"scheduler.tasks.export_sync.enabled":      false,
	"scheduler.tasks.export_sync.schedule":     "0 0 * * * *",
	"scheduler.tasks.sql_maintenance.enabled":  true,
	"scheduler.tasks.sql_maintenance.schedule": "0 30 3 * * *",

	"metrics.listen": "",

	"messages.welcome":        "👋 I collect this chat's history and compute statistics. Send /stats to see them.",
	"messages.help":           "/stats [YYYY-MM-DD] [YYYY-MM-DD] - chat statistics, optionally for an inclusive date range",
	"messages.not_authorized": "🚫 Access denied.",
	"messages.invalid_range":  "⚠️ Invalid date range. Use /stats [YYYY-MM-DD] [YYYY-MM-DD] with the end not before the start.",
	"messages.computing":      "⏳ Computing statistics...",
	"messages.general_error":  "❌ An error occurred. Please try again later.",
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
