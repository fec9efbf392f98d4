// Package config loads application configuration from a YAML file, the
// environment (CHATSTAT_*), and an optional .env file, then validates it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata" // ingest.export_timezone must resolve on hosts without zoneinfo

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/edgard/chatstat/internal/database"
)

// EnvPrefix is the prefix of environment overrides, e.g. CHATSTAT_LOGGER_LEVEL.
const EnvPrefix = "CHATSTAT"

// ErrValidation wraps every configuration validation failure.
var ErrValidation = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LoggerConfig controls the slog handler.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig selects the SQLite file. Path wins over Dir; with only Dir
// set, each chat gets chat_<id>.db inside it.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
	Dir  string `mapstructure:"dir" validate:"required_without=Path"`
}

// IngestConfig tunes the ingestion controller.
type IngestConfig struct {
	BatchSize int           `mapstructure:"batch_size" validate:"min=1"`
	Pause     time.Duration `mapstructure:"pause" validate:"min=0s"`
	// ExportTimezone is the zone of the exporter's clock, applied to export
	// entries that lack date_unixtime.
	ExportTimezone string `mapstructure:"export_timezone" validate:"required,timezone"`
}

// StatsConfig tunes the aggregation engine.
type StatsConfig struct {
	Workers int `mapstructure:"workers" validate:"min=1,max=64"`
}

// TelegramConfig configures the long-running bot.
type TelegramConfig struct {
	Token            string        `mapstructure:"token"`
	ChatID           int64         `mapstructure:"chat_id"`
	AdminUserID      int64         `mapstructure:"admin_user_id" validate:"min=0"`
	BatchSize        int           `mapstructure:"batch_size" validate:"min=1"`
	MaxMessageLength int           `mapstructure:"max_message_length" validate:"min=64,max=4096"`
	SendInterval     time.Duration `mapstructure:"send_interval" validate:"min=0s"`
}

// SyncConfig points the export_sync task at an export file.
type SyncConfig struct {
	ExportPath string `mapstructure:"export_path"`
}

// SchedulerConfig lists scheduled tasks by name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig enables a task on a cron schedule (seconds field included).
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

// MessagesConfig holds bot reply texts.
type MessagesConfig struct {
	Welcome       string `mapstructure:"welcome" validate:"required"`
	Help          string `mapstructure:"help" validate:"required"`
	NotAuthorized string `mapstructure:"not_authorized" validate:"required"`
	InvalidRange  string `mapstructure:"invalid_range" validate:"required"`
	Computing     string `mapstructure:"computing" validate:"required"`
	GeneralError  string `mapstructure:"general_error" validate:"required"`
}

// Load reads configuration from path (missing file tolerated), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			slog.Debug("Config file not found, using defaults and environment", "path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file into the process environment
// without overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// ValidateServe checks the settings the long-running bot needs on top of Validate.
func (c *Config) ValidateServe() error {
	switch {
	case c.Telegram.Token == "":
		return fmt.Errorf("%w: telegram.token is required", ErrValidation)
	case c.Telegram.ChatID == 0:
		return fmt.Errorf("%w: telegram.chat_id is required", ErrValidation)
	}
	return nil
}

// ExportLocation returns the zone configured in ingest.export_timezone.
func (c *Config) ExportLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Ingest.ExportTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: ingest.export_timezone: %w", ErrValidation, err)
	}
	return loc, nil
}

// DatabasePath returns the database file for chatID.
func (c *Config) DatabasePath(chatID int64) string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return database.PathForChat(c.Database.Dir, chatID)
}
