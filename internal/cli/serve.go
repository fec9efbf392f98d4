package cli

import (
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatstat/internal/bot"
	"github.com/edgard/chatstat/internal/bot/handlers"
	"github.com/edgard/chatstat/internal/bot/tasks"
	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/ingest"
	"github.com/edgard/chatstat/internal/logger"
	"github.com/edgard/chatstat/internal/metrics"
	"github.com/edgard/chatstat/internal/telegram"
)

// Execute implements the go-flags Commander interface for ServeCommand.
func (c *ServeCommand) Execute(_ []string) error {
	cfg, log, err := setup(c.globals)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	ctx := c.env.ctx
	chatID := cfg.Telegram.ChatID

	db, store, err := openStore(c.globals, cfg, chatID, log)
	if err != nil {
		return err
	}
	defer database.CloseDB(db)

	m := metrics.New()
	engine := newEngine(store, cfg, log, m)

	var tg *tgbot.Bot
	live := telegram.NewLiveSource(telegram.ChatGetterFunc(
		func(ctx context.Context, params *tgbot.GetChatParams) (*models.ChatFullInfo, error) {
			return tg.GetChat(ctx, params)
		}), chatID, telegram.DefaultLiveBuffer, log)

	hDeps := handlers.HandlerDeps{
		Logger:    log,
		Config:    cfg,
		Stats:     engine,
		Publisher: live,
	}

	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithDefaultHandler(handlers.NewRecordHandler(hDeps)),
	}
	tg, err = telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		return err
	}

	me, err := tg.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	hDeps.BotUsername = me.Username
	log.Info("Retrieved bot info", "bot_id", me.ID, "bot_username", me.Username)

	if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
		return fmt.Errorf("failed to register Telegram handlers: %w", err)
	}

	tDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Ingester: ingest.New(store, log,
			ingest.WithBatchSize(cfg.Ingest.BatchSize),
			ingest.WithPause(cfg.Ingest.Pause),
			ingest.WithMetrics(m)),
		Config: cfg,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		return err
	}

	liveIngester := ingest.New(store, log,
		ingest.WithBatchSize(cfg.Telegram.BatchSize),
		ingest.WithPause(0),
		ingest.WithMetrics(m))

	app := bot.NewBot(log, tg, liveIngester, live, chatID, sched,
		bot.WithMetricsServer(m, cfg.Metrics.Listen))

	log.Info("Starting bot...", "chat_id", chatID)
	return app.Run(ctx)
}
