package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/report"
)

const statsTimeout = 5 * time.Minute

var errTooManyArguments = errors.New("expected at most two dates")

type statsHandler struct {
	deps HandlerDeps
}

// NewStatsHandler returns a handler for the /stats [from] [to] command. It
// answers only in the tracked chat or in a private chat with the admin. The
// report is sent as several messages when it exceeds the message length
// limit, paced by the configured send interval.
func NewStatsHandler(deps HandlerDeps) bot.HandlerFunc {
	return statsHandler{deps}.Handle
}

func (h statsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "stats")

	if update.Message == nil {
		log.WarnContext(ctx, "Stats handler received update without message", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID
	msgs := h.deps.Config.Messages

	if !trackedChatOrAdmin(h.deps, update.Message) {
		log.WarnContext(ctx, "Rejected /stats from untracked chat", "chat_id", chatID, "tracked_chat_id", h.deps.Config.Telegram.ChatID)
		h.reply(ctx, b, chatID, msgs.NotAuthorized)
		return
	}

	rng, err := parseStatsArgs(update.Message.Text)
	if err != nil {
		log.InfoContext(ctx, "Rejected /stats arguments", "chat_id", chatID, "error", err)
		h.reply(ctx, b, chatID, msgs.InvalidRange)
		return
	}

	log.InfoContext(ctx, "Handling /stats command", "chat_id", chatID, "range", rng.String())
	h.reply(ctx, b, chatID, msgs.Computing)

	computeCtx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	rep, err := h.deps.Stats.Compute(computeCtx, rng)
	if err != nil {
		log.ErrorContext(ctx, "Failed to compute statistics", "error", err, "chat_id", chatID)
		h.reply(ctx, b, chatID, msgs.GeneralError)
		return
	}

	var text strings.Builder
	if err := report.WriteText(&text, rep); err != nil {
		log.ErrorContext(ctx, "Failed to render statistics", "error", err, "chat_id", chatID)
		h.reply(ctx, b, chatID, msgs.GeneralError)
		return
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if interval := h.deps.Config.Telegram.SendInterval; interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	chunks := report.Chunks(text.String(), h.deps.Config.Telegram.MaxMessageLength)
	for i, chunk := range chunks {
		if err := limiter.Wait(ctx); err != nil {
			log.WarnContext(ctx, "Stopped sending statistics", "error", err, "sent", i, "total", len(chunks))
			return
		}
		if !h.reply(ctx, b, chatID, chunk) {
			return
		}
	}
	log.InfoContext(ctx, "Sent statistics", "chat_id", chatID, "messages", len(chunks))
}

func (h statsHandler) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) bool {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to send message", "handler", "stats", "error", err, "chat_id", chatID)
		return false
	}
	return true
}

// trackedChatOrAdmin reports whether msg was sent in the tracked chat or in
// a private chat with the configured admin.
func trackedChatOrAdmin(deps HandlerDeps, msg *models.Message) bool {
	tg := deps.Config.Telegram
	if msg.Chat.ID == tg.ChatID {
		return true
	}
	return tg.AdminUserID != 0 &&
		msg.Chat.Type == models.ChatTypePrivate &&
		msg.From != nil && msg.From.ID == tg.AdminUserID
}

// parseStatsArgs reads the optional YYYY-MM-DD bounds following the command.
func parseStatsArgs(text string) (database.DateRange, error) {
	fields := strings.Fields(text)
	if len(fields) > 0 {
		fields = fields[1:]
	}

	var from, to string
	switch len(fields) {
	case 0:
	case 1:
		from = fields[0]
	case 2:
		from, to = fields[0], fields[1]
	default:
		return database.DateRange{}, errTooManyArguments
	}
	return database.ParseDateRange(from, to)
}
