package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type recordHandler struct {
	deps HandlerDeps
}

// NewRecordHandler returns the default handler. It forwards every message
// that no command claimed to the live history source.
func NewRecordHandler(deps HandlerDeps) bot.HandlerFunc {
	return recordHandler{deps}.Handle
}

func (h recordHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "record")

	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil {
		log.DebugContext(ctx, "Ignoring update without message", "update_id", update.ID)
		return
	}

	if err := h.deps.Publisher.Publish(ctx, msg); err != nil {
		log.WarnContext(ctx, "Failed to record message", "error", err, "chat_id", msg.Chat.ID, "message_id", msg.ID)
	}
}
