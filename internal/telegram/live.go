package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatstat/internal/source"
)

// DefaultLiveBuffer is the number of published messages held while the
// ingestion controller is busy committing.
const DefaultLiveBuffer = 256

// ChatGetter is the part of *bot.Bot used to verify chat access.
type ChatGetter interface {
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
}

// ChatGetterFunc adapts a function to ChatGetter.
type ChatGetterFunc func(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)

// GetChat calls f.
func (f ChatGetterFunc) GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error) {
	return f(ctx, params)
}

// LiveSource turns updates received by the bot for one tracked chat into a
// history stream. The Bot API cannot fetch past messages, so the stream only
// carries what the bot sees from the moment it starts.
type LiveSource struct {
	getter  ChatGetter
	chatID  int64
	records chan source.Record
	logger  *slog.Logger
}

// NewLiveSource creates a live source for chatID with a buffer of the given size.
func NewLiveSource(getter ChatGetter, chatID int64, buffer int, logger *slog.Logger) *LiveSource {
	if buffer <= 0 {
		buffer = DefaultLiveBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveSource{
		getter:  getter,
		chatID:  chatID,
		records: make(chan source.Record, buffer),
		logger:  logger.With("component", "live_source", "chat_id", chatID),
	}
}

// ChatID returns the tracked chat.
func (s *LiveSource) ChatID() int64 {
	return s.chatID
}

// CheckAccess asks Telegram for the chat. Rejections by the API map to
// source.ErrAccessDenied and flood-wait replies to *source.RateLimitError.
func (s *LiveSource) CheckAccess(ctx context.Context, chatID int64) error {
	if chatID != s.chatID {
		return fmt.Errorf("%w: chat %d is not tracked by this bot", source.ErrAccessDenied, chatID)
	}

	chat, err := s.getter.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return mapAPIError(chatID, err)
	}

	s.logger.InfoContext(ctx, "Chat access verified", "title", chat.Title, "type", chat.Type)
	return nil
}

// History returns a stream over messages published after this call.
func (s *LiveSource) History(_ context.Context, chatID int64) (source.Stream, error) {
	if chatID != s.chatID {
		return nil, fmt.Errorf("%w: chat %d is not tracked by this bot", source.ErrAccessDenied, chatID)
	}
	return &liveStream{records: s.records}, nil
}

// Publish hands a received message to the stream. Messages from other chats
// are ignored. Publish blocks while the buffer is full.
func (s *LiveSource) Publish(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.Chat.ID != s.chatID {
		return nil
	}

	select {
	case s.records <- RecordFromMessage(msg):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream once the buffered records are consumed.
func (s *LiveSource) Close() {
	close(s.records)
}

type liveStream struct {
	records <-chan source.Record
}

func (s *liveStream) Next(ctx context.Context) (source.Record, error) {
	select {
	case <-ctx.Done():
		return source.Record{}, ctx.Err()
	case rec, ok := <-s.records:
		if !ok {
			return source.Record{}, io.EOF
		}
		return rec, nil
	}
}

// RecordFromMessage converts a Bot API message into a source record.
func RecordFromMessage(msg *models.Message) source.Record {
	rec := source.Record{
		ID:        int64(msg.ID),
		Timestamp: time.Unix(int64(msg.Date), 0).UTC(),
		Text:      msg.Text,
		Caption:   msg.Caption,
	}

	if msg.From != nil {
		rec.Sender = &source.Sender{
			ID:        msg.From.ID,
			Username:  msg.From.Username,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
		}
	}

	if msg.Sticker != nil {
		rec.Sticker = &source.Sticker{
			Emoji:   msg.Sticker.Emoji,
			FileID:  msg.Sticker.FileID,
			SetName: msg.Sticker.SetName,
		}
	}
	if n := len(msg.Photo); n > 0 {
		rec.PhotoFileID = msg.Photo[n-1].FileID
	}
	if msg.Video != nil {
		rec.VideoFileID = msg.Video.FileID
	}
	if msg.Voice != nil {
		rec.VoiceFileID = msg.Voice.FileID
	}
	if msg.VideoNote != nil {
		rec.VideoNoteFileID = msg.VideoNote.FileID
	}

	return rec
}

func mapAPIError(chatID int64, err error) error {
	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return &source.RateLimitError{Wait: time.Duration(tooMany.RetryAfter) * time.Second}
	}

	switch {
	case errors.Is(err, bot.ErrorForbidden),
		errors.Is(err, bot.ErrorNotFound),
		errors.Is(err, bot.ErrorBadRequest),
		errors.Is(err, bot.ErrorUnauthorized):
		return fmt.Errorf("%w: chat %d: %w", source.ErrAccessDenied, chatID, err)
	}
	return fmt.Errorf("failed to get chat %d: %w", chatID, err)
}
