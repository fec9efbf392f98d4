// Package source defines the contract between chat-history providers and the
// ingestion controller.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgard/chatstat/internal/database"
)

// ErrAccessDenied reports that the chat cannot be reached by the adapter.
var ErrAccessDenied = errors.New("chat access denied")

// RateLimitError asks the caller to wait before pulling the next record.
// The stream keeps its position across the wait.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

// AsRateLimit reports whether err carries a rate-limit signal.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// Sender is the author of a record.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// Sticker describes a sticker attachment.
type Sticker struct {
	Emoji   string
	FileID  string
	SetName string
}

// Record is one message as yielded by an adapter.
type Record struct {
	ID        int64
	Timestamp time.Time
	Sender    *Sender

	Text    string
	Caption string

	Sticker         *Sticker
	PhotoFileID     string
	VideoFileID     string
	VoiceFileID     string
	VideoNoteFileID string
}

// Stream yields records one at a time. Next returns io.EOF after the last
// record and a *RateLimitError when the caller must back off.
type Stream interface {
	Next(ctx context.Context) (Record, error)
}

// Adapter abstracts a chat history provider.
type Adapter interface {
	CheckAccess(ctx context.Context, chatID int64) error
	History(ctx context.Context, chatID int64) (Stream, error)
}

// Message converts the record into its stored form. When several attachments
// are present the first of sticker, photo, video, voice, video note wins.
func (r Record) Message() database.Message {
	m := database.Message{ID: r.ID}
	m.SetTimestamp(r.Timestamp)

	if r.Sender != nil {
		m.SetSender(&database.Sender{
			ID:        r.Sender.ID,
			Username:  r.Sender.Username,
			FirstName: r.Sender.FirstName,
			LastName:  r.Sender.LastName,
		})
	}

	text := r.Text
	if text == "" {
		text = r.Caption
	}
	m.Text = database.NullString(text)

	switch {
	case r.Sticker != nil:
		m.MediaType = database.NullString(string(database.MediaSticker))
		m.StickerEmoji = database.NullString(r.Sticker.Emoji)
		m.StickerFileID = database.NullString(r.Sticker.FileID)
		m.StickerSetName = database.NullString(r.Sticker.SetName)
	case r.PhotoFileID != "":
		m.MediaType = database.NullString(string(database.MediaPhoto))
		m.FileID = database.NullString(r.PhotoFileID)
	case r.VideoFileID != "":
		m.MediaType = database.NullString(string(database.MediaVideo))
		m.FileID = database.NullString(r.VideoFileID)
	case r.VoiceFileID != "":
		m.MediaType = database.NullString(string(database.MediaVoice))
		m.FileID = database.NullString(r.VoiceFileID)
	case r.VideoNoteFileID != "":
		m.MediaType = database.NullString(string(database.MediaVideoNote))
		m.FileID = database.NullString(r.VideoNoteFileID)
	}

	return m
}
