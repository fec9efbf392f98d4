package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the fixed-width UTC layout used for the date column.
// Fixed width keeps lexicographic order equal to chronological order, which
// the date range predicates rely on.
const TimestampLayout = "2006-01-02T15:04:05Z"

// MediaType is the mutually exclusive attachment kind of a message.
type MediaType string

const (
	MediaNone      MediaType = ""
	MediaSticker   MediaType = "sticker"
	MediaPhoto     MediaType = "photo"
	MediaVideo     MediaType = "video"
	MediaVoice     MediaType = "voice"
	MediaVideoNote MediaType = "video_note"
)

// Message is a single stored chat message. Rows are immutable once written.
type Message struct {
	ID   int64  `db:"id"`
	Date string `db:"date"`

	SenderID        sql.NullInt64  `db:"sender_id"`
	SenderUsername  sql.NullString `db:"sender_username"`
	SenderFirstName sql.NullString `db:"sender_first_name"`
	SenderLastName  sql.NullString `db:"sender_last_name"`

	Text sql.NullString `db:"text"`

	MediaType      sql.NullString `db:"media_type"`
	StickerEmoji   sql.NullString `db:"sticker_emoji"`
	StickerFileID  sql.NullString `db:"sticker_file_id"`
	StickerSetName sql.NullString `db:"sticker_set_name"`
	FileID         sql.NullString `db:"file_id"` // file id of non-sticker media
}

// Sender identifies the author of a message.
type Sender struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName returns the most human-friendly name available for the sender.
func (s Sender) DisplayName() string {
	name := strings.TrimSpace(strings.Join([]string{s.FirstName, s.LastName}, " "))
	switch {
	case name != "":
		return name
	case s.Username != "":
		return "@" + s.Username
	default:
		return fmt.Sprintf("user %d", s.ID)
	}
}

// FormatTimestamp normalizes t to UTC and formats it for storage.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a stored date value and normalizes it to UTC.
// Values written with an explicit offset are accepted as well.
func ParseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

// Timestamp parses the stored date of the message.
func (m *Message) Timestamp() (time.Time, error) {
	return ParseTimestamp(m.Date)
}

// SetTimestamp stores t normalized to UTC.
func (m *Message) SetTimestamp(t time.Time) {
	m.Date = FormatTimestamp(t)
}

// Sender returns the message author, or nil for senderless messages.
func (m *Message) Sender() *Sender {
	if !m.SenderID.Valid {
		return nil
	}
	return &Sender{
		ID:        m.SenderID.Int64,
		Username:  m.SenderUsername.String,
		FirstName: m.SenderFirstName.String,
		LastName:  m.SenderLastName.String,
	}
}

// SetSender stores s as the message author; nil clears it.
func (m *Message) SetSender(s *Sender) {
	if s == nil {
		m.SenderID = sql.NullInt64{}
		m.SenderUsername = sql.NullString{}
		m.SenderFirstName = sql.NullString{}
		m.SenderLastName = sql.NullString{}
		return
	}
	m.SenderID = sql.NullInt64{Int64: s.ID, Valid: true}
	m.SenderUsername = NullString(s.Username)
	m.SenderFirstName = NullString(s.FirstName)
	m.SenderLastName = NullString(s.LastName)
}

// Media returns the attachment kind of the message.
func (m *Message) Media() MediaType {
	if !m.MediaType.Valid {
		return MediaNone
	}
	return MediaType(m.MediaType.String)
}

// NullString converts an empty string to SQL NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
