package stats

import (
	"time"

	"github.com/edgard/chatstat/internal/database"
)

// TokenCount is a token and the number of times it occurred.
type TokenCount struct {
	Token string `json:"token"`
	Count int    `json:"count"`
}

// StickerCount is a sticker emoji with its usage count and the pack of the
// first sticker seen with that emoji, when known.
type StickerCount struct {
	Emoji    string `json:"emoji"`
	Count    int    `json:"count"`
	SetName  string `json:"set_name,omitempty"`
	PackLink string `json:"pack_link,omitempty"`
}

// DayCount is a UTC calendar day (YYYY-MM-DD) with its message count.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// MonthCount is a UTC month (YYYY-MM) with its message count.
type MonthCount struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// SenderCount is a sender with a count whose unit depends on the metric:
// messages for most of them, tokens for the wordiest sender.
type SenderCount struct {
	Sender database.Sender `json:"sender"`
	Count  int             `json:"count"`
}

// MonthToken is the most frequent token of a month.
type MonthToken struct {
	Month string `json:"month"`
	Token string `json:"token"`
	Count int    `json:"count"`
}

// MonthSender is the most active sender of a month. Sender is nil when the
// month only has senderless messages.
type MonthSender struct {
	Month  string       `json:"month"`
	Sender *SenderCount `json:"sender"`
}

// GlobalStats is the chat-wide battery of metrics.
type GlobalStats struct {
	TotalMessages int            `json:"total_messages"`
	TopTokens     []TokenCount   `json:"top_tokens"`
	TopStickers   []StickerCount `json:"top_stickers"`
	MostActiveDay *DayCount      `json:"most_active_day"`
	InactiveDays  int            `json:"inactive_days"`
	VoiceCount    int            `json:"voice_count"`

	TopSender        *SenderCount `json:"top_sender"`
	TopVoiceSender   *SenderCount `json:"top_voice_sender"`
	TopMediaSender   *SenderCount `json:"top_media_sender"`
	TopWordySender   *SenderCount `json:"top_wordy_sender"`
	TopStickerSender *SenderCount `json:"top_sticker_sender"`

	MonthlyRanking    []MonthCount  `json:"monthly_ranking"`
	MonthlyTopTokens  []MonthToken  `json:"monthly_top_tokens"`
	MonthlyTopSenders []MonthSender `json:"monthly_top_senders"`

	// MalformedTimestamps counts messages left out of date metrics.
	MalformedTimestamps int `json:"malformed_timestamps"`
}

// UserStats is the per-sender subset of metrics.
type UserStats struct {
	Sender        database.Sender `json:"sender"`
	TotalMessages int             `json:"total_messages"`
	TopTokens     []TokenCount    `json:"top_tokens"`
	TopStickers   []StickerCount  `json:"top_stickers"`
	MostActiveDay *DayCount       `json:"most_active_day"`
	InactiveDays  int             `json:"inactive_days"`
	VoiceCount    int             `json:"voice_count"`

	MonthlyRanking []MonthCount `json:"monthly_ranking"`

	MalformedTimestamps int `json:"malformed_timestamps"`
}

// Report bundles the global statistics with the statistics of every sender.
type Report struct {
	Range       string               `json:"range"`
	GeneratedAt time.Time            `json:"generated_at"`
	Global      *GlobalStats         `json:"global"`
	Users       map[int64]*UserStats `json:"users"`
	// Senders lists the keys of Users in ascending id order.
	Senders []database.Sender `json:"senders"`
}

// PackLink builds the deep link that opens a sticker set in Telegram.
func PackLink(setName string) string {
	if setName == "" {
		return ""
	}
	return "tg://addstickers?set=" + setName
}
