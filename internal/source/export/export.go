// Package export reads chat history from a Telegram Desktop JSON export
// (result.json) and serves it through the source.Adapter contract.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edgard/chatstat/internal/source"
)

// localDateLayout is the layout of the "date" field, which carries no offset.
const localDateLayout = "2006-01-02T15:04:05"

// channelIDOffset separates supergroup ids in the Bot API (-100xxxxxxxxxx)
// from the bare ids written to exports.
const channelIDOffset = 1_000_000_000_000

// Adapter serves one export file. The file is parsed once, on first use.
type Adapter struct {
	path   string
	loc    *time.Location
	logger *slog.Logger

	once  sync.Once
	chats []exportChat
	err   error
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLocation sets the zone of the exporter's clock. It applies to entries
// without date_unixtime, whose "date" field carries no offset. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(a *Adapter) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// New creates an adapter for the export at path.
func New(path string, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &Adapter{
		path:   path,
		loc:    time.UTC,
		logger: logger.With("component", "export_source", "path", path),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ChatID returns the Bot API id of the exported chat, so that exports and
// the live bot name the same chat alike. Full-account exports with more than
// one chat have no single id and return an error.
func (a *Adapter) ChatID(ctx context.Context) (int64, error) {
	if err := a.load(ctx); err != nil {
		return 0, err
	}
	if len(a.chats) != 1 {
		return 0, fmt.Errorf("export %s contains %d chats, a chat id is required", a.path, len(a.chats))
	}
	return a.chats[0].botAPIID(), nil
}

// CheckAccess reports source.ErrAccessDenied when the export cannot be read
// or does not contain the chat.
func (a *Adapter) CheckAccess(ctx context.Context, chatID int64) error {
	_, err := a.find(ctx, chatID)
	return err
}

// History returns a stream over the chat's messages in file order.
func (a *Adapter) History(ctx context.Context, chatID int64) (source.Stream, error) {
	chat, err := a.find(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &stream{messages: chat.Messages, loc: a.loc, logger: a.logger}, nil
}

func (a *Adapter) find(ctx context.Context, chatID int64) (*exportChat, error) {
	if err := a.load(ctx); err != nil {
		return nil, err
	}
	want := normalizeChatID(chatID)
	for i := range a.chats {
		if normalizeChatID(a.chats[i].ID) == want {
			return &a.chats[i], nil
		}
	}
	a.logger.WarnContext(ctx, "Chat not present in export", "chat_id", chatID)
	return nil, fmt.Errorf("%w: chat %d not found in export %s", source.ErrAccessDenied, chatID, a.path)
}

func (a *Adapter) load(ctx context.Context) error {
	a.once.Do(func() {
		f, err := os.Open(a.path)
		if err != nil {
			a.logger.ErrorContext(ctx, "Failed to open export", "error", err)
			a.err = fmt.Errorf("%w: %w", source.ErrAccessDenied, err)
			return
		}
		defer f.Close()

		var doc exportFile
		if err := json.NewDecoder(f).Decode(&doc); err != nil {
			a.logger.ErrorContext(ctx, "Failed to decode export", "error", err)
			a.err = fmt.Errorf("%w: failed to decode export %s: %w", source.ErrAccessDenied, a.path, err)
			return
		}

		switch {
		case doc.Chats != nil:
			a.chats = doc.Chats.List
		case doc.ID != 0:
			a.chats = []exportChat{doc.exportChat}
		}
		a.logger.InfoContext(ctx, "Export loaded", "chats", len(a.chats))
	})
	return a.err
}

// normalizeChatID maps Bot API chat ids and export ids onto the same value.
func normalizeChatID(id int64) int64 {
	if id < 0 {
		id = -id
	}
	if id > channelIDOffset {
		id -= channelIDOffset
	}
	return id
}

// botAPIID converts the bare export id into the id the Bot API reports:
// -100 prefixed for supergroups and channels, negated for basic groups.
func (c exportChat) botAPIID() int64 {
	id := normalizeChatID(c.ID)
	switch {
	case strings.HasSuffix(c.Type, "supergroup"), strings.HasSuffix(c.Type, "channel"):
		return -(channelIDOffset + id)
	case strings.HasSuffix(c.Type, "group"):
		return -id
	}
	return id
}

type stream struct {
	messages []exportMessage
	pos      int
	loc      *time.Location
	logger   *slog.Logger

	warnedLocalDate bool
}

// Next returns the next convertible record. Entries without a usable id or
// date are logged and skipped.
func (s *stream) Next(ctx context.Context) (source.Record, error) {
	for s.pos < len(s.messages) {
		if err := ctx.Err(); err != nil {
			return source.Record{}, err
		}
		m := s.messages[s.pos]
		s.pos++

		rec, local, err := m.record(s.loc)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping export entry", "message_id", m.ID, "error", err)
			continue
		}
		if local && !s.warnedLocalDate {
			s.warnedLocalDate = true
			s.logger.WarnContext(ctx, "Export entries lack date_unixtime, reading local dates in the configured zone",
				"message_id", m.ID, "zone", s.loc.String())
		}
		return rec, nil
	}
	return source.Record{}, io.EOF
}

type exportFile struct {
	exportChat
	Chats *struct {
		List []exportChat `json:"list"`
	} `json:"chats"`
}

type exportChat struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	ID       int64           `json:"id"`
	Messages []exportMessage `json:"messages"`
}

type exportMessage struct {
	ID           int64       `json:"id"`
	Type         string      `json:"type"`
	Date         string      `json:"date"`
	DateUnix     string      `json:"date_unixtime"`
	From         string      `json:"from"`
	FromID       string      `json:"from_id"`
	Actor        string      `json:"actor"`
	ActorID      string      `json:"actor_id"`
	Text         messageText `json:"text"`
	MediaType    string      `json:"media_type"`
	File         string      `json:"file"`
	Photo        string      `json:"photo"`
	StickerEmoji string      `json:"sticker_emoji"`
}

// record converts the entry. local reports whether the timestamp came from
// the offset-less "date" field.
func (m exportMessage) record(loc *time.Location) (rec source.Record, local bool, err error) {
	if m.ID == 0 {
		return source.Record{}, false, errors.New("missing message id")
	}
	ts, local, err := m.timestamp(loc)
	if err != nil {
		return source.Record{}, false, err
	}

	rec = source.Record{
		ID:        m.ID,
		Timestamp: ts,
		Text:      string(m.Text),
	}

	name, peer := m.From, m.FromID
	if m.Type == "service" {
		name, peer = m.Actor, m.ActorID
	}
	if id, ok := userID(peer); ok {
		rec.Sender = &source.Sender{ID: id, FirstName: name}
	}

	switch {
	case m.MediaType == "sticker":
		rec.Sticker = &source.Sticker{Emoji: m.StickerEmoji, FileID: m.File}
	case m.Photo != "":
		rec.PhotoFileID = m.Photo
	case m.MediaType == "video_file":
		rec.VideoFileID = m.File
	case m.MediaType == "voice_message":
		rec.VoiceFileID = m.File
	case m.MediaType == "video_message":
		rec.VideoNoteFileID = m.File
	}

	return rec, local, nil
}

func (m exportMessage) timestamp(loc *time.Location) (time.Time, bool, error) {
	if m.DateUnix != "" {
		sec, err := strconv.ParseInt(m.DateUnix, 10, 64)
		if err == nil {
			return time.Unix(sec, 0).UTC(), false, nil
		}
	}
	t, err := time.ParseInLocation(localDateLayout, m.Date, loc)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("unparseable date %q", m.Date)
	}
	return t.UTC(), true, nil
}

// userID extracts the numeric id from a "user123" peer reference. Channel
// and chat peers are not senders.
func userID(peer string) (int64, bool) {
	rest, ok := strings.CutPrefix(peer, "user")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// messageText is the "text" field, which is either a plain string or an
// array mixing plain strings and formatted entities.
type messageText string

func (t *messageText) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*t = messageText(plain)
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("text is neither a string nor an array: %w", err)
	}

	var b strings.Builder
	for _, part := range parts {
		var s string
		if err := json.Unmarshal(part, &s); err == nil {
			b.WriteString(s)
			continue
		}
		var entity struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(part, &entity); err != nil {
			return fmt.Errorf("invalid text entity: %w", err)
		}
		b.WriteString(entity.Text)
	}
	*t = messageText(b.String())
	return nil
}
