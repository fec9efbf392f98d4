package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/chatstat/internal/config"
	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/stats"
)

const (
	testChatID  int64 = -100500
	testAdminID int64 = 7
)

type sentMessage struct {
	ChatID string
	Text   string
}

// fakeTelegram serves the Bot API methods the handlers call.
type fakeTelegram struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeTelegram) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func newTestBot(t *testing.T) (*bot.Bot, *fakeTelegram) {
	t.Helper()

	fake := &fakeTelegram{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/sendMessage") {
			fake.mu.Lock()
			fake.sent = append(fake.sent, sentMessage{ChatID: r.FormValue("chat_id"), Text: r.FormValue("text")})
			fake.mu.Unlock()
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"private"}}}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}))
	t.Cleanup(srv.Close)

	b, err := bot.New("123:test-token", bot.WithServerURL(srv.URL), bot.WithSkipGetMe())
	require.NoError(t, err)
	return b, fake
}

type fakeStats struct {
	report *stats.Report
	err    error
	ranges []database.DateRange
}

func (f *fakeStats) Compute(_ context.Context, rng database.DateRange) (*stats.Report, error) {
	f.ranges = append(f.ranges, rng)
	return f.report, f.err
}

type fakePublisher struct {
	msgs []*models.Message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, msg *models.Message) error {
	f.msgs = append(f.msgs, msg)
	return f.err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Telegram.ChatID = testChatID
	cfg.Telegram.MaxMessageLength = 64
	cfg.Telegram.SendInterval = 0
	return cfg
}

func testDeps(t *testing.T, computer StatsComputer, publisher MessagePublisher) (HandlerDeps, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	return HandlerDeps{
		Logger:      slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Config:      testConfig(t),
		Stats:       computer,
		Publisher:   publisher,
		BotUsername: "chatstat_bot",
	}, &logs
}

func commandUpdate(text string, from int64) *models.Update {
	return &models.Update{
		ID: 1,
		Message: &models.Message{
			ID:   1,
			Chat: models.Chat{ID: testChatID},
			From: &models.User{ID: from},
			Text: text,
		},
	}
}

func sampleReport() *stats.Report {
	return &stats.Report{
		Range:       "*..*",
		GeneratedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Global:      &stats.GlobalStats{TotalMessages: 3},
		Users:       map[int64]*stats.UserStats{},
	}
}

func TestParseStatsArgs(t *testing.T) {
	t.Parallel()

	rng, err := parseStatsArgs("/stats")
	require.NoError(t, err)
	assert.True(t, rng.IsZero())

	rng, err = parseStatsArgs("/stats@chatstat_bot 2023-01-01")
	require.NoError(t, err)
	require.NotNil(t, rng.Start)
	assert.Nil(t, rng.End)

	rng, err = parseStatsArgs("/stats 2023-01-01 2023-01-31")
	require.NoError(t, err)
	assert.Equal(t, "2023-01-01..2023-01-31", rng.String())

	_, err = parseStatsArgs("/stats 2023-02-01 2023-01-01")
	assert.ErrorIs(t, err, database.ErrInvalidDateRange)

	_, err = parseStatsArgs("/stats yesterday")
	assert.Error(t, err)

	_, err = parseStatsArgs("/stats 2023-01-01 2023-01-02 2023-01-03")
	assert.ErrorIs(t, err, errTooManyArguments)
}

func TestStatsHandler_SendsChunkedReport(t *testing.T) {
	t.Parallel()

	b, fake := newTestBot(t)
	computer := &fakeStats{report: sampleReport()}
	deps, _ := testDeps(t, computer, nil)

	NewStatsHandler(deps)(context.Background(), b, commandUpdate("/stats 2023-01-01 2023-01-31", testAdminID))

	require.Len(t, computer.ranges, 1)
	assert.Equal(t, "2023-01-01..2023-01-31", computer.ranges[0].String())

	sent := fake.messages()
	require.Greater(t, len(sent), 2)
	assert.Equal(t, deps.Config.Messages.Computing, sent[0].Text)

	var body strings.Builder
	for _, m := range sent[1:] {
		assert.Equal(t, fmt.Sprint(testChatID), m.ChatID)
		assert.LessOrEqual(t, len([]rune(m.Text)), deps.Config.Telegram.MaxMessageLength)
		body.WriteString(m.Text + "\n")
	}
	assert.Contains(t, body.String(), "=== GLOBAL STATISTICS ===")
	assert.Contains(t, body.String(), "1. Total messages: 3")
}

func TestStatsHandler_InvalidRange(t *testing.T) {
	t.Parallel()

	b, fake := newTestBot(t)
	computer := &fakeStats{report: sampleReport()}
	deps, _ := testDeps(t, computer, nil)

	NewStatsHandler(deps)(context.Background(), b, commandUpdate("/stats 2023-02-01 2023-01-01", testAdminID))

	assert.Empty(t, computer.ranges)
	sent := fake.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, deps.Config.Messages.InvalidRange, sent[0].Text)
}

func TestStatsHandler_ComputeFailure(t *testing.T) {
	t.Parallel()

	b, fake := newTestBot(t)
	deps, logs := testDeps(t, &fakeStats{err: errors.New("disk on fire")}, nil)

	NewStatsHandler(deps)(context.Background(), b, commandUpdate("/stats", testAdminID))

	sent := fake.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, deps.Config.Messages.GeneralError, sent[1].Text)
	assert.Contains(t, logs.String(), "disk on fire")
}

func TestStatsHandler_RejectsOtherChats(t *testing.T) {
	t.Parallel()

	const otherChat int64 = -100999

	tests := []struct {
		name     string
		chat     models.Chat
		from     int64
		admin    int64
		wantSent bool
	}{
		{name: "other group", chat: models.Chat{ID: otherChat, Type: models.ChatTypeSupergroup}, from: testAdminID, admin: testAdminID},
		{name: "private chat without admin configured", chat: models.Chat{ID: testAdminID, Type: models.ChatTypePrivate}, from: testAdminID},
		{name: "private chat with someone else", chat: models.Chat{ID: 99, Type: models.ChatTypePrivate}, from: 99, admin: testAdminID},
		{name: "private chat with admin", chat: models.Chat{ID: testAdminID, Type: models.ChatTypePrivate}, from: testAdminID, admin: testAdminID, wantSent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b, fake := newTestBot(t)
			computer := &fakeStats{report: sampleReport()}
			deps, _ := testDeps(t, computer, nil)
			deps.Config.Telegram.AdminUserID = tt.admin

			update := commandUpdate("/stats", tt.from)
			update.Message.Chat = tt.chat
			NewStatsHandler(deps)(context.Background(), b, update)

			sent := fake.messages()
			require.NotEmpty(t, sent)
			if tt.wantSent {
				assert.Len(t, computer.ranges, 1)
				assert.Equal(t, deps.Config.Messages.Computing, sent[0].Text)
				return
			}
			assert.Empty(t, computer.ranges)
			require.Len(t, sent, 1)
			assert.Equal(t, deps.Config.Messages.NotAuthorized, sent[0].Text)
			assert.Equal(t, fmt.Sprint(tt.chat.ID), sent[0].ChatID)
		})
	}
}

func TestAdminOnly(t *testing.T) {
	t.Parallel()

	b, fake := newTestBot(t)
	deps, _ := testDeps(t, nil, nil)
	deps.Config.Telegram.AdminUserID = testAdminID

	called := 0
	handler := AdminOnly(deps)(func(context.Context, *bot.Bot, *models.Update) { called++ })

	handler(context.Background(), b, commandUpdate("/stats", testAdminID))
	assert.Equal(t, 1, called)

	handler(context.Background(), b, commandUpdate("/stats", 99))
	assert.Equal(t, 1, called)

	sent := fake.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, deps.Config.Messages.NotAuthorized, sent[0].Text)
}

func TestRegisterAllCommands(t *testing.T) {
	t.Parallel()

	deps, _ := testDeps(t, nil, nil)
	cmds := RegisterAllCommands(deps)
	require.Contains(t, cmds, "/stats")
	assert.Empty(t, cmds["/stats"].Middleware)
	assert.Equal(t, "stats", cmds["/stats"].Pattern)
	assert.Contains(t, cmds, "/start")
	assert.Contains(t, cmds, "/help")

	deps.Config.Telegram.AdminUserID = testAdminID
	cmds = RegisterAllCommands(deps)
	assert.Len(t, cmds["/stats"].Middleware, 1)
}

func TestStartAndHelpHandlers(t *testing.T) {
	t.Parallel()

	b, fake := newTestBot(t)
	deps, _ := testDeps(t, nil, nil)
	deps.Config.Messages.Welcome = "Hi from @botname"

	NewStartHandler(deps)(context.Background(), b, commandUpdate("/start", 1))
	NewHelpHandler(deps)(context.Background(), b, commandUpdate("/help", 1))

	sent := fake.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "Hi from @chatstat_bot", sent[0].Text)
	assert.Equal(t, deps.Config.Messages.Help, sent[1].Text)
}

func TestRecordHandler(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	deps, _ := testDeps(t, nil, pub)
	handler := NewRecordHandler(deps)

	handler(context.Background(), nil, commandUpdate("hello", 1))
	handler(context.Background(), nil, &models.Update{ChannelPost: &models.Message{ID: 2, Chat: models.Chat{ID: testChatID}}})
	handler(context.Background(), nil, &models.Update{ID: 3})

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "hello", pub.msgs[0].Text)
	assert.Equal(t, 2, pub.msgs[1].ID)
}

func TestRecordHandler_LogsPublishFailure(t *testing.T) {
	t.Parallel()

	deps, logs := testDeps(t, nil, &fakePublisher{err: context.Canceled})
	NewRecordHandler(deps)(context.Background(), nil, commandUpdate("hello", 1))
	assert.Contains(t, logs.String(), "Failed to record message")
}
