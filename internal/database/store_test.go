package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore creates a migrated SQLite store in a temporary directory.
func openTestStore(t *testing.T) Store {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "chat_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { CloseDB(db) })
	return NewStore(db, nil)
}

type msgOpt func(*Message)

func withSender(id int64, first string) msgOpt {
	return func(m *Message) { m.SetSender(&Sender{ID: id, FirstName: first}) }
}

func withText(text string) msgOpt {
	return func(m *Message) { m.Text = NullString(text) }
}

func withMedia(media MediaType) msgOpt {
	return func(m *Message) { m.MediaType = NullString(string(media)) }
}

func withSticker(emoji, setName string) msgOpt {
	return func(m *Message) {
		m.MediaType = NullString(string(MediaSticker))
		m.StickerEmoji = NullString(emoji)
		m.StickerFileID = NullString("file-" + emoji)
		m.StickerSetName = NullString(setName)
	}
}

func newMessage(id int64, ts string, opts ...msgOpt) Message {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	m := Message{ID: id}
	m.SetTimestamp(t)
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

func TestSaveMessages_InsertIfAbsent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	batch := []Message{
		newMessage(1, "2023-01-01T10:00:00Z", withText("hello")),
		newMessage(2, "2023-01-01T11:00:00Z", withText("world")),
	}

	inserted, err := store.SaveMessages(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Re-inserting the same ids, even with different content, is a silent no-op.
	again := []Message{
		newMessage(1, "2024-01-01T10:00:00Z", withText("changed")),
		newMessage(3, "2023-01-02T10:00:00Z"),
	}
	inserted, err = store.SaveMessages(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	total, err := store.CountMessages(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	msgs, err := store.SelectMessages(ctx, Filter{HasText: true})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text.String)
	assert.Equal(t, "2023-01-01T10:00:00Z", msgs[0].Date)
}

func TestSaveMessages_RejectsInvalid(t *testing.T) {
	store := openTestStore(t)

	_, err := store.SaveMessages(context.Background(), []Message{{ID: 0, Date: "2023-01-01T00:00:00Z"}})
	assert.Error(t, err)

	_, err = store.SaveMessages(context.Background(), []Message{{ID: 5}})
	assert.Error(t, err)

	inserted, err := store.SaveMessages(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestSelectMessages_Filters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.SaveMessages(ctx, []Message{
		newMessage(1, "2023-01-01T00:00:00Z", withSender(10, "Ann"), withText("a")),
		newMessage(2, "2023-01-31T23:59:59Z", withSender(20, "Bob"), withMedia(MediaPhoto)),
		newMessage(3, "2023-02-01T00:00:00Z", withSender(10, "Ann"), withMedia(MediaVoice)),
		newMessage(4, "2023-01-15T12:00:00Z", withSticker("🙂", "pack")),
		newMessage(5, "2023-01-16T12:00:00Z", withSender(20, "Bob"), withMedia(MediaVideoNote)),
	})
	require.NoError(t, err)

	january, err := ParseDateRange("2023-01-01", "2023-01-31")
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{name: "all", filter: Filter{}, want: []int64{1, 2, 3, 4, 5}},
		{name: "date range inclusive end", filter: Filter{Range: january}, want: []int64{1, 2, 4, 5}},
		{name: "sender", filter: Filter{}.ForSender(10), want: []int64{1, 3}},
		{name: "has sender", filter: Filter{HasSender: true}, want: []int64{1, 2, 3, 5}},
		{name: "media set", filter: Filter{MediaTypes: []MediaType{MediaVoice, MediaVideoNote}}, want: []int64{3, 5}},
		{name: "media excluded keeps null media", filter: Filter{ExcludeMediaTypes: []MediaType{MediaPhoto, MediaVideo}}, want: []int64{1, 3, 4, 5}},
		{name: "text", filter: Filter{HasText: true}, want: []int64{1}},
		{name: "sticker emoji", filter: Filter{HasStickerEmoji: true}, want: []int64{4}},
		{name: "combined", filter: Filter{Range: january, HasSender: true, MediaTypes: []MediaType{MediaVoice, MediaVideoNote}}, want: []int64{5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := store.SelectMessages(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]int64, 0, len(msgs))
			for _, m := range msgs {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.want, ids)

			count, err := store.CountMessages(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), count)
		})
	}
}

func TestCountBySender_TieBreaksOnLowestID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.SaveMessages(ctx, []Message{
		newMessage(1, "2023-01-01T00:00:00Z", withSender(30, "C")),
		newMessage(2, "2023-01-01T00:00:00Z", withSender(20, "B")),
		newMessage(3, "2023-01-01T00:00:00Z", withSender(30, "C")),
		newMessage(4, "2023-01-01T00:00:00Z", withSender(20, "B")),
		newMessage(5, "2023-01-01T00:00:00Z", withSender(40, "D")),
		newMessage(6, "2023-01-01T00:00:00Z"),
	})
	require.NoError(t, err)

	totals, err := store.CountBySender(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []SenderTotal{
		{SenderID: 20, Count: 2},
		{SenderID: 30, Count: 2},
		{SenderID: 40, Count: 1},
	}, totals)
}

func TestStickerSetForEmoji_FirstRecordWins(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.SaveMessages(ctx, []Message{
		newMessage(1, "2023-01-01T00:00:00Z", withSender(1, "A"), withSticker("🔥", "first_pack")),
		newMessage(2, "2023-01-02T00:00:00Z", withSender(2, "B"), withSticker("🔥", "second_pack")),
		newMessage(3, "2023-01-03T00:00:00Z", withSender(2, "B"), withSticker("🔥", "second_pack")),
		newMessage(4, "2023-01-03T00:00:00Z", withSender(2, "B"), withSticker("🙂", "")),
	})
	require.NoError(t, err)

	set, ok, err := store.StickerSetForEmoji(ctx, "🔥", Filter{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "first_pack", set)

	set, ok, err = store.StickerSetForEmoji(ctx, "🔥", Filter{}.ForSender(2))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second_pack", set)

	_, ok, err = store.StickerSetForEmoji(ctx, "🙂", Filter{})
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.StickerSetForEmoji(ctx, "🤷", Filter{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListSenders_UsesLatestNames(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.SaveMessages(ctx, []Message{
		newMessage(1, "2023-01-01T00:00:00Z", withSender(2, "Old")),
		newMessage(2, "2023-01-02T00:00:00Z", withSender(1, "Ann")),
		newMessage(3, "2023-01-03T00:00:00Z", withSender(2, "New")),
		newMessage(4, "2023-01-04T00:00:00Z"),
	})
	require.NoError(t, err)

	senders, err := store.ListSenders(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, senders, 2)
	assert.Equal(t, Sender{ID: 1, FirstName: "Ann"}, senders[0])
	assert.Equal(t, Sender{ID: 2, FirstName: "New"}, senders[1])
}

func TestRunSQLMaintenance(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.RunSQLMaintenance(context.Background()))
	require.NoError(t, store.Ping(context.Background()))
}

func TestReadSnapshot_IsolatesFromConcurrentCommits(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.SaveMessages(ctx, []Message{newMessage(1, "2023-01-01T10:00:00Z", withText("one"))})
	require.NoError(t, err)

	written := make(chan error, 1)
	err = store.ReadSnapshot(ctx, func(snap Store) error {
		before, err := snap.CountMessages(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, 1, before)

		go func() {
			_, err := store.SaveMessages(ctx, []Message{newMessage(2, "2023-01-02T10:00:00Z", withText("two"))})
			written <- err
		}()

		select {
		case err := <-written:
			t.Fatalf("commit finished inside the snapshot: %v", err)
		case <-time.After(100 * time.Millisecond):
		}

		after, err := snap.CountMessages(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, 1, after)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, <-written)
	total, err := store.CountMessages(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestReadSnapshot_RejectsWritesAndNests(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.ReadSnapshot(ctx, func(snap Store) error {
		_, err := snap.SaveMessages(ctx, []Message{newMessage(1, "2023-01-01T10:00:00Z")})
		assert.ErrorIs(t, err, ErrReadOnly)
		assert.ErrorIs(t, snap.RunSQLMaintenance(ctx), ErrReadOnly)
		require.NoError(t, snap.Ping(ctx))

		return snap.ReadSnapshot(ctx, func(inner Store) error {
			n, err := inner.CountMessages(ctx, Filter{})
			require.NoError(t, err)
			assert.Zero(t, n)
			return nil
		})
	})
	require.NoError(t, err)
}
