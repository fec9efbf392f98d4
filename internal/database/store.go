package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Store defines the persistence operations for one chat's message history.
// Messages are append-only: there is no update or delete.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveMessages inserts a batch in one transaction. Messages whose id is
	// already stored are skipped silently. It returns the number of new rows.
	SaveMessages(ctx context.Context, messages []Message) (int, error)

	// CountMessages counts the messages matching the filter.
	CountMessages(ctx context.Context, filter Filter) (int, error)

	// SelectMessages returns the matching messages in scan order (ascending id).
	SelectMessages(ctx context.Context, filter Filter) ([]Message, error)

	// CountBySender groups matching messages by sender, ordered by count
	// descending and then by sender id ascending.
	CountBySender(ctx context.Context, filter Filter) ([]SenderTotal, error)

	// StickerSetForEmoji returns the set name of the first matching sticker
	// message carrying the emoji. ok is false when none has a set name.
	StickerSetForEmoji(ctx context.Context, emoji string, filter Filter) (setName string, ok bool, err error)

	// ListSenders returns the distinct senders of matching messages ordered
	// by id, with the names of their most recent message.
	ListSenders(ctx context.Context, filter Filter) ([]Sender, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error

	// ReadSnapshot runs fn with a Store bound to one read-only transaction,
	// so every query made through it sees the same committed state. Commits
	// from other producers wait until fn returns. The bound Store rejects
	// writes.
	ReadSnapshot(ctx context.Context, fn func(Store) error) error
}

// ErrReadOnly is returned by write operations on a snapshot Store.
var ErrReadOnly = errors.New("store is a read-only snapshot")

// SenderTotal is a per-sender message count.
type SenderTotal struct {
	SenderID int64 `db:"sender_id"`
	Count    int   `db:"total"`
}

const messageColumns = `id, date, sender_id, sender_username, sender_first_name, sender_last_name,
        text, media_type, sticker_emoji, sticker_file_id, sticker_set_name, file_id`

// reader is satisfied by both *sqlx.DB and *sqlx.Tx.
type reader interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

// sqlxStore provides an implementation of the Store interface using sqlx.
// A snapshot store has no db and reads through its transaction.
type sqlxStore struct {
	db     *sqlx.DB
	q      reader
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		q:      db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	if s.db == nil {
		var one int
		return sqlx.GetContext(ctx, s.q, &one, "SELECT 1")
	}
	return s.db.PingContext(ctx)
}

// SaveMessages inserts a batch of messages with INSERT OR IGNORE inside one transaction.
func (s *sqlxStore) SaveMessages(ctx context.Context, messages []Message) (int, error) {
	if s.db == nil {
		return 0, ErrReadOnly
	}
	if len(messages) == 0 {
		return 0, nil
	}
	for i := range messages {
		if messages[i].ID == 0 {
			return 0, fmt.Errorf("message at position %d must have a non-zero id", i)
		}
		if messages[i].Date == "" {
			return 0, fmt.Errorf("message %d must have a timestamp", messages[i].ID)
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving messages", "count", len(messages), "error", err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	stmt, err := tx.PrepareNamedContext(ctx, `
        INSERT OR IGNORE INTO messages (`+messageColumns+`)
        VALUES (:id, :date, :sender_id, :sender_username, :sender_first_name, :sender_last_name,
        :text, :media_type, :sticker_emoji, :sticker_file_id, :sticker_set_name, :file_id);
    `)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range messages {
		result, err := stmt.ExecContext(ctx, &messages[i])
		if err != nil {
			s.logger.ErrorContext(ctx, "Error saving message", "message_id", messages[i].ID, "error", err)
			return 0, fmt.Errorf("failed to save message %d: %w", messages[i].ID, err)
		}
		if affected, err := result.RowsAffected(); err == nil {
			inserted += int(affected)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "count", len(messages), "error", err)
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Saved message batch", "count", len(messages), "inserted", inserted)
	return inserted, nil
}

// CountMessages counts the messages matching the filter.
func (s *sqlxStore) CountMessages(ctx context.Context, filter Filter) (int, error) {
	where, args := filter.where()
	query, args, err := bindQuery(s.q, "SELECT COUNT(*) FROM messages"+where, args)
	if err != nil {
		return 0, err
	}

	var count int
	if err := sqlx.GetContext(ctx, s.q, &count, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// SelectMessages returns the matching messages ordered by id.
func (s *sqlxStore) SelectMessages(ctx context.Context, filter Filter) ([]Message, error) {
	where, args := filter.where()
	query, args, err := bindQuery(s.q, "SELECT "+messageColumns+" FROM messages"+where+" ORDER BY id", args)
	if err != nil {
		return nil, err
	}

	var messages []Message
	if err := sqlx.SelectContext(ctx, s.q, &messages, query, args...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			s.logger.WarnContext(ctx, "Context timeout or cancellation while selecting messages", "error", err)
			return nil, err
		}
		return nil, fmt.Errorf("failed to select messages: %w", err)
	}
	return messages, nil
}

// CountBySender groups matching messages by sender.
func (s *sqlxStore) CountBySender(ctx context.Context, filter Filter) ([]SenderTotal, error) {
	filter.HasSender = true
	where, args := filter.where()
	query, args, err := bindQuery(s.q,
		"SELECT sender_id, COUNT(*) AS total FROM messages"+where+
			" GROUP BY sender_id ORDER BY total DESC, sender_id ASC", args)
	if err != nil {
		return nil, err
	}

	var totals []SenderTotal
	if err := sqlx.SelectContext(ctx, s.q, &totals, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count messages by sender: %w", err)
	}
	return totals, nil
}

// StickerSetForEmoji returns the set name of the first sticker message with the emoji.
func (s *sqlxStore) StickerSetForEmoji(ctx context.Context, emoji string, filter Filter) (string, bool, error) {
	where, args := filter.where()
	if where == "" {
		where = " WHERE sticker_emoji = ?"
	} else {
		where += " AND sticker_emoji = ?"
	}
	args = append(args, emoji)

	query, args, err := bindQuery(s.q, "SELECT sticker_set_name FROM messages"+where+" ORDER BY id LIMIT 1", args)
	if err != nil {
		return "", false, err
	}

	var setName sql.NullString
	err = sqlx.GetContext(ctx, s.q, &setName, query, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("failed to look up sticker set for %q: %w", emoji, err)
	}
	if !setName.Valid || setName.String == "" {
		return "", false, nil
	}
	return setName.String, true, nil
}

type senderRow struct {
	ID        int64          `db:"sender_id"`
	Username  sql.NullString `db:"sender_username"`
	FirstName sql.NullString `db:"sender_first_name"`
	LastName  sql.NullString `db:"sender_last_name"`
}

// ListSenders returns distinct senders with the names from their latest message.
func (s *sqlxStore) ListSenders(ctx context.Context, filter Filter) ([]Sender, error) {
	filter.HasSender = true
	where, args := filter.where()
	query, args, err := bindQuery(s.q, `
        SELECT m.sender_id, m.sender_username, m.sender_first_name, m.sender_last_name
        FROM messages m
        JOIN (SELECT sender_id, MAX(id) AS last_id FROM messages`+where+` GROUP BY sender_id) latest
          ON m.id = latest.last_id
        ORDER BY m.sender_id`, args)
	if err != nil {
		return nil, err
	}

	var rows []senderRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list senders: %w", err)
	}

	senders := make([]Sender, 0, len(rows))
	for _, r := range rows {
		senders = append(senders, Sender{
			ID:        r.ID,
			Username:  r.Username.String,
			FirstName: r.FirstName.String,
			LastName:  r.LastName.String,
		})
	}
	return senders, nil
}

// RunSQLMaintenance executes VACUUM and then PRAGMA optimize on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if s.db == nil {
		return ErrReadOnly
	}
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		s.logger.WarnContext(ctx, "PRAGMA optimize failed after VACUUM", "error", err)
		return fmt.Errorf("failed to optimize database: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM, optimize) completed successfully")
	return nil
}

// ReadSnapshot runs fn inside a read-only transaction. Nested calls on a
// snapshot store reuse the enclosing transaction.
func (s *sqlxStore) ReadSnapshot(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "Error closing read transaction", "error", rollbackErr)
		}
	}()

	return fn(&sqlxStore{q: tx, logger: s.logger})
}
