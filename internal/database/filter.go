package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// DateLayout is the layout of date range bounds accepted from users.
const DateLayout = "2006-01-02"

// ErrInvalidDateRange is returned when the end of a range precedes its start.
var ErrInvalidDateRange = errors.New("invalid date range: end date precedes start date")

// DateRange is an optional inclusive range of UTC calendar days.
// A nil bound leaves that side open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// NewDateRange truncates both bounds to their UTC calendar day and validates them.
func NewDateRange(start, end *time.Time) (DateRange, error) {
	r := DateRange{Start: truncateDay(start), End: truncateDay(end)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// ParseDateRange parses YYYY-MM-DD bounds; an empty string leaves that side open.
func ParseDateRange(from, to string) (DateRange, error) {
	start, err := parseDay(from)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := parseDay(to)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date: %w", err)
	}
	return NewDateRange(start, end)
}

// Validate reports ErrInvalidDateRange when End precedes Start.
func (r DateRange) Validate() error {
	if r.Start != nil && r.End != nil && truncateDay(r.End).Before(*truncateDay(r.Start)) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidDateRange,
			r.Start.UTC().Format(DateLayout), r.End.UTC().Format(DateLayout))
	}
	return nil
}

// IsZero reports whether the range is unbounded on both sides.
func (r DateRange) IsZero() bool {
	return r.Start == nil && r.End == nil
}

// Contains reports whether t falls inside the range. The end day is inclusive,
// implemented as t < end + 1 day.
func (r DateRange) Contains(t time.Time) bool {
	if lower, ok := r.lower(); ok && t.Before(lower) {
		return false
	}
	if upper, ok := r.upper(); ok && !t.Before(upper) {
		return false
	}
	return true
}

func (r DateRange) String() string {
	format := func(t *time.Time) string {
		if t == nil {
			return "*"
		}
		return t.UTC().Format(DateLayout)
	}
	return format(r.Start) + ".." + format(r.End)
}

func (r DateRange) lower() (time.Time, bool) {
	if r.Start == nil {
		return time.Time{}, false
	}
	return *truncateDay(r.Start), true
}

// upper returns the exclusive upper bound.
func (r DateRange) upper() (time.Time, bool) {
	if r.End == nil {
		return time.Time{}, false
	}
	return truncateDay(r.End).AddDate(0, 0, 1), true
}

func truncateDay(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return &day
}

func parseDay(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateLayout, value, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Filter narrows the messages a query sees. Zero values impose no restriction.
type Filter struct {
	Range DateRange

	SenderID  *int64
	HasSender bool

	MediaTypes        []MediaType // media_type IN (...)
	ExcludeMediaTypes []MediaType // media_type IS NULL OR NOT IN (...)

	HasText         bool
	HasStickerEmoji bool
}

// ForSender returns a copy of f narrowed to one sender.
func (f Filter) ForSender(id int64) Filter {
	f.SenderID = &id
	return f
}

// where compiles the filter into a WHERE clause with bindvars and its arguments.
// Slice arguments are left for sqlx.In to expand.
func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if lower, ok := f.Range.lower(); ok {
		clauses = append(clauses, "date >= ?")
		args = append(args, FormatTimestamp(lower))
	}
	if upper, ok := f.Range.upper(); ok {
		clauses = append(clauses, "date < ?")
		args = append(args, FormatTimestamp(upper))
	}
	if f.SenderID != nil {
		clauses = append(clauses, "sender_id = ?")
		args = append(args, *f.SenderID)
	}
	if f.HasSender {
		clauses = append(clauses, "sender_id IS NOT NULL")
	}
	if len(f.MediaTypes) > 0 {
		clauses = append(clauses, "media_type IN (?)")
		args = append(args, mediaStrings(f.MediaTypes))
	}
	if len(f.ExcludeMediaTypes) > 0 {
		clauses = append(clauses, "(media_type IS NULL OR media_type NOT IN (?))")
		args = append(args, mediaStrings(f.ExcludeMediaTypes))
	}
	if f.HasText {
		clauses = append(clauses, "text IS NOT NULL AND text <> ''")
	}
	if f.HasStickerEmoji {
		clauses = append(clauses, "sticker_emoji IS NOT NULL AND sticker_emoji <> ''")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// bindQuery expands slice arguments and rebinds the query for the connection's driver.
func bindQuery(db reader, query string, args []any) (string, []any, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("failed to expand query arguments: %w", err)
	}
	return db.Rebind(query), args, nil
}

func mediaStrings(types []MediaType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
