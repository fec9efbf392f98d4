package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(value string) *time.Time {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestParseDateRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    string
		to      string
		want    string
		wantErr error
	}{
		{name: "unbounded", want: "*..*"},
		{name: "start only", from: "2023-01-01", want: "2023-01-01..*"},
		{name: "end only", to: "2023-02-01", want: "*..2023-02-01"},
		{name: "same day", from: "2023-01-01", to: "2023-01-01", want: "2023-01-01..2023-01-01"},
		{name: "end before start", from: "2023-01-02", to: "2023-01-01", wantErr: ErrInvalidDateRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := ParseDateRange(tt.from, tt.to)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.String())
		})
	}
}

func TestParseDateRange_MalformedDate(t *testing.T) {
	t.Parallel()

	_, err := ParseDateRange("2023-13-01", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidDateRange)
}

func TestDateRange_ContainsIsInclusiveByDay(t *testing.T) {
	t.Parallel()

	r, err := NewDateRange(day("2023-01-01"), day("2023-01-31"))
	require.NoError(t, err)

	assert.True(t, r.Contains(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, r.Contains(time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC)))
	assert.True(t, r.Contains(time.Date(2023, 1, 31, 23, 59, 59, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2022, 12, 31, 23, 59, 59, 0, time.UTC)))
}

func TestDateRange_ContainsNormalizesToUTC(t *testing.T) {
	t.Parallel()

	r, err := ParseDateRange("2023-01-02", "2023-01-02")
	require.NoError(t, err)

	// 2023-01-02 01:00 in UTC+3 is still 2023-01-01 in UTC.
	loc := time.FixedZone("UTC+3", 3*60*60)
	assert.False(t, r.Contains(time.Date(2023, 1, 2, 1, 0, 0, 0, loc)))
	assert.True(t, r.Contains(time.Date(2023, 1, 3, 2, 0, 0, 0, loc)))
}

func TestDateRange_ZeroContainsEverything(t *testing.T) {
	t.Parallel()

	var r DateRange
	assert.True(t, r.IsZero())
	assert.NoError(t, r.Validate())
	assert.True(t, r.Contains(time.Time{}))
	assert.True(t, r.Contains(time.Now()))
}

func TestFilterWhere(t *testing.T) {
	t.Parallel()

	r, err := ParseDateRange("2023-01-01", "2023-01-31")
	require.NoError(t, err)

	where, args := Filter{
		Range:             r,
		HasText:           true,
		ExcludeMediaTypes: []MediaType{MediaPhoto, MediaVideo},
	}.ForSender(42).where()

	assert.Equal(t,
		" WHERE date >= ? AND date < ? AND sender_id = ? AND (media_type IS NULL OR media_type NOT IN (?)) AND text IS NOT NULL AND text <> ''",
		where)
	require.Len(t, args, 4)
	assert.Equal(t, "2023-01-01T00:00:00Z", args[0])
	assert.Equal(t, "2023-02-01T00:00:00Z", args[1])
	assert.Equal(t, int64(42), args[2])
	assert.Equal(t, []string{"photo", "video"}, args[3])

	where, args = Filter{}.where()
	assert.Empty(t, where)
	assert.Empty(t, args)
}
