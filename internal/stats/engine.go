// Package stats computes descriptive statistics over the stored messages of
// a chat, globally and per sender.
package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/chatstat/internal/database"
	"github.com/edgard/chatstat/internal/metrics"
	"github.com/edgard/chatstat/internal/tokenize"
)

const (
	// TopTokens is the size of the token ranking.
	TopTokens = 10
	// TopStickers is the size of the sticker ranking.
	TopStickers = 5

	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"

	// DefaultWorkers bounds how many sender reports are computed at once.
	DefaultWorkers = 4
)

var (
	voiceMedia  = []database.MediaType{database.MediaVoice, database.MediaVideoNote}
	visualMedia = []database.MediaType{database.MediaPhoto, database.MediaVideo}
)

// Engine computes statistics from a Store. It never writes.
type Engine struct {
	store     database.Store
	tokenizer *tokenize.Tokenizer
	logger    *slog.Logger
	metrics   *metrics.Metrics
	workers   int
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of concurrent per-sender computations.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithMetrics records aggregation durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine. A nil tokenizer selects the default one.
func NewEngine(store database.Store, tokenizer *tokenize.Tokenizer, logger *slog.Logger, opts ...Option) *Engine {
	if tokenizer == nil {
		tokenizer = tokenize.New()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &Engine{
		store:     store,
		tokenizer: tokenizer,
		logger:    logger.With("component", "stats"),
		workers:   DefaultWorkers,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute builds the global statistics and the statistics of every sender
// with at least one message in rng. All queries of one report read the same
// snapshot of the store.
func (e *Engine) Compute(ctx context.Context, rng database.DateRange) (*Report, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	var report *Report
	err := e.store.ReadSnapshot(ctx, func(st database.Store) error {
		var err error
		report, err = e.bind(st).compute(ctx, rng)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Statistics computed",
		"range", report.Range,
		"total_messages", report.Global.TotalMessages,
		"senders", len(report.Senders))
	return report, nil
}

// bind returns a copy of e reading from st.
func (e *Engine) bind(st database.Store) *Engine {
	bound := *e
	bound.store = st
	return &bound
}

func (e *Engine) compute(ctx context.Context, rng database.DateRange) (*Report, error) {
	senders, err := e.store.ListSenders(ctx, database.Filter{Range: rng})
	if err != nil {
		return nil, fmt.Errorf("failed to list senders: %w", err)
	}

	report := &Report{
		Range:       rng.String(),
		GeneratedAt: e.now().UTC(),
		Users:       make(map[int64]*UserStats, len(senders)),
		Senders:     senders,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	g.Go(func() error {
		global, err := e.global(gctx, rng, senders)
		if err != nil {
			return err
		}
		report.Global = global
		return nil
	})
	for _, sender := range senders {
		g.Go(func() error {
			user, err := e.user(gctx, sender, rng)
			if err != nil {
				return err
			}
			mu.Lock()
			report.Users[sender.ID] = user
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

// Global computes the chat-wide statistics for rng.
func (e *Engine) Global(ctx context.Context, rng database.DateRange) (*GlobalStats, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	var out *GlobalStats
	err := e.store.ReadSnapshot(ctx, func(st database.Store) error {
		bound := e.bind(st)
		senders, err := st.ListSenders(ctx, database.Filter{Range: rng})
		if err != nil {
			return fmt.Errorf("failed to list senders: %w", err)
		}
		out, err = bound.global(ctx, rng, senders)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// User computes the statistics of one sender for rng. A sender without
// messages yields empty statistics.
func (e *Engine) User(ctx context.Context, senderID int64, rng database.DateRange) (*UserStats, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	var out *UserStats
	err := e.store.ReadSnapshot(ctx, func(st database.Store) error {
		sender := database.Sender{ID: senderID}
		senders, err := st.ListSenders(ctx, database.Filter{Range: rng}.ForSender(senderID))
		if err != nil {
			return fmt.Errorf("failed to look up sender %d: %w", senderID, err)
		}
		if len(senders) > 0 {
			sender = senders[0]
		}
		out, err = e.bind(st).user(ctx, sender, rng)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) global(ctx context.Context, rng database.DateRange, senders []database.Sender) (*GlobalStats, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveAggregation("global", time.Since(start)) }()

	base := database.Filter{Range: rng}
	directory := make(map[int64]database.Sender, len(senders))
	for _, s := range senders {
		directory[s.ID] = s
	}

	out := &GlobalStats{}
	var err error

	if out.TotalMessages, err = e.store.CountMessages(ctx, base); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	texts, err := e.scanTexts(ctx, base)
	if err != nil {
		return nil, err
	}
	out.TopTokens = topTokens(texts.tokens, TopTokens)
	out.TopWordySender = maxSender(texts.perSender, directory)
	out.MonthlyTopTokens = monthlyTopTokens(texts.perMonth)

	if out.TopStickers, err = e.topStickers(ctx, base); err != nil {
		return nil, err
	}

	days, err := e.scanDays(ctx, base)
	if err != nil {
		return nil, err
	}
	out.MostActiveDay, out.InactiveDays = days.mostActive(), days.inactive()

	if out.VoiceCount, err = e.store.CountMessages(ctx, withMedia(base, voiceMedia)); err != nil {
		return nil, fmt.Errorf("failed to count voice messages: %w", err)
	}

	if out.TopSender, err = e.topSender(ctx, base, directory); err != nil {
		return nil, err
	}
	if out.TopVoiceSender, err = e.topSender(ctx, withMedia(base, voiceMedia), directory); err != nil {
		return nil, err
	}
	if out.TopMediaSender, err = e.topSender(ctx, withMedia(base, visualMedia), directory); err != nil {
		return nil, err
	}
	// Stickers are counted by emoji, the same set the sticker ranking uses.
	withEmoji := base
	withEmoji.HasStickerEmoji = true
	if out.TopStickerSender, err = e.topSender(ctx, withEmoji, directory); err != nil {
		return nil, err
	}

	months, err := e.scanMonths(ctx, base)
	if err != nil {
		return nil, err
	}
	out.MonthlyRanking = months.ranking()
	out.MonthlyTopSenders = months.topSenders(directory)
	out.MalformedTimestamps = months.malformed

	return out, nil
}

func (e *Engine) user(ctx context.Context, sender database.Sender, rng database.DateRange) (*UserStats, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveAggregation("user", time.Since(start)) }()

	base := database.Filter{Range: rng}.ForSender(sender.ID)
	out := &UserStats{Sender: sender}
	var err error

	if out.TotalMessages, err = e.store.CountMessages(ctx, base); err != nil {
		return nil, fmt.Errorf("failed to count messages of sender %d: %w", sender.ID, err)
	}

	texts, err := e.scanTexts(ctx, base)
	if err != nil {
		return nil, err
	}
	out.TopTokens = topTokens(texts.tokens, TopTokens)

	if out.TopStickers, err = e.topStickers(ctx, base); err != nil {
		return nil, err
	}

	days, err := e.scanDays(ctx, base)
	if err != nil {
		return nil, err
	}
	out.MostActiveDay, out.InactiveDays = days.mostActive(), days.inactive()

	if out.VoiceCount, err = e.store.CountMessages(ctx, withMedia(base, voiceMedia)); err != nil {
		return nil, fmt.Errorf("failed to count voice messages of sender %d: %w", sender.ID, err)
	}

	months, err := e.scanMonths(ctx, base)
	if err != nil {
		return nil, err
	}
	out.MonthlyRanking = months.ranking()
	out.MalformedTimestamps = months.malformed

	return out, nil
}

// textScan holds token counts gathered from one pass over text messages.
type textScan struct {
	tokens    *Counter[string]
	perSender *Counter[int64]
	perMonth  map[string]*Counter[string]
}

func (e *Engine) scanTexts(ctx context.Context, base database.Filter) (*textScan, error) {
	f := base
	f.HasText = true
	msgs, err := e.store.SelectMessages(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to load text messages: %w", err)
	}

	scan := &textScan{
		tokens:    NewCounter[string](),
		perSender: NewCounter[int64](),
		perMonth:  make(map[string]*Counter[string]),
	}
	for i := range msgs {
		tokens := e.tokenizer.Tokenize(msgs[i].Text.String)
		for _, tok := range tokens {
			scan.tokens.Add(tok)
		}
		if msgs[i].SenderID.Valid {
			scan.perSender.AddN(msgs[i].SenderID.Int64, len(tokens))
		}

		ts, err := msgs[i].Timestamp()
		if err != nil || len(tokens) == 0 {
			continue
		}
		month := ts.Format(monthLayout)
		counter, ok := scan.perMonth[month]
		if !ok {
			counter = NewCounter[string]()
			scan.perMonth[month] = counter
		}
		for _, tok := range tokens {
			counter.Add(tok)
		}
	}
	return scan, nil
}

func topTokens(c *Counter[string], n int) []TokenCount {
	top := c.MostCommon(n)
	out := make([]TokenCount, 0, len(top))
	for _, e := range top {
		out = append(out, TokenCount{Token: e.Key, Count: e.Count})
	}
	return out
}

// monthlyTopTokens lists the top token of every month that has tokens, in
// chronological order.
func monthlyTopTokens(perMonth map[string]*Counter[string]) []MonthToken {
	months := make([]string, 0, len(perMonth))
	for m := range perMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	out := make([]MonthToken, 0, len(months))
	for _, m := range months {
		top := perMonth[m].MostCommon(1)
		if len(top) == 0 {
			continue
		}
		out = append(out, MonthToken{Month: m, Token: top[0].Key, Count: top[0].Count})
	}
	return out
}

func (e *Engine) topStickers(ctx context.Context, base database.Filter) ([]StickerCount, error) {
	f := base
	f.HasStickerEmoji = true
	msgs, err := e.store.SelectMessages(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to load sticker messages: %w", err)
	}

	counter := NewCounter[string]()
	for i := range msgs {
		counter.Add(msgs[i].StickerEmoji.String)
	}

	top := counter.MostCommon(TopStickers)
	out := make([]StickerCount, 0, len(top))
	for _, entry := range top {
		sc := StickerCount{Emoji: entry.Key, Count: entry.Count}
		setName, ok, err := e.store.StickerSetForEmoji(ctx, entry.Key, base)
		if err != nil {
			return nil, err
		}
		if ok {
			sc.SetName = setName
			sc.PackLink = PackLink(setName)
		}
		out = append(out, sc)
	}
	return out, nil
}

// dayScan counts messages per UTC day, excluding photo and video.
type dayScan struct {
	days      *Counter[string]
	first     time.Time
	last      time.Time
	malformed int
}

func (e *Engine) scanDays(ctx context.Context, base database.Filter) (*dayScan, error) {
	f := base
	f.ExcludeMediaTypes = visualMedia
	msgs, err := e.store.SelectMessages(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for daily activity: %w", err)
	}

	scan := &dayScan{days: NewCounter[string]()}
	for i := range msgs {
		ts, err := msgs[i].Timestamp()
		if err != nil {
			scan.malformed++
			e.logger.DebugContext(ctx, "Skipping message with malformed timestamp", "message_id", msgs[i].ID, "error", err)
			continue
		}
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		if scan.days.Len() == 0 || day.Before(scan.first) {
			scan.first = day
		}
		if scan.days.Len() == 0 || day.After(scan.last) {
			scan.last = day
		}
		scan.days.Add(day.Format(dayLayout))
	}
	return scan, nil
}

func (s *dayScan) mostActive() *DayCount {
	top := s.days.MostCommon(1)
	if len(top) == 0 {
		return nil
	}
	return &DayCount{Day: top[0].Key, Count: top[0].Count}
}

// inactive returns the number of days between the first and last active day
// without any message.
func (s *dayScan) inactive() int {
	if s.days.Len() == 0 {
		return 0
	}
	span := int(s.last.Sub(s.first).Hours()/24) + 1
	return span - s.days.Len()
}

// monthScan counts messages per UTC month, globally and per sender.
type monthScan struct {
	months    *Counter[string]
	senders   map[string]map[int64]int
	malformed int
}

func (e *Engine) scanMonths(ctx context.Context, base database.Filter) (*monthScan, error) {
	msgs, err := e.store.SelectMessages(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for monthly activity: %w", err)
	}

	scan := &monthScan{
		months:  NewCounter[string](),
		senders: make(map[string]map[int64]int),
	}
	for i := range msgs {
		ts, err := msgs[i].Timestamp()
		if err != nil {
			scan.malformed++
			continue
		}
		month := ts.Format(monthLayout)
		scan.months.Add(month)

		bySender, ok := scan.senders[month]
		if !ok {
			bySender = make(map[int64]int)
			scan.senders[month] = bySender
		}
		if msgs[i].SenderID.Valid {
			bySender[msgs[i].SenderID.Int64]++
		}
	}
	return scan, nil
}

// ranking orders months by message count, descending. Ties keep the order
// in which months were first seen.
func (s *monthScan) ranking() []MonthCount {
	top := s.months.MostCommon(-1)
	out := make([]MonthCount, 0, len(top))
	for _, e := range top {
		out = append(out, MonthCount{Month: e.Key, Count: e.Count})
	}
	return out
}

// topSenders returns the most active sender of every month in chronological
// order. Ties go to the lowest sender id.
func (s *monthScan) topSenders(directory map[int64]database.Sender) []MonthSender {
	months := s.months.Keys()
	sort.Strings(months)

	out := make([]MonthSender, 0, len(months))
	for _, m := range months {
		counter := NewCounter[int64]()
		for id, n := range s.senders[m] {
			counter.AddN(id, n)
		}
		out = append(out, MonthSender{Month: m, Sender: maxSender(counter, directory)})
	}
	return out
}

func (e *Engine) topSender(ctx context.Context, f database.Filter, directory map[int64]database.Sender) (*SenderCount, error) {
	totals, err := e.store.CountBySender(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to rank senders: %w", err)
	}
	if len(totals) == 0 {
		return nil, nil
	}
	return senderCount(totals[0].SenderID, totals[0].Count, directory), nil
}

// maxSender picks the sender with the highest positive count, preferring the
// lowest id on ties. It returns nil when no sender has a positive count.
func maxSender(c *Counter[int64], directory map[int64]database.Sender) *SenderCount {
	var (
		bestID    int64
		bestCount int
	)
	for _, e := range c.MostCommon(-1) {
		if e.Count <= 0 {
			break
		}
		if e.Count < bestCount {
			break
		}
		if bestCount == 0 || e.Key < bestID {
			bestID, bestCount = e.Key, e.Count
		}
	}
	if bestCount == 0 {
		return nil
	}
	return senderCount(bestID, bestCount, directory)
}

func senderCount(id int64, count int, directory map[int64]database.Sender) *SenderCount {
	sender, ok := directory[id]
	if !ok {
		sender = database.Sender{ID: id}
	}
	return &SenderCount{Sender: sender, Count: count}
}

func withMedia(f database.Filter, media []database.MediaType) database.Filter {
	f.MediaTypes = media
	return f
}
