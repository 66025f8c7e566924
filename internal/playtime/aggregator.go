package playtime

import (
	"context"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/playlimit/internal/metrics"
	"github.com/goodtune/playlimit/internal/storage"
	"github.com/rs/zerolog"
)

// StartOfLocalDay returns midnight of now's date in loc.
func StartOfLocalDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Aggregator combines ledger totals with live session minutes.
//
// The day boundary is derived from the clock on every call; caching it would
// keep counting yesterday's records after midnight.
type Aggregator struct {
	ledger  storage.Ledger
	tracker *Tracker
	loc     *time.Location
	clock   quartz.Clock
	logger  zerolog.Logger
}

// NewAggregator creates an aggregator for the given zone.
func NewAggregator(ledger storage.Ledger, tracker *Tracker, loc *time.Location, clock quartz.Clock, logger zerolog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Aggregator{
		ledger:  ledger,
		tracker: tracker,
		loc:     loc,
		clock:   clock,
		logger:  logger.With().Str("component", "aggregator").Logger(),
	}
}

// StartOfToday returns the current local day boundary.
func (a *Aggregator) StartOfToday() time.Time {
	return StartOfLocalDay(a.clock.Now("aggregator", "today"), a.loc)
}

// PlaytimeToday returns persisted minutes since local midnight plus live minutes.
func (a *Aggregator) PlaytimeToday(ctx context.Context, userID string) int64 {
	live, _ := a.tracker.Live(userID)
	return a.todayWithLive(ctx, userID, live)
}

// PlaytimeAll returns every persisted minute plus live minutes.
func (a *Aggregator) PlaytimeAll(ctx context.Context, userID string) int64 {
	live, _ := a.tracker.Live(userID)
	return a.sumSince(ctx, userID, time.Unix(0, 0), "sum_all") + live
}

// todayWithLive is PlaytimeToday with the live minutes supplied by the caller,
// so a tick can evaluate against the values it just produced.
func (a *Aggregator) todayWithLive(ctx context.Context, userID string, live int64) int64 {
	return a.sumSince(ctx, userID, a.StartOfToday(), "sum_today") + live
}

func (a *Aggregator) sumSince(ctx context.Context, userID string, since time.Time, query string) int64 {
	total, err := a.ledger.SumSince(ctx, userID, since)
	if err != nil {
		metrics.LedgerQueryFailures.WithLabelValues(query).Inc()
		a.logger.Error().
			Err(err).
			Str("user_id", userID).
			Str("query", query).
			Msg("Ledger query failed, treating as zero")
		return 0
	}
	return total
}

// LeaderboardToday ranks today's totals by minutes descending, ties by user id.
func (a *Aggregator) LeaderboardToday(ctx context.Context) Leaderboard {
	totals, err := a.ledger.GroupedSumSince(ctx, a.StartOfToday())
	if err != nil {
		metrics.LedgerQueryFailures.WithLabelValues("grouped_today").Inc()
		a.logger.Error().Err(err).Str("query", "grouped_today").Msg("Ledger query failed, treating as zero")
		totals = nil
	}

	live := a.tracker.Snapshot()
	board := Leaderboard{HasData: len(totals) > 0}

	merged := make(map[string]int64, len(totals)+len(live))
	for userID, minutes := range totals {
		merged[userID] = minutes
	}
	for userID, minutes := range live {
		if minutes >= 1 {
			merged[userID] += minutes
			board.HasData = true
		}
	}

	for userID, minutes := range merged {
		if minutes <= 0 {
			continue
		}
		board.Entries = append(board.Entries, LeaderboardEntry{UserID: userID, Minutes: minutes})
	}

	sort.Slice(board.Entries, func(i, j int) bool {
		if board.Entries[i].Minutes != board.Entries[j].Minutes {
			return board.Entries[i].Minutes > board.Entries[j].Minutes
		}
		return board.Entries[i].UserID < board.Entries[j].UserID
	})
	return board
}
