package playtime

import (
	"sort"
	"sync"
	"time"

	"github.com/goodtune/playlimit/internal/metrics"
	"github.com/rs/zerolog"
)

// Session is the live, in-memory playtime of one connected player.
type Session struct {
	UserID             string
	AccumulatedMinutes int64
	LastPosition       Position
	ConnectedAt        time.Time
}

// TickResult reports what one evaluation period did to a session.
type TickResult struct {
	UserID  string
	Active  bool
	Minutes int64 // live minutes after the tick
}

// Tracker owns the live sessions. Every mutation happens under one lock, so
// a tick and a disconnect for the same player never interleave.
type Tracker struct {
	afk    *AfkDetector
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewTracker creates an empty tracker.
func NewTracker(afk *AfkDetector, logger zerolog.Logger) *Tracker {
	if afk == nil {
		afk = NewAfkDetector()
	}
	return &Tracker{
		afk:      afk,
		sessions: make(map[string]*Session),
		logger:   logger.With().Str("component", "tracker").Logger(),
	}
}

// OnConnect registers a fresh session, replacing any stale one for userID.
func (t *Tracker) OnConnect(userID string, pos Position, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[userID]; exists {
		t.logger.Warn().Str("user_id", userID).Msg("Replacing stale session")
	}

	t.afk.Forget(userID)
	t.sessions[userID] = &Session{
		UserID:       userID,
		LastPosition: pos,
		ConnectedAt:  now,
	}
	metrics.LiveSessions.Set(float64(len(t.sessions)))

	t.logger.Debug().Str("user_id", userID).Msg("Session started")
}

// Tick runs one evaluation period over every live session. Sessions without
// a sample in positions are left untouched. Results are ordered by user id.
func (t *Tracker) Tick(positions map[string]Position) []TickResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	results := make([]TickResult, 0, len(t.sessions))
	for userID, session := range t.sessions {
		pos, ok := positions[userID]
		if !ok {
			t.logger.Debug().Str("user_id", userID).Msg("No position sample this period")
			results = append(results, TickResult{UserID: userID, Minutes: session.AccumulatedMinutes})
			continue
		}

		active := t.afk.Classify(userID, pos)
		session.LastPosition = pos
		if active {
			session.AccumulatedMinutes++
			metrics.PresenceVerdicts.WithLabelValues("active").Inc()
			metrics.MinutesCredited.Inc()
		} else {
			metrics.PresenceVerdicts.WithLabelValues("idle").Inc()
			t.logger.Debug().
				Str("user_id", userID).
				Int64("minutes", session.AccumulatedMinutes).
				Msg("Player idle")
		}

		results = append(results, TickResult{
			UserID:  userID,
			Active:  active,
			Minutes: session.AccumulatedMinutes,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].UserID < results[j].UserID })
	return results
}

// OnDisconnect removes the session for userID and returns its live minutes,
// or 0 when the player was not tracked.
func (t *Tracker) OnDisconnect(userID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.afk.Forget(userID)
	session, ok := t.sessions[userID]
	if !ok {
		return 0
	}
	delete(t.sessions, userID)
	metrics.LiveSessions.Set(float64(len(t.sessions)))
	return session.AccumulatedMinutes
}

// OnShutdown removes every session and returns the live minutes per player.
func (t *Tracker) OnShutdown() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	flushed := make(map[string]int64, len(t.sessions))
	for userID, session := range t.sessions {
		flushed[userID] = session.AccumulatedMinutes
		t.afk.Forget(userID)
	}
	t.sessions = make(map[string]*Session)
	metrics.LiveSessions.Set(0)
	return flushed
}

// Live returns the live minutes for userID and whether it is connected.
func (t *Tracker) Live(userID string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	session, ok := t.sessions[userID]
	if !ok {
		return 0, false
	}
	return session.AccumulatedMinutes, true
}

// Session returns a copy of the live session for userID.
func (t *Tracker) Session(userID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	session, ok := t.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

// Snapshot returns the live minutes of every connected player.
func (t *Tracker) Snapshot() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.sessions))
	for userID, session := range t.sessions {
		out[userID] = session.AccumulatedMinutes
	}
	return out
}

// Len returns the number of live sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
