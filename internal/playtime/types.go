package playtime

import (
	"strings"
	"time"
)

const (
	// EvaluationPeriod is the interval at which presence is sampled. Each
	// active period credits exactly one minute.
	EvaluationPeriod = time.Minute

	// AfkThreshold is the distance a player must move on X or Y since the
	// last active period to count as active again.
	AfkThreshold = 5.0

	// PlayerPlaceholder is replaced with the display name in broadcasts.
	PlayerPlaceholder = "{player}"
)

// Position is a horizontal sample of a player's location. Height is not
// tracked.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ActionType identifies what the host must do with an Action.
type ActionType string

const (
	ActionKick      ActionType = "kick"
	ActionBroadcast ActionType = "broadcast"
)

// Action is a request to mutate externally visible player state. Actions are
// produced by the Enforcer and applied by the Dispatcher only.
type Action struct {
	Type    ActionType
	UserID  string // empty for broadcasts
	Message string
}

// Policy is the quota configuration, fixed for the life of the process.
type Policy struct {
	DailyLimitMinutes int64
	KickMessage       string
	BroadcastTemplate string
	IgnoredUserIDs    map[string]struct{}
	Location          *time.Location
}

// NewPolicy builds a Policy from configuration values. A nil location means UTC.
func NewPolicy(limit int64, kickMessage, broadcastTemplate string, ignored []string, loc *time.Location) Policy {
	if loc == nil {
		loc = time.UTC
	}
	set := make(map[string]struct{}, len(ignored))
	for _, id := range ignored {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return Policy{
		DailyLimitMinutes: limit,
		KickMessage:       kickMessage,
		BroadcastTemplate: broadcastTemplate,
		IgnoredUserIDs:    set,
		Location:          loc,
	}
}

// LeaderboardEntry is one ranked row of today's totals.
type LeaderboardEntry struct {
	UserID  string
	Minutes int64
}

// Leaderboard is today's ranking. HasData reports whether any persisted
// record or live session was seen, even if every total was zero.
type Leaderboard struct {
	Entries []LeaderboardEntry
	HasData bool
}
