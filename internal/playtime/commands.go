package playtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Command names understood by Commands.Run.
const (
	CommandGetTime     = "get-time"
	CommandLeaderboard = "leaderboard"
)

const (
	getTimeUsage       = "Usage: /get-time [today|all]"
	playerOnlyMessage  = "This command can only be run by a player."
	noTimeToday        = "No time played today."
	noSignificantToday = "No significant time played today."
)

// ErrUnknownCommand is returned by Run for commands it does not handle.
var ErrUnknownCommand = errors.New("unknown command")

// Commands renders the plain text replies of the player commands.
type Commands struct {
	aggregator *Aggregator
	tracker    *Tracker
	names      NameResolver
}

// NewCommands creates the command surface on top of an aggregator.
func NewCommands(aggregator *Aggregator, tracker *Tracker, names NameResolver) *Commands {
	return &Commands{
		aggregator: aggregator,
		tracker:    tracker,
		names:      names,
	}
}

// Run dispatches a command issued by userID.
func (c *Commands) Run(ctx context.Context, userID, command string, args []string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(command, "/")) {
	case CommandGetTime:
		return c.GetTime(ctx, userID, args), nil
	case CommandLeaderboard:
		return c.Leaderboard(ctx), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}
}

// GetTime answers get-time for userID. args[0] selects "today" or "all";
// anything else yields the usage string.
func (c *Commands) GetTime(ctx context.Context, userID string, args []string) string {
	if userID == "" {
		return playerOnlyMessage
	}
	if len(args) == 0 {
		return getTimeUsage
	}

	session, _ := c.tracker.Live(userID)

	switch strings.ToLower(args[0]) {
	case "today":
		total := c.aggregator.todayWithLive(ctx, userID, session)
		return fmt.Sprintf("You've played for %d %s today, and %d %s during this session.",
			total, Pluralize("minute", total), session, Pluralize("minute", session))
	case "all":
		total := c.aggregator.PlaytimeAll(ctx, userID)
		return fmt.Sprintf("You've played for %d %s since the start of this server.",
			total, Pluralize("minute", total))
	default:
		return getTimeUsage
	}
}

// Leaderboard renders today's ranking, one line per player.
func (c *Commands) Leaderboard(ctx context.Context) string {
	board := c.aggregator.LeaderboardToday(ctx)
	if !board.HasData {
		return noTimeToday
	}
	if len(board.Entries) == 0 {
		return noSignificantToday
	}
	return FormatLeaderboard(board.Entries, c.names)
}

// FormatLeaderboard renders ranked entries as "#<rank>: <name> - <N> minutes".
func FormatLeaderboard(entries []LeaderboardEntry, names NameResolver) string {
	lines := make([]string, 0, len(entries))
	for i, entry := range entries {
		lines = append(lines, fmt.Sprintf("#%d: %s - %d %s",
			i+1, names.DisplayName(entry.UserID), entry.Minutes, Pluralize("minute", entry.Minutes)))
	}
	return strings.Join(lines, "\n")
}

// Pluralize appends "s" to word unless n is exactly 1.
func Pluralize(word string, n int64) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
