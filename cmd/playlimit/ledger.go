package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/coder/quartz"
	"github.com/fatih/color"
	"github.com/goodtune/playlimit/internal/config"
	"github.com/goodtune/playlimit/internal/playtime"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Offline queries against the ledger. They see persisted periods only; live
// sessions belong to the running server.

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Show today's persisted play time ranking",
	Args:  cobra.NoArgs,
	RunE:  runLeaderboard,
}

var getTimeCmd = &cobra.Command{
	Use:   "get-time USER [today|all]",
	Short: "Show persisted play time for a user",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runGetTime,
}

func init() {
	rootCmd.AddCommand(leaderboardCmd)
	rootCmd.AddCommand(getTimeCmd)
}

// idNames displays users by id; the offline CLI has no display names.
type idNames struct{}

func (idNames) DisplayName(userID string) string { return userID }

func openAggregator() (*playtime.Aggregator, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	loc, err := cfg.Limit.Location()
	if err != nil {
		return nil, nil, err
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.WarnLevel)
	tracker := playtime.NewTracker(nil, logger)
	agg := playtime.NewAggregator(store, tracker, loc, quartz.NewReal(), logger)

	return agg, func() { _ = store.Close() }, nil
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	agg, closeFn, err := openAggregator()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Printf("Leaderboard since %s\n", agg.StartOfToday().Format(time.RFC3339))

	board := agg.LeaderboardToday(ctx)
	switch {
	case !board.HasData:
		fmt.Println("No time played today.")
	case len(board.Entries) == 0:
		fmt.Println("No significant time played today.")
	default:
		fmt.Println(playtime.FormatLeaderboard(board.Entries, idNames{}))
	}
	return nil
}

func runGetTime(cmd *cobra.Command, args []string) error {
	scope := "today"
	if len(args) == 2 {
		scope = args[1]
	}
	if scope != "today" && scope != "all" {
		return fmt.Errorf("unknown scope %q (expected today or all)", scope)
	}

	agg, closeFn, err := openAggregator()
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	userID := args[0]
	var total int64
	if scope == "all" {
		total = agg.PlaytimeAll(ctx, userID)
	} else {
		total = agg.PlaytimeToday(ctx, userID)
	}

	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Printf("%s: %d %s (%s)\n", userID, total, playtime.Pluralize("minute", total), scope)
	return nil
}
