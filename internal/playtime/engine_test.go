package playtime

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

type engineHarness struct {
	engine    *Engine
	ledger    *memLedger
	host      *fakeHost
	positions *fakePositions
	clock     *quartz.Mock
}

func newTestEngine(t *testing.T, policy Policy, now time.Time) *engineHarness {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(now)

	h := &engineHarness{
		ledger:    &memLedger{},
		host:      newFakeHost(),
		positions: newFakePositions(),
		clock:     clock,
	}
	h.engine = NewEngine(
		Config{ShutdownTimeout: time.Second},
		policy,
		h.ledger,
		h.host,
		h.positions,
		staticNames{"p1": "Alex"},
		clock,
		nopLogger(),
	)
	return h
}

// tick moves userID by 10 on X and runs one evaluation period.
func (h *engineHarness) tick(ctx context.Context, userID string, step int) {
	h.positions.set(userID, Position{X: float64(step * 10)})
	h.clock.Advance(time.Minute).MustWait(ctx)
}

func TestEngine_KickAfterReachingLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	h := newTestEngine(t, testPolicy(60), now)

	_ = h.ledger.Append(ctx, "p1", 50, now.Add(-time.Hour))

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.engine.OnConnect("p1", Position{})
	h.engine.pending.Wait()

	for step := 1; step <= 9; step++ {
		h.tick(ctx, "p1", step)
	}
	if got := h.host.all(); len(got) != 0 {
		t.Fatalf("Expected no action at 59 minutes, got %+v", got)
	}
	if live, _ := h.engine.Tracker().Live("p1"); live != 9 {
		t.Fatalf("Expected 9 live minutes, got %d", live)
	}

	h.tick(ctx, "p1", 10)

	kick := h.host.waitAction(t)
	if kick.Type != ActionKick || kick.UserID != "p1" || kick.Message != "Time is up for today." {
		t.Errorf("Unexpected first action: %+v", kick)
	}
	broadcast := h.host.waitAction(t)
	if broadcast.Type != ActionBroadcast || broadcast.Message != "Alex has used up today's time." {
		t.Errorf("Unexpected second action: %+v", broadcast)
	}

	if err := h.engine.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	records := h.ledger.records()
	if len(records) != 2 || records[1].UserID != "p1" || records[1].Minutes != 10 {
		t.Errorf("Expected live minutes flushed on shutdown, got %+v", records)
	}
}

func TestEngine_OneMinuteCreditedPerMinuteOfClockTime(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	h := newTestEngine(t, testPolicy(60), now)

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.engine.OnConnect("p1", Position{})
	h.engine.pending.Wait()

	for step := 1; step <= 5; step++ {
		h.positions.set("p1", Position{X: float64(step * 10)})
		h.clock.Advance(10 * time.Second).MustWait(ctx)
	}
	if live, _ := h.engine.Tracker().Live("p1"); live != 0 {
		t.Fatalf("Expected no credit before a full minute, got %d", live)
	}

	h.positions.set("p1", Position{X: 60})
	h.clock.Advance(10 * time.Second).MustWait(ctx)
	if live, _ := h.engine.Tracker().Live("p1"); live != 1 {
		t.Errorf("Expected 1 minute after 60s, got %d", live)
	}

	if err := h.engine.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestEngine_LogsDailyTotalPerUser(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := quartz.NewMock(t)
	clock.Set(now)

	out := &logBuffer{}
	ledger := &memLedger{}
	positions := newFakePositions()
	engine := NewEngine(
		Config{ShutdownTimeout: time.Second},
		testPolicy(60),
		ledger,
		newFakeHost(),
		positions,
		staticNames{},
		clock,
		zerolog.New(out).Level(zerolog.DebugLevel),
	)

	_ = ledger.Append(ctx, "p1", 7, now.Add(-time.Hour))

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	engine.OnConnect("p1", Position{})
	engine.pending.Wait()

	positions.set("p1", Position{X: 10})
	clock.Advance(time.Minute).MustWait(ctx)

	if err := engine.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	logs := out.String()
	for _, want := range []string{`"user_id":"p1"`, `"minutes":8`, `"message":"Played today"`} {
		if !strings.Contains(logs, want) {
			t.Errorf("Expected %s in logs:\n%s", want, logs)
		}
	}
}

func TestEngine_KickOnConnectWhenAlreadyOverLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	h := newTestEngine(t, testPolicy(60), now)

	_ = h.ledger.Append(ctx, "p1", 60, now.Add(-time.Hour))
	// Yesterday does not count.
	_ = h.ledger.Append(ctx, "p2", 600, now.Add(-24*time.Hour))

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.engine.OnConnect("p2", Position{})
	h.engine.OnConnect("p1", Position{})

	if a := h.host.waitAction(t); a.Type != ActionKick || a.UserID != "p1" {
		t.Errorf("Expected kick for p1, got %+v", a)
	}
	if a := h.host.waitAction(t); a.Type != ActionBroadcast {
		t.Errorf("Expected broadcast, got %+v", a)
	}

	_ = h.engine.Shutdown(ctx)
	for _, a := range h.host.all() {
		if a.UserID == "p2" {
			t.Errorf("Expected no action for p2, got %+v", a)
		}
	}
}

func TestEngine_ShortSessionIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	h := newTestEngine(t, testPolicy(60), time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.engine.OnConnect("p1", Position{})
	h.clock.Advance(45 * time.Second).MustWait(ctx)
	h.engine.OnDisconnect("p1")
	h.engine.pending.Wait()

	if calls := h.ledger.appendCalls(); calls != 0 {
		t.Errorf("Expected no ledger write, got %d", calls)
	}

	_ = h.engine.Shutdown(ctx)
	if calls := h.ledger.appendCalls(); calls != 0 {
		t.Errorf("Expected no ledger write after shutdown, got %d", calls)
	}
}

func TestEngine_DisconnectPersistsAtFlushTime(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	h := newTestEngine(t, testPolicy(600), now)

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.engine.OnConnect("p1", Position{})
	for step := 1; step <= 3; step++ {
		h.tick(ctx, "p1", step)
	}
	h.engine.OnDisconnect("p1")
	h.engine.pending.Wait()

	records := h.ledger.records()
	if len(records) != 1 {
		t.Fatalf("Expected one record, got %+v", records)
	}
	if records[0].Minutes != 3 {
		t.Errorf("Expected 3 minutes, got %d", records[0].Minutes)
	}
	if want := now.Add(3 * time.Minute); !records[0].Timestamp.Equal(want) {
		t.Errorf("Expected timestamp %v, got %v", want, records[0].Timestamp)
	}

	_ = h.engine.Shutdown(ctx)
	if len(h.ledger.records()) != 1 {
		t.Error("Expected shutdown not to write the disconnected session again")
	}
}

func TestEngine_NoTickAfterShutdown(t *testing.T) {
	ctx := context.Background()
	h := newTestEngine(t, testPolicy(600), time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.engine.OnConnect("p1", Position{})
	h.tick(ctx, "p1", 1)

	if err := h.engine.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	calls := h.positions.callCount()

	h.clock.Advance(time.Minute).MustWait(ctx)
	h.clock.Advance(time.Minute).MustWait(ctx)

	if got := h.positions.callCount(); got != calls {
		t.Errorf("Expected no evaluation after shutdown, got %d more", got-calls)
	}
	if h.engine.Tracker().Len() != 0 {
		t.Error("Expected tracker to be empty after shutdown")
	}
	if records := h.ledger.records(); len(records) != 1 || records[0].Minutes != 1 {
		t.Errorf("Expected the live minute flushed, got %+v", records)
	}

	if err := h.engine.Start(ctx); err == nil {
		t.Error("Expected Start after Shutdown to fail")
	}
}

func TestEngine_WriteFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	h := newTestEngine(t, testPolicy(600), time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.engine.OnConnect("p1", Position{})
	h.tick(ctx, "p1", 1)

	h.ledger.setFail(true)
	h.engine.OnDisconnect("p1")
	h.engine.pending.Wait()
	_ = h.engine.Shutdown(ctx)

	if calls := h.ledger.appendCalls(); calls != 1 {
		t.Errorf("Expected exactly one append attempt, got %d", calls)
	}
}

func TestEngine_IgnoredUserNeverKicked(t *testing.T) {
	ctx := context.Background()
	h := newTestEngine(t, testPolicy(1, "p1"), time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	_ = h.ledger.Append(ctx, "p1", 500, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC))

	if err := h.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.engine.OnConnect("p1", Position{})
	for step := 1; step <= 3; step++ {
		h.tick(ctx, "p1", step)
	}
	_ = h.engine.Shutdown(ctx)

	if got := h.host.all(); len(got) != 0 {
		t.Errorf("Expected no actions for ignored user, got %+v", got)
	}
}

func TestEngine_EmptyLeaderboard(t *testing.T) {
	ctx := context.Background()
	h := newTestEngine(t, testPolicy(60), time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	cmds := NewCommands(h.engine.Aggregator(), h.engine.Tracker(), staticNames{})
	if got := cmds.Leaderboard(ctx); got != "No time played today." {
		t.Errorf("Expected %q, got %q", "No time played today.", got)
	}
}
