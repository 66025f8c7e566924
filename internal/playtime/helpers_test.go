package playtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/playlimit/internal/storage"
	"github.com/rs/zerolog"
)

var errLedgerDown = errors.New("ledger down")

// memLedger is an in-memory storage.Ledger.
type memLedger struct {
	mu      sync.Mutex
	periods []storage.Period
	appends int
	fail    bool
}

func (l *memLedger) Append(_ context.Context, userID string, minutes int64, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appends++
	if l.fail {
		return storage.Wrap("append", errLedgerDown)
	}
	if err := storage.ValidateAppend(userID, minutes); err != nil {
		return err
	}
	if at.IsZero() {
		at = time.Now()
	}
	l.periods = append(l.periods, storage.Period{
		ID:        int64(len(l.periods) + 1),
		UserID:    userID,
		Minutes:   minutes,
		Timestamp: at,
	})
	return nil
}

func (l *memLedger) SumSince(_ context.Context, userID string, since time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return 0, storage.Wrap("sum", errLedgerDown)
	}
	var total int64
	for _, p := range l.periods {
		if p.UserID == userID && !p.Timestamp.Before(since) {
			total += p.Minutes
		}
	}
	return total, nil
}

func (l *memLedger) GroupedSumSince(_ context.Context, since time.Time) (map[string]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return nil, storage.Wrap("grouped sum", errLedgerDown)
	}
	out := make(map[string]int64)
	for _, p := range l.periods {
		if !p.Timestamp.Before(since) {
			out[p.UserID] += p.Minutes
		}
	}
	return out, nil
}

func (l *memLedger) Close() error { return nil }

func (l *memLedger) setFail(fail bool) {
	l.mu.Lock()
	l.fail = fail
	l.mu.Unlock()
}

func (l *memLedger) records() []storage.Period {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]storage.Period(nil), l.periods...)
}

func (l *memLedger) appendCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appends
}

// fakeHost records applied actions and signals each one on applied.
type fakeHost struct {
	mu      sync.Mutex
	actions []Action
	applied chan Action
}

func newFakeHost() *fakeHost {
	return &fakeHost{applied: make(chan Action, 64)}
}

func (h *fakeHost) Kick(_ context.Context, userID, message string) error {
	h.record(Action{Type: ActionKick, UserID: userID, Message: message})
	return nil
}

func (h *fakeHost) Broadcast(_ context.Context, message string) error {
	h.record(Action{Type: ActionBroadcast, Message: message})
	return nil
}

func (h *fakeHost) record(a Action) {
	h.mu.Lock()
	h.actions = append(h.actions, a)
	h.mu.Unlock()
	select {
	case h.applied <- a:
	default:
	}
}

func (h *fakeHost) all() []Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Action(nil), h.actions...)
}

// waitAction fails the test unless an action arrives within a second.
func (h *fakeHost) waitAction(t *testing.T) Action {
	t.Helper()
	select {
	case a := <-h.applied:
		return a
	case <-time.After(time.Second):
		t.Fatalf("Timed out waiting for host action")
		return Action{}
	}
}

// fakePositions is a PositionSource the test moves players around in.
type fakePositions struct {
	mu    sync.Mutex
	pos   map[string]Position
	calls int
}

func newFakePositions() *fakePositions {
	return &fakePositions{pos: make(map[string]Position)}
}

func (p *fakePositions) Positions() map[string]Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	out := make(map[string]Position, len(p.pos))
	for k, v := range p.pos {
		out[k] = v
	}
	return out
}

func (p *fakePositions) set(userID string, pos Position) {
	p.mu.Lock()
	p.pos[userID] = pos
	p.mu.Unlock()
}

func (p *fakePositions) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// staticNames resolves ids from a fixed map.
type staticNames map[string]string

func (n staticNames) DisplayName(userID string) string {
	if name, ok := n[userID]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (%s)", userID)
}

func testPolicy(limit int64, ignored ...string) Policy {
	return NewPolicy(limit, "Time is up for today.", "{player} has used up today's time.", ignored, time.UTC)
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// logBuffer collects log output written from several goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
