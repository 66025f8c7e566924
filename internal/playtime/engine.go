package playtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/playlimit/internal/metrics"
	"github.com/goodtune/playlimit/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultShutdownTimeout bounds how long Shutdown waits for pending writes.
	DefaultShutdownTimeout = 10 * time.Second
)

// PositionSource supplies the latest position sample of connected players.
type PositionSource interface {
	Positions() map[string]Position
}

// NameResolver maps a user id to a display name.
type NameResolver interface {
	DisplayName(userID string) string
}

// Config holds engine settings. The evaluation period is always
// EvaluationPeriod.
type Config struct {
	ShutdownTimeout time.Duration
	ActionBuffer    int
}

// Engine drives the evaluation loop and the connect, disconnect and shutdown
// paths. Ledger I/O runs in background goroutines; actions only reach the
// host through the Dispatcher.
type Engine struct {
	config     Config
	ledger     storage.Ledger
	tracker    *Tracker
	aggregator *Aggregator
	enforcer   *Enforcer
	dispatcher *Dispatcher
	positions  PositionSource
	names      NameResolver
	clock      quartz.Clock
	logger     zerolog.Logger

	mu         sync.Mutex
	running    bool
	stopping   bool
	pending    sync.WaitGroup
	ticker     quartz.Waiter
	cancelTick context.CancelFunc
	opCtx      context.Context
	cancelOps  context.CancelFunc
}

// NewEngine wires the engine components together.
func NewEngine(
	config Config,
	policy Policy,
	ledger storage.Ledger,
	host Host,
	positions PositionSource,
	names NameResolver,
	clock quartz.Clock,
	logger zerolog.Logger,
) *Engine {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if clock == nil {
		clock = quartz.NewReal()
	}

	tracker := NewTracker(NewAfkDetector(), logger)
	opCtx, cancelOps := context.WithCancel(context.Background())

	return &Engine{
		config:     config,
		ledger:     ledger,
		tracker:    tracker,
		aggregator: NewAggregator(ledger, tracker, policy.Location, clock, logger),
		enforcer:   NewEnforcer(policy),
		dispatcher: NewDispatcher(host, config.ActionBuffer, logger),
		positions:  positions,
		names:      names,
		clock:      clock,
		logger:     logger.With().Str("component", "engine").Logger(),
		opCtx:      opCtx,
		cancelOps:  cancelOps,
	}
}

// Tracker returns the live session tracker.
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// Aggregator returns the aggregator used for today's totals.
func (e *Engine) Aggregator() *Aggregator {
	return e.aggregator
}

// Start launches the dispatcher and the periodic evaluation.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.New("engine already started")
	}
	if e.stopping {
		return errors.New("engine is shut down")
	}

	e.dispatcher.Start(e.opCtx)

	tickCtx, cancel := context.WithCancel(ctx)
	e.cancelTick = cancel
	e.ticker = e.clock.TickerFunc(tickCtx, EvaluationPeriod, e.evaluate, "engine", "tick")
	e.running = true

	e.logger.Info().
		Dur("period", EvaluationPeriod).
		Int64("daily_limit_minutes", e.enforcer.Policy().DailyLimitMinutes).
		Msg("Evaluation loop started")
	return nil
}

// OnConnect registers userID before returning, so the next tick sees it, then
// checks the quota in the background.
func (e *Engine) OnConnect(userID string, pos Position) {
	e.tracker.OnConnect(userID, pos, e.clock.Now("engine", "connect"))
	e.logger.Info().Str("user_id", userID).Msg("Player connected")

	if e.enforcer.Ignored(userID) {
		return
	}

	e.background(func(ctx context.Context) {
		total := e.aggregator.PlaytimeToday(ctx, userID)
		e.submit(e.enforcer.Evaluate(userID, e.names.DisplayName(userID), total))
	})
}

// OnDisconnect flushes the session of userID and persists it in the
// background when at least one minute was credited.
func (e *Engine) OnDisconnect(userID string) {
	minutes := e.tracker.OnDisconnect(userID)
	e.logger.Info().Str("user_id", userID).Int64("minutes", minutes).Msg("Player disconnected")

	if minutes < 1 {
		return
	}

	at := e.clock.Now("engine", "flush")
	if !e.background(func(ctx context.Context) {
		e.persist(ctx, userID, minutes, at)
	}) {
		// Shutdown already flushed the tracker; this session was removed first.
		e.persist(e.opCtx, userID, minutes, at)
	}
}

// Shutdown stops the loop and flushes every live session. No new tick starts
// once it returns from cancelling the ticker. Writes still pending after the
// shutdown timeout are abandoned and logged.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	running := e.running
	e.mu.Unlock()

	if running {
		e.cancelTick()
		if err := e.ticker.Wait("engine", "tick"); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error().Err(err).Msg("Evaluation loop ended with error")
		}
	}

	flushCtx, cancel := context.WithTimeout(ctx, e.config.ShutdownTimeout)
	defer cancel()

	flushed := e.tracker.OnShutdown()
	var persisted int
	for userID, minutes := range flushed {
		if minutes < 1 {
			continue
		}
		if e.persist(flushCtx, userID, minutes, e.clock.Now("engine", "flush")) {
			persisted++
		}
	}
	e.logger.Info().Int("sessions", len(flushed)).Int("persisted", persisted).Msg("Live sessions flushed")

	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-flushCtx.Done():
		err = fmt.Errorf("pending writes abandoned: %w", flushCtx.Err())
		e.logger.Error().Err(flushCtx.Err()).Msg("Timed out waiting for pending ledger writes, abandoning")
	}

	e.dispatcher.Stop()
	e.cancelOps()

	e.logger.Info().Msg("Engine stopped")
	return err
}

// evaluate runs one evaluation period.
func (e *Engine) evaluate() error {
	start := e.clock.Now("engine", "evaluate")
	defer func() {
		metrics.EvaluationTicks.Inc()
		metrics.EvaluationDuration.Observe(e.clock.Since(start, "engine", "evaluate").Seconds())
	}()

	results := e.tracker.Tick(e.positions.Positions())
	for _, r := range results {
		if e.enforcer.Ignored(r.UserID) {
			continue
		}
		total := e.aggregator.todayWithLive(e.opCtx, r.UserID, r.Minutes)
		e.logger.Debug().
			Str("user_id", r.UserID).
			Int64("minutes", total).
			Msg("Played today")
		e.submit(e.enforcer.Evaluate(r.UserID, e.names.DisplayName(r.UserID), total))
	}

	e.logger.Debug().Int("sessions", len(results)).Msg("Evaluation period complete")
	return nil
}

func (e *Engine) submit(actions []Action) {
	for _, action := range actions {
		e.dispatcher.Submit(action)
	}
}

// persist appends one completed period. Failures are logged and not retried.
func (e *Engine) persist(ctx context.Context, userID string, minutes int64, at time.Time) bool {
	if err := e.ledger.Append(ctx, userID, minutes, at); err != nil {
		metrics.LedgerWrites.WithLabelValues("error").Inc()
		e.logger.Error().
			Err(err).
			Str("user_id", userID).
			Int64("minutes", minutes).
			Msg("Failed to persist play period, minutes lost")
		return false
	}

	metrics.LedgerWrites.WithLabelValues("ok").Inc()
	metrics.LedgerMinutesPersisted.Add(float64(minutes))
	e.logger.Debug().Str("user_id", userID).Int64("minutes", minutes).Msg("Play period persisted")
	return true
}

// background runs fn on its own goroutine. It reports false, without
// running fn, once shutdown has begun.
func (e *Engine) background(fn func(ctx context.Context)) bool {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return false
	}
	e.pending.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.pending.Done()
		fn(e.opCtx)
	}()
	return true
}
