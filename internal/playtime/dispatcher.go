package playtime

import (
	"context"
	"sync"

	"github.com/goodtune/playlimit/internal/metrics"
	"github.com/rs/zerolog"
)

// Host applies actions to the game. Only the Dispatcher calls it.
type Host interface {
	Kick(ctx context.Context, userID, message string) error
	Broadcast(ctx context.Context, message string) error
}

// DefaultActionBuffer is the queue size used when none is configured.
const DefaultActionBuffer = 256

// Dispatcher is the single consumer that applies actions to the Host, in the
// order they were submitted.
type Dispatcher struct {
	host   Host
	queue  chan Action
	done   chan struct{}
	logger zerolog.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewDispatcher creates a dispatcher with a queue of size buffer.
func NewDispatcher(host Host, buffer int, logger zerolog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultActionBuffer
	}
	return &Dispatcher{
		host:   host,
		queue:  make(chan Action, buffer),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Start launches the consumer goroutine. ctx is passed to Host calls.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	go func() {
		defer close(d.done)
		for action := range d.queue {
			d.apply(ctx, action)
		}
	}()
}

// Submit queues action without blocking. It reports false when the queue is
// full or the dispatcher is stopped; the action is dropped in both cases.
func (d *Dispatcher) Submit(action Action) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.ActionsDispatched.WithLabelValues(string(action.Type), "dropped").Inc()
		d.logger.Warn().Str("type", string(action.Type)).Str("user_id", action.UserID).Msg("Dispatcher stopped, dropping action")
		return false
	}

	select {
	case d.queue <- action:
		return true
	default:
		metrics.ActionsDispatched.WithLabelValues(string(action.Type), "dropped").Inc()
		d.logger.Warn().Str("type", string(action.Type)).Str("user_id", action.UserID).Msg("Action queue full, dropping action")
		return false
	}
}

// Stop closes the queue and waits until every queued action was applied.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if started {
		<-d.done
	}
}

func (d *Dispatcher) apply(ctx context.Context, action Action) {
	var err error
	switch action.Type {
	case ActionKick:
		err = d.host.Kick(ctx, action.UserID, action.Message)
	case ActionBroadcast:
		err = d.host.Broadcast(ctx, action.Message)
	default:
		d.logger.Error().Str("type", string(action.Type)).Msg("Unknown action type")
		return
	}

	if err != nil {
		metrics.ActionsDispatched.WithLabelValues(string(action.Type), "error").Inc()
		d.logger.Error().Err(err).Str("type", string(action.Type)).Str("user_id", action.UserID).Msg("Failed to apply action")
		return
	}

	metrics.ActionsDispatched.WithLabelValues(string(action.Type), "ok").Inc()
	d.logger.Info().Str("type", string(action.Type)).Str("user_id", action.UserID).Msg("Action applied")
}
