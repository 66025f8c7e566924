package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/playlimit/internal/playtime"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultQueueSize bounds the actions waiting for the game host to fetch.
const DefaultQueueSize = 1024

// QueuedAction is an action waiting to be applied by the game host.
type QueuedAction struct {
	ID       string              `json:"id"`
	Type     playtime.ActionType `json:"type"`
	PlayerID string              `json:"player_id,omitempty"`
	Message  string              `json:"message"`
	QueuedAt time.Time           `json:"queued_at"`
}

// Host mirrors the game host's view of online players. It is the
// playtime.Host the dispatcher applies actions to, and the
// playtime.PositionSource the engine samples.
type Host struct {
	queueSize int
	logger    zerolog.Logger

	mu        sync.Mutex
	online    map[string]struct{}
	positions map[string]playtime.Position
	queue     []QueuedAction
}

// NewHost creates an empty host mirror.
func NewHost(queueSize int, logger zerolog.Logger) *Host {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Host{
		queueSize: queueSize,
		online:    make(map[string]struct{}),
		positions: make(map[string]playtime.Position),
		logger:    logger.With().Str("component", "bridge-host").Logger(),
	}
}

// Connect marks userID online at pos.
func (h *Host) Connect(userID string, pos playtime.Position) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.online[userID] = struct{}{}
	h.positions[userID] = pos
}

// Disconnect marks userID offline and forgets its position.
func (h *Host) Disconnect(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.online, userID)
	delete(h.positions, userID)
}

// Online reports whether userID is connected.
func (h *Host) Online(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.online[userID]
	return ok
}

// UpdatePositions stores the latest samples. Samples for players that are
// not online are ignored. It returns how many samples were accepted.
func (h *Host) UpdatePositions(samples map[string]playtime.Position) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	accepted := 0
	for userID, pos := range samples {
		if _, ok := h.online[userID]; !ok {
			continue
		}
		h.positions[userID] = pos
		accepted++
	}
	return accepted
}

// Positions returns a copy of the latest sample of every online player.
func (h *Host) Positions() map[string]playtime.Position {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]playtime.Position, len(h.positions))
	for userID, pos := range h.positions {
		out[userID] = pos
	}
	return out
}

// Kick queues a kick for userID. Kicks for players that already left are
// dropped.
func (h *Host) Kick(_ context.Context, userID, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.online[userID]; !ok {
		h.logger.Debug().Str("user_id", userID).Msg("Player already offline, dropping kick")
		return nil
	}
	h.enqueueLocked(QueuedAction{Type: playtime.ActionKick, PlayerID: userID, Message: message})
	return nil
}

// Broadcast queues a message for every online player.
func (h *Host) Broadcast(_ context.Context, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueueLocked(QueuedAction{Type: playtime.ActionBroadcast, Message: message})
	return nil
}

// Drain returns and clears the queued actions, oldest first.
func (h *Host) Drain() []QueuedAction {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.queue
	h.queue = nil
	if out == nil {
		out = []QueuedAction{}
	}
	return out
}

func (h *Host) enqueueLocked(action QueuedAction) {
	action.ID = uuid.New().String()
	action.QueuedAt = time.Now()

	if len(h.queue) >= h.queueSize {
		dropped := h.queue[0]
		h.queue = h.queue[1:]
		h.logger.Warn().
			Str("action_id", dropped.ID).
			Str("type", string(dropped.Type)).
			Msg("Action queue full, dropping oldest action")
	}
	h.queue = append(h.queue, action)
}
