package identity

import (
	"fmt"
	"strings"

	"github.com/goodtune/playlimit/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultCacheSize is used when no cache size is configured.
const DefaultCacheSize = 4096

// Resolver maps user ids to the display names the game host reported.
type Resolver struct {
	names  *lru.Cache[string, string]
	logger zerolog.Logger
}

// NewResolver creates a resolver holding up to size names.
func NewResolver(size int, logger zerolog.Logger) (*Resolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}

	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create name cache: %w", err)
	}

	return &Resolver{
		names:  cache,
		logger: logger.With().Str("component", "identity").Logger(),
	}, nil
}

// Remember records the display name for userID. Blank names are ignored.
func (r *Resolver) Remember(userID, name string) {
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return
	}
	if prev, ok := r.names.Peek(userID); ok && prev != name {
		r.logger.Debug().Str("user_id", userID).Str("old", prev).Str("new", name).Msg("Display name changed")
	}
	r.names.Add(userID, name)
}

// DisplayName returns the known name for userID, or "Unknown (<id>)".
func (r *Resolver) DisplayName(userID string) string {
	if name, ok := r.names.Get(userID); ok {
		metrics.IdentityCacheHits.Inc()
		return name
	}
	metrics.IdentityCacheMisses.Inc()
	return Unknown(userID)
}

// Unknown is the fallback display name for an unresolved id.
func Unknown(userID string) string {
	return fmt.Sprintf("Unknown (%s)", userID)
}

// Len returns the number of cached names.
func (r *Resolver) Len() int {
	return r.names.Len()
}
