package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStorage wraps every failure reported by a ledger backend.
	ErrStorage = errors.New("storage: backend failure")

	// ErrInvalidLength is returned when a period shorter than one minute is appended.
	ErrInvalidLength = errors.New("storage: period length must be at least one minute")
)

// Ledger is the append-only store of completed play periods.
//
// Implementations must be safe for concurrent use: the evaluation loop, the
// disconnect path and command handlers all share one Ledger.
type Ledger interface {
	// Append records a completed period. A zero timestamp means "now".
	Append(ctx context.Context, userID string, minutes int64, at time.Time) error

	// SumSince returns the total minutes for userID with timestamp >= since.
	// It returns 0 and no error when nothing matches.
	SumSince(ctx context.Context, userID string, since time.Time) (int64, error)

	// GroupedSumSince returns the per-user totals with timestamp >= since.
	GroupedSumSince(ctx context.Context, since time.Time) (map[string]int64, error)

	Close() error
}
