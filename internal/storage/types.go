package storage

import (
	"time"
)

// Period is one completed, immutable play period.
type Period struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Minutes   int64     `json:"length_minutes"`
	Timestamp time.Time `json:"timestamp"`
}
