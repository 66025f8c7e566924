package playtime

import (
	"math"
	"sync"
)

// AfkDetector classifies players as active or idle by comparing each sample
// with the position recorded at their last active period.
type AfkDetector struct {
	threshold float64

	mu   sync.Mutex
	refs map[string]Position
}

// NewAfkDetector creates a detector using AfkThreshold.
func NewAfkDetector() *AfkDetector {
	return &AfkDetector{
		threshold: AfkThreshold,
		refs:      make(map[string]Position),
	}
}

// Classify reports whether userID moved far enough from its reference
// position. The reference only moves on active verdicts, so slow drift is
// measured against a fixed anchor. A user with no reference is active and
// pos becomes the reference.
func (d *AfkDetector) Classify(userID string, pos Position) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ref, ok := d.refs[userID]
	if !ok {
		d.refs[userID] = pos
		return true
	}

	if math.Abs(pos.X-ref.X) > d.threshold || math.Abs(pos.Y-ref.Y) > d.threshold {
		d.refs[userID] = pos
		return true
	}
	return false
}

// Forget drops the reference position for userID.
func (d *AfkDetector) Forget(userID string) {
	d.mu.Lock()
	delete(d.refs, userID)
	d.mu.Unlock()
}

// Reference returns the stored reference position for userID.
func (d *AfkDetector) Reference(userID string) (Position, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pos, ok := d.refs[userID]
	return pos, ok
}
