package controller

import "time"

// DefaultMinInterval is the shortest gap between two admitted live frames.
const DefaultMinInterval = 10 * time.Millisecond

// Throttle admits at most one frame per MinInterval.
//
// It is not safe for concurrent use; a live session touches it from its single
// worker only.
type Throttle struct {
	minInterval time.Duration
	last        time.Time
	admitted    bool
}

// NewThrottle returns a throttle that has never admitted a frame. A
// non-positive interval selects DefaultMinInterval.
func NewThrottle(minInterval time.Duration) *Throttle {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Throttle{minInterval: minInterval}
}

// Admit reports whether a frame arriving at now should be analyzed. The first
// call always admits. Admission records now as the new reference point;
// rejected frames leave it untouched.
func (t *Throttle) Admit(now time.Time) bool {
	if t.admitted && now.Sub(t.last) < t.minInterval {
		return false
	}
	t.last = now
	t.admitted = true
	return true
}

// MinInterval returns the configured interval.
func (t *Throttle) MinInterval() time.Duration {
	return t.minInterval
}

// Reset forgets the last admission.
func (t *Throttle) Reset() {
	t.admitted = false
	t.last = time.Time{}
}
