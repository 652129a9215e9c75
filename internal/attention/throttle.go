package attention

import "time"

// DefaultEmitInterval bounds how often reports leave the engine.
const DefaultEmitInterval = 200 * time.Millisecond

// Throttle gates report emission on the per-frame timestamp.
type Throttle struct {
	interval time.Duration
	last     time.Duration
	emitted  bool
}

// NewThrottle returns a throttle with the given interval. Non-positive values use the default.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultEmitInterval
	}
	return &Throttle{interval: interval}
}

// Allow reports whether a report may be emitted at ts and records the emission if so.
// The first call always permits; later calls need strictly more than the interval to have passed.
func (t *Throttle) Allow(ts time.Duration) bool {
	if t.emitted && ts-t.last <= t.interval {
		return false
	}
	t.emitted = true
	t.last = ts
	return true
}

// Interval returns the configured emission interval.
func (t *Throttle) Interval() time.Duration { return t.interval }
