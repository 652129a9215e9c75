package attention

import (
	"errors"
	"math"
	"time"

	"github.com/novi-app/attention/internal/types"
)

// ErrInvalidSeed is returned when restored statistics break the counter invariants.
var ErrInvalidSeed = errors.New("invalid aggregate seed")

// AggregateStats is the cumulative view of one subject's session.
type AggregateStats struct {
	TotalChecks          int       `json:"totalChecks"`
	DistractedChecks     int       `json:"distractedChecks"`
	CurrentDistractedPct int       `json:"currentDistractedPct"`
	PeakDistractedPct    int       `json:"peakDistractedPct"`
	PeakDistractedAt     time.Time `json:"peakDistractedAt"`
}

// FocusedChecks is derived; it is never stored separately.
func (s AggregateStats) FocusedChecks() int {
	return s.TotalChecks - s.DistractedChecks
}

// FocusScore is the share of focused checks, 0 when nothing has been counted yet.
func (s AggregateStats) FocusScore() int {
	if s.TotalChecks == 0 {
		return 0
	}
	return 100 - s.CurrentDistractedPct
}

// FocusBand buckets a focus score for display.
type FocusBand string

const (
	BandLow    FocusBand = "low"
	BandMedium FocusBand = "medium"
	BandHigh   FocusBand = "high"
)

// BandFor returns the display band of a focus score.
func BandFor(score int) FocusBand {
	switch {
	case score < 40:
		return BandLow
	case score < 70:
		return BandMedium
	default:
		return BandHigh
	}
}

// Band is BandFor(FocusScore()).
func (s AggregateStats) Band() FocusBand {
	return BandFor(s.FocusScore())
}

// Aggregator accumulates smoothed statuses into AggregateStats.
type Aggregator struct {
	stats AggregateStats
	now   func() time.Time
}

// NewAggregator returns an empty aggregator. now stamps peak changes; nil uses time.Now.
func NewAggregator(now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{now: now}
}

// Seed restores counters from a previous session. It must be called before the first Observe.
func (a *Aggregator) Seed(s AggregateStats) error {
	if s.TotalChecks < 0 || s.DistractedChecks < 0 || s.DistractedChecks > s.TotalChecks {
		return ErrInvalidSeed
	}
	if s.PeakDistractedPct < 0 || s.PeakDistractedPct > 100 {
		return ErrInvalidSeed
	}
	s.CurrentDistractedPct = distractedPct(s.DistractedChecks, s.TotalChecks)
	a.stats = s
	return nil
}

// Observe folds one smoothed status into the statistics and returns the new snapshot.
// Only FOCUSED and DISTRACTED advance the counters; peak tracking runs on every call.
func (a *Aggregator) Observe(status types.FrameStatus) AggregateStats {
	if status.Attentive() {
		a.stats.TotalChecks++
		if status == types.StatusDistracted {
			a.stats.DistractedChecks++
		}
	}

	a.stats.CurrentDistractedPct = distractedPct(a.stats.DistractedChecks, a.stats.TotalChecks)
	if a.stats.CurrentDistractedPct > a.stats.PeakDistractedPct {
		a.stats.PeakDistractedPct = a.stats.CurrentDistractedPct
		a.stats.PeakDistractedAt = a.now()
	}
	return a.stats
}

// Stats returns the current snapshot.
func (a *Aggregator) Stats() AggregateStats {
	return a.stats
}

// distractedPct rounds half up, matching JavaScript's Math.round on non-negative values.
func distractedPct(distracted, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Floor(float64(distracted)/float64(total)*100 + 0.5))
}
