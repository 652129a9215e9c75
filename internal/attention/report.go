package attention

import (
	"errors"
	"time"

	"github.com/novi-app/attention/internal/types"
)

// Report is an immutable snapshot handed to the telemetry sink at each throttle opening.
type Report struct {
	SessionID   string
	SubjectID   string
	DisplayName string
	Status      types.FrameStatus
	Stats       AggregateStats
	EmittedAt   time.Time
}

var (
	errMissingParticipant = errors.New("participantId is required")
	errUnknownStatus      = errors.New("unknown status")
	errBadCounters        = errors.New("counters out of range")
)

// Record is the JSON shape accepted by the telemetry sink.
type Record struct {
	ParticipantID       string `json:"participantId"`
	Name                string `json:"name"`
	Status              string `json:"status"`
	TotalChecks         int    `json:"totalChecks"`
	DistractedChecks    int    `json:"distractedChecks"`
	PeakDistractionPct  int    `json:"peakDistractionPct"`
	PeakDistractionTime int64  `json:"peakDistractionTime"` // epoch millis, 0 before any peak
}

// Record converts the report to its wire form.
func (r Report) Record() Record {
	return Record{
		ParticipantID:       r.SubjectID,
		Name:                r.DisplayName,
		Status:              string(r.Status),
		TotalChecks:         r.Stats.TotalChecks,
		DistractedChecks:    r.Stats.DistractedChecks,
		PeakDistractionPct:  r.Stats.PeakDistractedPct,
		PeakDistractionTime: EpochMillis(r.Stats.PeakDistractedAt),
	}
}

// EpochMillis converts t to Unix milliseconds, mapping the zero time to 0.
func EpochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromEpochMillis is the inverse of EpochMillis.
func FromEpochMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Stats rebuilds the aggregate view carried by a wire record.
func (r Record) Stats() AggregateStats {
	return AggregateStats{
		TotalChecks:          r.TotalChecks,
		DistractedChecks:     r.DistractedChecks,
		CurrentDistractedPct: distractedPct(r.DistractedChecks, r.TotalChecks),
		PeakDistractedPct:    r.PeakDistractionPct,
		PeakDistractedAt:     FromEpochMillis(r.PeakDistractionTime),
	}
}

// Validate checks the record invariants a sink relies on.
func (r Record) Validate() error {
	if r.ParticipantID == "" {
		return errMissingParticipant
	}
	switch types.FrameStatus(r.Status) {
	case types.StatusFocused, types.StatusDistracted, types.StatusNoFace, types.StatusError:
	default:
		return errUnknownStatus
	}
	if r.TotalChecks < 0 || r.DistractedChecks < 0 || r.DistractedChecks > r.TotalChecks {
		return errBadCounters
	}
	if r.PeakDistractionPct < 0 || r.PeakDistractionPct > 100 {
		return errBadCounters
	}
	return nil
}
