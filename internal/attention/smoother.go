package attention

import "github.com/novi-app/attention/internal/types"

// DefaultNoFaceThreshold is the number of consecutive NO FACE frames needed before the
// smoothed status reports NO FACE. At a 200ms cadence this is about 1.6s.
const DefaultNoFaceThreshold = 8

// Smoother masks short NO FACE gaps with the last known attentive status.
type Smoother struct {
	threshold         int
	consecutiveNoFace int
	lastKnown         types.FrameStatus // empty until the first FOCUSED/DISTRACTED frame
}

// NewSmoother returns a smoother with the given threshold. Values below 1 use the default.
func NewSmoother(threshold int) *Smoother {
	if threshold < 1 {
		threshold = DefaultNoFaceThreshold
	}
	return &Smoother{threshold: threshold}
}

// Apply feeds one raw status and returns the smoothed one.
// ERROR passes through and leaves the gap counter and last known status untouched.
func (s *Smoother) Apply(status types.FrameStatus) types.FrameStatus {
	switch status {
	case types.StatusNoFace:
		s.consecutiveNoFace++
		if s.consecutiveNoFace < s.threshold && s.lastKnown != "" {
			return s.lastKnown
		}
		return types.StatusNoFace
	case types.StatusFocused, types.StatusDistracted:
		s.consecutiveNoFace = 0
		s.lastKnown = status
		return status
	default:
		return status
	}
}

// Reset clears the gap counter and the last known status.
func (s *Smoother) Reset() {
	s.consecutiveNoFace = 0
	s.lastKnown = ""
}
