// Package attention turns per-frame face observations into a smoothed attention status and
// the cumulative statistics reported for one tracked subject.
package attention

import (
	"fmt"

	"github.com/novi-app/attention/internal/gaze"
	"github.com/novi-app/attention/internal/types"
)

// Observation is everything known about one frame before classification.
type Observation struct {
	Landmarks types.LandmarkSet
	Found     bool  // Provider reported a face
	Err       error // Provider fault for this frame
	Width     int
	Height    int
}

// Classification is the per-frame verdict plus the optional display payloads.
type Classification struct {
	Status  types.FrameStatus
	Gaze    *types.GazeReading
	Posture *types.HeadPosture
	Err     error // Set when Status is ERROR
}

// Classify maps an observation to a frame status. It never panics and never returns an
// unknown status; any fault while deriving geometry yields StatusError.
func Classify(obs Observation) (c Classification) {
	defer func() {
		if r := recover(); r != nil {
			c = Classification{Status: types.StatusError, Err: fmt.Errorf("classifier panic: %v", r)}
		}
	}()

	if obs.Err != nil {
		return Classification{Status: types.StatusError, Err: obs.Err}
	}
	if !obs.Found || len(obs.Landmarks) == 0 {
		return Classification{Status: types.StatusNoFace}
	}

	reading, err := gaze.Extract(obs.Landmarks, obs.Width, obs.Height)
	if err != nil {
		return Classification{Status: types.StatusError, Err: err}
	}

	c = Classification{
		Status:  types.StatusDistracted,
		Gaze:    &reading,
		Posture: gaze.Posture(obs.Landmarks, obs.Width, obs.Height),
	}
	if reading.Label == types.GazeCenter {
		c.Status = types.StatusFocused
	}
	return c
}
