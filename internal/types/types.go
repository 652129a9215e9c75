package types

import "time"

// Frame is a single decoded video frame handed to the engine.
type Frame struct {
	Seq       uint64
	Timestamp time.Duration // Offset from stream start; drives the emission throttle
	Width     int
	Height    int
	Data      []byte // JPEG bytes
}

// Point is a landmark normalized to [0,1] in frame-relative coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LandmarkSet is one face mesh, indexed by landmark number.
type LandmarkSet []Point

// Has reports whether every index in idx is present in the set.
func (l LandmarkSet) Has(idx ...int) bool {
	for _, i := range idx {
		if i < 0 || i >= len(l) {
			return false
		}
	}
	return true
}

// FrameStatus is the attention status alphabet. Values match the telemetry wire strings.
type FrameStatus string

const (
	StatusFocused    FrameStatus = "FOCUSED"
	StatusDistracted FrameStatus = "DISTRACTED"
	StatusNoFace     FrameStatus = "NO FACE"
	StatusError      FrameStatus = "ERROR"
)

// Attentive reports whether the status is evidence about attention (FOCUSED or DISTRACTED).
func (s FrameStatus) Attentive() bool {
	return s == StatusFocused || s == StatusDistracted
}

// GazeLabel is the coarse gaze direction derived from the gaze ratios.
type GazeLabel string

const (
	GazeCenter GazeLabel = "CENTER"
	GazeLeft   GazeLabel = "LEFT"
	GazeRight  GazeLabel = "RIGHT"
	GazeUp     GazeLabel = "UP"
	GazeDown   GazeLabel = "DOWN"
)

// GazeReading holds the dimensionless gaze ratios and their label.
type GazeReading struct {
	HorizontalRatio float64   `json:"horizontalRatio"`
	VerticalRatio   float64   `json:"verticalRatio"`
	Label           GazeLabel `json:"gaze"`
}

// HeadPosture is the head orientation in degrees.
type HeadPosture struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}
