// Package gaze derives gaze ratios and head posture from a face mesh.
//
// Landmark indices follow the 478-point MediaPipe face mesh with iris refinement.
// All functions are pure; they never retain the landmark slice.
package gaze

import (
	"errors"
	"fmt"
	"math"

	"github.com/novi-app/attention/internal/types"
)

// Eye corner indices, ordered [outer, inner].
var (
	LeftEyeCorners  = [2]int{33, 133}
	RightEyeCorners = [2]int{362, 263}
)

// Iris cluster indices per eye.
var (
	LeftIris  = [5]int{468, 469, 470, 471, 472}
	RightIris = [5]int{473, 474, 475, 476, 477}
)

// Label thresholds. Horizontal is evaluated before vertical.
const (
	RightThreshold = 0.42
	LeftThreshold  = 0.70
	UpThreshold    = -0.0075
	DownThreshold  = 0.0
)

// minCornerSpan is the smallest eye-corner span, in pixels, still treated as a real eye.
const minCornerSpan = 1e-6

var (
	// ErrGeometryDegenerate is returned when reference spans collapse (e.g. coincident eye corners).
	ErrGeometryDegenerate = errors.New("degenerate landmark geometry")
	// ErrInsufficientLandmarks is returned when the set lacks the eye or iris points.
	ErrInsufficientLandmarks = errors.New("insufficient landmarks for gaze")
)

type pixel struct {
	x, y float64
}

func toPixel(lm types.LandmarkSet, idx int, w, h float64) pixel {
	return pixel{x: lm[idx].X * w, y: lm[idx].Y * h}
}

func irisCenter(lm types.LandmarkSet, idx [5]int, w, h float64) pixel {
	var c pixel
	for _, i := range idx {
		p := toPixel(lm, i, w, h)
		c.x += p.x
		c.y += p.y
	}
	n := float64(len(idx))
	return pixel{x: c.x / n, y: c.y / n}
}

// eye holds one eye's pixel-space reference points.
type eye struct {
	outer, inner, iris pixel
}

func (e eye) horizontal() (float64, error) {
	span := e.inner.x - e.outer.x
	if math.Abs(span) < minCornerSpan {
		return 0, ErrGeometryDegenerate
	}
	return (e.iris.x - e.outer.x) / span, nil
}

func (e eye) verticalOffset() float64 {
	return e.iris.y - (e.outer.y+e.inner.y)/2
}

// Extract computes the gaze reading for one face. width and height are the frame's pixel size.
func Extract(lm types.LandmarkSet, width, height int) (types.GazeReading, error) {
	if width <= 0 || height <= 0 {
		return types.GazeReading{}, fmt.Errorf("%w: frame size %dx%d", ErrGeometryDegenerate, width, height)
	}
	if !lm.Has(LeftEyeCorners[0], LeftEyeCorners[1], RightEyeCorners[0], RightEyeCorners[1]) ||
		!lm.Has(LeftIris[:]...) || !lm.Has(RightIris[:]...) {
		return types.GazeReading{}, fmt.Errorf("%w: got %d points", ErrInsufficientLandmarks, len(lm))
	}

	w, h := float64(width), float64(height)
	left := eye{
		outer: toPixel(lm, LeftEyeCorners[0], w, h),
		inner: toPixel(lm, LeftEyeCorners[1], w, h),
		iris:  irisCenter(lm, LeftIris, w, h),
	}
	right := eye{
		outer: toPixel(lm, RightEyeCorners[0], w, h),
		inner: toPixel(lm, RightEyeCorners[1], w, h),
		iris:  irisCenter(lm, RightIris, w, h),
	}

	lh, err := left.horizontal()
	if err != nil {
		return types.GazeReading{}, fmt.Errorf("left eye: %w", err)
	}
	rh, err := right.horizontal()
	if err != nil {
		return types.GazeReading{}, fmt.Errorf("right eye: %w", err)
	}

	horizontal := (lh + rh) / 2
	vertical := (left.verticalOffset() + right.verticalOffset()) / 2 / h
	if !finite(horizontal) || !finite(vertical) {
		return types.GazeReading{}, ErrGeometryDegenerate
	}

	return types.GazeReading{
		HorizontalRatio: horizontal,
		VerticalRatio:   vertical,
		Label:           Classify(horizontal, vertical),
	}, nil
}

// Classify maps gaze ratios to a label. Horizontal thresholds dominate vertical ones.
func Classify(horizontal, vertical float64) types.GazeLabel {
	switch {
	case horizontal < RightThreshold:
		return types.GazeRight
	case horizontal > LeftThreshold:
		return types.GazeLeft
	case vertical < UpThreshold:
		return types.GazeUp
	case vertical > DownThreshold:
		return types.GazeDown
	default:
		return types.GazeCenter
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
