package gaze

import (
	"math"

	"github.com/novi-app/attention/internal/types"
)

// Face mesh points used for the head posture estimate.
const (
	NoseTip    = 1
	RightCheek = 234 // subject's right, image left on an unmirrored frame
	LeftCheek  = 454
	Forehead   = 10
	Chin       = 152
)

// Posture estimates yaw and pitch in degrees from the nose tip's offset inside the face box.
// Positive yaw turns toward image right, positive pitch looks down. It returns nil when the
// points are missing or the face box collapses.
//
// The estimate is coarse and only meant for display; classification never uses it.
func Posture(lm types.LandmarkSet, width, height int) *types.HeadPosture {
	if width <= 0 || height <= 0 || !lm.Has(NoseTip, RightCheek, LeftCheek, Forehead, Chin) {
		return nil
	}
	w, h := float64(width), float64(height)
	nose := toPixel(lm, NoseTip, w, h)
	right := toPixel(lm, RightCheek, w, h)
	left := toPixel(lm, LeftCheek, w, h)
	top := toPixel(lm, Forehead, w, h)
	bottom := toPixel(lm, Chin, w, h)

	halfWidth := math.Abs(left.x-right.x) / 2
	halfHeight := math.Abs(bottom.y-top.y) / 2
	if halfWidth < minCornerSpan || halfHeight < minCornerSpan {
		return nil
	}

	yawRatio := (nose.x - (left.x+right.x)/2) / halfWidth
	pitchRatio := (nose.y - (top.y+bottom.y)/2) / halfHeight

	return &types.HeadPosture{
		Yaw:   degrees(math.Asin(clampUnit(yawRatio))),
		Pitch: degrees(math.Asin(clampUnit(pitchRatio))),
	}
}

func clampUnit(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
