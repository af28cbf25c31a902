package metrics

import (
	"math"

	"github.com/tarang-care/tarang-live/pkg/landmark"
)

// Engagement blend weights.
const (
	engagementEyeWeight   = 0.5
	engagementMotorWeight = 0.3
	engagementFloor       = 0.2
)

// Extractor computes Instant proxies from a landmark frame.
type Extractor struct {
	Layout landmark.Layout
}

// NewExtractor creates an extractor reading the layout's reference points.
func NewExtractor(layout landmark.Layout) *Extractor {
	return &Extractor{Layout: layout}
}

// Extract derives eye-contact, motor-stability and engagement proxies.
// Missing landmarks yield Neutral for the affected proxy. All outputs are in [0,1].
func (e *Extractor) Extract(f *landmark.Frame) Instant {
	left, okL := f.At(e.Layout.LeftEye)
	right, okR := f.At(e.Layout.RightEye)
	nose, okN := f.At(e.Layout.NoseTip)

	eye := Neutral
	if okL && okR && okN {
		eye = EyeContact(left, right, nose)
	}

	motor := Neutral
	if okN {
		motor = MotorStability(nose)
	}

	return Instant{
		EyeContact:     eye,
		MotorStability: motor,
		Engagement:     Engagement(eye, motor),
		FaceDetected:   f.Len() > 0,
		LandmarkCount:  f.Len(),
	}
}

// EyeContact is a symmetry heuristic: the nose sits halfway between the eyes when
// the face is frontal. 1 - |0.5 - d(nose,left)/d(right,left)|, clamped to [0,1].
// Coincident eyes give Neutral.
func EyeContact(leftEye, rightEye, nose landmark.Point) float64 {
	span := landmark.Distance(rightEye, leftEye)
	if span < 1e-9 || math.IsNaN(span) {
		return Neutral
	}
	ratio := landmark.Distance(nose, leftEye) / span
	return Clamp01(1 - math.Abs(0.5-ratio))
}

// MotorStability lowers with forward/backward head displacement:
// 1 - min(1, |depth| * 2), clamped to [0,1].
func MotorStability(nose landmark.Point) float64 {
	return Clamp01(1 - math.Min(1, math.Abs(nose.Z)*2))
}

// Engagement is the fixed-weight blend eye*0.5 + motor*0.3 + 0.2, clamped to [0,1].
func Engagement(eye, motor float64) float64 {
	return Clamp01(eye*engagementEyeWeight + motor*engagementMotorWeight + engagementFloor)
}

// Clamp01 bounds v to [0,1]. NaN maps to Neutral.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return Neutral
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
