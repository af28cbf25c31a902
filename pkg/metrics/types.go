// Package metrics derives behavioural proxy signals from face landmarks and smooths
// them over a short sliding window.
//
// The proxies are heuristics: eye contact is approximated from nose/eye symmetry,
// motor stability from head depth displacement, and engagement from a fixed blend
// of the two. None of them is a clinical measurement.
package metrics

import "time"

// Neutral is the value reported for a proxy whose inputs are missing.
const Neutral = 0.5

// Instant holds the proxies computed from a single frame.
type Instant struct {
	EyeContact     float64
	MotorStability float64
	Engagement     float64
	FaceDetected   bool
	LandmarkCount  int
}

// Snapshot is the smoothed state published to the dashboard after every sample.
// JSON names match the web dashboard's DetectedMetrics shape.
type Snapshot struct {
	EyeContact     float64   `json:"eye_contact"`
	MotorStability float64   `json:"motor_coordination"`
	Engagement     float64   `json:"engagement"`
	FaceDetected   bool      `json:"face_detected"`
	LandmarkCount  int       `json:"landmarks_count"`
	Sequence       uint64    `json:"sequence"`
	At             time.Time `json:"at"`
}

// Band is a coarse status label for a proxy value.
type Band string

const (
	BandOptimal  Band = "OPTIMAL"
	BandModerate Band = "MODERATE"
	BandLow      Band = "LOW"
)

// BandOf classifies a value in [0,1]: >= 0.70 optimal, >= 0.40 moderate, else low.
// Rounding to whole percent happens first, as the dashboard displays it.
func BandOf(v float64) Band {
	pct := int(v*100 + 0.5)
	switch {
	case pct >= 70:
		return BandOptimal
	case pct >= 40:
		return BandModerate
	default:
		return BandLow
	}
}

// Bands returns the band of each proxy in a snapshot.
func (s Snapshot) Bands() map[string]Band {
	return map[string]Band{
		SignalEyeContact: BandOf(s.EyeContact),
		SignalMotor:      BandOf(s.MotorStability),
		SignalEngagement: BandOf(s.Engagement),
	}
}
