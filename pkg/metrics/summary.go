package metrics

import "time"

// Summary accumulates snapshots over a whole session.
// Only face-detected snapshots contribute to the means.
type Summary struct {
	Samples        int       `json:"samples"`
	Detected       int       `json:"detected"`
	EyeContact     float64   `json:"eye_contact"`
	MotorStability float64   `json:"motor_coordination"`
	Engagement     float64   `json:"engagement"`
	First          time.Time `json:"first"`
	Last           time.Time `json:"last"`
}

// Observe folds one published snapshot into the running means.
func (s *Summary) Observe(snap Snapshot) {
	s.Samples++
	if s.First.IsZero() {
		s.First = snap.At
	}
	s.Last = snap.At

	if !snap.FaceDetected {
		return
	}
	s.Detected++
	n := float64(s.Detected)
	s.EyeContact += (snap.EyeContact - s.EyeContact) / n
	s.MotorStability += (snap.MotorStability - s.MotorStability) / n
	s.Engagement += (snap.Engagement - s.Engagement) / n
}

// DetectionRatio is the share of samples that had a face.
func (s Summary) DetectionRatio() float64 {
	if s.Samples == 0 {
		return 0
	}
	return float64(s.Detected) / float64(s.Samples)
}

// Empty reports whether no face was ever detected.
func (s Summary) Empty() bool {
	return s.Detected == 0
}
