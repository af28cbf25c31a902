package metrics

import (
	"sync"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindowSize is the number of samples averaged per signal.
const DefaultWindowSize = 10

// Signal names used by the sampling loop.
const (
	SignalEyeContact = "eye_contact"
	SignalMotor      = "motor_coordination"
	SignalEngagement = "engagement"
)

// Window is a bounded FIFO of recent samples. Its length never exceeds its
// capacity; once full, each push evicts the oldest value.
type Window struct {
	capacity int
	values   []float64
}

// NewWindow creates an empty window. Capacities below 1 become DefaultWindowSize.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = DefaultWindowSize
	}
	return &Window{
		capacity: capacity,
		values:   make([]float64, 0, capacity),
	}
}

// Push appends v, evicting the oldest value if the window is full.
func (w *Window) Push(v float64) {
	if len(w.values) >= w.capacity {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.capacity-1]
	}
	w.values = append(w.values, v)
}

// Mean returns the arithmetic mean of the window, or def if it is empty.
func (w *Window) Mean(def float64) float64 {
	if len(w.values) == 0 {
		return def
	}
	return stat.Mean(w.values, nil)
}

// Len returns the number of values held.
func (w *Window) Len() int { return len(w.values) }

// Cap returns the window capacity.
func (w *Window) Cap() int { return w.capacity }

// Values returns a copy of the window contents, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Reset empties the window.
func (w *Window) Reset() {
	w.values = w.values[:0]
}

// Smoother keeps one Window per named signal. It is safe for concurrent use.
type Smoother struct {
	mu       sync.Mutex
	capacity int
	windows  map[string]*Window
}

// NewSmoother creates a smoother whose windows hold capacity samples each.
func NewSmoother(capacity int) *Smoother {
	if capacity < 1 {
		capacity = DefaultWindowSize
	}
	return &Smoother{
		capacity: capacity,
		windows:  make(map[string]*Window),
	}
}

// Push appends a sample to the named signal's window.
func (s *Smoother) Push(signal string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[signal]
	if !ok {
		w = NewWindow(s.capacity)
		s.windows[signal] = w
	}
	w.Push(v)
}

// Mean returns the named signal's window mean, or def if it has no samples.
func (s *Smoother) Mean(signal string, def float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[signal]
	if !ok {
		return def
	}
	return w.Mean(def)
}

// Len returns the number of samples held for the named signal.
func (s *Smoother) Len(signal string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.windows[signal]; ok {
		return w.Len()
	}
	return 0
}

// Add pushes all three proxies of an Instant.
func (s *Smoother) Add(in Instant) {
	s.Push(SignalEyeContact, in.EyeContact)
	s.Push(SignalMotor, in.MotorStability)
	s.Push(SignalEngagement, in.Engagement)
}

// Snapshot returns the smoothed values of the three proxies.
// Landmark count and detection flag are taken from the latest Instant.
func (s *Smoother) Snapshot(latest Instant) Snapshot {
	return Snapshot{
		EyeContact:     s.Mean(SignalEyeContact, Neutral),
		MotorStability: s.Mean(SignalMotor, Neutral),
		Engagement:     s.Mean(SignalEngagement, Neutral),
		FaceDetected:   latest.FaceDetected,
		LandmarkCount:  latest.LandmarkCount,
	}
}

// Reset drops every window.
func (s *Smoother) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string]*Window)
}
