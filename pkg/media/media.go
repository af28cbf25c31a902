// Package media provides the local audio/video tracks sent to the remote peer and
// the sinks that consume the remote peer's tracks.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
)

// ErrMediaUnavailable is returned when local camera or microphone capture cannot start.
var ErrMediaUnavailable = errors.New("local media unavailable")

// Track labels
const (
	StreamID     = "tarang-live"
	VideoTrackID = "video"
	AudioTrackID = "audio"
)

// Source acquires local media.
type Source interface {
	Open(ctx context.Context) (*Local, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Local, error)

// Open calls f.
func (f SourceFunc) Open(ctx context.Context) (*Local, error) { return f(ctx) }

// Local is the set of local tracks of one session and the producers feeding them.
type Local struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal
	stops  []stopper

	videoOn atomic.Bool
	audioOn atomic.Bool

	stopOnce sync.Once
	stopped  atomic.Bool
	stopErr  error
}

type stopper struct {
	name string
	fn   func() error
}

// NewLocal creates an empty track set with audio and video enabled.
func NewLocal() *Local {
	l := &Local{}
	l.videoOn.Store(true)
	l.audioOn.Store(true)
	return l
}

// Add registers a track. stop, if non-nil, halts whatever produces its samples.
func (l *Local) Add(track webrtc.TrackLocal, stop func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracks = append(l.tracks, track)
	if stop != nil {
		l.stops = append(l.stops, stopper{name: track.Kind().String() + " " + track.ID(), fn: stop})
	}
}

// OnStop registers a release function that is not tied to a track, such as a
// capture device shared by several producers.
func (l *Local) OnStop(name string, fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops = append(l.stops, stopper{name: name, fn: fn})
}

// Tracks returns the registered tracks.
func (l *Local) Tracks() []webrtc.TrackLocal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), l.tracks...)
}

// SetEnabled mutes or unmutes one kind of track. Samples produced while a
// kind is disabled are dropped.
func (l *Local) SetEnabled(kind webrtc.RTPCodecType, on bool) {
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		l.videoOn.Store(on)
	case webrtc.RTPCodecTypeAudio:
		l.audioOn.Store(on)
	}
}

// Enabled reports whether samples of the given kind are being sent.
func (l *Local) Enabled(kind webrtc.RTPCodecType) bool {
	switch kind {
	case webrtc.RTPCodecTypeVideo:
		return l.videoOn.Load()
	case webrtc.RTPCodecTypeAudio:
		return l.audioOn.Load()
	}
	return false
}

// Stop halts every producer in registration order. Each one is attempted even if
// an earlier one fails; failures are joined. Safe to call more than once.
func (l *Local) Stop() error {
	if l == nil {
		return nil
	}
	l.stopOnce.Do(func() {
		l.mu.Lock()
		stops := l.stops
		l.mu.Unlock()

		var errs []error
		for _, s := range stops {
			if err := guard(s.fn); err != nil {
				errs = append(errs, fmt.Errorf("stop %s: %w", s.name, err))
			}
		}
		l.stopErr = errors.Join(errs...)
		l.stopped.Store(true)
	})
	return l.stopErr
}

// Stopped reports whether Stop has completed.
func (l *Local) Stopped() bool {
	return l != nil && l.stopped.Load()
}

// guard runs fn, turning a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
