// Package sampling runs the periodic face-landmark sampling loop of a live session.
//
// Every tick the loop takes the latest camera frame, runs landmark detection off the
// tick goroutine, turns the landmarks into proxy metrics, smooths them and publishes a
// snapshot. A Run is owned by whoever started it and must be stopped by them.
package sampling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/landmark"
	"github.com/tarang-care/tarang-live/pkg/metrics"
)

// Defaults
const (
	DefaultInterval    = 200 * time.Millisecond
	DefaultMaxInFlight = 2
)

// FrameSource provides the most recent camera frame.
// ok is false when no frame has been captured yet.
type FrameSource interface {
	Frame() (img landmark.Image, ok bool)
}

// FrameSourceFunc adapts a function to FrameSource.
type FrameSourceFunc func() (landmark.Image, bool)

// Frame calls f.
func (f FrameSourceFunc) Frame() (landmark.Image, bool) { return f() }

// Publisher receives every smoothed snapshot.
// Publish is called with the run's lock held and must not block.
type Publisher interface {
	Publish(snap metrics.Snapshot)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(metrics.Snapshot)

// Publish calls f.
func (f PublisherFunc) Publish(snap metrics.Snapshot) { f(snap) }

// Config holds sampling loop settings.
type Config struct {
	Interval    time.Duration
	WindowSize  int
	MaxInFlight int // detections allowed to overlap; extra ticks are skipped
}

// DefaultConfig returns the settings used by live sessions.
func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		WindowSize:  metrics.DefaultWindowSize,
		MaxInFlight: DefaultMaxInFlight,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.WindowSize <= 0 {
		c.WindowSize = metrics.DefaultWindowSize
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	return c
}

// Sampler wires a frame source, a detector and an extractor into sampling runs.
type Sampler struct {
	config    Config
	source    FrameSource
	detector  landmark.Detector
	extractor *metrics.Extractor
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
}

// New creates a sampler. A nil publisher discards snapshots.
func New(config Config, source FrameSource, detector landmark.Detector, extractor *metrics.Extractor, publisher Publisher) *Sampler {
	if publisher == nil {
		publisher = PublisherFunc(func(metrics.Snapshot) {})
	}
	return &Sampler{
		config:    config.withDefaults(),
		source:    source,
		detector:  detector,
		extractor: extractor,
		publisher: publisher,
		log:       log.Component("sampling"),
		now:       time.Now,
	}
}

// Start begins a sampling run. The run stops when Stop is called or ctx is done.
func (s *Sampler) Start(ctx context.Context) *Run {
	ctx, cancel := context.WithCancel(ctx)
	r := &Run{
		sampler:  s,
		smoother: metrics.NewSmoother(s.config.WindowSize),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	r.wg.Add(1)
	go r.loop(ctx)

	s.log.Info("sampling started", "interval", s.config.Interval, "window", s.config.WindowSize)
	return r
}

// Run is one active sampling loop. The zero value and nil are valid, stopped runs.
type Run struct {
	sampler  *Sampler
	smoother *metrics.Smoother
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	stopped  bool
	issued   uint64 // detection calls started
	applied  uint64 // newest detection call whose result was applied
	inFlight int
	seq      uint64
	last     *metrics.Snapshot
}

// Stop ends the run and waits for in-flight detections to finish. Nothing is
// published after Stop returns. Safe to call more than once and on a nil Run.
func (r *Run) Stop() {
	if r == nil || r.sampler == nil {
		return
	}
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()

		r.cancel()
		r.wg.Wait()
		close(r.done)
		r.sampler.log.Info("sampling stopped", "published", r.Published())
	})
}

// Done is closed once Stop has finished.
func (r *Run) Done() <-chan struct{} {
	if r == nil || r.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.done
}

// Running reports whether the run is still sampling.
func (r *Run) Running() bool {
	if r == nil || r.sampler == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.stopped
}

// Last returns the most recently published snapshot.
func (r *Run) Last() (metrics.Snapshot, bool) {
	if r == nil {
		return metrics.Snapshot{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return metrics.Snapshot{}, false
	}
	return *r.last, true
}

// Published returns the number of snapshots published so far.
func (r *Run) Published() uint64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *Run) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.sampler.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.stopped = true
			r.mu.Unlock()
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick issues one detection if the detector and a frame are ready.
func (r *Run) tick() {
	s := r.sampler
	if s.detector == nil || !s.detector.Ready() {
		return
	}
	img, ok := s.source.Frame()
	if !ok || !img.Ready() {
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if r.inFlight >= s.config.MaxInFlight {
		r.mu.Unlock()
		s.log.Debug("detection busy, skipping tick")
		return
	}
	r.issued++
	id := r.issued
	r.inFlight++
	r.wg.Add(1)
	r.mu.Unlock()

	go r.detect(id, img)
}

func (r *Run) detect(id uint64, img landmark.Image) {
	defer r.wg.Done()

	frame, err := r.sampler.detector.Detect(img)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--

	if r.stopped || id < r.applied {
		return
	}
	r.applied = id

	if err != nil {
		r.sampler.log.Warn("landmark detection failed", "error", err)
		return
	}
	if frame == nil {
		r.publishNoFace()
		return
	}

	inst := r.sampler.extractor.Extract(frame)
	r.smoother.Add(inst)
	snap := r.smoother.Snapshot(inst)
	r.publish(snap)
}

// publishNoFace re-emits the previous snapshot flagged as no face. Before the first
// detection there is nothing to re-emit. Caller holds r.mu.
func (r *Run) publishNoFace() {
	if r.last == nil {
		return
	}
	snap := *r.last
	snap.FaceDetected = false
	r.publish(snap)
}

// publish stamps and emits a snapshot. Caller holds r.mu.
func (r *Run) publish(snap metrics.Snapshot) {
	r.seq++
	snap.Sequence = r.seq
	snap.At = r.sampler.now()
	r.last = &snap
	r.sampler.publisher.Publish(snap)
}
