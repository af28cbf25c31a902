// Package session runs the lifecycle of one live screening session: it starts
// camera capture, the sampling loop and the peer negotiator, and tears all of
// them down exactly once, whether the session is ended explicitly or abandoned.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/media"
	"github.com/tarang-care/tarang-live/pkg/metrics"
	"github.com/tarang-care/tarang-live/pkg/peer"
	"github.com/tarang-care/tarang-live/pkg/protocol"
	"github.com/tarang-care/tarang-live/pkg/sampling"
	"github.com/tarang-care/tarang-live/pkg/store"
)

// DefaultEndDelay is the pause between End and OnExit, long enough for the
// dashboard to show the ended state.
const DefaultEndDelay = 2 * time.Second

// saveTimeout bounds the summary write during teardown.
const saveTimeout = 5 * time.Second

var (
	// ErrEnded is returned by Enter after the session was ended or left.
	ErrEnded = errors.New("session ended")

	// ErrAlreadyEntered is returned by a second call to Enter.
	ErrAlreadyEntered = errors.New("session already entered")

	// ErrNoLocalMedia is returned by Control when no local tracks exist.
	ErrNoLocalMedia = errors.New("no local media")

	// ErrUnknownAction is returned by Control for an unsupported action.
	ErrUnknownAction = errors.New("unknown control action")
)

// Camera is the capture device. *capture.Camera implements it.
type Camera interface {
	Start(ctx context.Context) error
	Close() error
}

// Sampler starts sampling runs. *sampling.Sampler implements it.
type Sampler interface {
	Start(ctx context.Context) *sampling.Run
}

// Peer is the media session. *peer.Negotiator implements it.
type Peer interface {
	Start(ctx context.Context) error
	End() error
	State() peer.State
	Local() *media.Local
}

// Records persists finished sessions. *store.SessionRepository implements it.
type Records interface {
	Save(ctx context.Context, rec *store.SessionRecord) error
}

// Config wires a controller. Every component is optional.
type Config struct {
	ID   string // generated when empty
	Room string
	Role string

	Camera  Camera
	Sampler Sampler
	Peer    Peer
	Records Records
	Tally   *Tally // summary source; the sampler should publish through it

	// EndDelay is the pause between End and OnExit. Zero means DefaultEndDelay;
	// negative means no pause.
	EndDelay time.Duration

	// OnEnded is called once after an explicit End has torn everything down.
	OnEnded func(rec store.SessionRecord)

	// OnExit is called EndDelay after End, unless Leave ran first.
	OnExit func()
}

// Controller owns one session. Enter starts it; End or Leave stops it.
type Controller struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu        sync.Mutex
	entered   bool
	closing   bool // teardown has begun; nothing new may be acquired
	left      bool
	cancel    context.CancelFunc
	run       *sampling.Run
	cameraOn  bool
	startedAt time.Time
	timer     *time.Timer
	record    *store.SessionRecord

	teardownOnce sync.Once
	teardownErr  error
	endOnce      sync.Once
	doneOnce     sync.Once
	done         chan struct{}
}

// New creates a controller.
func New(cfg Config) *Controller {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.EndDelay == 0 {
		cfg.EndDelay = DefaultEndDelay
	}
	return &Controller{
		cfg:  cfg,
		log:  log.Component("session").With("session", cfg.ID, "room", cfg.Room),
		now:  time.Now,
		done: make(chan struct{}),
	}
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.cfg.ID
}

// Done is closed after OnExit has run, or when Leave returns.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Summary returns the metrics summary so far.
func (c *Controller) Summary() metrics.Summary {
	return c.cfg.Tally.Summary()
}

// Record returns the finished session record, or nil before teardown.
func (c *Controller) Record() *store.SessionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.record == nil {
		return nil
	}
	rec := *c.record
	return &rec
}

// Enter starts capture, sampling and the peer session. Component failures
// are logged and returned joined, but the components that did start keep
// running: a camera failure leaves the peer session connecting, matching
// the negotiator's no-retry policy. Call End or Leave to stop.
func (c *Controller) Enter(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closing:
		c.mu.Unlock()
		return ErrEnded
	case c.entered:
		c.mu.Unlock()
		return ErrAlreadyEntered
	}
	c.entered = true
	c.startedAt = c.now()
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.log.Info("entering session", "role", c.cfg.Role)
	var errs []error

	if c.cfg.Camera != nil {
		if err := c.cfg.Camera.Start(ctx); err != nil {
			c.log.Error("camera unavailable", "error", err)
			errs = append(errs, fmt.Errorf("start camera: %w", err))
		} else if !c.hold(func() { c.cameraOn = true }) {
			_ = c.cfg.Camera.Close()
			return ErrEnded
		}
	}

	if c.cfg.Sampler != nil {
		run := c.cfg.Sampler.Start(ctx)
		if !c.hold(func() { c.run = run }) {
			run.Stop()
			return ErrEnded
		}
	}

	if c.cfg.Peer != nil {
		if err := c.cfg.Peer.Start(ctx); err != nil {
			if errors.Is(err, peer.ErrEnded) {
				return ErrEnded
			}
			c.log.Error("peer session failed to start", "error", err)
			errs = append(errs, fmt.Errorf("start peer session: %w", err))
		}
	}

	return errors.Join(errs...)
}

// End finishes the session: everything is torn down, the summary is saved,
// OnEnded is called, and OnExit follows after EndDelay. Safe to call more
// than once; later calls return the teardown result.
func (c *Controller) End() error {
	c.endOnce.Do(func() {
		c.mu.Lock()
		left := c.left
		c.mu.Unlock()
		if left {
			return
		}

		_ = c.teardown(store.ReasonEnded)
		if rec := c.Record(); rec != nil && c.cfg.OnEnded != nil {
			c.cfg.OnEnded(*rec)
		}

		c.mu.Lock()
		if !c.left {
			c.timer = time.AfterFunc(max(c.cfg.EndDelay, 0), c.exit)
		}
		c.mu.Unlock()
	})
	return c.teardown(store.ReasonEnded)
}

// Leave is the abandon path, such as process shutdown: it tears everything
// down and cancels a pending exit timer. OnExit is not called.
func (c *Controller) Leave() error {
	err := c.teardown(store.ReasonLeft)

	c.mu.Lock()
	c.left = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	return err
}

// Control applies a dashboard media action to the local tracks.
func (c *Controller) Control(action string) error {
	var (
		kind webrtc.RTPCodecType
		on   bool
	)
	switch action {
	case protocol.ActionMute:
		kind, on = webrtc.RTPCodecTypeAudio, false
	case protocol.ActionUnmute:
		kind, on = webrtc.RTPCodecTypeAudio, true
	case protocol.ActionVideoOff:
		kind, on = webrtc.RTPCodecTypeVideo, false
	case protocol.ActionVideoOn:
		kind, on = webrtc.RTPCodecTypeVideo, true
	case protocol.ActionEnd:
		return c.End()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	if c.cfg.Peer == nil {
		return ErrNoLocalMedia
	}
	local := c.cfg.Peer.Local()
	if local == nil {
		return ErrNoLocalMedia
	}
	local.SetEnabled(kind, on)
	c.log.Info("local media toggled", "kind", kind.String(), "enabled", on)
	return nil
}

func (c *Controller) exit() {
	c.mu.Lock()
	left := c.left
	c.timer = nil
	c.mu.Unlock()
	if left {
		return
	}

	c.log.Info("session exit")
	if c.cfg.OnExit != nil {
		c.cfg.OnExit()
	}
	c.doneOnce.Do(func() { close(c.done) })
}

// hold runs set under the lock unless teardown has begun.
func (c *Controller) hold(set func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	set()
	return true
}

// teardown stops sampling, ends the peer session and closes the camera, in
// that order, then saves the record. It runs once; every caller gets its result.
func (c *Controller) teardown(reason store.Reason) error {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		entered, run, cameraOn, cancel := c.entered, c.run, c.cameraOn, c.cancel
		c.mu.Unlock()

		var errs []error
		run.Stop()

		peerState := peer.StateConnecting
		if c.cfg.Peer != nil {
			peerState = c.cfg.Peer.State()
			if err := guard(c.cfg.Peer.End); err != nil {
				errs = append(errs, fmt.Errorf("end peer session: %w", err))
			}
		}
		if cameraOn {
			if err := guard(c.cfg.Camera.Close); err != nil {
				errs = append(errs, fmt.Errorf("close camera: %w", err))
			}
		}
		if cancel != nil {
			cancel()
		}

		if entered {
			rec := c.buildRecord(reason, peerState)
			c.mu.Lock()
			c.record = rec
			c.mu.Unlock()

			if c.cfg.Records != nil {
				ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
				err := guard(func() error { return c.cfg.Records.Save(ctx, rec) })
				cancel()
				if err != nil {
					errs = append(errs, fmt.Errorf("save session: %w", err))
				}
			}
		}

		c.teardownErr = errors.Join(errs...)
		if c.teardownErr != nil {
			c.log.Warn("session teardown", "reason", reason, "error", c.teardownErr)
		} else {
			c.log.Info("session torn down", "reason", reason)
		}
	})
	return c.teardownErr
}

func (c *Controller) buildRecord(reason store.Reason, state peer.State) *store.SessionRecord {
	c.mu.Lock()
	started := c.startedAt
	c.mu.Unlock()
	return &store.SessionRecord{
		ID:        c.cfg.ID,
		Room:      c.cfg.Room,
		Role:      c.cfg.Role,
		Reason:    reason,
		PeerState: state.String(),
		StartedAt: started,
		EndedAt:   c.now(),
		Summary:   c.cfg.Tally.Summary(),
	}
}

func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
