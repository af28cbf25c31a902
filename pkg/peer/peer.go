// Package peer negotiates the two-party media session of a live screening room.
//
// A Negotiator acquires local media, creates a WebRTC peer connection, and
// exchanges offer, answer and ICE candidates with the other participant over the
// room's signaling channel. The clinician side initiates; the other side answers.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"

	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/media"
	"github.com/tarang-care/tarang-live/pkg/signaling"
)

var (
	// ErrMediaUnavailable is returned by Start when local capture fails.
	ErrMediaUnavailable = media.ErrMediaUnavailable

	// ErrEnded is returned by Start when End was called first.
	ErrEnded = errors.New("peer session ended")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("peer session already started")
)

// DefaultSTUNServer is used when no ICE servers are configured.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

// Conn is the peer connection surface the negotiator uses.
// *webrtc.PeerConnection implements it.
type Conn interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// Signal is a room signaling channel. *signaling.Channel implements it.
type Signal interface {
	Send(msg signaling.Message) error
	Messages() <-chan signaling.Message
	Close() error
}

// Config describes one peer session.
type Config struct {
	Room       string
	Initiator  bool // true for clinician and admin roles
	ICEServers []string

	Media media.Source
	Sink  media.RemoteSink // nil discards remote media

	// Dial opens the signaling channel for the room.
	Dial func(ctx context.Context) (Signal, error)

	// NewConn creates the peer connection. Defaults to webrtc.NewPeerConnection.
	NewConn func(cfg webrtc.Configuration) (Conn, error)
}

// DialURL returns a Dial function for a relay websocket URL.
func DialURL(url string) func(ctx context.Context) (Signal, error) {
	return func(ctx context.Context) (Signal, error) {
		return signaling.Dial(ctx, url)
	}
}

func newPionConn(cfg webrtc.Configuration) (Conn, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

// Negotiator runs one peer session. Start it once and End it once; End is safe
// to call at any time and more than once.
type Negotiator struct {
	cfg     Config
	log     *slog.Logger
	machine machine

	started atomic.Bool
	done    chan struct{}

	mu    sync.Mutex
	ended bool
	local *media.Local
	pc    Conn
	sig   Signal

	// touched only by the receive loop
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	connectOnce sync.Once
	endOnce     sync.Once
	endErr      error
	wg          sync.WaitGroup
}

// New creates a negotiator in the connecting state.
func New(cfg Config) *Negotiator {
	if cfg.NewConn == nil {
		cfg.NewConn = newPionConn
	}
	if cfg.Sink == nil {
		cfg.Sink = media.Discard
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []string{DefaultSTUNServer}
	}
	return &Negotiator{
		cfg:  cfg,
		log:  log.Component("peer").With("room", cfg.Room, "initiator", cfg.Initiator),
		done: make(chan struct{}),
	}
}

// State returns the current session state.
func (n *Negotiator) State() State {
	return n.machine.get()
}

// OnState registers fn to be called after every state transition.
func (n *Negotiator) OnState(fn func(State)) {
	n.machine.observe(fn)
}

// Local returns the local media, or nil before it has been acquired.
func (n *Negotiator) Local() *media.Local {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.local
}

// Start acquires media, builds the peer connection and joins the signaling room.
// On a media failure the state stays connecting and the error wraps
// ErrMediaUnavailable; there is no retry. Whatever Start acquired before failing
// is released by End.
func (n *Negotiator) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	local, err := n.cfg.Media.Open(ctx)
	if err != nil {
		n.log.Error("local media unavailable", "error", err)
		if !errors.Is(err, ErrMediaUnavailable) {
			err = fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		return fmt.Errorf("acquire local media: %w", err)
	}
	if !n.hold(func() { n.local = local }) {
		_ = local.Stop()
		return ErrEnded
	}

	pc, err := n.cfg.NewConn(n.webrtcConfig())
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	if !n.hold(func() { n.pc = pc }) {
		_ = pc.Close()
		return ErrEnded
	}
	n.bind(pc)

	for _, track := range local.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
	}

	sig, err := n.cfg.Dial(ctx)
	if err != nil {
		return fmt.Errorf("join signaling: %w", err)
	}
	if !n.hold(func() {
		n.sig = sig
		n.wg.Add(1)
		go n.receive(sig)
	}) {
		_ = sig.Close()
		return ErrEnded
	}
	n.log.Info("signaling joined", "tracks", len(local.Tracks()))

	if n.cfg.Initiator {
		if err := n.offer(pc, sig); err != nil {
			return err
		}
	}
	return nil
}

// End moves the session to ended and releases everything it holds: local tracks
// first, then the peer connection, then the signaling channel. Every step is
// attempted; failures are joined.
func (n *Negotiator) End() error {
	n.endOnce.Do(func() {
		n.mu.Lock()
		n.ended = true
		local, pc, sig := n.local, n.pc, n.sig
		n.mu.Unlock()

		close(n.done)
		if err := n.machine.markEnded(); err != nil {
			n.log.Debug("end", "error", err)
		}

		var errs []error
		if local != nil {
			if err := local.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop local tracks: %w", err))
			}
		}
		if pc != nil {
			if err := guard(pc.Close); err != nil {
				errs = append(errs, fmt.Errorf("close peer connection: %w", err))
			}
		}
		if sig != nil {
			if err := guard(sig.Close); err != nil {
				errs = append(errs, fmt.Errorf("close signaling: %w", err))
			}
		}

		n.wg.Wait()
		n.endErr = errors.Join(errs...)
		n.log.Info("peer session ended", "error", n.endErr)
	})
	return n.endErr
}

// hold runs set under the lock unless the session has ended.
func (n *Negotiator) hold(set func()) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ended {
		return false
	}
	set()
	return true
}

func (n *Negotiator) webrtcConfig() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, len(n.cfg.ICEServers))
	for _, url := range n.cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return webrtc.Configuration{ICEServers: servers}
}

func (n *Negotiator) bind(pc Conn) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		n.sendCandidate(c.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		n.onRemoteTrack(track)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			n.log.Warn("peer connection state", "state", s.String())
		default:
			n.log.Debug("peer connection state", "state", s.String())
		}
	})
}

// sendCandidate forwards a locally gathered ICE candidate.
func (n *Negotiator) sendCandidate(c webrtc.ICECandidateInit) {
	n.mu.Lock()
	sig, ended := n.sig, n.ended
	n.mu.Unlock()

	if ended {
		return
	}
	if sig == nil {
		n.log.Debug("dropping local candidate before signaling is open")
		return
	}
	if err := sig.Send(signaling.Candidate(c)); err != nil {
		n.log.Warn("send ice candidate failed", "error", err)
	}
}

// onRemoteTrack marks the session connected on the first remote track and hands
// the track to the sink until it ends.
func (n *Negotiator) onRemoteTrack(track media.RemoteTrack) {
	n.mu.Lock()
	if n.ended {
		n.mu.Unlock()
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()
	defer n.wg.Done()

	n.log.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
	n.connectOnce.Do(func() {
		if err := n.machine.markConnected(); err != nil {
			n.log.Debug("connect", "error", err)
		}
	})

	if err := n.cfg.Sink.Consume(track); err != nil {
		n.log.Warn("remote track sink failed", "kind", track.Kind().String(), "error", err)
	}
}

func (n *Negotiator) offer(pc Conn, sig Signal) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	if err := sig.Send(signaling.Offer(offer)); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}
	n.log.Info("offer sent")
	return nil
}

// receive applies inbound signaling messages in receipt order until End or
// until the channel closes.
func (n *Negotiator) receive(sig Signal) {
	defer n.wg.Done()

	msgs := sig.Messages()
	for {
		select {
		case <-n.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				n.log.Info("signaling channel closed")
				return
			}
			select {
			case <-n.done:
				return
			default:
			}
			n.handle(msg, sig)
		}
	}
}

func (n *Negotiator) handle(msg signaling.Message, sig Signal) {
	n.mu.Lock()
	pc := n.pc
	n.mu.Unlock()

	switch msg.Kind {
	case signaling.KindOffer:
		if n.cfg.Initiator {
			n.log.Debug("initiator ignoring inbound offer")
			return
		}
		if err := n.applyRemote(pc, msg.Description); err != nil {
			n.log.Warn("apply offer failed", "error", err)
			return
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			n.log.Warn("create answer failed", "error", err)
			return
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			n.log.Warn("set local answer failed", "error", err)
			return
		}
		if err := sig.Send(signaling.Answer(answer)); err != nil {
			n.log.Warn("send answer failed", "error", err)
			return
		}
		n.log.Info("answer sent")

	case signaling.KindAnswer:
		if err := n.applyRemote(pc, msg.Description); err != nil {
			n.log.Warn("apply answer failed", "error", err)
		}

	case signaling.KindICECandidate:
		if !n.remoteSet {
			n.pending = append(n.pending, msg.Candidate)
			n.log.Debug("queued remote candidate", "pending", len(n.pending))
			return
		}
		if err := pc.AddICECandidate(msg.Candidate); err != nil {
			n.log.Warn("add ice candidate failed", "error", err)
		}

	default:
		// unrecognized messages are not an error
	}
}

// applyRemote sets the remote description and flushes queued candidates.
func (n *Negotiator) applyRemote(pc Conn, desc webrtc.SessionDescription) error {
	if err := pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	n.remoteSet = true

	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			n.log.Warn("add queued ice candidate failed", "error", err)
		}
	}
	return nil
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
