// Package web serves the local dashboard of a live session: REST endpoints for
// the current state and websocket streams of metrics, status and camera preview.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/tarang-care/tarang-live/internal/log"
	"github.com/tarang-care/tarang-live/pkg/hub"
	"github.com/tarang-care/tarang-live/pkg/metrics"
	"github.com/tarang-care/tarang-live/pkg/peer"
	"github.com/tarang-care/tarang-live/pkg/protocol"
	"github.com/tarang-care/tarang-live/pkg/sampling"
)

// Version is reported by /health. Overridden at build time.
var Version = "dev"

// DefaultPreviewInterval paces the camera preview stream.
const DefaultPreviewInterval = 200 * time.Millisecond

// Info identifies the session the dashboard shows.
type Info struct {
	SessionID string `json:"session_id"`
	Room      string `json:"room"`
	Role      string `json:"role"`
}

// Server is the dashboard server. It implements sampling.Publisher, and its
// SetState method is a peer state observer.
type Server struct {
	app  *fiber.App
	addr string
	info Info
	log  *slog.Logger

	mu     sync.RWMutex
	state  peer.State
	last   *metrics.Snapshot
	ended  *protocol.EndedData
	status string // detail shown with the state, e.g. a media error

	// Hubs for websocket broadcast (thread-safe!)
	metricsHub *hub.Hub
	statusHub  *hub.Hub
	previewHub *hub.Hub

	// OnEnd ends the session. Called from POST /api/session/end and the
	// "end" control action.
	OnEnd func() error

	// OnControl applies mute and camera actions.
	OnControl func(action string) error
}

// NewServer creates a dashboard server listening on addr (host:port or :port).
func NewServer(addr string, info Info) *Server {
	s := &Server{
		addr:       addr,
		info:       info,
		log:        log.Component("web"),
		metricsHub: hub.New("metrics", hub.WithRetain()),
		previewHub: hub.New("preview"),
	}
	s.statusHub = hub.New("status", hub.WithRetain(), hub.WithHandler(s.handleInbound))

	app := fiber.New(fiber.Config{
		AppName:               "Tarang Live",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/session", s.handleSession)
	api.Post("/session/end", s.handleEnd)
	api.Post("/session/control", s.handleControl)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/metrics", websocket.New(s.serveHub(s.metricsHub)))
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))
	app.Get("/ws/preview", websocket.New(s.serveHub(s.previewHub)))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. The hubs run for the same span.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, h := range []*hub.Hub{s.metricsHub, s.statusHub, s.previewHub} {
		go h.Run(ctx)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.log.Info("dashboard listening", "url", "http://"+ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	// Hubs close their clients first so hijacked websocket connections end.
	cancel()
	for _, h := range []*hub.Hub{s.metricsHub, s.statusHub, s.previewHub} {
		<-h.Done()
	}
	if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Publish records a snapshot and streams it to metrics clients.
func (s *Server) Publish(snap metrics.Snapshot) {
	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()

	msg, err := protocol.NewMetricsMessage(snap)
	if err != nil {
		s.log.Warn("encode metrics", "error", err)
		return
	}
	s.broadcast(s.metricsHub, msg)
}

// SetState records the peer state and streams it to status clients.
func (s *Server) SetState(state peer.State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.broadcastStatus()
}

// SetDetail attaches a human readable note to the status, such as a
// camera failure. An empty string clears it.
func (s *Server) SetDetail(detail string) {
	s.mu.Lock()
	s.status = detail
	s.mu.Unlock()
	s.broadcastStatus()
}

// Ended announces the end of the session to status clients.
func (s *Server) Ended(data protocol.EndedData) {
	s.mu.Lock()
	s.ended = &data
	s.mu.Unlock()

	msg, err := protocol.NewEndedMessage(data)
	if err != nil {
		s.log.Warn("encode ended", "error", err)
		return
	}
	s.broadcast(s.statusHub, msg)
}

// StreamPreview sends JPEG frames from src to preview clients every interval
// until ctx is cancelled. Frames are only encoded while someone is watching.
func (s *Server) StreamPreview(ctx context.Context, src sampling.FrameSource, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPreviewInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.previewHub.ClientCount() == 0 {
				continue
			}
			if img, ok := src.Frame(); ok && img.Ready() {
				s.previewHub.BroadcastBinary(img.JPEG)
			}
		}
	}
}

var _ sampling.Publisher = (*Server)(nil)

func (s *Server) broadcastStatus() {
	msg, err := protocol.NewStatusMessage(s.statusData())
	if err != nil {
		s.log.Warn("encode status", "error", err)
		return
	}
	s.broadcast(s.statusHub, msg)
}

func (s *Server) statusData() protocol.StatusData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.StatusData{
		SessionID: s.info.SessionID,
		Room:      s.info.Room,
		Role:      s.info.Role,
		State:     s.state.String(),
		Detail:    s.status,
	}
}

func (s *Server) broadcast(h *hub.Hub, msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		s.log.Warn("encode message", "type", msg.Type, "error", err)
		return
	}
	h.Broadcast(hub.NewJSONMessage(data))
}

func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		hub.NewClient(h, c).Run()
	}
}
