package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/tarang-care/tarang-live/pkg/metrics"
	"github.com/tarang-care/tarang-live/pkg/protocol"
)

// ErrNoController is returned when a control endpoint has no callback wired.
var ErrNoController = errors.New("session control not configured")

// SessionResponse is the body of GET /api/session.
type SessionResponse struct {
	Info
	State   string                  `json:"state"`
	Detail  string                  `json:"detail,omitempty"`
	Metrics *metrics.Snapshot       `json:"metrics"` // null until the first face is seen
	Bands   map[string]metrics.Band `json:"band,omitempty"`
	Ended   *protocol.EndedData     `json:"ended,omitempty"`
}

// handleHealth reports liveness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"version": Version,
	})
}

// handleSession returns the current session state
func (s *Server) handleSession(c *fiber.Ctx) error {
	s.mu.RLock()
	resp := SessionResponse{
		Info:    s.info,
		State:   s.state.String(),
		Detail:  s.status,
		Metrics: s.last,
		Ended:   s.ended,
	}
	s.mu.RUnlock()

	if resp.Metrics != nil {
		resp.Bands = resp.Metrics.Bands()
	}
	return c.JSON(resp)
}

// handleEnd ends the session
func (s *Server) handleEnd(c *fiber.Ctx) error {
	if err := s.control(protocol.ActionEnd); err != nil {
		return controlError(c, err)
	}
	return c.JSON(fiber.Map{"ended": true})
}

// handleControl applies a mute or camera action
func (s *Server) handleControl(c *fiber.Ctx) error {
	var req protocol.ControlData
	if err := c.BodyParser(&req); err != nil || req.Action == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "body must be {\"action\": ...}",
		})
	}
	if err := s.control(req.Action); err != nil {
		return controlError(c, err)
	}
	return c.JSON(fiber.Map{"action": req.Action})
}

// handleInbound answers messages sent on the status websocket
func (s *Server) handleInbound(data []byte) []byte {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.log.Debug("ignoring dashboard message", "error", err)
		return nil
	}

	switch msg.Type {
	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			return nil
		}
		pong, err := protocol.NewPongMessage(ping.ID, msg.Timestamp, nowMillis())
		if err != nil {
			return nil
		}
		out, _ := pong.Bytes()
		return out

	case protocol.TypeControl:
		ctl, err := msg.GetControlData()
		if err != nil {
			return nil
		}
		if err := s.control(ctl.Action); err != nil {
			s.log.Warn("control action failed", "action", ctl.Action, "error", err)
		}
	}
	return nil
}

func (s *Server) control(action string) error {
	switch action {
	case protocol.ActionEnd:
		if s.OnEnd == nil {
			return ErrNoController
		}
		return s.OnEnd()
	case protocol.ActionMute, protocol.ActionUnmute, protocol.ActionVideoOff, protocol.ActionVideoOn:
		if s.OnControl == nil {
			return ErrNoController
		}
		return s.OnControl(action)
	default:
		return fiber.NewError(fiber.StatusBadRequest, "unknown action "+action)
	}
}

func controlError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.Is(err, ErrNoController):
		status = fiber.StatusServiceUnavailable
	case errors.As(err, &fe):
		status = fe.Code
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
