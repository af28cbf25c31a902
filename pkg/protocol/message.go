// Package protocol defines the WebSocket messages exchanged between the live
// session and its local dashboard.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Session → Dashboard messages
	TypeMetrics MessageType = "metrics" // Smoothed behavioural metrics
	TypeStatus  MessageType = "status"  // Peer session state
	TypeEnded   MessageType = "ended"   // Session finished, with summary

	// Dashboard → Session messages
	TypeControl MessageType = "control" // End session, mute, camera off

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Session → Dashboard Message Types
// =============================================================================

// MetricsData carries one smoothed snapshot. Field names follow the screening
// dashboard's metric panel.
type MetricsData struct {
	EyeContact        float64           `json:"eye_contact"`
	MotorCoordination float64           `json:"motor_coordination"`
	Engagement        float64           `json:"engagement"`
	FaceDetected      bool              `json:"face_detected"`
	LandmarksCount    int               `json:"landmarks_count"`
	Sequence          uint64            `json:"sequence"`
	Bands             map[string]string `json:"bands,omitempty"` // OPTIMAL, MODERATE, LOW
}

// StatusData reports the peer session state.
type StatusData struct {
	SessionID string `json:"session_id"`
	Room      string `json:"room"`
	Role      string `json:"role,omitempty"`
	State     string `json:"state"` // connecting, connected, ended
	Detail    string `json:"detail,omitempty"`
}

// SummaryData is the whole-session average of face-detected samples.
type SummaryData struct {
	Samples           int     `json:"samples"`
	DetectionRatio    float64 `json:"detection_ratio"`
	EyeContact        float64 `json:"eye_contact"`
	MotorCoordination float64 `json:"motor_coordination"`
	Engagement        float64 `json:"engagement"`
}

// EndedData announces the end of the session.
type EndedData struct {
	SessionID string      `json:"session_id"`
	Summary   SummaryData `json:"summary"`
	ExitInMs  int64       `json:"exit_in_ms"` // delay before the session process exits
	ReportURL string      `json:"report_url,omitempty"`
	RiskScore *float64    `json:"risk_score,omitempty"`
}

// =============================================================================
// Dashboard → Session Message Types
// =============================================================================

// Control actions
const (
	ActionEnd      = "end"
	ActionMute     = "mute"
	ActionUnmute   = "unmute"
	ActionVideoOff = "video_off"
	ActionVideoOn  = "video_on"
)

// ControlData is a command from the dashboard.
type ControlData struct {
	Action string `json:"action"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
