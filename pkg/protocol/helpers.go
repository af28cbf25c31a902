package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarang-care/tarang-live/pkg/metrics"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewMetricsMessage creates a metrics message from a snapshot
func NewMetricsMessage(snap metrics.Snapshot) (*Message, error) {
	bands := make(map[string]string, 3)
	for name, b := range snap.Bands() {
		bands[name] = string(b)
	}
	return NewMessage(TypeMetrics, MetricsData{
		EyeContact:        snap.EyeContact,
		MotorCoordination: snap.MotorStability,
		Engagement:        snap.Engagement,
		FaceDetected:      snap.FaceDetected,
		LandmarksCount:    snap.LandmarkCount,
		Sequence:          snap.Sequence,
		Bands:             bands,
	})
}

// NewStatusMessage creates a status message
func NewStatusMessage(status StatusData) (*Message, error) {
	return NewMessage(TypeStatus, status)
}

// NewSummaryData converts a session summary
func NewSummaryData(s metrics.Summary) SummaryData {
	return SummaryData{
		Samples:           s.Samples,
		DetectionRatio:    s.DetectionRatio(),
		EyeContact:        s.EyeContact,
		MotorCoordination: s.MotorStability,
		Engagement:        s.Engagement,
	}
}

// NewEndedMessage creates an ended message
func NewEndedMessage(ended EndedData) (*Message, error) {
	return NewMessage(TypeEnded, ended)
}

// NewControlMessage creates a control command message
func NewControlMessage(action string) (*Message, error) {
	return NewMessage(TypeControl, ControlData{Action: action})
}

// NewPingMessage creates a ping message stamped with the send time.
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: time.Now().UnixMilli()})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// ErrWrongType is returned when a getter is used on another message type.
var ErrWrongType = errors.New("unexpected message type")

func decodeAs[T any](m *Message, want MessageType) (*T, error) {
	if m.Type != want {
		return nil, fmt.Errorf("%w: %q, want %q", ErrWrongType, m.Type, want)
	}
	var data T
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetMetricsData decodes a metrics message.
func (m *Message) GetMetricsData() (*MetricsData, error) { return decodeAs[MetricsData](m, TypeMetrics) }

// GetStatusData decodes a status message.
func (m *Message) GetStatusData() (*StatusData, error) { return decodeAs[StatusData](m, TypeStatus) }

// GetEndedData decodes an ended message.
func (m *Message) GetEndedData() (*EndedData, error) { return decodeAs[EndedData](m, TypeEnded) }

// GetControlData decodes a control command.
func (m *Message) GetControlData() (*ControlData, error) { return decodeAs[ControlData](m, TypeControl) }

// GetPingData decodes a ping.
func (m *Message) GetPingData() (*PingData, error) { return decodeAs[PingData](m, TypePing) }

// GetPongData decodes a pong.
func (m *Message) GetPongData() (*PongData, error) { return decodeAs[PongData](m, TypePong) }
