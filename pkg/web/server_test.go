package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarang-care/tarang-live/pkg/landmark"
	"github.com/tarang-care/tarang-live/pkg/metrics"
	"github.com/tarang-care/tarang-live/pkg/peer"
	"github.com/tarang-care/tarang-live/pkg/protocol"
	"github.com/tarang-care/tarang-live/pkg/sampling"
)

var testInfo = Info{SessionID: "s-1", Room: "room-1", Role: "CLINICIAN"}

func doJSON(t *testing.T, s *Server, method, path, body string, out interface{}) int {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	s := NewServer(":0", testInfo)

	var body map[string]string
	code := doJSON(t, s, http.MethodGet, "/health", "", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, Version, body["version"])
}

func TestSession_BeforeFirstFace(t *testing.T) {
	s := NewServer(":0", testInfo)

	var body map[string]interface{}
	code := doJSON(t, s, http.MethodGet, "/api/session", "", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "s-1", body["session_id"])
	assert.Equal(t, "room-1", body["room"])
	assert.Equal(t, "connecting", body["state"])
	assert.Nil(t, body["metrics"])
	assert.NotContains(t, body, "band")
}

func TestSession_WithMetricsAndState(t *testing.T) {
	s := NewServer(":0", testInfo)
	s.Publish(metrics.Snapshot{EyeContact: 0.9, MotorStability: 0.5, Engagement: 0.1, FaceDetected: true, Sequence: 3})
	s.SetState(peer.StateConnected)

	var body SessionResponse
	code := doJSON(t, s, http.MethodGet, "/api/session", "", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "connected", body.State)
	require.NotNil(t, body.Metrics)
	assert.Equal(t, uint64(3), body.Metrics.Sequence)
	assert.Equal(t, metrics.BandOptimal, body.Bands[metrics.SignalEyeContact])
	assert.Equal(t, metrics.BandModerate, body.Bands[metrics.SignalMotor])
	assert.Equal(t, metrics.BandLow, body.Bands[metrics.SignalEngagement])
}

func TestEnd(t *testing.T) {
	tests := []struct {
		name     string
		onEnd    func() error
		wantCode int
	}{
		{"not wired", nil, http.StatusServiceUnavailable},
		{"ok", func() error { return nil }, http.StatusOK},
		{"fails", func() error { return errors.New("boom") }, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(":0", testInfo)
			s.OnEnd = tt.onEnd
			code := doJSON(t, s, http.MethodPost, "/api/session/end", "", nil)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestControl(t *testing.T) {
	var got []string
	s := NewServer(":0", testInfo)
	s.OnControl = func(action string) error {
		got = append(got, action)
		return nil
	}

	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/session/control", `{"action":"mute"}`, nil))
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/session/control", `{"action":"video_off"}`, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodPost, "/api/session/control", `{"action":"dance"}`, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodPost, "/api/session/control", `{}`, nil))
	assert.Equal(t, []string{"mute", "video_off"}, got)
}

func TestWebsocketPlainHTTPRejected(t *testing.T) {
	s := NewServer(":0", testInfo)
	code := doJSON(t, s, http.MethodGet, "/ws/metrics", "", nil)
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

func serve(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return "ws://" + ln.Addr().String()
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	var conn *gorilla.Conn
	require.Eventually(t, func() bool {
		c, _, err := gorilla.DefaultDialer.Dial(url, nil)
		if err != nil {
			return false
		}
		conn = c
		return true
	}, 2*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *gorilla.Conn) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.ParseMessage(data)
	require.NoError(t, err)
	return msg
}

func TestMetricsStream(t *testing.T) {
	s := NewServer(":0", testInfo)
	base := serve(t, s)
	conn := dial(t, base+"/ws/metrics")
	require.Eventually(t, func() bool { return s.metricsHub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Publish(metrics.Snapshot{EyeContact: 0.75, FaceDetected: true, Sequence: 1})

	msg := readMessage(t, conn)
	assert.Equal(t, protocol.TypeMetrics, msg.Type)
	data, err := msg.GetMetricsData()
	require.NoError(t, err)
	assert.Equal(t, 0.75, data.EyeContact)
	assert.Equal(t, uint64(1), data.Sequence)
}

func TestStatusStream_LateJoinerAndControl(t *testing.T) {
	s := NewServer(":0", testInfo)
	ended := make(chan struct{}, 1)
	s.OnEnd = func() error {
		ended <- struct{}{}
		return nil
	}
	base := serve(t, s)

	// Wait for the hubs before publishing the retained state.
	require.Eventually(t, s.statusHub.IsRunning, 2*time.Second, 10*time.Millisecond)
	s.SetState(peer.StateConnected)
	time.Sleep(20 * time.Millisecond)

	conn := dial(t, base+"/ws/status")
	msg := readMessage(t, conn)
	assert.Equal(t, protocol.TypeStatus, msg.Type)
	status, err := msg.GetStatusData()
	require.NoError(t, err)
	assert.Equal(t, "connected", status.State)
	assert.Equal(t, "room-1", status.Room)

	ctl, err := protocol.NewControlMessage(protocol.ActionEnd)
	require.NoError(t, err)
	out, err := ctl.Bytes()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, out))

	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("end control not applied")
	}

	s.Ended(protocol.EndedData{SessionID: "s-1", ExitInMs: 2000})
	msg = readMessage(t, conn)
	assert.Equal(t, protocol.TypeEnded, msg.Type)
}

func TestStatusStream_Ping(t *testing.T) {
	s := NewServer(":0", testInfo)
	base := serve(t, s)
	conn := dial(t, base+"/ws/status")

	ping, err := protocol.NewPingMessage("p1")
	require.NoError(t, err)
	out, err := ping.Bytes()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, out))

	msg := readMessage(t, conn)
	assert.Equal(t, protocol.TypePong, msg.Type)
	pong, err := msg.GetPongData()
	require.NoError(t, err)
	assert.Equal(t, "p1", pong.ID)
}

func TestPreviewStream(t *testing.T) {
	s := NewServer(":0", testInfo)
	base := serve(t, s)
	conn := dial(t, base+"/ws/preview")
	require.Eventually(t, func() bool { return s.previewHub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	src := sampling.FrameSourceFunc(func() (landmark.Image, bool) {
		return landmark.Image{JPEG: jpeg, Width: 2, Height: 2}, true
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.StreamPreview(ctx, src, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, gorilla.BinaryMessage, msgType)
	assert.Equal(t, jpeg, data)
}
