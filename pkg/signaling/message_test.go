package signaling

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/pion/webrtc/v3"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Kind
		wantErr bool
	}{
		{"offer", `{"offer":{"type":"offer","sdp":"v=0"}}`, KindOffer, false},
		{"answer", `{"answer":{"type":"answer","sdp":"v=0"}}`, KindAnswer, false},
		{"candidate", `{"iceCandidate":{"candidate":"candidate:1 1 UDP 1 10.0.0.1 9 typ host","sdpMid":"0","sdpMLineIndex":0}}`, KindICECandidate, false},
		{"extra keys kept", `{"offer":{"type":"offer","sdp":"v=0"},"from":"clinician"}`, KindOffer, false},
		{"null alongside", `{"offer":{"type":"offer","sdp":"v=0"},"answer":null}`, KindOffer, false},
		{"two tags", `{"offer":{"sdp":"v=0"},"answer":{"sdp":"v=0"}}`, KindUnknown, false},
		{"no tag", `{"type":"join"}`, KindUnknown, false},
		{"empty object", `{}`, KindUnknown, false},
		{"all null", `{"offer":null}`, KindUnknown, false},
		{"invalid json", `{"offer":`, KindUnknown, true},
		{"not an object", `["offer"]`, KindUnknown, true},
		{"offer wrong payload", `{"offer":"v=0"}`, KindUnknown, true},
		{"offer empty sdp", `{"offer":{"type":"offer","sdp":""}}`, KindUnknown, true},
		{"candidate wrong payload", `{"iceCandidate":42}`, KindUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Fatalf("Decode() error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() unexpected error: %v", err)
			}
			if got.Kind != tt.want {
				t.Errorf("Decode() kind = %s, want %s", got.Kind, tt.want)
			}
		})
	}
}

func TestDecode_Fields(t *testing.T) {
	m, err := Decode([]byte(`{"offer":{"type":"answer","sdp":"v=0\r\n"}}`))
	if err != nil {
		t.Fatal(err)
	}
	// the key decides the type
	if m.Description.Type != webrtc.SDPTypeOffer {
		t.Errorf("type = %s, want offer", m.Description.Type)
	}
	if m.Description.SDP != "v=0\r\n" {
		t.Errorf("sdp = %q", m.Description.SDP)
	}

	m, err = Decode([]byte(`{"iceCandidate":{"candidate":"c","sdpMid":"1","sdpMLineIndex":2,"usernameFragment":"u"}}`))
	if err != nil {
		t.Fatal(err)
	}
	c := m.Candidate
	if c.Candidate != "c" || c.SDPMid == nil || *c.SDPMid != "1" || c.SDPMLineIndex == nil || *c.SDPMLineIndex != 2 {
		t.Errorf("candidate = %+v", c)
	}
	if c.UsernameFragment == nil || *c.UsernameFragment != "u" {
		t.Errorf("usernameFragment = %v", c.UsernameFragment)
	}
}

func TestEncode_WireShape(t *testing.T) {
	mid := "0"
	idx := uint16(0)

	tests := []struct {
		name string
		msg  Message
		key  string
	}{
		{"offer", Offer(webrtc.SessionDescription{SDP: "v=0"}), "offer"},
		{"answer", Answer(webrtc.SessionDescription{SDP: "v=0"}), "answer"},
		{"candidate", Candidate(webrtc.ICECandidateInit{Candidate: "c", SDPMid: &mid, SDPMLineIndex: &idx}), "iceCandidate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}

			var raw map[string]json.RawMessage
			if err := json.Unmarshal(data, &raw); err != nil {
				t.Fatal(err)
			}
			if len(raw) != 1 {
				t.Fatalf("got keys %v, want only %q", raw, tt.key)
			}
			if _, ok := raw[tt.key]; !ok {
				t.Fatalf("missing key %q in %s", tt.key, data)
			}

			back, err := Decode(data)
			if err != nil {
				t.Fatal(err)
			}
			if back.Kind != tt.msg.Kind {
				t.Errorf("decoded kind = %s, want %s", back.Kind, tt.msg.Kind)
			}
		})
	}

	if _, err := Encode(Message{}); err == nil {
		t.Error("Encode(unknown) should fail")
	}
}

func TestRoomURL(t *testing.T) {
	tests := []struct {
		name    string
		api     string
		room    string
		token   string
		want    string
		wantErr bool
	}{
		{"http", "http://localhost:8000", "room-1", "abc", "ws://localhost:8000/ws/screening/room-1?token=abc", false},
		{"https", "https://api.tarang.care", "r", "t", "wss://api.tarang.care/ws/screening/r?token=t", false},
		{"trailing slash", "https://api.tarang.care/", "r", "t", "wss://api.tarang.care/ws/screening/r?token=t", false},
		{"path prefix", "https://host/api", "r", "t", "wss://host/api/ws/screening/r?token=t", false},
		{"escaped token", "http://h", "r", "a b&c", "ws://h/ws/screening/r?token=a+b%26c", false},
		{"escaped room", "http://h", "a/b", "t", "ws://h/ws/screening/a%2Fb?token=t", false},
		{"empty room", "http://h", "", "t", "", true},
		{"bad scheme", "ftp://h", "r", "t", "", true},
		{"no host", "http://", "r", "t", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RoomURL(tt.api, tt.room, tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("RoomURL() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("RoomURL() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("RoomURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
