// Package signaling implements the room signaling channel used to negotiate a
// peer media session: JSON messages carrying an SDP offer, an SDP answer or an
// ICE candidate, exchanged over a websocket relayed by the API server.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"
)

// Kind tags a signaling message.
type Kind int

const (
	KindUnknown Kind = iota
	KindOffer
	KindAnswer
	KindICECandidate
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindICECandidate:
		return "iceCandidate"
	default:
		return "unknown"
	}
}

// ErrMalformed is returned by Decode for payloads that are not valid signaling JSON.
var ErrMalformed = errors.New("malformed signaling message")

// Message is one signaling message. Exactly one of Description and Candidate is
// meaningful, depending on Kind.
type Message struct {
	Kind        Kind
	Description webrtc.SessionDescription
	Candidate   webrtc.ICECandidateInit
}

// Offer wraps a local offer.
func Offer(sdp webrtc.SessionDescription) Message {
	sdp.Type = webrtc.SDPTypeOffer
	return Message{Kind: KindOffer, Description: sdp}
}

// Answer wraps a local answer.
func Answer(sdp webrtc.SessionDescription) Message {
	sdp.Type = webrtc.SDPTypeAnswer
	return Message{Kind: KindAnswer, Description: sdp}
}

// Candidate wraps a local ICE candidate.
func Candidate(c webrtc.ICECandidateInit) Message {
	return Message{Kind: KindICECandidate, Candidate: c}
}

// wire is the JSON shape exchanged through the relay.
type wire struct {
	Offer        *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer       *webrtc.SessionDescription `json:"answer,omitempty"`
	ICECandidate *webrtc.ICECandidateInit   `json:"iceCandidate,omitempty"`
}

// Encode returns the wire form of m. Unknown messages cannot be encoded.
func Encode(m Message) ([]byte, error) {
	var w wire
	switch m.Kind {
	case KindOffer:
		d := m.Description
		d.Type = webrtc.SDPTypeOffer
		w.Offer = &d
	case KindAnswer:
		d := m.Description
		d.Type = webrtc.SDPTypeAnswer
		w.Answer = &d
	case KindICECandidate:
		c := m.Candidate
		w.ICECandidate = &c
	default:
		return nil, fmt.Errorf("encode %s message: unsupported kind", m.Kind)
	}
	return json.Marshal(w)
}

// Decode parses a wire message. Exactly one of "offer", "answer" and
// "iceCandidate" must be present and non-null; any other shape decodes to a
// KindUnknown message. Invalid JSON, or a recognized key whose payload does not
// parse, returns ErrMalformed.
func Decode(data []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var (
		key     string
		payload json.RawMessage
		found   int
	)
	for _, k := range []string{"offer", "answer", "iceCandidate"} {
		v, ok := raw[k]
		if !ok || isNull(v) {
			continue
		}
		key, payload = k, v
		found++
	}
	if found != 1 {
		return Message{Kind: KindUnknown}, nil
	}

	switch key {
	case "offer", "answer":
		var d webrtc.SessionDescription
		if err := json.Unmarshal(payload, &d); err != nil {
			return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
		}
		if d.SDP == "" {
			return Message{}, fmt.Errorf("%w: %s: empty sdp", ErrMalformed, key)
		}
		if key == "offer" {
			return Offer(d), nil
		}
		return Answer(d), nil

	default:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &c); err != nil {
			return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
		}
		return Candidate(c), nil
	}
}

func isNull(v json.RawMessage) bool {
	return len(v) == 0 || string(v) == "null"
}
