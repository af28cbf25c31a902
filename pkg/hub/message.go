// Package hub fans websocket messages out to dashboard clients. One goroutine
// owns the client set; everything else talks to it over channels.
package hub

import "github.com/gofiber/websocket/v2"

// MessageType selects the websocket frame type.
type MessageType int

const (
	JSONMessage   MessageType = iota // text frame carrying JSON
	BinaryMessage                    // binary frame, e.g. a JPEG preview
)

// Message is one frame queued for clients.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps already encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps raw bytes.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

func (m Message) frameType() int {
	if m.Type == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Handler receives every text frame a client sends. A non-nil result goes
// back to that client only.
type Handler func(data []byte) []byte

// direct is a reply addressed to one client.
type direct struct {
	client *Client
	msg    Message
}
