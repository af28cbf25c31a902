package hub

import (
	"log/slog"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10 // must stay below pongWait
	maxMessageSize = 64 * 1024         // dashboard clients only send small control envelopes
	sendBuffer     = 256
)

// Client is one dashboard websocket connection attached to a hub.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan Message
	log  *slog.Logger
}

// NewClient attaches conn to hub. Call Run from the websocket handler.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := newClient(hub, conn)
	hub.join(c)
	return c
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan Message, sendBuffer),
		log:  hub.log.With("client", id),
	}
}

// ID returns the client's unique id.
func (c *Client) ID() string {
	return c.id
}

// Run serves the connection until it closes. Writes happen on their own
// goroutine; Run itself reads.
func (c *Client) Run() {
	go c.writeLoop()
	c.readLoop()
}

// readLoop keeps the read deadline fresh through pongs and hands text frames
// to the hub's handler. It detaches the client when the connection drops.
func (c *Client) readLoop() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("client read failed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage || c.hub.handler == nil {
			continue
		}
		if reply := c.hub.handler(data); reply != nil {
			c.hub.reply(c, reply)
		}
	}
}

// writeLoop is the connection's only writer. A closed send channel means the
// hub dropped the client or stopped.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(msg.frameType(), msg.Data); err != nil {
				c.log.Debug("client write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}
