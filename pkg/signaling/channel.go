package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tarang-care/tarang-live/internal/log"
)

// Channel timeouts
const (
	HandshakeTimeout = 10 * time.Second
	WriteTimeout     = 5 * time.Second
	inboxSize        = 32
)

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("signaling channel closed")

// Channel is a signaling connection to one room. Messages are delivered in
// receipt order on Messages; the channel is closed when the connection ends.
type Channel struct {
	conn *websocket.Conn
	log  *slog.Logger

	inbox chan Message

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// Dial opens a signaling channel to url and starts reading from it.
func Dial(ctx context.Context, url string) (*Channel, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signaling dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("signaling dial: %w", err)
	}

	return newChannel(conn), nil
}

func newChannel(conn *websocket.Conn) *Channel {
	c := &Channel{
		conn:   conn,
		log:    log.Component("signaling"),
		inbox:  make(chan Message, inboxSize),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Messages returns the inbound message stream.
func (c *Channel) Messages() <-chan Message {
	return c.inbox
}

// Send writes one message.
func (c *Channel) Send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("signaling send %s: %w", m.Kind, err)
	}
	return nil
}

// Close sends a close frame and releases the connection. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		close(c.closed)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
		c.writeMu.Unlock()
	})
	return c.closeErr
}

// Done is closed once Close has been called.
func (c *Channel) Done() <-chan struct{} {
	return c.closed
}

func (c *Channel) readLoop() {
	defer close(c.inbox)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Info("signaling closed by peer")
				} else {
					c.log.Warn("signaling read failed", "error", err)
				}
			}
			return
		}

		msg, err := Decode(data)
		if err != nil {
			c.log.Warn("skipping signaling message", "error", err)
			continue
		}
		if msg.Kind == KindUnknown {
			c.log.Debug("ignoring unrecognized signaling message", "bytes", len(data))
			continue
		}

		select {
		case c.inbox <- msg:
		case <-c.closed:
			return
		}
	}
}
