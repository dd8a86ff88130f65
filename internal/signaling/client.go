package signaling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/meshcall/meshcall/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is a websocket-backed Channel. Writes are serialized through
// writeMu so that Send can report delivery failures directly instead of
// queueing into a pump.
type Client struct {
	conn     *websocket.Conn
	logger   *logrus.Logger
	incoming chan *protocol.Envelope
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*Client)(nil)

// Dial connects to the signaling server at serverURL.
func Dial(ctx context.Context, serverURL string, logger *logrus.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to signaling server: %w", err)
	}

	c := &Client{
		conn:     conn,
		logger:   logger,
		incoming: make(chan *protocol.Envelope, 16),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.keepAlive()

	return c, nil
}

// Send delivers msg to the server, honoring ctx for cancellation before
// the write starts.
func (c *Client) Send(ctx context.Context, msg *protocol.Envelope) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("delivering signaling message: %w", err)
	}
	return nil
}

func (c *Client) Messages() <-chan *protocol.Envelope {
	return c.incoming
}

// Close tears down the connection. The server observes the disconnect
// and announces our departure to the room.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	for {
		var msg protocol.Envelope
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warnf("signaling connection lost: %v", err)
			}
			return
		}

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) keepAlive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
