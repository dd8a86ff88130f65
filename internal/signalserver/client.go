package signalserver

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshcall/meshcall/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// client wraps one websocket connection. All reads happen in readPump
// and all writes in writePump, so the connection never sees concurrent
// use.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan *protocol.Envelope

	id     string
	name   string
	roomID string
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warnf("read error from %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}

		c.hub.inbound <- &inboundEnvelope{client: c, env: &env}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver queues an envelope for the client, dropping it if the client
// is too slow to drain its send buffer.
func (c *client) deliver(env *protocol.Envelope) {
	select {
	case c.send <- env:
	default:
		c.hub.logger.Warnf("dropping message to slow client %s", c.id)
	}
}
