package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Thabobear/celebeaty/internal/logging"
	"github.com/Thabobear/celebeaty/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is one WebSocket connection with its bound identity. Identity
// comes from the HTTP session at upgrade time and is immutable for the
// connection's lifetime.
type Client struct {
	ID        string
	UserID    string
	Name      string
	SessionID string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// done signals the pumps to stop. The send channel itself is never
	// closed: fan-out goroutines may hold a reference to this client after
	// it unregisters, and a send on a closed channel would panic them.
	done     chan struct{}
	doneOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID, name, sessionID string, sendBuffer int) *Client {
	return &Client{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		SessionID: sessionID,
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
	}
}

// Send queues an encoded message for delivery. Slow connections get the
// message dropped rather than blocking the sender; the next emission or a
// snapshot request corrects the receiver. Sending to a disconnected client
// is a no-op.
func (c *Client) Send(v interface{}) {
	data, err := encode(v)
	if err != nil {
		logging.Error().Err(err).Msg("encoding outbound message")
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		metrics.MessagesDropped.Inc()
	}
}

// close signals both pumps to stop. Idempotent.
func (c *Client) close() {
	c.doneOnce.Do(func() { close(c.done) })
}

// readPump pumps inbound messages into the hub's router. The pong deadline
// is one heartbeat interval; a connection that misses it is reclaimed.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	pongWait := c.hub.heartbeat
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("setting read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Str("user", c.UserID).Msg("websocket closed unexpectedly")
			}
			return
		}
		c.hub.dispatch(c, raw)
	}
}

// writePump drains the send queue and keeps the liveness heartbeat going.
func (c *Client) writePump() {
	pingPeriod := c.hub.heartbeat * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// start begins reading and writing for the client.
func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}
