package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thabobear/celebeaty/internal/config"
	"github.com/Thabobear/celebeaty/internal/logging"
	"github.com/Thabobear/celebeaty/internal/metrics"
	"github.com/Thabobear/celebeaty/internal/session"
)

// Hub maintains the set of active connections and routes messages between
// them. All registry mutation happens under the mutex; handlers run on the
// reading goroutine of the originating connection.
type Hub struct {
	heartbeat  time.Duration
	sendBuffer int
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool
	closed  bool

	handlers     Handlers
	onConnect    func(c *Client)
	onDisconnect func(c *Client, lastForUser bool)
}

// NewHub creates a Hub with the transport configuration applied.
func NewHub(cfg config.RealtimeConfig) *Hub {
	h := &Hub{
		heartbeat:  cfg.HeartbeatInterval,
		sendBuffer: cfg.SendBuffer,
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, cfg.AllowedOrigins)
		},
	}
	return h
}

// Bind installs the message handlers and lifecycle hooks. Must be called
// before the first upgrade.
func (h *Hub) Bind(handlers Handlers, onConnect func(*Client), onDisconnect func(*Client, bool)) {
	h.handlers = handlers
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
}

// ServeWS upgrades the request to a WebSocket connection bound to the
// session's identity. An unacceptable origin fails the handshake silently.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade failures (origin rejection included) already wrote the
		// response; nothing to surface.
		logging.Debug().Err(err).Msg("websocket upgrade rejected")
		return
	}

	c := newClient(h, conn, sess.UserID, sess.DisplayName, sess.ID, h.sendBuffer)
	h.register(c)
	c.start()

	c.Send(HelloMessage{Type: TypeHello, UserID: c.UserID, Name: c.Name})
	if h.onConnect != nil {
		h.onConnect(c)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	if h.byUser[c.UserID] == nil {
		h.byUser[c.UserID] = make(map[*Client]bool)
	}
	h.byUser[c.UserID][c] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Inc()
	logging.Info().Str("user", c.UserID).Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	c.close()

	lastForUser := false
	if set, ok := h.byUser[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.UserID)
			lastForUser = true
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Dec()
	logging.Info().Str("user", c.UserID).Int("total_clients", total).Msg("websocket client disconnected")

	if h.onDisconnect != nil {
		h.onDisconnect(c, lastForUser)
	}
}

// dispatch hands a raw inbound message to the router.
func (h *Hub) dispatch(c *Client, raw []byte) {
	Dispatch(c, raw, h.handlers)
}

// SendToUser delivers a message to every connection of the user.
func (h *Hub) SendToUser(userID string, v interface{}) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.byUser[userID]))
	for c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Send(v)
	}
}

// Connected reports whether the user has at least one open connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// Shutdown closes every connection. Used on graceful server stop.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(writeWait))
		c.close()
		_ = c.conn.Close()
	}
	logging.Info().Int("clients_closed", len(conns)).Msg("realtime hub stopped")
}
