package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/trackside/signalbox/internal/channel"
	"github.com/trackside/signalbox/internal/infrastructure/config"
	"github.com/trackside/signalbox/internal/infrastructure/logging"
	"github.com/trackside/signalbox/internal/state"
)

// WebSocket message types.
const (
	WSTypeState    = "state"
	WSTypePing     = "ping"
	WSTypePong     = "pong"
	WSTypeResponse = "response"
	WSTypeError    = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// storeSubscriptionBuffer is how many store changes the hub may lag
	// behind before the store collapses them into a full resync.
	storeSubscriptionBuffer = 64

	// wsCommandTimeout bounds commands issued over the relay.
	wsCommandTimeout = 5 * time.Second
)

// WSMessage is a message sent to a relay client.
//
// State messages carry entries keyed by "<kind>-<id>". Full is set when the
// payload is the whole store and replaces whatever the client holds.
// Removed lists keys that no longer exist.
type WSMessage struct {
	Type      string   `json:"type"`
	ID        string   `json:"id,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
	Full      bool     `json:"full,omitempty"`
	Removed   []string `json:"removed,omitempty"`
	Payload   any      `json:"payload,omitempty"`
}

// wsRequest is the envelope of a client message. Command messages use the
// backend channel shape, {"type":"set-points","payload":{...}}, plus an
// optional correlation id.
type wsRequest struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Hub relays store changes to connected WebSocket clients.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	store    *state.Store
	sub      *state.Subscription
	commands Commands
	observer RelayObserver

	clients map[*WSClient]struct{}
	mu      sync.RWMutex

	// relayMu orders initial snapshots against relayed changes.
	relayMu sync.Mutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// since is the version of the snapshot the client was sent on
	// registration. Guarded by hub.relayMu.
	since uint64
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a hub relaying changes from store. It subscribes
// immediately so nothing published before Run starts is missed. commands
// may be nil, in which case clients cannot issue commands over the relay.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, store *state.Store, commands Commands, observer RelayObserver) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		sub:      store.Subscribe(storeSubscriptionBuffer),
		commands: commands,
		observer: observer,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run forwards store changes to clients until ctx is cancelled, then
// disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer h.store.Unsubscribe(h.sub)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case change, ok := <-h.sub.C:
			if !ok {
				h.closeAll()
				return
			}
			h.relay(change)
		}
	}
}

// Register adds a client to the hub and queues the current snapshot as its
// first message. Changes at or below that snapshot's version are not
// relayed to the client.
func (h *Hub) Register(client *WSClient) {
	h.relayMu.Lock()
	snap := h.store.Read()
	client.since = snap.Version()
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	if data, err := json.Marshal(snapshotMessage(snap)); err == nil {
		client.trySend(data)
	} else {
		h.logger.Error("failed to marshal snapshot", "error", err)
	}
	h.relayMu.Unlock()

	h.reportClients(count)
	h.logger.Debug("websocket client connected", "client_id", client.id, "clients", count, "version", snap.Version())
}

// Unregister removes a client from the hub.
// Only the goroutine that removes the client from the map closes its send
// channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
		h.reportClients(count)
	}
	h.logger.Debug("websocket client disconnected", "client_id", client.id, "clients", count)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// relay turns one store change into a state message for every client.
func (h *Hub) relay(change state.Change) {
	var msg WSMessage
	if change.Full {
		msg = snapshotMessage(change.Snapshot)
	} else {
		entries := change.Snapshot.Select(change.Keys)
		msg = WSMessage{
			Type:      WSTypeState,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Removed:   removedKeys(change.Keys, entries),
			Payload:   entries,
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal relay message", "error", err)
		return
	}

	version := change.Snapshot.Version()

	h.relayMu.Lock()
	defer h.relayMu.Unlock()

	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		if client.since < version {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(data)
	}
	if len(clients) > 0 {
		h.logger.Debug("state relayed", "version", version, "recipients", len(clients), "full", change.Full)
	}
}

func (h *Hub) reportClients(n int) {
	if h.observer != nil {
		h.observer.SetRelayClients(n)
	}
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
	h.reportClients(0)
}

func snapshotMessage(snap *state.Snapshot) WSMessage {
	return WSMessage{
		Type:      WSTypeState,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Full:      true,
		Payload:   snap,
	}
}

func removedKeys(keys []state.Key, present map[string]state.Entry) []string {
	var removed []string
	for _, k := range keys {
		name := k.String()
		if _, ok := present[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// handleWebSocket upgrades the connection, sends the current snapshot and
// starts relaying changes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "client_id", c.id, "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one client message: a ping or a command.
func (c *WSClient) handleMessage(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	if req.Type == WSTypePing {
		c.sendResponse(req.ID, WSTypePong, nil)
		return
	}

	v, err := channel.Decode(data)
	if err != nil {
		c.sendError(req.ID, err.Error())
		return
	}
	if c.hub.commands == nil {
		c.sendError(req.ID, "commands are not available")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsCommandTimeout)
	defer cancel()
	if err := issue(ctx, c.hub.commands, v); err != nil {
		c.sendError(req.ID, err.Error())
		return
	}
	c.sendResponse(req.ID, WSTypeResponse, commandAccepted)
}

// errNotACommand is reported when a client sends a backend-only message.
var errNotACommand = errors.New("message type is not a command")

// issue routes a decoded command to the dispatcher.
func issue(ctx context.Context, commands Commands, v channel.Variant) error {
	switch cmd := v.(type) {
	case channel.SetPoints:
		return commands.SetPoints(ctx, cmd.ID, cmd.State)
	case channel.SetPowerSwitch:
		return commands.SetPowerSwitch(ctx, cmd.ID, cmd.State)
	case channel.SetReverser:
		return commands.SetReverser(ctx, cmd.ID, cmd.State)
	case channel.SetSpeed:
		return commands.SetSpeed(ctx, cmd.ID, cmd.State)
	case channel.ToggleDecoderFunction:
		return commands.ToggleDecoderFunction(ctx, cmd.ID, cmd.State)
	case channel.Refresh:
		return commands.Refresh(ctx)
	default:
		return errNotACommand
	}
}

// trySend attempts to send data to the client's send channel.
// Sends to a closed channel (client disconnected during broadcast) are
// ignored.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Clients must not miss a delta; they resync on reconnect.
		c.hub.logger.Warn("relay client too slow, disconnecting", "client_id", c.id)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// sendResponse sends a response message to the client.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	msg := WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
