package ws

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/RahmatullahZadran/appss/internal/metrics"
)

// ClientConnection wraps a WebSocket connection with metadata
type ClientConnection struct {
	Conn         *websocket.Conn
	UserID       uint
	LastPong     time.Time
	SupportsGzip bool
	PingTicker   *time.Ticker
	CloseChan    chan struct{}

	writeMu sync.Mutex

	subsMu sync.Mutex
	subs   map[string]func()
}

// Hub tracks live websocket connections and the live queries each holds.
type Hub struct {
	clients      map[*ClientConnection]struct{}
	clientsMux   sync.RWMutex
	pingInterval time.Duration
	pongTimeout  time.Duration
	log          zerolog.Logger
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewHub creates a new Hub instance
func NewHub(log zerolog.Logger) *Hub {
	hub := &Hub{
		clients:      make(map[*ClientConnection]struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  90 * time.Second,
		log:          log.With().Str("component", "ws_hub").Logger(),
		stop:         make(chan struct{}),
	}

	go hub.connectionHealthChecker()

	return hub
}

// Close stops the hub's background workers.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Register adds a client connection with health monitoring
func (h *Hub) Register(userID uint, conn *websocket.Conn, supportsGzip bool) *ClientConnection {
	client := &ClientConnection{
		Conn:         conn,
		UserID:       userID,
		LastPong:     time.Now(),
		SupportsGzip: supportsGzip,
		PingTicker:   time.NewTicker(h.pingInterval),
		CloseChan:    make(chan struct{}),
		subs:         make(map[string]func()),
	}

	conn.SetPongHandler(func(appData string) error {
		h.clientsMux.Lock()
		client.LastPong = time.Now()
		h.clientsMux.Unlock()
		return conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})

	// Set read deadline for ping/pong
	_ = conn.SetReadDeadline(time.Now().Add(h.pongTimeout))

	h.clientsMux.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.clientsMux.Unlock()
	metrics.WSConnections.Inc()

	go h.pingRoutine(client)

	h.log.Info().Uint("user_id", userID).Int("total", count).Bool("gzip", supportsGzip).Msg("client connected")
	return client
}

// Unregister removes a client connection and ends its live queries.
func (h *Hub) Unregister(client *ClientConnection) {
	h.clientsMux.Lock()
	_, exists := h.clients[client]
	if exists {
		delete(h.clients, client)
		client.PingTicker.Stop()
		close(client.CloseChan)
	}
	count := len(h.clients)
	h.clientsMux.Unlock()
	if !exists {
		return
	}
	metrics.WSConnections.Dec()
	client.UnsubscribeAll()
	h.log.Info().Uint("user_id", client.UserID).Int("total", count).Msg("client disconnected")
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.clientsMux.RLock()
	defer h.clientsMux.RUnlock()
	return len(h.clients)
}

// Send writes data to one client as a JSON frame, gzipped into a binary
// frame when the client supports it and it pays off.
func (h *Hub) Send(client *ClientConnection, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	finalData := jsonData
	frameType := websocket.TextMessage
	if client.SupportsGzip && len(jsonData) > 512 {
		compressed, err := CompressMessage(jsonData)
		if err == nil && len(compressed) < len(jsonData) {
			finalData = compressed
			frameType = websocket.BinaryMessage
		}
	}

	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	return client.Conn.WriteMessage(frameType, finalData)
}

// Track records cancel as the live query of client on conversationID,
// ending any previous one for the same conversation.
func (c *ClientConnection) Track(conversationID string, cancel func()) {
	c.subsMu.Lock()
	prev := c.subs[conversationID]
	c.subs[conversationID] = cancel
	c.subsMu.Unlock()
	if prev != nil {
		prev()
	}
}

// Untrack ends the live query on conversationID. It reports whether one was
// running.
func (c *ClientConnection) Untrack(conversationID string) bool {
	c.subsMu.Lock()
	cancel, ok := c.subs[conversationID]
	delete(c.subs, conversationID)
	c.subsMu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// UnsubscribeAll ends every live query of the connection.
func (c *ClientConnection) UnsubscribeAll() {
	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[string]func())
	c.subsMu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
}

// Subscriptions returns the number of live queries held by the connection.
func (c *ClientConnection) Subscriptions() int {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	return len(c.subs)
}

// pingRoutine sends periodic ping messages to keep connection alive
func (h *Hub) pingRoutine(client *ClientConnection) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Uint("user_id", client.UserID).Interface("panic", r).Msg("ping routine recovered")
		}
	}()

	for {
		select {
		case <-client.CloseChan:
			return
		case <-client.PingTicker.C:
			client.writeMu.Lock()
			err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			client.writeMu.Unlock()
			if err != nil {
				h.log.Debug().Err(err).Uint("user_id", client.UserID).Msg("ping failed")
				h.Unregister(client)
				return
			}
		}
	}
}

// connectionHealthChecker monitors connection health and removes dead connections
func (h *Hub) connectionHealthChecker() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		h.clientsMux.RLock()
		var dead []*ClientConnection
		now := time.Now()
		for client := range h.clients {
			if now.Sub(client.LastPong) > h.pongTimeout {
				dead = append(dead, client)
			}
		}
		h.clientsMux.RUnlock()

		for _, client := range dead {
			h.log.Info().Uint("user_id", client.UserID).Msg("removing dead connection (no pong received)")
			_ = client.Conn.Close()
			h.Unregister(client)
		}
	}
}

// CompressMessage gzips data.
func CompressMessage(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzipWriter := gzip.NewWriter(&buf)

	if _, err := gzipWriter.Write(data); err != nil {
		return nil, err
	}

	if err := gzipWriter.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DecompressMessage reverses CompressMessage.
func DecompressMessage(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
