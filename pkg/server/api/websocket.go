package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/feedforge/pricefeed/pkg/engine"
	"github.com/feedforge/pricefeed/pkg/logging"
)

// WebSocketServer streams aggregate updates to connected clients after each
// committed submission.
type WebSocketServer struct {
	addr     string
	engine   *engine.Engine
	logger   *logging.Logger
	upgrader websocket.Upgrader

	// Client management
	mu      sync.RWMutex
	clients map[*WebSocketClient]bool

	// Submission events from the engine
	submissions chan engine.Submission

	// Server control
	ctx    context.Context
	cancel context.CancelFunc
}

// WebSocketClient represents a connected WebSocket client.
type WebSocketClient struct {
	conn            *websocket.Conn
	send            chan []byte
	server          *WebSocketServer
	subscribedAll   bool
	subscribedAsset map[string]bool
	mu              sync.RWMutex
}

// WebSocketMessage represents a client message.
type WebSocketMessage struct {
	Type   string   `json:"type"`   // "subscribe", "unsubscribe", "ping"
	Assets []string `json:"assets"` // List of assets to subscribe to
}

// AggregateUpdateMessage is sent to clients after a submission commits.
type AggregateUpdateMessage struct {
	Type        string `json:"type"` // "aggregate_update"
	Asset       string `json:"asset"`
	Price       string `json:"price,omitempty"`
	Height      uint64 `json:"height"`
	SourceCount int    `json:"source_count"`
	Source      string `json:"source"` // Source whose submission triggered the update
}

// NewWebSocketServer creates a new WebSocket server and subscribes it to the
// engine's submission events.
func NewWebSocketServer(addr string, eng *engine.Engine, logger *logging.Logger) *WebSocketServer {
	ctx, cancel := context.WithCancel(context.Background())

	s := &WebSocketServer{
		addr:   addr,
		engine: eng,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients:     make(map[*WebSocketClient]bool),
		submissions: make(chan engine.Submission, 100),
		ctx:         ctx,
		cancel:      cancel,
	}
	eng.Subscribe(s.submissions)
	return s
}

// Start starts the WebSocket server.
func (s *WebSocketServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start broadcast goroutine
	go s.broadcastUpdates()

	s.logger.Info("Starting WebSocket server", "addr", s.addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", "error", err)
		}
	}()

	// Wait for context cancellation
	<-s.ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Stop stops the WebSocket server.
func (s *WebSocketServer) Stop() {
	s.cancel()
}

// handleWebSocket handles new WebSocket connections.
func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &WebSocketClient{
		conn:            conn,
		send:            make(chan []byte, 256),
		server:          s,
		subscribedAll:   true, // Subscribe to all by default
		subscribedAsset: make(map[string]bool),
	}

	s.registerClient(client)

	go client.writePump()
	go client.readPump()

	s.logger.Info("New WebSocket client connected", "remote", conn.RemoteAddr())
}

// registerClient adds a client to the server.
func (s *WebSocketServer) registerClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
}

// unregisterClient removes a client from the server.
func (s *WebSocketServer) unregisterClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

// broadcastUpdates relays engine submission events to all clients.
func (s *WebSocketServer) broadcastUpdates() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case sub := <-s.submissions:
			s.broadcast(sub)
		}
	}
}

// broadcast sends the asset's latest aggregate to all subscribed clients.
func (s *WebSocketServer) broadcast(sub engine.Submission) {
	message := AggregateUpdateMessage{
		Type:   "aggregate_update",
		Asset:  sub.Asset,
		Height: sub.Height,
		Source: string(sub.Source),
	}
	if agg, ok := s.engine.GetPriceData(sub.Asset); ok {
		message.Price = agg.Price.String()
		message.SourceCount = agg.SourceCount
	}

	data, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("Failed to marshal aggregate update", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		if client.shouldReceive(sub.Asset) {
			select {
			case client.send <- data:
			default:
				s.logger.Warn("Client send buffer full, skipping update")
			}
		}
	}
}

// writePump sends messages to the WebSocket connection.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Channel closed
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (c *WebSocketClient) readPump() {
	defer func() {
		c.server.unregisterClient(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes client messages.
func (c *WebSocketClient) handleMessage(data []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.server.logger.Warn("Invalid client message", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Assets)
	case "unsubscribe":
		c.unsubscribe(msg.Assets)
	case "ping":
		c.sendPong()
	default:
		c.server.logger.Warn("Unknown message type", "type", msg.Type)
	}
}

// subscribe subscribes to specific assets.
func (c *WebSocketClient) subscribe(assets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(assets) == 0 || (len(assets) == 1 && assets[0] == "*") {
		c.subscribedAll = true
		c.subscribedAsset = make(map[string]bool)
	} else {
		c.subscribedAll = false
		for _, asset := range assets {
			c.subscribedAsset[asset] = true
		}
	}

	c.server.logger.Debug("Client subscribed", "assets", assets)
}

// unsubscribe unsubscribes from specific assets.
func (c *WebSocketClient) unsubscribe(assets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(assets) == 0 || (len(assets) == 1 && assets[0] == "*") {
		c.subscribedAll = false
		c.subscribedAsset = make(map[string]bool)
	} else {
		for _, asset := range assets {
			delete(c.subscribedAsset, asset)
		}
	}

	c.server.logger.Debug("Client unsubscribed", "assets", assets)
}

// shouldReceive checks if the client subscribed to this asset.
func (c *WebSocketClient) shouldReceive(asset string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subscribedAll {
		return true
	}
	return c.subscribedAsset[asset]
}

// sendPong sends a pong response.
func (c *WebSocketClient) sendPong() {
	pong := map[string]string{"type": "pong"}
	data, _ := json.Marshal(pong)
	select {
	case c.send <- data:
	default:
	}
}
