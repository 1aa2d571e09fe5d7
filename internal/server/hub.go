// Package server coordinates client registration, channel membership, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/logger"
	"github.com/Tyrowin/gochat/internal/store"
)

// Hub owns every live connection. Registration and unregistration are
// serialized through Run; channel membership lives in the Registry and
// inbound frames are processed by the Pipeline on each client's read pump.
type Hub struct {
	cfg         Config
	log         *logger.Logger
	store       store.Store
	registry    *Registry
	broadcaster *Broadcaster
	pipeline    *Pipeline
	upgrader    websocket.Upgrader

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Clients  int            `json:"clients"`
	Channels map[string]int `json:"channels"`
}

// NewHub creates a hub that persists through st. The returned Hub is ready to
// manage WebSocket connections once Run is started.
func NewHub(cfg Config, st store.Store, log *logger.Logger) *Hub {
	cfg = sanitizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	log = log.With("component", "hub")

	h := &Hub{
		cfg:        cfg,
		log:        log,
		store:      st,
		registry:   NewRegistry(),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.broadcaster = NewBroadcaster(h.registry, cfg.OverflowPolicy, h.evict, log)
	h.pipeline = NewPipeline(st, h.registry, h.broadcaster, cfg.HistoryLimit, log)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newOriginPolicy(cfg.AllowedOrigins, log).check,
	}
	return h
}

// Registry exposes channel membership.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Pipeline exposes the inbound event pipeline.
func (h *Hub) Pipeline() *Pipeline {
	return h.pipeline
}

// Config returns the sanitized configuration the hub runs with.
func (h *Hub) Config() Config {
	return h.cfg
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine and
// returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

// Register hands a new connection to the hub. It reports false when the hub
// is no longer running.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a connection from the hub and its channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.registry.Join(client, chat.DefaultChannel)
	client.log.Info("Client registered", "clients", clientCount)

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// handleUnregister always clears the client's membership: a pipeline call
// still in flight when the client was evicted may have joined it again.
func (h *Hub) handleUnregister(client *Client) {
	h.registry.Leave(client)

	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	client.close()
	client.log.Info("Client unregistered", "clients", clientCount)
}

// evict disconnects a peer that fell behind. It runs on the broadcasting
// goroutine, so the unregister is handed to Run asynchronously.
func (h *Hub) evict(p Peer) {
	client, ok := p.(*Client)
	if !ok {
		h.registry.Leave(p)
		return
	}
	client.log.Warn("Disconnecting slow client")
	go h.Unregister(client)
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Stats returns connection and per-channel member counts.
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:  h.ClientCount(),
		Channels: h.registry.Counts(),
	}
}

// ServeWS upgrades the request to a WebSocket and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, h, r.RemoteAddr)
	if !h.Register(client) {
		_ = conn.Close()
	}
}

// shutdownClients closes every client's queue and connection so both pumps exit.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mutex.Unlock()

	for _, client := range clients {
		h.registry.Leave(client)
		client.close()
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				client.log.Warn("Error closing client connection", "error", err)
			}
		}
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.log.Warn("Hub shutdown timeout reached before the event loop stopped")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-timer.C:
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

func newClientID() string {
	return uuid.NewString()
}
