package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"litecast/internal/engine"
	"litecast/internal/models"
	"litecast/internal/observability/metrics"
)

// HubConfig configures a telemetry Hub.
type HubConfig struct {
	Queue   Queue
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// HeartbeatInterval controls how often the hub sends WebSocket ping
	// frames to connected clients. A zero value disables heartbeats.
	HeartbeatInterval time.Duration
}

// Hub routes broadcast telemetry to WebSocket clients. Regular users receive
// events for their own sessions; administrators receive everything. The hub
// satisfies engine.Sink, so it plugs straight into the broadcast engine.
type Hub struct {
	queue   Queue
	logger  *slog.Logger
	metrics *metrics.Recorder
	origin  string

	heartbeatInterval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub initialises a hub using the provided configuration.
func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Hub{
		queue:             cfg.Queue,
		logger:            logger,
		metrics:           recorder,
		origin:            randomOrigin(),
		heartbeatInterval: cfg.HeartbeatInterval,
		clients:           make(map[*client]struct{}),
	}
}

var _ engine.Sink = (*Hub)(nil)

// Log delivers a lifecycle event to connected clients and relays it to the
// queue for other replicas.
func (h *Hub) Log(event engine.LogEvent) {
	evt := Event{Type: EventTypeLog, Origin: h.origin, Log: &event, OccurredAt: time.Now().UTC()}
	h.deliver(evt)
	go h.publish(evt)
	h.metrics.ObserveTelemetryEvent(string(EventTypeLog))
}

// Stats delivers an encoder progress event to connected clients and relays it
// to the queue for other replicas.
func (h *Hub) Stats(event engine.StatsEvent) {
	evt := Event{Type: EventTypeStats, Origin: h.origin, Stats: &event, OccurredAt: time.Now().UTC()}
	h.deliver(evt)
	go h.publish(evt)
	h.metrics.ObserveTelemetryEvent(string(EventTypeStats))
}

// Run drains the queue and rebroadcasts events originating on other replicas
// to this hub's clients. It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if h.queue == nil {
		<-ctx.Done()
		return
	}
	sub := h.queue.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if event.Origin == h.origin {
				continue
			}
			h.deliver(event)
		}
	}
}

// HandleConnection upgrades the HTTP request to a WebSocket connection for
// the authenticated user. Callers must have authenticated the user already.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, user models.User) {
	conn, err := Accept(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-r.Context().Done()
		cancel()
	}()

	c := &client{
		hub:    h,
		conn:   conn,
		user:   user,
		send:   make(chan []byte, 16),
		cancel: cancel,
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()
	if h.heartbeatInterval > 0 {
		go c.heartbeatLoop(ctx, h.heartbeatInterval)
	}
	go c.readLoop(ctx)
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(event Event) {
	userID := event.UserID()
	if userID == "" {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal telemetry event", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.user.IsAdmin() && c.user.ID != userID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Drop instead of blocking a session goroutine on a slow
			// client.
		}
	}
}

func (h *Hub) publish(event Event) {
	if h.queue == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.queue.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish telemetry event", "error", err)
	}
}

func randomOrigin() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("hub-%d", time.Now().UnixNano())
	}
	return "hub-" + hex.EncodeToString(buf)
}

type client struct {
	hub    *Hub
	conn   *Conn
	user   models.User
	send   chan []byte
	closed sync.Once
	cancel context.CancelFunc
}

func (c *client) writeLoop() {
	defer c.close()
	for payload := range c.send {
		if err := c.conn.WriteText(payload); err != nil {
			return
		}
	}
}

func (c *client) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.Ping(nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// readLoop exists to observe the close handshake and pong frames; telemetry
// clients are not expected to send application messages.
func (c *client) readLoop(ctx context.Context) {
	defer c.close()
	for {
		if _, err := c.conn.ReadMessage(ctx); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.closed.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.hub.mu.Lock()
		delete(c.hub.clients, c)
		c.hub.mu.Unlock()
		close(c.send)
		_ = c.conn.Close()
	})
}
