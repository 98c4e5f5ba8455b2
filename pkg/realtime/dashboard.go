package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hornet-soc/hornet/pkg/bus"
	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/metrics"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// Hub fans realtime bus events out to dashboard WebSocket connections.
// Every connection belongs to exactly one tenant and only receives that
// tenant's events.
type Hub struct {
	cfg    *config.RealtimeConfig
	bus    *bus.Client
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*dashConn]struct{}
}

type dashConn struct {
	ws       *websocket.Conn
	tenantID string

	mu     sync.Mutex
	topics map[string]bool // empty set subscribes to everything
}

func (c *dashConn) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.topics) == 0 || c.topics[eventType]
}

// dashboardMessage is the client-to-server protocol envelope.
type dashboardMessage struct {
	Type     string   `json:"type"`
	TenantID string   `json:"tenant_id,omitempty"`
	Topics   []string `json:"topics,omitempty"`
}

// NewHub creates a dashboard Hub.
func NewHub(cfg *config.RealtimeConfig, b *bus.Client) *Hub {
	return &Hub{
		cfg:    cfg,
		bus:    b,
		logger: slog.Default().With("component", "realtime.dashboard"),
		conns:  map[*dashConn]struct{}{},
	}
}

// Run forwards bus events to connections until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	events, stop := h.bus.SubscribeRealtime(ctx)
	defer stop()
	h.logger.Info("Dashboard hub running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.broadcast(ctx, ev)
		}
	}
}

func (h *Hub) broadcast(ctx context.Context, ev bus.RealtimeEvent) {
	h.mu.Lock()
	conns := make([]*dashConn, 0, len(h.conns))
	for c := range h.conns {
		if c.tenantID == ev.TenantID && c.wants(ev.Type) {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
		err := wsjson.Write(writeCtx, c.ws, ev)
		cancel()
		if err != nil {
			// Dead socket: drop it so one stalled dashboard cannot pile up.
			h.drop(c)
			_ = c.ws.Close(websocket.StatusAbnormalClosure, "write failed")
		}
	}
}

func (h *Hub) add(c *dashConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	metrics.WebsocketConnections.WithLabelValues("dashboard").Inc()
}

func (h *Hub) drop(c *dashConn) {
	h.mu.Lock()
	_, present := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if present {
		metrics.WebsocketConnections.WithLabelValues("dashboard").Dec()
	}
}

// Serve upgrades the request and pumps the connection until it closes.
// The identity must already be authenticated by the caller.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, id *tenant.Identity) error {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	c := &dashConn{ws: ws, tenantID: id.TenantID, topics: map[string]bool{}}
	h.add(c)
	defer h.drop(c)
	defer ws.Close(websocket.StatusNormalClosure, "")

	h.logger.Info("Dashboard connected", "tenant_id", id.TenantID)
	ctx := r.Context()
	for {
		var msg dashboardMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			h.logger.Debug("Dashboard disconnected", "tenant_id", id.TenantID, "error", err)
			return nil
		}
		if msg.TenantID != "" && msg.TenantID != id.TenantID {
			h.logger.Warn("Dashboard tenant mismatch, closing",
				"authenticated", id.TenantID, "claimed", msg.TenantID)
			return ws.Close(websocket.StatusPolicyViolation, "tenant mismatch")
		}

		switch msg.Type {
		case "subscribe":
			c.mu.Lock()
			c.topics = map[string]bool{}
			for _, topic := range msg.Topics {
				c.topics[topic] = true
			}
			c.mu.Unlock()
			if err := h.write(ctx, c, map[string]any{
				"type":   "subscribed",
				"topics": msg.Topics,
			}); err != nil {
				return nil
			}
		case "ping":
			if err := h.write(ctx, c, map[string]any{"type": "pong"}); err != nil {
				return nil
			}
		default:
			if err := h.write(ctx, c, map[string]any{
				"type":  "error",
				"error": "unknown message type",
			}); err != nil {
				return nil
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, c *dashConn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, c.ws, v)
}
