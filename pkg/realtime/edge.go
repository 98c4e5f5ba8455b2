package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/hornet-soc/hornet/pkg/bus"
	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/metrics"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

// ErrAgentOffline indicates no live connection for the target agent. The
// action stays PENDING and can be expired by the liveness job.
var ErrAgentOffline = errors.New("edge agent is not connected")

// EdgeStore is the persistence surface the edge hub needs.
type EdgeStore interface {
	RegisterAgent(ctx context.Context, agent *models.EdgeAgent) error
	Heartbeat(ctx context.Context, agentID string) error
	MarkDisconnected(ctx context.Context, agentID string) error
	CreateAction(ctx context.Context, a *models.EdgeAction) error
	MarkSent(ctx context.Context, actionID string) error
	ResolveAction(ctx context.Context, actionID, nonce string, success bool, result map[string]any) (*models.EdgeAction, error)
}

// edgeMessage is the envelope for both directions of the edge protocol.
type edgeMessage struct {
	Type string `json:"type"`

	// register
	AgentID      string   `json:"agent_id,omitempty"`
	Hostname     string   `json:"hostname,omitempty"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// log_batch
	Events []*models.Event `json:"events,omitempty"`

	// action_result
	ActionID string         `json:"action_id,omitempty"`
	Nonce    string         `json:"nonce,omitempty"`
	Success  bool           `json:"success,omitempty"`
	Result   map[string]any `json:"result,omitempty"`

	// server to client
	Action     *models.EdgeAction `json:"action,omitempty"`
	Accepted   int                `json:"accepted,omitempty"`
	Rejected   int                `json:"rejected,omitempty"`
	Error      string             `json:"error,omitempty"`
	ServerTime string             `json:"server_time,omitempty"`
}

// EdgeHub owns the edge agent WebSocket channel: registration, heartbeat,
// log forwarding into the event stream, and signed action dispatch.
type EdgeHub struct {
	cfg    *config.RealtimeConfig
	bus    *bus.Client
	store  EdgeStore
	signer *Signer
	logger *slog.Logger

	mu     sync.Mutex
	agents map[string]*edgeConn
}

type edgeConn struct {
	ws       *websocket.Conn
	agentID  string
	tenantID string
	writeMu  sync.Mutex
}

// NewEdgeHub creates an EdgeHub.
func NewEdgeHub(cfg *config.RealtimeConfig, b *bus.Client, store EdgeStore, signer *Signer) *EdgeHub {
	return &EdgeHub{
		cfg:    cfg,
		bus:    b,
		store:  store,
		signer: signer,
		logger: slog.Default().With("component", "realtime.edge"),
		agents: map[string]*edgeConn{},
	}
}

// Serve upgrades the request and runs the edge protocol until the agent
// disconnects. The first message must be a register.
func (h *EdgeHub) Serve(w http.ResponseWriter, r *http.Request, id *tenant.Identity) error {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		return err
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	ctx := tenant.NewContext(r.Context(), id)

	var reg edgeMessage
	if err := wsjson.Read(ctx, ws, &reg); err != nil {
		return nil
	}
	if reg.Type != "register" || reg.AgentID == "" {
		return ws.Close(websocket.StatusPolicyViolation, "first message must register the agent")
	}
	if err := h.store.RegisterAgent(ctx, &models.EdgeAgent{
		ID:           reg.AgentID,
		Hostname:     reg.Hostname,
		Version:      reg.Version,
		Capabilities: reg.Capabilities,
	}); err != nil {
		h.logger.Error("Edge agent registration failed",
			"agent_id", reg.AgentID, "tenant_id", id.TenantID, "error", err)
		return ws.Close(websocket.StatusInternalError, "registration failed")
	}

	c := &edgeConn{ws: ws, agentID: reg.AgentID, tenantID: id.TenantID}
	h.attach(c)
	defer h.detach(context.WithoutCancel(ctx), c)

	h.logger.Info("Edge agent connected",
		"agent_id", c.agentID, "tenant_id", c.tenantID, "hostname", reg.Hostname)
	if err := h.send(ctx, c, &edgeMessage{Type: "registered", AgentID: c.agentID}); err != nil {
		return nil
	}

	for {
		var msg edgeMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			h.logger.Info("Edge agent disconnected", "agent_id", c.agentID, "error", err)
			return nil
		}
		if err := h.handle(ctx, c, &msg); err != nil {
			return nil
		}
	}
}

func (h *EdgeHub) handle(ctx context.Context, c *edgeConn, msg *edgeMessage) error {
	switch msg.Type {
	case "heartbeat":
		if err := h.store.Heartbeat(ctx, c.agentID); err != nil {
			h.logger.Warn("Edge heartbeat persist failed", "agent_id", c.agentID, "error", err)
		}
		// Agents use the ack timestamp to detect local clock drift.
		return h.send(ctx, c, &edgeMessage{
			Type:       "heartbeat_ack",
			ServerTime: time.Now().UTC().Format(time.RFC3339),
		})

	case "log_batch":
		accepted, rejected := h.ingestBatch(ctx, c, msg.Events)
		return h.send(ctx, c, &edgeMessage{
			Type: "batch_ack", Accepted: accepted, Rejected: rejected,
		})

	case "action_result":
		resolved, err := h.store.ResolveAction(ctx, msg.ActionID, msg.Nonce, msg.Success, msg.Result)
		if err != nil {
			h.logger.Warn("Edge action result rejected",
				"agent_id", c.agentID, "action_id", msg.ActionID, "error", err)
			return h.send(ctx, c, &edgeMessage{
				Type: "action_ack", ActionID: msg.ActionID, Error: err.Error(),
			})
		}
		h.logger.Info("Edge action resolved",
			"action_id", resolved.ActionID, "status", resolved.Status)
		if err := h.bus.PublishRealtime(ctx, "edge_action_resolved", c.tenantID, resolved); err != nil {
			h.logger.Warn("Realtime publish failed", "error", err)
		}
		return h.send(ctx, c, &edgeMessage{Type: "action_ack", ActionID: msg.ActionID})

	default:
		return h.send(ctx, c, &edgeMessage{Type: "error", Error: "unknown message type"})
	}
}

// ingestBatch forwards edge-shipped events into the event stream. The
// tenant id is forced to the authenticated one regardless of what the
// agent put on the wire.
func (h *EdgeHub) ingestBatch(ctx context.Context, c *edgeConn, events []*models.Event) (accepted, rejected int) {
	for _, ev := range events {
		if ev == nil || ev.EventType == "" {
			rejected++
			continue
		}
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now().UTC()
		}
		ev.TenantID = c.tenantID
		if ev.Source == "" {
			ev.Source = "edge:" + c.agentID
		}
		values, err := bus.EncodeEvent(ev)
		if err != nil {
			rejected++
			continue
		}
		if _, err := h.bus.PublishEvent(ctx, values); err != nil {
			h.logger.Error("Edge event publish failed", "agent_id", c.agentID, "error", err)
			rejected++
			continue
		}
		accepted++
	}
	return accepted, rejected
}

// Dispatch signs and sends an action to a connected agent. The action is
// persisted before the send so a crash between the two leaves a PENDING
// row for the expiry sweep.
func (h *EdgeHub) Dispatch(ctx context.Context, agentID string, a *models.EdgeAction) error {
	if a.ActionID == "" {
		a.ActionID = uuid.New().String()
	}
	a.Nonce = uuid.New().String()
	a.TenantID = tenant.IDFromContext(ctx)
	if a.ExpiresAt.IsZero() {
		a.ExpiresAt = time.Now().UTC().Add(h.cfg.ActionTTL)
	}
	sig, err := h.signer.Sign(a)
	if err != nil {
		return err
	}
	a.Signature = sig

	if err := h.store.CreateAction(ctx, a); err != nil {
		return fmt.Errorf("persist edge action: %w", err)
	}

	h.mu.Lock()
	c, online := h.agents[agentID]
	h.mu.Unlock()
	if !online || c.tenantID != a.TenantID {
		return ErrAgentOffline
	}

	if err := h.send(ctx, c, &edgeMessage{Type: "action", Action: a}); err != nil {
		return fmt.Errorf("send edge action: %w", err)
	}
	if err := h.store.MarkSent(ctx, a.ActionID); err != nil {
		h.logger.Warn("Could not mark edge action sent",
			"action_id", a.ActionID, "error", err)
	}
	h.logger.Info("Edge action dispatched",
		"action_id", a.ActionID, "agent_id", agentID, "action_type", a.ActionType)
	return nil
}

func (h *EdgeHub) attach(c *edgeConn) {
	h.mu.Lock()
	if prev, ok := h.agents[c.agentID]; ok {
		_ = prev.ws.Close(websocket.StatusPolicyViolation, "superseded by a new connection")
	}
	h.agents[c.agentID] = c
	h.mu.Unlock()
	metrics.WebsocketConnections.WithLabelValues("edge").Inc()
}

func (h *EdgeHub) detach(ctx context.Context, c *edgeConn) {
	h.mu.Lock()
	if h.agents[c.agentID] == c {
		delete(h.agents, c.agentID)
	}
	h.mu.Unlock()
	metrics.WebsocketConnections.WithLabelValues("edge").Dec()
	if err := h.store.MarkDisconnected(ctx, c.agentID); err != nil {
		h.logger.Warn("Could not mark edge agent disconnected",
			"agent_id", c.agentID, "error", err)
	}
}

func (h *EdgeHub) send(ctx context.Context, c *edgeConn, msg *edgeMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, c.ws, msg)
}
