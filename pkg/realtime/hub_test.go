package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hornet-soc/hornet/pkg/bus"
	"github.com/hornet-soc/hornet/pkg/config"
	"github.com/hornet-soc/hornet/pkg/models"
	"github.com/hornet-soc/hornet/pkg/tenant"
)

const (
	tenantA = "11111111-1111-1111-1111-111111111111"
	tenantB = "22222222-2222-2222-2222-222222222222"
)

func testBus(t *testing.T) *bus.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return bus.NewClientFromRedis(rdb)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func dialDashboard(t *testing.T, h *Hub, id *tenant.Identity) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.Serve(w, r, id)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, wsURL(srv.URL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.conns) > 0
	}, time.Second, 5*time.Millisecond, "connection should register with the hub")
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) bus.RealtimeEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ev bus.RealtimeEvent
	require.NoError(t, wsjson.Read(ctx, ws, &ev))
	return ev
}

func TestDashboardReceivesOwnTenantEventsOnly(t *testing.T) {
	b := testBus(t)
	h := NewHub(config.DefaultRealtimeConfig(), b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	ws := dialDashboard(t, h, &tenant.Identity{TenantID: tenantA})

	// Subscription fan-out needs a moment to settle in miniredis.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.PublishRealtime(ctx, "incident_created", tenantB, map[string]any{"incident_id": "other"}))
	require.NoError(t, b.PublishRealtime(ctx, "incident_created", tenantA, map[string]any{"incident_id": "mine"}))

	ev := readEvent(t, ws)
	assert.Equal(t, "incident_created", ev.Type)
	assert.Equal(t, tenantA, ev.TenantID)
	assert.Contains(t, string(ev.Payload), "mine")
}

func TestDashboardTopicSubscriptionFilters(t *testing.T) {
	b := testBus(t)
	h := NewHub(config.DefaultRealtimeConfig(), b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	ws := dialDashboard(t, h, &tenant.Identity{TenantID: tenantA})

	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{
		"type":   "subscribe",
		"topics": []string{"incident_closed"},
	}))
	var ack map[string]any
	require.NoError(t, wsjson.Read(ctx, ws, &ack))
	assert.Equal(t, "subscribed", ack["type"])

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.PublishRealtime(ctx, "finding_added", tenantA, map[string]any{"n": 1}))
	require.NoError(t, b.PublishRealtime(ctx, "incident_closed", tenantA, map[string]any{"outcome": "resolved"}))

	ev := readEvent(t, ws)
	assert.Equal(t, "incident_closed", ev.Type, "unsubscribed topics are filtered out")
}

func TestDashboardClosesOnTenantMismatch(t *testing.T) {
	b := testBus(t)
	h := NewHub(config.DefaultRealtimeConfig(), b)
	ws := dialDashboard(t, h, &tenant.Identity{TenantID: tenantA})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{
		"type":      "subscribe",
		"tenant_id": tenantB,
	}))

	var msg map[string]any
	err := wsjson.Read(ctx, ws, &msg)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

type memEdgeStore struct {
	mu           sync.Mutex
	registered   []*models.EdgeAgent
	heartbeats   int
	disconnected []string
	actions      map[string]*models.EdgeAction
	sent         []string
}

func newMemEdgeStore() *memEdgeStore {
	return &memEdgeStore{actions: map[string]*models.EdgeAction{}}
}

func (m *memEdgeStore) RegisterAgent(ctx context.Context, agent *models.EdgeAgent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent.TenantID = tenant.IDFromContext(ctx)
	m.registered = append(m.registered, agent)
	return nil
}

func (m *memEdgeStore) Heartbeat(ctx context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats++
	return nil
}

func (m *memEdgeStore) MarkDisconnected(ctx context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = append(m.disconnected, agentID)
	return nil
}

func (m *memEdgeStore) CreateAction(ctx context.Context, a *models.EdgeAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Status = models.EdgeActionPending
	m.actions[a.ActionID] = a
	return nil
}

func (m *memEdgeStore) MarkSent(ctx context.Context, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, actionID)
	m.actions[actionID].Status = models.EdgeActionSent
	return nil
}

func (m *memEdgeStore) ResolveAction(ctx context.Context, actionID, nonce string, success bool, result map[string]any) (*models.EdgeAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[actionID]
	if !ok {
		return nil, context.Canceled
	}
	if a.Nonce != nonce {
		return nil, assert.AnError
	}
	a.Status = models.EdgeActionCompleted
	if !success {
		a.Status = models.EdgeActionFailed
	}
	a.Result = result
	return a, nil
}

func dialEdge(t *testing.T, h *EdgeHub, id *tenant.Identity) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.Serve(w, r, id)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, wsURL(srv.URL), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readEdge(t *testing.T, ws *websocket.Conn) edgeMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var msg edgeMessage
	require.NoError(t, wsjson.Read(ctx, ws, &msg))
	return msg
}

func TestEdgeRegisterHeartbeatAndLogBatch(t *testing.T) {
	b := testBus(t)
	store := newMemEdgeStore()
	h := NewEdgeHub(config.DefaultRealtimeConfig(), b, store, NewSigner("s"))
	ws := dialEdge(t, h, &tenant.Identity{TenantID: tenantA})

	ctx := context.Background()
	require.NoError(t, wsjson.Write(ctx, ws, edgeMessage{
		Type: "register", AgentID: "agent-1", Hostname: "edge-host", Version: "1.2.0",
	}))
	assert.Equal(t, "registered", readEdge(t, ws).Type)

	require.NoError(t, wsjson.Write(ctx, ws, edgeMessage{Type: "heartbeat"}))
	hb := readEdge(t, ws)
	assert.Equal(t, "heartbeat_ack", hb.Type)
	if assert.NotEmpty(t, hb.ServerTime, "ack carries the server clock") {
		_, err := time.Parse(time.RFC3339, hb.ServerTime)
		assert.NoError(t, err)
	}

	require.NoError(t, wsjson.Write(ctx, ws, edgeMessage{Type: "log_batch", Events: []*models.Event{
		{EventType: "auth.failed_login", TenantID: "spoofed-tenant"},
		{}, // no event type
	}}))
	ack := readEdge(t, ws)
	assert.Equal(t, "batch_ack", ack.Type)
	assert.Equal(t, 1, ack.Accepted)
	assert.Equal(t, 1, ack.Rejected)

	// The forwarded event carries the authenticated tenant, not the
	// agent-claimed one.
	msgs, err := b.Consume(ctx, bus.GroupDispatcher, "test", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	ev, err := bus.DecodeEvent(msgs[0].Values)
	require.NoError(t, err)
	assert.Equal(t, tenantA, ev.TenantID)
	assert.Equal(t, "edge:agent-1", ev.Source)
	assert.NotEmpty(t, ev.ID)
}

func TestEdgeDispatchDeliversSignedAction(t *testing.T) {
	b := testBus(t)
	store := newMemEdgeStore()
	signer := NewSigner("edge-secret")
	h := NewEdgeHub(config.DefaultRealtimeConfig(), b, store, signer)
	ws := dialEdge(t, h, &tenant.Identity{TenantID: tenantA})

	ctx := tenant.NewContext(context.Background(), &tenant.Identity{TenantID: tenantA})
	require.NoError(t, wsjson.Write(ctx, ws, edgeMessage{
		Type: "register", AgentID: "agent-1", Hostname: "edge-host",
	}))
	readEdge(t, ws)

	action := &models.EdgeAction{
		IncidentID: "inc-1",
		ActionType: "isolate_host",
		Target:     "web-01",
	}
	require.NoError(t, h.Dispatch(ctx, "agent-1", action))

	got := readEdge(t, ws)
	require.Equal(t, "action", got.Type)
	require.NotNil(t, got.Action)
	assert.True(t, signer.Verify(got.Action), "delivered action must verify against the shared secret")
	assert.NotEmpty(t, got.Action.Nonce)
	assert.False(t, got.Action.ExpiresAt.IsZero())

	store.mu.Lock()
	sent := append([]string(nil), store.sent...)
	store.mu.Unlock()
	assert.Equal(t, []string{action.ActionID}, sent)

	// The agent reports the result back with the issued nonce.
	require.NoError(t, wsjson.Write(ctx, ws, edgeMessage{
		Type:     "action_result",
		ActionID: action.ActionID,
		Nonce:    got.Action.Nonce,
		Success:  true,
		Result:   map[string]any{"isolated": true},
	}))
	ack := readEdge(t, ws)
	assert.Equal(t, "action_ack", ack.Type)
	assert.Empty(t, ack.Error)

	store.mu.Lock()
	assert.Equal(t, models.EdgeActionCompleted, store.actions[action.ActionID].Status)
	store.mu.Unlock()
}

func TestEdgeDispatchToOfflineAgentKeepsActionPending(t *testing.T) {
	b := testBus(t)
	store := newMemEdgeStore()
	h := NewEdgeHub(config.DefaultRealtimeConfig(), b, store, NewSigner("s"))

	ctx := tenant.NewContext(context.Background(), &tenant.Identity{TenantID: tenantA})
	action := &models.EdgeAction{IncidentID: "inc-1", ActionType: "block_ip"}
	err := h.Dispatch(ctx, "ghost-agent", action)
	require.ErrorIs(t, err, ErrAgentOffline)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Contains(t, store.actions, action.ActionID)
	assert.Equal(t, models.EdgeActionPending, store.actions[action.ActionID].Status)
}

func TestEdgeRejectsUnregisteredFirstMessage(t *testing.T) {
	b := testBus(t)
	h := NewEdgeHub(config.DefaultRealtimeConfig(), b, newMemEdgeStore(), NewSigner("s"))
	ws := dialEdge(t, h, &tenant.Identity{TenantID: tenantA})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, edgeMessage{Type: "heartbeat"}))

	var msg edgeMessage
	err := wsjson.Read(ctx, ws, &msg)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}
