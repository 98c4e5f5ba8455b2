package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealtimePublishSubscribe(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop := c.SubscribeRealtime(ctx)
	defer stop()

	// Subscription setup races the first publish; give it a moment.
	time.Sleep(50 * time.Millisecond)

	err := c.PublishRealtime(ctx, "incident_created", "tenant-a", map[string]any{
		"incident_id": "inc-1",
		"severity":    "HIGH",
	})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "incident_created", ev.Type)
		assert.Equal(t, "tenant-a", ev.TenantID)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(ev.Payload, &payload))
		assert.Equal(t, "inc-1", payload["incident_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("no realtime event received")
	}
}

func TestRealtimeSubscribeStops(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, stop := c.SubscribeRealtime(ctx)
	stop()

	select {
	case _, open := <-events:
		assert.False(t, open, "channel should close after stop")
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after stop")
	}
}
