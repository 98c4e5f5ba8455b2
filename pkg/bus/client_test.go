package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientFromRedis(rdb)
}

func TestPublishConsumeAck(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id1, err := c.PublishEvent(ctx, map[string]any{"event_id": "evt-1", "source": "edr"})
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := c.PublishEvent(ctx, map[string]any{"event_id": "evt-2", "source": "siem"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	msgs, err := c.Consume(ctx, GroupDispatcher, "consumer-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "evt-1", msgs[0].Values["event_id"])
	assert.Equal(t, "evt-2", msgs[1].Values["event_id"])

	pending, err := c.Pending(ctx, GroupDispatcher)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	for _, m := range msgs {
		require.NoError(t, c.Ack(ctx, GroupDispatcher, m.ID))
	}
	pending, err = c.Pending(ctx, GroupDispatcher)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestConsumeRespectsCount(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.PublishEvent(ctx, map[string]any{"n": i})
		require.NoError(t, err)
	}

	msgs, err := c.Consume(ctx, GroupDispatcher, "consumer-1", 3, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	msgs, err = c.Consume(ctx, GroupDispatcher, "consumer-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestConsumerGroupsAreIndependent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.PublishEvent(ctx, map[string]any{"event_id": "evt-1"})
	require.NoError(t, err)

	msgs, err := c.Consume(ctx, GroupDispatcher, "d-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// The reserved workers group sees the same message independently.
	msgs, err = c.Consume(ctx, GroupWorkers, "w-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestTokenCounters(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	n, err := c.GetTokens(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	total, err := c.IncrTokens(ctx, "inc-1", 1200)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), total)

	total, err = c.IncrTokens(ctx, "inc-1", 800)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), total)

	// Counters are per incident.
	other, err := c.GetTokens(ctx, "inc-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other)

	require.NoError(t, c.ClearTokens(ctx, "inc-1"))
	n, err = c.GetTokens(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
