package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// RealtimeEvent is one message on the realtime fan-out channel. TenantID
// scopes delivery: the dashboard hub forwards an event only to connections
// of the same tenant.
type RealtimeEvent struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// PublishRealtime fans an event out to every subscribed process.
func (c *Client) PublishRealtime(ctx context.Context, eventType, tenantID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal realtime payload: %w", err)
	}
	msg, err := json.Marshal(RealtimeEvent{Type: eventType, TenantID: tenantID, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal realtime event: %w", err)
	}
	if err := c.rdb.Publish(ctx, RealtimeChannel, msg).Err(); err != nil {
		return fmt.Errorf("publish realtime event: %w", err)
	}
	return nil
}

// SubscribeRealtime returns a channel of realtime events. The channel
// closes when ctx is cancelled or stop is called. Undecodable messages are
// logged and dropped.
func (c *Client) SubscribeRealtime(ctx context.Context) (<-chan RealtimeEvent, func()) {
	pubsub := c.rdb.Subscribe(ctx, RealtimeChannel)
	out := make(chan RealtimeEvent, 64)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev RealtimeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				c.logger.Warn("Dropping undecodable realtime message", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }
}
