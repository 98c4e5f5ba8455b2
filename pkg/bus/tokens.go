package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// tokenKey is the live token counter for an incident. The durable count
// lives in the incidents row; this counter serves the fast path between
// phase transitions.
func tokenKey(incidentID string) string {
	return "hornet:tokens:" + incidentID
}

// IncrTokens adds n to an incident's live token counter and returns the
// new total.
func (c *Client) IncrTokens(ctx context.Context, incidentID string, n int64) (int64, error) {
	total, err := c.rdb.IncrBy(ctx, tokenKey(incidentID), n).Result()
	if err != nil {
		return 0, fmt.Errorf("incr tokens for %s: %w", incidentID, err)
	}
	return total, nil
}

// GetTokens returns an incident's live token count. A missing counter
// reads as zero.
func (c *Client) GetTokens(ctx context.Context, incidentID string) (int64, error) {
	n, err := c.rdb.Get(ctx, tokenKey(incidentID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("get tokens for %s: %w", incidentID, err)
	}
	return n, nil
}

// ClearTokens drops the live counter after an incident closes.
func (c *Client) ClearTokens(ctx context.Context, incidentID string) error {
	if err := c.rdb.Del(ctx, tokenKey(incidentID)).Err(); err != nil {
		return fmt.Errorf("clear tokens for %s: %w", incidentID, err)
	}
	return nil
}
