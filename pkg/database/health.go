package database

import (
	"context"
	"time"
)

// HealthStatus describes the database connection state.
type HealthStatus struct {
	Reachable  bool          `json:"reachable"`
	Latency    time.Duration `json:"latency_ns"`
	Error      string        `json:"error,omitempty"`
	TotalConns int           `json:"total_conns"`
	IdleConns  int           `json:"idle_conns"`
}

// Health pings the database and reports pool statistics.
func (c *Client) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	err := c.pool.Ping(ctx)
	status := HealthStatus{
		Reachable: err == nil,
		Latency:   time.Since(start),
	}
	if err != nil {
		status.Error = err.Error()
	}
	stat := c.pool.Stat()
	status.TotalConns = int(stat.TotalConns())
	status.IdleConns = int(stat.IdleConns())
	return status
}
