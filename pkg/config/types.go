package config

import "time"

// DetectionConfig controls the dispatcher's detection squad fan-out.
type DetectionConfig struct {
	// Squad is the ordered list of detection agent names run on every event.
	Squad []string `yaml:"squad"`

	// Threshold is the minimum aggregated confidence for incident promotion.
	Threshold float64 `yaml:"threshold"`

	// AgentTimeout bounds each detection agent invocation.
	AgentTimeout time.Duration `yaml:"agent_timeout"`

	// TokenBudget is the per-event detection token budget.
	TokenBudget int `yaml:"token_budget"`

	// BatchSize is the number of events pulled per stream read.
	BatchSize int `yaml:"batch_size"`

	// BlockDuration is how long a stream read blocks when no events are ready.
	BlockDuration time.Duration `yaml:"block_duration"`

	// ThresholdFloor and ThresholdCeil bound automatic threshold tuning.
	ThresholdFloor float64 `yaml:"threshold_floor"`
	ThresholdCeil  float64 `yaml:"threshold_ceil"`
}

// DefaultDetectionConfig returns the built-in detection defaults.
func DefaultDetectionConfig() *DetectionConfig {
	return &DetectionConfig{
		Squad: []string{
			"signature-analyst",
			"anomaly-hunter",
			"threat-profiler",
			"identity-watcher",
			"network-sentinel",
		},
		Threshold:      0.3,
		AgentTimeout:   10 * time.Second,
		TokenBudget:    50000,
		BatchSize:      10,
		BlockDuration:  1 * time.Second,
		ThresholdFloor: 0.1,
		ThresholdCeil:  0.9,
	}
}

// CoordinatorConfig controls the per-incident state machine.
type CoordinatorConfig struct {
	// PhaseDeadlines bound each phase, keyed by state name.
	DetectionDeadline  time.Duration `yaml:"detection_deadline"`
	EnrichmentDeadline time.Duration `yaml:"enrichment_deadline"`
	AnalysisDeadline   time.Duration `yaml:"analysis_deadline"`
	ProposalDeadline   time.Duration `yaml:"proposal_deadline"`
	OversightDeadline  time.Duration `yaml:"oversight_deadline"`
	ExecutionDeadline  time.Duration `yaml:"execution_deadline"`
	EscalatedDeadline  time.Duration `yaml:"escalated_deadline"`

	// ThresholdDismiss closes the incident after DETECTION when aggregated
	// confidence falls below it.
	ThresholdDismiss float64 `yaml:"threshold_dismiss"`

	// ThresholdInvestigate closes the incident after ANALYSIS when the
	// analyst verdict confidence falls below it.
	ThresholdInvestigate float64 `yaml:"threshold_investigate"`

	// TokenBudget is the default per-incident token budget.
	TokenBudget int `yaml:"token_budget"`

	// Agent role names invoked per phase.
	RouterAgent    string `yaml:"router_agent"`
	IntelAgent     string `yaml:"intel_agent"`
	AnalystAgent   string `yaml:"analyst_agent"`
	ResponderAgent string `yaml:"responder_agent"`
	OversightAgent string `yaml:"oversight_agent"`
}

// DefaultCoordinatorConfig returns the built-in coordinator defaults.
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		DetectionDeadline:    15 * time.Second,
		EnrichmentDeadline:   10 * time.Second,
		AnalysisDeadline:     30 * time.Second,
		ProposalDeadline:     20 * time.Second,
		OversightDeadline:    30 * time.Second,
		ExecutionDeadline:    60 * time.Second,
		EscalatedDeadline:    30 * time.Minute,
		ThresholdDismiss:     0.30,
		ThresholdInvestigate: 0.60,
		TokenBudget:          50000,
		RouterAgent:          "router",
		IntelAgent:           "intel-collector",
		AnalystAgent:         "analyst",
		ResponderAgent:       "responder",
		OversightAgent:       "overseer",
	}
}

// LockTTL is the distributed lock TTL for an incident coordinator run.
// Must exceed the sum of all phase deadlines so a live run never loses
// ownership mid-flight.
func (c *CoordinatorConfig) LockTTL() time.Duration {
	sum := c.DetectionDeadline + c.EnrichmentDeadline + c.AnalysisDeadline +
		c.ProposalDeadline + c.OversightDeadline + c.ExecutionDeadline
	return sum + 2*time.Minute
}

// RetryConfig controls the outbound retry queue and DLQ.
type RetryConfig struct {
	// Backoff is the retry ladder; entry N is the delay before attempt N+1.
	Backoff []time.Duration `yaml:"backoff"`

	// MaxAttempts before a job is dead-lettered.
	MaxAttempts int `yaml:"max_attempts"`

	// BatchSize is the max PENDING jobs claimed per processor tick.
	BatchSize int `yaml:"batch_size"`

	// TickInterval is how often the processor polls for due jobs.
	TickInterval time.Duration `yaml:"tick_interval"`

	// DLQRetention is how long dead-lettered jobs are kept before aging out.
	DLQRetention time.Duration `yaml:"dlq_retention"`

	// ReclaimAfter is how long a job may sit RETRYING before it is treated
	// as orphaned by a crashed processor and becomes claimable again.
	ReclaimAfter time.Duration `yaml:"reclaim_after"`

	// ErrorHistoryLimit bounds the per-job error history list.
	ErrorHistoryLimit int `yaml:"error_history_limit"`

	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// DefaultRetryConfig returns the built-in retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		Backoff: []time.Duration{
			0,
			30 * time.Second,
			2 * time.Minute,
			10 * time.Minute,
			1 * time.Hour,
		},
		MaxAttempts:       5,
		BatchSize:         10,
		TickInterval:      5 * time.Second,
		DLQRetention:      7 * 24 * time.Hour,
		ReclaimAfter:      5 * time.Minute,
		ErrorHistoryLimit: 20,
		HandlerTimeout:    30 * time.Second,
	}
}

// ExecutorConfig controls connector invocation.
type ExecutorConfig struct {
	// CallTimeout bounds each connector validate/execute/rollback call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultExecutorConfig returns the built-in executor defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{CallTimeout: 30 * time.Second}
}

// CorrelatorConfig controls campaign correlation.
type CorrelatorConfig struct {
	// WindowMinutes is the sliding lookback window for related incidents.
	WindowMinutes int `yaml:"window_minutes"`

	// CampaignScoreThreshold marks a set of related incidents as a campaign.
	CampaignScoreThreshold float64 `yaml:"campaign_score_threshold"`

	// CampaignCreateScore is the score at which a campaign grouping is
	// created (together with CampaignCreateCount related incidents).
	CampaignCreateScore float64 `yaml:"campaign_create_score"`
	CampaignCreateCount int     `yaml:"campaign_create_count"`
}

// DefaultCorrelatorConfig returns the built-in correlator defaults.
func DefaultCorrelatorConfig() *CorrelatorConfig {
	return &CorrelatorConfig{
		WindowMinutes:          60,
		CampaignScoreThreshold: 0.5,
		CampaignCreateScore:    0.8,
		CampaignCreateCount:    3,
	}
}

// RealtimeConfig controls the dashboard and edge WebSocket channels.
type RealtimeConfig struct {
	// WriteTimeout bounds each socket send.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ActionTTL is the validity window for signed edge actions.
	ActionTTL time.Duration `yaml:"action_ttl"`

	// HeartbeatStale is how long an edge agent may go silent before it is
	// marked offline by the liveness sweep.
	HeartbeatStale time.Duration `yaml:"heartbeat_stale"`

	// AllowedOrigins is the WebSocket origin allowlist. Empty rejects
	// cross-origin browsers; non-browser clients are unaffected.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultRealtimeConfig returns the built-in realtime defaults.
func DefaultRealtimeConfig() *RealtimeConfig {
	return &RealtimeConfig{
		WriteTimeout:   10 * time.Second,
		ActionTTL:      5 * time.Minute,
		HeartbeatStale: 3 * time.Minute,
	}
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr"`

	// ReadHeaderTimeout bounds request header reads. Whole-request
	// timeouts are deliberately absent: the WebSocket channels share this
	// listener.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// ShutdownTimeout bounds graceful drain on termination.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:              ":8080",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}
}

// RateLimitConfig is a token bucket parameter set per subscription tier.
type RateLimitConfig struct {
	// RequestsPerMinute refills per (tenant, endpoint) bucket.
	RequestsPerMinute map[string]int `yaml:"requests_per_minute"`

	// Burst is the bucket capacity per tier.
	Burst map[string]int `yaml:"burst"`
}

// DefaultRateLimitConfig returns the built-in rate limit defaults.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: map[string]int{
			"free":       60,
			"standard":   600,
			"enterprise": 6000,
		},
		Burst: map[string]int{
			"free":       10,
			"standard":   100,
			"enterprise": 1000,
		},
	}
}

// PlaybookConfig is a named, ordered action sequence registered in config
// and referenced by responder proposals.
type PlaybookConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	ActionTypes []string `yaml:"action_types" json:"action_types"`
}

// JobsConfig holds cron schedules for periodic jobs.
type JobsConfig struct {
	DLQAging          string `yaml:"dlq_aging"`
	ThresholdTuning   string `yaml:"threshold_tuning"`
	StalePendingScan  string `yaml:"stale_pending_scan"`
	EdgeLivenessSweep string `yaml:"edge_liveness_sweep"`
	ConnectorProbes   string `yaml:"connector_probes"`
	BaselineRecompute string `yaml:"baseline_recompute"`
}

// DefaultJobsConfig returns the built-in cron schedules.
func DefaultJobsConfig() *JobsConfig {
	return &JobsConfig{
		DLQAging:          "@every 1h",
		ThresholdTuning:   "@every 30m",
		StalePendingScan:  "@every 1m",
		EdgeLivenessSweep: "@every 1m",
		ConnectorProbes:   "@every 5m",
		BaselineRecompute: "@every 6h",
	}
}
