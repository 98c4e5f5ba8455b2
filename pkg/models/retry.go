package models

import "time"

// RetryStatus tracks a retry job through its lifecycle.
type RetryStatus string

// Retry job statuses.
const (
	RetryPending      RetryStatus = "PENDING"
	RetryRetrying     RetryStatus = "RETRYING"
	RetrySucceeded    RetryStatus = "SUCCEEDED"
	RetryFailed       RetryStatus = "FAILED"
	RetryDeadLettered RetryStatus = "DEAD_LETTERED"
)

// RetryError is one failed delivery attempt in a job's error history.
type RetryError struct {
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"ts"`
}

// RetryJob is an outbound delivery job scheduled on the backoff ladder.
type RetryJob struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	JobType      string         `json:"job_type"`
	Target       string         `json:"target"`
	Payload      map[string]any `json:"payload,omitempty"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"max_attempts"`
	Status       RetryStatus    `json:"status"`
	NextAttempt  time.Time      `json:"next_attempt"`
	ErrorHistory []RetryError   `json:"error_history,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
