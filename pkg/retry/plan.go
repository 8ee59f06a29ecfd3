package retry

import (
	"time"
)

// Plan is the full bounded retry schedule for one operation,
// precomputed so a caller can log or inspect the whole curve rather
// than only the next delay.
type Plan struct {
	OperationID string     `json:"operation_id"`
	PolicyID    string      `json:"policy_id"`
	Schedule    []Scheduled `json:"schedule"`
	MaxAttempts int         `json:"max_attempts"`
	ExpiresAt   time.Time   `json:"expires_at"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Scheduled is one attempt's offset within a Plan.
type Scheduled struct {
	AttemptIndex int       `json:"attempt_index"`
	DelayMs      int64     `json:"delay_ms"`
	ScheduledAt  time.Time `json:"scheduled_at"`
}

// GeneratePlan precomputes the full attempt schedule for an operation:
// attempt 0 fires immediately, each subsequent attempt adds its
// computed backoff to the running clock.
func GeneratePlan(params BackoffParams, policy BackoffPolicy, now time.Time) *Plan {
	schedule := make([]Scheduled, policy.MaxAttempts)
	at := now

	for i := 0; i < policy.MaxAttempts; i++ {
		attempt := params
		attempt.AttemptIndex = i

		var delay time.Duration
		if i > 0 {
			delay = ComputeBackoff(attempt, policy)
		}
		at = at.Add(delay)

		schedule[i] = Scheduled{
			AttemptIndex: i,
			DelayMs:      delay.Milliseconds(),
			ScheduledAt:  at,
		}
	}

	return &Plan{
		OperationID: params.OperationID,
		PolicyID:    policy.PolicyID,
		Schedule:    schedule,
		MaxAttempts: policy.MaxAttempts,
		CreatedAt:   now,
		ExpiresAt:   at.Add(time.Hour),
	}
}
