// Package retry computes bounded exponential backoff with
// deterministic jitter for OpenCawt's external-service calls: the
// randomness beacon client, the treasury lookup, the seal-job
// sweeper's worker retries and the webhook dispatcher.
// None of these callers needs full replay determinism (unlike jury
// selection), only a bounded, reproducible-for-testing delay.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffParams identifies one retry attempt, used only to seed the
// deterministic jitter so repeated computations for the same attempt
// agree.
type BackoffParams struct {
	Component    string // "drand", "treasury", "seal" or "webhook"
	OperationID  string // beacon base URL, tx signature, job id, or outbox entry id
	AttemptIndex int
	SeedHash     string
}

// BackoffPolicy bounds the exponential curve and jitter for one class
// of retried operation.
type BackoffPolicy struct {
	PolicyID    string
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// ComputeBackoff returns the delay before the given attempt: base *
// 2^attempt, capped at MaxMs, plus deterministic jitter.
func ComputeBackoff(params BackoffParams, policy BackoffPolicy) time.Duration {
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	baseDelay := policy.BaseMs * factor
	if baseDelay > policy.MaxMs {
		baseDelay = policy.MaxMs
	}

	jitter := ComputeDeterministicJitter(params, policy)
	return time.Duration(baseDelay+jitter) * time.Millisecond
}

// ComputeDeterministicJitter derives a jitter value in [0, MaxJitterMs)
// from a SHA-256 of the attempt's identifying fields, so retries in
// tests are reproducible without a shared random source.
func ComputeDeterministicJitter(params BackoffParams, policy BackoffPolicy) int64 {
	if policy.MaxJitterMs == 0 {
		return 0
	}

	seed := fmt.Sprintf("%s:%s:%d:%s", params.Component, params.OperationID, params.AttemptIndex, params.SeedHash)
	hash := sha256.Sum256([]byte(seed))
	jitterBasis := binary.BigEndian.Uint64(hash[:8])
	return int64(jitterBasis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is always positive
}
