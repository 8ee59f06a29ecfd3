package store

import (
	"context"
	"database/sql"
	"errors"
)

// BeginIdempotentClaim inserts an in_progress row binding (agentId,
// method, path, idempotencyKey) to requestHash, or returns the
// existing row if one is already claimed. The caller compares
// requestHash itself: a mismatch on an identical key is a conflicting
// replay and must be rejected before this record is consulted again.
func (q *Queries) BeginIdempotentClaim(ctx context.Context, r *IdempotencyRecord) (*IdempotencyRecord, bool, error) {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO idempotency_records (agent_id, method, path, idempotency_key, request_hash, response_status, response_json, status, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, r.AgentID, r.Method, r.Path, r.IdempotencyKey, r.RequestHash, nullableInt64(int64(r.ResponseStatus)), nullableStr(string(r.ResponseJSON)), string(IdempotencyInProgress), formatTime(r.ExpiresAt), formatTime(r.CreatedAt))
	if err == nil {
		return r, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, err
	}
	existing, getErr := q.GetIdempotencyRecord(ctx, r.AgentID, r.Method, r.Path, r.IdempotencyKey)
	if getErr != nil {
		return nil, false, getErr
	}
	return existing, false, nil
}

// GetIdempotencyRecord fetches the claim row for one mutation key.
func (q *Queries) GetIdempotencyRecord(ctx context.Context, agentID, method, path, key string) (*IdempotencyRecord, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT agent_id, method, path, idempotency_key, request_hash, response_status, response_json, status, expires_at, created_at
		FROM idempotency_records WHERE agent_id=$1 AND method=$2 AND path=$3 AND idempotency_key=$4`, agentID, method, path, key)

	var r IdempotencyRecord
	var status sql.NullInt64
	var respJSON sql.NullString
	var expiresAt, createdAt string
	if err := row.Scan(&r.AgentID, &r.Method, &r.Path, &r.IdempotencyKey, &r.RequestHash, &status, &respJSON, &r.Status, &expiresAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.ResponseStatus = int(status.Int64)
	r.ResponseJSON = []byte(respJSON.String)
	var err error
	if r.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CompleteIdempotentClaim stores the final response and flips the
// record to complete, so a replayed request returns the same body
// without re-executing the mutation.
func (q *Queries) CompleteIdempotentClaim(ctx context.Context, agentID, method, path, key string, responseStatus int, responseJSON []byte) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE idempotency_records SET status=$1, response_status=$2, response_json=$3
		WHERE agent_id=$4 AND method=$5 AND path=$6 AND idempotency_key=$7
	`, string(IdempotencyComplete), responseStatus, string(responseJSON), agentID, method, path, key)
	return err
}

// ReleaseIdempotentClaim deletes an in_progress row so the mutation
// can be retried from scratch after a handler-side failure that never
// reached a durable outcome.
func (q *Queries) ReleaseIdempotentClaim(ctx context.Context, agentID, method, path, key string) error {
	_, err := q.q.ExecContext(ctx, `
		DELETE FROM idempotency_records WHERE agent_id=$1 AND method=$2 AND path=$3 AND idempotency_key=$4 AND status=$5
	`, agentID, method, path, key, string(IdempotencyInProgress))
	return err
}

// SweepExpiredIdempotencyRecords deletes completed claim rows past
// their retention window.
func (q *Queries) SweepExpiredIdempotencyRecords(ctx context.Context, nowISO string) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, nowISO)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordAgentAction inserts one accepted signed mutation into the
// anti-replay log. The (agentId, signature, timestampSec) primary key
// rejects a byte-identical signature replayed under a second request.
func (q *Queries) RecordAgentAction(ctx context.Context, a *AgentActionLog) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO agent_action_log (agent_id, action_type, case_id, signature, timestamp_sec, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, a.AgentID, a.ActionType, nullableStr(a.CaseID), a.Signature, a.TimestampSec, formatTime(a.CreatedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// SweepExpiredAgentActions deletes anti-replay rows whose signed
// timestamp has aged out of the replay window.
func (q *Queries) SweepExpiredAgentActions(ctx context.Context, olderThanSec int64) (int64, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM agent_action_log WHERE timestamp_sec < $1`, olderThanSec)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
