package store

import (
	"context"
	"database/sql"
	"errors"
)

// RecordEngineDiagnostic upserts the session engine's per-case failure
// counter, giving operators a durable signal when a case's tick keeps
// throwing without depending on log retention.
func (q *Queries) RecordEngineDiagnostic(ctx context.Context, caseID, lastError, attemptAtISO string) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO engine_diagnostics (case_id, failure_count, last_error, last_attempt_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (case_id) DO UPDATE SET failure_count = failure_count + 1, last_error=$2, last_attempt_at=$3
	`, caseID, lastError, attemptAtISO)
	return err
}

// EngineDiagnostic is the per-case failure counter row.
type EngineDiagnostic struct {
	CaseID        string
	FailureCount  int
	LastError     string
	LastAttemptAt string
}

// GetEngineDiagnostic fetches one case's failure counter, if any.
func (q *Queries) GetEngineDiagnostic(ctx context.Context, caseID string) (*EngineDiagnostic, error) {
	row := q.q.QueryRowContext(ctx, `SELECT case_id, failure_count, last_error, last_attempt_at FROM engine_diagnostics WHERE case_id=$1`, caseID)
	var d EngineDiagnostic
	if err := row.Scan(&d.CaseID, &d.FailureCount, &d.LastError, &d.LastAttemptAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ClearEngineDiagnostic removes a case's failure counter once a tick
// succeeds again.
func (q *Queries) ClearEngineDiagnostic(ctx context.Context, caseID string) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM engine_diagnostics WHERE case_id=$1`, caseID)
	return err
}

// ListEngineDiagnostics returns every case currently carrying a
// recorded tick failure, ordered worst-first, for the operator-facing
// diagnostics endpoint.
func (q *Queries) ListEngineDiagnostics(ctx context.Context) ([]*EngineDiagnostic, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT case_id, failure_count, last_error, last_attempt_at
		FROM engine_diagnostics ORDER BY failure_count DESC, last_attempt_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*EngineDiagnostic
	for rows.Next() {
		var d EngineDiagnostic
		if err := rows.Scan(&d.CaseID, &d.FailureCount, &d.LastError, &d.LastAttemptAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
