package store

import (
	"context"
	"database/sql"
	"errors"
)

// CreateSealJob enqueues exactly one seal job for a case or agreement;
// the unique constraint on case_id/proposal_id enforces "at most one
// seal job per caseId".
func (q *Queries) CreateSealJob(ctx context.Context, j *SealJob) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO seal_jobs (job_id, case_id, proposal_id, status, attempts, last_error, payload_hash, request_json, response_json, claimed_at, completed_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, j.JobID, nullableStr(j.CaseID), nullableStr(j.ProposalID), string(j.Status), j.Attempts, nullableStr(j.LastError), j.PayloadHash, string(j.RequestJSON), nullableStr(string(j.ResponseJSON)), formatTimePtr(j.ClaimedAt), formatTimePtr(j.CompletedAt), formatTime(j.CreatedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func scanSealJob(s rowScanner) (*SealJob, error) {
	var j SealJob
	var caseID, proposalID, lastError, responseJSON, claimedAt, completedAt sql.NullString
	var requestJSON, createdAt string
	if err := s.Scan(&j.JobID, &caseID, &proposalID, &j.Status, &j.Attempts, &lastError, &j.PayloadHash, &requestJSON, &responseJSON, &claimedAt, &completedAt, &createdAt); err != nil {
		return nil, err
	}
	j.CaseID = caseID.String
	j.ProposalID = proposalID.String
	j.LastError = lastError.String
	j.RequestJSON = []byte(requestJSON)
	j.ResponseJSON = []byte(responseJSON.String)
	var err error
	if j.ClaimedAt, err = parseTimePtr(claimedAt); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &j, nil
}

const sealJobColumns = `job_id, case_id, proposal_id, status, attempts, last_error, payload_hash, request_json, response_json, claimed_at, completed_at, created_at`

// GetSealJobByCase fetches the (at most one) seal job for a case.
func (q *Queries) GetSealJobByCase(ctx context.Context, caseID string) (*SealJob, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+sealJobColumns+` FROM seal_jobs WHERE case_id=$1`, caseID)
	j, err := scanSealJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// GetSealJobByProposal fetches the seal job for an agreement proposal.
func (q *Queries) GetSealJobByProposal(ctx context.Context, proposalID string) (*SealJob, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+sealJobColumns+` FROM seal_jobs WHERE proposal_id=$1`, proposalID)
	j, err := scanSealJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// GetSealJob fetches a seal job by its own id.
func (q *Queries) GetSealJob(ctx context.Context, jobID string) (*SealJob, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+sealJobColumns+` FROM seal_jobs WHERE job_id=$1`, jobID)
	j, err := scanSealJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// ClaimSealJob conditionally transitions a queued or failed job to minting,
// incrementing attempts; the WHERE clause guards against two
// concurrent pickers claiming the same job.
func (q *Queries) ClaimSealJob(ctx context.Context, jobID string, claimedAtISO string) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE seal_jobs SET status='minting', attempts = attempts + 1, claimed_at=$1
		WHERE job_id=$2 AND status IN ('queued','failed')
	`, claimedAtISO, jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinalizeSealJob stores the worker's terminal response.
func (q *Queries) FinalizeSealJob(ctx context.Context, jobID string, status SealJobStatus, lastError string, responseJSON []byte, completedAtISO string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE seal_jobs SET status=$1, last_error=$2, response_json=$3, completed_at=$4 WHERE job_id=$5
	`, string(status), nullableStr(lastError), nullableStr(string(responseJSON)), completedAtISO, jobID)
	return err
}

// ListRetryableSealJobs returns jobs eligible for the sweeper: queued
// or failed, non-terminal, under the attempt ceiling, older than the
// backoff cutoff.
func (q *Queries) ListRetryableSealJobs(ctx context.Context, olderThanISO string, maxAttempts int) ([]*SealJob, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+sealJobColumns+` FROM seal_jobs
		WHERE status IN ('queued','failed')
		  AND (last_error IS NULL OR last_error NOT LIKE 'NON_RETRYABLE:%')
		  AND attempts < $1
		  AND created_at <= $2
		ORDER BY created_at ASC
	`, maxAttempts, olderThanISO)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*SealJob
	for rows.Next() {
		j, err := scanSealJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
