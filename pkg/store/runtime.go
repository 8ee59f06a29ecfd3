package store

import (
	"context"
	"database/sql"
	"errors"
)

// UpsertCaseRuntime writes the full runtime row, used both at creation
// and on every stage transition.
func (q *Queries) UpsertCaseRuntime(ctx context.Context, r *CaseRuntime) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO case_runtime (case_id, current_stage, stage_started_at, stage_deadline_at, scheduled_session_start_at, voting_hard_deadline_at, void_reason, voided_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (case_id) DO UPDATE SET
			current_stage=$2, stage_started_at=$3, stage_deadline_at=$4, scheduled_session_start_at=$5, voting_hard_deadline_at=$6, void_reason=$7, voided_at=$8
	`, r.CaseID, string(r.CurrentStage), formatTime(r.StageStartedAt), formatTimePtr(r.StageDeadlineAt), formatTimePtr(r.ScheduledSessionStartAt), formatTimePtr(r.VotingHardDeadlineAt), nullableStr(string(r.VoidReason)), formatTimePtr(r.VoidedAt))
	return err
}

// GetCaseRuntime fetches a case's runtime row.
func (q *Queries) GetCaseRuntime(ctx context.Context, caseID string) (*CaseRuntime, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT case_id, current_stage, stage_started_at, stage_deadline_at, scheduled_session_start_at, voting_hard_deadline_at, void_reason, voided_at
		FROM case_runtime WHERE case_id=$1`, caseID)

	var r CaseRuntime
	var stageDeadline, scheduledStart, votingHard, voidedAt sql.NullString
	var voidReason sql.NullString
	var stageStarted string
	if err := row.Scan(&r.CaseID, &r.CurrentStage, &stageStarted, &stageDeadline, &scheduledStart, &votingHard, &voidReason, &voidedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.VoidReason = VoidReason(voidReason.String)
	var err error
	if r.StageStartedAt, err = parseTime(stageStarted); err != nil {
		return nil, err
	}
	if r.StageDeadlineAt, err = parseTimePtr(stageDeadline); err != nil {
		return nil, err
	}
	if r.ScheduledSessionStartAt, err = parseTimePtr(scheduledStart); err != nil {
		return nil, err
	}
	if r.VotingHardDeadlineAt, err = parseTimePtr(votingHard); err != nil {
		return nil, err
	}
	if r.VoidedAt, err = parseTimePtr(voidedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
