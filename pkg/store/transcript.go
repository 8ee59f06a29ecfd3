package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrSeqGap is returned if a transcript append would violate strict
// per-case sequence ordering: seqNo is always the previous max for
// the case plus one, no gaps, no duplicates.
var ErrSeqGap = errors.New("store: transcript sequence gap")

// AppendTranscriptEvent appends the next event for a case, assigning
// seqNo as one past the case's current max (0 if none exist yet).
// Callers append inside the same transaction as the state transition
// that produced the event, so the audit trail can never diverge from
// state.
func (q *Queries) AppendTranscriptEvent(ctx context.Context, e *TranscriptEvent) error {
	next, err := q.nextTranscriptSeq(ctx, e.CaseID)
	if err != nil {
		return fmt.Errorf("transcript: %w", err)
	}
	e.SeqNo = next

	_, err = q.q.ExecContext(ctx, `
		INSERT INTO transcript_events (case_id, seq_no, actor_role, actor_id, event_type, stage, message, artifact_ref, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.CaseID, e.SeqNo, e.ActorRole, nullableStr(e.ActorID), e.EventType, nullableStr(string(e.Stage)), e.Message, nullableStr(e.ArtifactRef), nullableStr(string(e.Payload)), formatTime(e.CreatedAt))
	if isUniqueViolation(err) {
		return ErrSeqGap
	}
	return err
}

func (q *Queries) nextTranscriptSeq(ctx context.Context, caseID string) (int64, error) {
	var max sql.NullInt64
	row := q.q.QueryRowContext(ctx, `SELECT MAX(seq_no) FROM transcript_events WHERE case_id=$1`, caseID)
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return max.Int64 + 1, nil
}

// ListTranscript returns every event for a case in seqNo order.
func (q *Queries) ListTranscript(ctx context.Context, caseID string) ([]*TranscriptEvent, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT case_id, seq_no, actor_role, actor_id, event_type, stage, message, artifact_ref, payload, created_at
		FROM transcript_events WHERE case_id=$1 ORDER BY seq_no ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*TranscriptEvent
	for rows.Next() {
		var e TranscriptEvent
		var actorID, stage, artifactRef, payload sql.NullString
		var createdAt string
		if err := rows.Scan(&e.CaseID, &e.SeqNo, &e.ActorRole, &actorID, &e.EventType, &stage, &e.Message, &artifactRef, &payload, &createdAt); err != nil {
			return nil, err
		}
		e.ActorID = actorID.String
		e.Stage = SessionStage(stage.String)
		e.ArtifactRef = artifactRef.String
		e.Payload = []byte(payload.String)
		var err error
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// LastSeqNo returns the highest seqNo recorded for a case, or 0 if
// none have been appended yet.
func (q *Queries) LastSeqNo(ctx context.Context, caseID string) (int64, error) {
	next, err := q.nextTranscriptSeq(ctx, caseID)
	if err != nil {
		return 0, err
	}
	return next - 1, nil
}
