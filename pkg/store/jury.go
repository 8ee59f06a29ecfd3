package store

import (
	"context"
	"database/sql"
	"errors"
)

// CreateJuryPanelMember inserts one panel row (an initial selection or
// a replacement).
func (q *Queries) CreateJuryPanelMember(ctx context.Context, m *JuryPanelMember) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO jury_panel_members (case_id, juror_id, score_hash, member_status, ready_deadline_at, voting_deadline_at, replacement_of_juror_id, replaced_by_juror_id, selection_run_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, m.CaseID, m.JurorID, m.ScoreHash, string(m.MemberStatus), formatTimePtr(m.ReadyDeadlineAt), formatTimePtr(m.VotingDeadlineAt), nullableStr(m.ReplacementOfJurorID), nullableStr(m.ReplacedByJurorID), m.SelectionRunID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// UpdateJuryPanelMember rewrites a panel member's mutable status
// fields.
func (q *Queries) UpdateJuryPanelMember(ctx context.Context, m *JuryPanelMember) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE jury_panel_members SET member_status=$1, ready_deadline_at=$2, voting_deadline_at=$3, replaced_by_juror_id=$4
		WHERE case_id=$5 AND juror_id=$6
	`, string(m.MemberStatus), formatTimePtr(m.ReadyDeadlineAt), formatTimePtr(m.VotingDeadlineAt), nullableStr(m.ReplacedByJurorID), m.CaseID, m.JurorID)
	return err
}

// ListJuryPanel returns every panel member row for a case, including
// replaced ones.
func (q *Queries) ListJuryPanel(ctx context.Context, caseID string) ([]*JuryPanelMember, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT case_id, juror_id, score_hash, member_status, ready_deadline_at, voting_deadline_at, replacement_of_juror_id, replaced_by_juror_id, selection_run_id
		FROM jury_panel_members WHERE case_id=$1 ORDER BY score_hash ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*JuryPanelMember
	for rows.Next() {
		m, err := scanJuryMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetJuryPanelMember fetches one (caseID, jurorID) panel row.
func (q *Queries) GetJuryPanelMember(ctx context.Context, caseID, jurorID string) (*JuryPanelMember, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT case_id, juror_id, score_hash, member_status, ready_deadline_at, voting_deadline_at, replacement_of_juror_id, replaced_by_juror_id, selection_run_id
		FROM jury_panel_members WHERE case_id=$1 AND juror_id=$2`, caseID, jurorID)
	m, err := scanJuryMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func scanJuryMember(s rowScanner) (*JuryPanelMember, error) {
	var m JuryPanelMember
	var readyDeadline, votingDeadline, replOf, replBy sql.NullString
	if err := s.Scan(&m.CaseID, &m.JurorID, &m.ScoreHash, &m.MemberStatus, &readyDeadline, &votingDeadline, &replOf, &replBy, &m.SelectionRunID); err != nil {
		return nil, err
	}
	m.ReplacementOfJurorID = replOf.String
	m.ReplacedByJurorID = replBy.String
	var err error
	if m.ReadyDeadlineAt, err = parseTimePtr(readyDeadline); err != nil {
		return nil, err
	}
	if m.VotingDeadlineAt, err = parseTimePtr(votingDeadline); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateBallot inserts a juror's ballot. The unique (case_id,
// juror_id) constraint enforces "at most one ballot per juror per
// case"; a violation maps to ErrConflict so the handler can
// surface BALLOT_ALREADY_SUBMITTED.
func (q *Queries) CreateBallot(ctx context.Context, b *Ballot) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO ballots (ballot_id, case_id, juror_id, votes, reasoning_summary, vote, principles_relied_on, confidence, ballot_hash, signature, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, b.BallotID, b.CaseID, b.JurorID, marshalJSON(b.Votes), b.ReasoningSummary, b.Vote, marshalJSON(b.PrinciplesReliedOn), b.Confidence, b.BallotHash, b.Signature, formatTime(b.CreatedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// ListBallots returns every ballot cast for a case.
func (q *Queries) ListBallots(ctx context.Context, caseID string) ([]*Ballot, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT ballot_id, case_id, juror_id, votes, reasoning_summary, vote, principles_relied_on, confidence, ballot_hash, signature, created_at
		FROM ballots WHERE case_id=$1 ORDER BY created_at ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Ballot
	for rows.Next() {
		var b Ballot
		var votesJSON, principlesJSON sql.NullString
		var confidence sql.NullFloat64
		var createdAt string
		if err := rows.Scan(&b.BallotID, &b.CaseID, &b.JurorID, &votesJSON, &b.ReasoningSummary, &b.Vote, &principlesJSON, &confidence, &b.BallotHash, &b.Signature, &createdAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(votesJSON, &b.Votes); err != nil {
			return nil, err
		}
		_ = unmarshalJSON(principlesJSON, &b.PrinciplesReliedOn)
		if confidence.Valid {
			v := confidence.Float64
			b.Confidence = &v
		}
		if b.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
