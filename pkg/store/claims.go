package store

import (
	"context"
	"database/sql"
	"errors"
)

// CreateClaim inserts one claim for a case.
func (q *Queries) CreateClaim(ctx context.Context, c *Claim) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO claims (claim_id, case_id, claim_index, summary, requested_remedy, alleged_principles, claim_outcome)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, c.ClaimID, c.CaseID, c.ClaimIndex, c.Summary, c.RequestedRemedy, marshalJSON(c.AllegedPrinciples), string(c.ClaimOutcome))
	return err
}

// ListClaims returns a case's claims ordered by claim_index.
func (q *Queries) ListClaims(ctx context.Context, caseID string) ([]*Claim, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT claim_id, case_id, claim_index, summary, requested_remedy, alleged_principles, claim_outcome
		FROM claims WHERE case_id = $1 ORDER BY claim_index ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Claim
	for rows.Next() {
		var c Claim
		var principlesJSON sql.NullString
		if err := rows.Scan(&c.ClaimID, &c.CaseID, &c.ClaimIndex, &c.Summary, &c.RequestedRemedy, &principlesJSON, &c.ClaimOutcome); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(principlesJSON, &c.AllegedPrinciples); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// UpdateClaimOutcome sets the verdict engine's finding for one claim.
func (q *Queries) UpdateClaimOutcome(ctx context.Context, claimID string, outcome Outcome) error {
	_, err := q.q.ExecContext(ctx, `UPDATE claims SET claim_outcome = $1 WHERE claim_id = $2`, string(outcome), claimID)
	return err
}

// UpsertSubmission inserts a side's filing for a phase, or replaces
// it on re-submission; (caseId, side, phase) stays unique.
func (q *Queries) UpsertSubmission(ctx context.Context, s *Submission) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO submissions (submission_id, case_id, side, phase, text, principle_citations, claim_principle_citations, evidence_citations, content_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (case_id, side, phase) DO UPDATE SET
			submission_id=$1, text=$5, principle_citations=$6, claim_principle_citations=$7, evidence_citations=$8, content_hash=$9, created_at=$10
	`, s.SubmissionID, s.CaseID, string(s.Side), string(s.Phase), s.Text,
		marshalJSON(s.PrincipleCitations), marshalJSON(s.ClaimPrincipleCitations), marshalJSON(s.EvidenceCitations),
		s.ContentHash, formatTime(s.CreatedAt))
	return err
}

// GetSubmission fetches the submission for one (case, side, phase).
func (q *Queries) GetSubmission(ctx context.Context, caseID string, side SubmissionSide, phase SubmissionPhase) (*Submission, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT submission_id, case_id, side, phase, text, principle_citations, claim_principle_citations, evidence_citations, content_hash, created_at
		FROM submissions WHERE case_id=$1 AND side=$2 AND phase=$3`, caseID, string(side), string(phase))

	var s Submission
	var principles, claimPrinciples, evidence sql.NullString
	var createdAt string
	if err := row.Scan(&s.SubmissionID, &s.CaseID, &s.Side, &s.Phase, &s.Text, &principles, &claimPrinciples, &evidence, &s.ContentHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := unmarshalJSON(principles, &s.PrincipleCitations); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(claimPrinciples, &s.ClaimPrincipleCitations); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(evidence, &s.EvidenceCitations); err != nil {
		return nil, err
	}
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSubmissions returns every submission filed so far for a case.
func (q *Queries) ListSubmissions(ctx context.Context, caseID string) ([]*Submission, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT submission_id, case_id, side, phase, text, principle_citations, claim_principle_citations, evidence_citations, content_hash, created_at
		FROM submissions WHERE case_id=$1 ORDER BY created_at ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Submission
	for rows.Next() {
		var s Submission
		var principles, claimPrinciples, evidence sql.NullString
		var createdAt string
		if err := rows.Scan(&s.SubmissionID, &s.CaseID, &s.Side, &s.Phase, &s.Text, &principles, &claimPrinciples, &evidence, &s.ContentHash, &createdAt); err != nil {
			return nil, err
		}
		_ = unmarshalJSON(principles, &s.PrincipleCitations)
		_ = unmarshalJSON(claimPrinciples, &s.ClaimPrincipleCitations)
		_ = unmarshalJSON(evidence, &s.EvidenceCitations)
		if s.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// CreateEvidenceItem inserts one piece of evidence, subject to the
// caller's per-case quota checks.
func (q *Queries) CreateEvidenceItem(ctx context.Context, e *EvidenceItem) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO evidence_items (evidence_id, case_id, submitted_by, kind, body_text, "references", attachment_urls, body_hash, evidence_types, evidence_strength, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.EvidenceID, e.CaseID, e.SubmittedBy, string(e.Kind), e.BodyText, marshalJSON(e.References), marshalJSON(e.AttachmentURLs), e.BodyHash, marshalJSON(e.EvidenceTypes), e.EvidenceStrength, formatTime(e.CreatedAt))
	return err
}

// EvidenceStats returns the running item count and total character
// count for a case's evidence, to enforce the per-case quotas.
func (q *Queries) EvidenceStats(ctx context.Context, caseID string) (count int, totalChars int, err error) {
	row := q.q.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(LENGTH(body_text)),0) FROM evidence_items WHERE case_id=$1`, caseID)
	err = row.Scan(&count, &totalChars)
	return
}

// ListEvidence returns every evidence item filed for a case.
func (q *Queries) ListEvidence(ctx context.Context, caseID string) ([]*EvidenceItem, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT evidence_id, case_id, submitted_by, kind, body_text, "references", attachment_urls, body_hash, evidence_types, evidence_strength, created_at
		FROM evidence_items WHERE case_id=$1 ORDER BY created_at ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*EvidenceItem
	for rows.Next() {
		var e EvidenceItem
		var refs, attachments, types sql.NullString
		var createdAt string
		if err := rows.Scan(&e.EvidenceID, &e.CaseID, &e.SubmittedBy, &e.Kind, &e.BodyText, &refs, &attachments, &e.BodyHash, &types, &e.EvidenceStrength, &createdAt); err != nil {
			return nil, err
		}
		_ = unmarshalJSON(refs, &e.References)
		_ = unmarshalJSON(attachments, &e.AttachmentURLs)
		_ = unmarshalJSON(types, &e.EvidenceTypes)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
