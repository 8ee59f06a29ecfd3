package store

import (
	"context"
	"database/sql"
	"errors"
)

const caseColumns = `case_id, public_slug, status, session_stage, ruleset_version,
	prosecution_agent_id, defendant_agent_id, defence_agent_id, defence_state,
	replacement_count_ready, replacement_count_vote,
	filed_at, scheduled_session_start_at,
	drand_round, drand_randomness, pool_snapshot_hash, selection_proof_hash,
	verdict_hash, outcome, void_reason, voided_at,
	seal_status, seal_asset_id, seal_tx_sig, seal_uri, metadata_uri, sealed_at,
	treasury_tx_sig, defence_invite_status, defence_invite_attempts, defence_invite_last_error,
	last_event_seq_no, created_at, updated_at`

// CreateCase inserts a new case row in draft status.
func (q *Queries) CreateCase(ctx context.Context, c *Case) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO cases (`+caseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34)
	`,
		c.CaseID, c.PublicSlug, string(c.Status), string(c.SessionStage), c.RulesetVersion,
		c.ProsecutionAgentID, nullableStr(c.DefendantAgentID), nullableStr(c.DefenceAgentID), string(c.DefenceState),
		c.ReplacementCountReady, c.ReplacementCountVote,
		formatTime(c.FiledAt), formatTimePtr(c.ScheduledSessionStartAt),
		nullableInt64(c.DrandRound), nullableStr(c.DrandRandomness), nullableStr(c.PoolSnapshotHash), nullableStr(c.SelectionProofHash),
		nullableStr(c.VerdictHash), nullableStr(string(c.Outcome)), nullableStr(string(c.VoidReason)), formatTimePtr(c.VoidedAt),
		string(c.SealStatus), nullableStr(c.SealAssetID), nullableStr(c.SealTxSig), nullableStr(c.SealURI), nullableStr(c.MetadataURI), formatTimePtr(c.SealedAt),
		nullableStr(c.TreasuryTxSig), c.DefenceInviteStatus, c.DefenceInviteAttempts, nullableStr(c.DefenceInviteLastErr),
		c.LastEventSeqNo, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// UpdateCase rewrites every mutable column of a case row. Called
// inside WithTx alongside the runtime/transcript/seal-job writes that
// make up one atomic state transition.
func (q *Queries) UpdateCase(ctx context.Context, c *Case) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE cases SET
			status=$1, session_stage=$2, defence_agent_id=$3, defence_state=$4,
			replacement_count_ready=$5, replacement_count_vote=$6,
			scheduled_session_start_at=$7,
			drand_round=$8, drand_randomness=$9, pool_snapshot_hash=$10, selection_proof_hash=$11,
			verdict_hash=$12, outcome=$13, void_reason=$14, voided_at=$15,
			seal_status=$16, seal_asset_id=$17, seal_tx_sig=$18, seal_uri=$19, metadata_uri=$20, sealed_at=$21,
			treasury_tx_sig=$22, defence_invite_status=$23, defence_invite_attempts=$24, defence_invite_last_error=$25,
			last_event_seq_no=$26, updated_at=$27
		WHERE case_id=$28
	`,
		string(c.Status), string(c.SessionStage), nullableStr(c.DefenceAgentID), string(c.DefenceState),
		c.ReplacementCountReady, c.ReplacementCountVote,
		formatTimePtr(c.ScheduledSessionStartAt),
		nullableInt64(c.DrandRound), nullableStr(c.DrandRandomness), nullableStr(c.PoolSnapshotHash), nullableStr(c.SelectionProofHash),
		nullableStr(c.VerdictHash), nullableStr(string(c.Outcome)), nullableStr(string(c.VoidReason)), formatTimePtr(c.VoidedAt),
		string(c.SealStatus), nullableStr(c.SealAssetID), nullableStr(c.SealTxSig), nullableStr(c.SealURI), nullableStr(c.MetadataURI), formatTimePtr(c.SealedAt),
		nullableStr(c.TreasuryTxSig), c.DefenceInviteStatus, c.DefenceInviteAttempts, nullableStr(c.DefenceInviteLastErr),
		c.LastEventSeqNo, formatTime(c.UpdatedAt),
		c.CaseID,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetCase fetches a case by internal id.
func (q *Queries) GetCase(ctx context.Context, caseID string) (*Case, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE case_id = $1`, caseID)
	return scanCase(row)
}

// GetCaseByPublicSlug fetches a case by its public-facing slug.
func (q *Queries) GetCaseByPublicSlug(ctx context.Context, slug string) (*Case, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE public_slug = $1`, slug)
	return scanCase(row)
}

// ListOpenCases returns every case whose status has not reached a
// terminal value, for the session engine's per-tick scan.
func (q *Queries) ListOpenCases(ctx context.Context) ([]*Case, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE status NOT IN ('closed','sealed','void') ORDER BY filed_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Case
	for rows.Next() {
		c, err := scanCaseRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row *sql.Row) (*Case, error) {
	c, err := scanCaseInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func scanCaseRows(rows *sql.Rows) (*Case, error) {
	return scanCaseInto(rows)
}

func scanCaseInto(s rowScanner) (*Case, error) {
	var c Case
	var defendantAgentID, defenceAgentID sql.NullString
	var scheduledStart sql.NullString
	var drandRound sql.NullInt64
	var drandRandomness, poolHash, proofHash sql.NullString
	var verdictHash, outcome, voidReason sql.NullString
	var voidedAt sql.NullString
	var sealAssetID, sealTxSig, sealURI, metadataURI, sealedAt sql.NullString
	var treasuryTxSig, inviteLastErr sql.NullString
	var filedAt, createdAt, updatedAt string

	if err := s.Scan(
		&c.CaseID, &c.PublicSlug, &c.Status, &c.SessionStage, &c.RulesetVersion,
		&c.ProsecutionAgentID, &defendantAgentID, &defenceAgentID, &c.DefenceState,
		&c.ReplacementCountReady, &c.ReplacementCountVote,
		&filedAt, &scheduledStart,
		&drandRound, &drandRandomness, &poolHash, &proofHash,
		&verdictHash, &outcome, &voidReason, &voidedAt,
		&c.SealStatus, &sealAssetID, &sealTxSig, &sealURI, &metadataURI, &sealedAt,
		&treasuryTxSig, &c.DefenceInviteStatus, &c.DefenceInviteAttempts, &inviteLastErr,
		&c.LastEventSeqNo, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	c.DefendantAgentID = defendantAgentID.String
	c.DefenceAgentID = defenceAgentID.String
	c.DrandRound = drandRound.Int64
	c.DrandRandomness = drandRandomness.String
	c.PoolSnapshotHash = poolHash.String
	c.SelectionProofHash = proofHash.String
	c.VerdictHash = verdictHash.String
	c.Outcome = Outcome(outcome.String)
	c.VoidReason = VoidReason(voidReason.String)
	c.SealAssetID = sealAssetID.String
	c.SealTxSig = sealTxSig.String
	c.SealURI = sealURI.String
	c.MetadataURI = metadataURI.String
	c.TreasuryTxSig = treasuryTxSig.String
	c.DefenceInviteLastErr = inviteLastErr.String

	var err error
	if c.FiledAt, err = parseTime(filedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if c.ScheduledSessionStartAt, err = parseTimePtr(scheduledStart); err != nil {
		return nil, err
	}
	if c.VoidedAt, err = parseTimePtr(voidedAt); err != nil {
		return nil, err
	}
	if c.SealedAt, err = parseTimePtr(sealedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(i int64) any {
	if i == 0 {
		return nil
	}
	return i
}

// RecordTreasuryTx inserts the filing-payment transaction into the
// replay-prevention set; a unique-constraint violation maps to
// ErrConflict, so no two cases can ever record the same tx
// signature.
func (q *Queries) RecordTreasuryTx(ctx context.Context, u *UsedTreasuryTx) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO used_treasury_tx (tx_sig, case_id, agent_id, amount_lamports, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, u.TxSig, u.CaseID, u.AgentID, u.AmountLamports, formatTime(u.CreatedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}
