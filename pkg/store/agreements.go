package store

import (
	"context"
	"database/sql"
	"errors"
)

const agreementColumns = `proposal_id, agreement_code, mode, party_a_agent_id, party_b_agent_id,
	terms_hash, canonical_terms, sig_a, sig_b, status, expires_at, created_at,
	accepted_at, sealed_at, seal_asset_id, seal_tx_sig, seal_uri, metadata_uri`

// CreateAgreement inserts a proposed agreement. The unique
// agreement_code constraint guards against a collision in the
// public-facing lookup code.
func (q *Queries) CreateAgreement(ctx context.Context, a *Agreement) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO agreements (`+agreementColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, a.ProposalID, a.AgreementCode, string(a.Mode), a.PartyAAgentID, a.PartyBAgentID,
		a.TermsHash, string(a.CanonicalTerms), a.SigA, nullableStr(a.SigB), string(a.Status), formatTime(a.ExpiresAt), formatTime(a.CreatedAt),
		formatTimePtr(a.AcceptedAt), formatTimePtr(a.SealedAt), nullableStr(a.SealAssetID), nullableStr(a.SealTxSig), nullableStr(a.SealURI), nullableStr(a.MetadataURI))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// UpdateAgreement rewrites an agreement's mutable acceptance/seal
// fields.
func (q *Queries) UpdateAgreement(ctx context.Context, a *Agreement) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE agreements SET
			sig_b=$1, status=$2, accepted_at=$3, sealed_at=$4,
			seal_asset_id=$5, seal_tx_sig=$6, seal_uri=$7, metadata_uri=$8
		WHERE proposal_id=$9
	`, nullableStr(a.SigB), string(a.Status), formatTimePtr(a.AcceptedAt), formatTimePtr(a.SealedAt),
		nullableStr(a.SealAssetID), nullableStr(a.SealTxSig), nullableStr(a.SealURI), nullableStr(a.MetadataURI), a.ProposalID)
	return err
}

// GetAgreement fetches an agreement by its internal id.
func (q *Queries) GetAgreement(ctx context.Context, proposalID string) (*Agreement, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE proposal_id=$1`, proposalID)
	return scanAgreement(row)
}

// GetAgreementByCode fetches an agreement by its public lookup code.
func (q *Queries) GetAgreementByCode(ctx context.Context, code string) (*Agreement, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE agreement_code=$1`, code)
	return scanAgreement(row)
}

func scanAgreement(row *sql.Row) (*Agreement, error) {
	var a Agreement
	var sigB sql.NullString
	var acceptedAt, sealedAt, sealAssetID, sealTxSig, sealURI, metadataURI sql.NullString
	var expiresAt, createdAt, canonicalTerms string
	if err := row.Scan(
		&a.ProposalID, &a.AgreementCode, &a.Mode, &a.PartyAAgentID, &a.PartyBAgentID,
		&a.TermsHash, &canonicalTerms, &a.SigA, &sigB, &a.Status, &expiresAt, &createdAt,
		&acceptedAt, &sealedAt, &sealAssetID, &sealTxSig, &sealURI, &metadataURI,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.CanonicalTerms = []byte(canonicalTerms)
	a.SigB = sigB.String
	a.SealAssetID = sealAssetID.String
	a.SealTxSig = sealTxSig.String
	a.SealURI = sealURI.String
	a.MetadataURI = metadataURI.String

	var err error
	if a.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.AcceptedAt, err = parseTimePtr(acceptedAt); err != nil {
		return nil, err
	}
	if a.SealedAt, err = parseTimePtr(sealedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListExpiredPendingAgreements returns proposals still pending whose
// acceptance window has lapsed, for the expiry sweeper.
func (q *Queries) ListExpiredPendingAgreements(ctx context.Context, nowISO string) ([]*Agreement, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+agreementColumns+` FROM agreements WHERE status=$1 AND expires_at <= $2`, string(AgreementPending), nowISO)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Agreement
	for rows.Next() {
		var a Agreement
		var sigB sql.NullString
		var acceptedAt, sealedAt, sealAssetID, sealTxSig, sealURI, metadataURI sql.NullString
		var expiresAt, createdAt, canonicalTerms string
		if err := rows.Scan(
			&a.ProposalID, &a.AgreementCode, &a.Mode, &a.PartyAAgentID, &a.PartyBAgentID,
			&a.TermsHash, &canonicalTerms, &a.SigA, &sigB, &a.Status, &expiresAt, &createdAt,
			&acceptedAt, &sealedAt, &sealAssetID, &sealTxSig, &sealURI, &metadataURI,
		); err != nil {
			return nil, err
		}
		a.CanonicalTerms = []byte(canonicalTerms)
		a.SigB = sigB.String
		a.SealAssetID = sealAssetID.String
		a.SealTxSig = sealTxSig.String
		a.SealURI = sealURI.String
		a.MetadataURI = metadataURI.String
		var err error
		if a.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if a.AcceptedAt, err = parseTimePtr(acceptedAt); err != nil {
			return nil, err
		}
		if a.SealedAt, err = parseTimePtr(sealedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
