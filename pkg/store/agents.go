package store

import (
	"context"
	"database/sql"
	"errors"
)

// UpsertAgent inserts a new agent or updates its mutable profile
// fields, keyed on the immutable AgentID. Banned is deliberately left
// out of the ON CONFLICT clause: it is only ever flipped through
// SetBanned, never through a profile self-update.
func (q *Queries) UpsertAgent(ctx context.Context, a *Agent) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO agents (agent_id, display_name, bio, banned, juror_eligible, notify_url, stats_public, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (agent_id) DO UPDATE SET
			display_name = $2, bio = $3, juror_eligible = $5, notify_url = $6, stats_public = $7, updated_at = $9
	`, a.AgentID, a.DisplayName, a.Bio, boolToInt(a.Banned), boolToInt(a.JurorEligible), a.NotifyURL, boolToInt(a.StatsPublic), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	return err
}

// GetAgent fetches one agent by id.
func (q *Queries) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT agent_id, display_name, bio, banned, juror_eligible, notify_url, stats_public, created_at, updated_at
		FROM agents WHERE agent_id = $1`, agentID)
	return scanAgent(row)
}

func scanAgent(row *sql.Row) (*Agent, error) {
	var a Agent
	var banned, jurorEligible, statsPublic int
	var createdAt, updatedAt string
	if err := row.Scan(&a.AgentID, &a.DisplayName, &a.Bio, &banned, &jurorEligible, &a.NotifyURL, &statsPublic, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Banned = intToBool(banned)
	a.JurorEligible = intToBool(jurorEligible)
	a.StatsPublic = intToBool(statsPublic)
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// SetBanned flips an agent's banned flag; banned agents may still be
// read but can no longer pass the signed-mutation pipeline.
func (q *Queries) SetBanned(ctx context.Context, agentID string, banned bool) error {
	_, err := q.q.ExecContext(ctx, `UPDATE agents SET banned = $1 WHERE agent_id = $2`, boolToInt(banned), agentID)
	return err
}

// UpsertJurorAvailability records an agent's opt-in to the eligible
// juror pool.
func (q *Queries) UpsertJurorAvailability(ctx context.Context, j *JurorAvailability) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO juror_availability (agent_id, availability, profile)
		VALUES ($1, $2, $3)
		ON CONFLICT (agent_id) DO UPDATE SET availability = $2, profile = $3
	`, j.AgentID, string(j.Availability), j.Profile)
	return err
}

// EligibleJurorPool returns every agent eligible for jury selection:
// juror_eligible on their agent row, not banned, and opted into
// availability.
func (q *Queries) EligibleJurorPool(ctx context.Context) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT a.agent_id FROM agents a
		JOIN juror_availability j ON j.agent_id = a.agent_id
		WHERE a.banned = 0 AND a.juror_eligible = 1
		ORDER BY a.agent_id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateAgentCapability persists a newly minted scoped token, storing
// only its hash; the raw token is returned once at mint time and
// never stored.
func (q *Queries) CreateAgentCapability(ctx context.Context, c *AgentCapability) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO agent_capabilities (token_hash, agent_id, scope, expires_at, revoked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.TokenHash, c.AgentID, c.Scope, formatTimePtr(c.ExpiresAt), formatTimePtr(c.RevokedAt), formatTime(c.CreatedAt))
	return err
}

// GetAgentCapability looks a capability up by its token hash.
func (q *Queries) GetAgentCapability(ctx context.Context, tokenHash string) (*AgentCapability, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT token_hash, agent_id, scope, expires_at, revoked_at, created_at
		FROM agent_capabilities WHERE token_hash = $1`, tokenHash)

	var c AgentCapability
	var expiresAt, revokedAt sql.NullString
	var createdAt string
	if err := row.Scan(&c.TokenHash, &c.AgentID, &c.Scope, &expiresAt, &revokedAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var err error
	if c.ExpiresAt, err = parseTimePtr(expiresAt); err != nil {
		return nil, err
	}
	if c.RevokedAt, err = parseTimePtr(revokedAt); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// RevokeAgentCapability marks a capability revoked as of now.
func (q *Queries) RevokeAgentCapability(ctx context.Context, tokenHash string, revokedAtISO string) error {
	res, err := q.q.ExecContext(ctx, `UPDATE agent_capabilities SET revoked_at = $1 WHERE token_hash = $2 AND revoked_at IS NULL`, revokedAtISO, tokenHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
