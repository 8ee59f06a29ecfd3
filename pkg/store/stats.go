package store

import (
	"context"
	"database/sql"
	"errors"
)

// RecordAgentCaseActivity inserts one agent's derived participation
// row for a resolved case. The (agentId, caseId, role) primary key
// makes this idempotent against a retried resolution pass.
func (q *Queries) RecordAgentCaseActivity(ctx context.Context, a *AgentCaseActivity) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO agent_case_activity (agent_id, case_id, role, won, voided, closed_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (agent_id, case_id, role) DO UPDATE SET won=$4, voided=$5, closed_at=$6
	`, a.AgentID, a.CaseID, a.Role, boolToInt(a.Won), boolToInt(a.Voided), formatTime(a.ClosedAt))
	return err
}

// ListAgentCaseActivity returns one agent's full activity history, used
// to rebuild the stats cache.
func (q *Queries) ListAgentCaseActivity(ctx context.Context, agentID string) ([]*AgentCaseActivity, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT agent_id, case_id, role, won, voided, closed_at
		FROM agent_case_activity WHERE agent_id=$1`, agentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*AgentCaseActivity
	for rows.Next() {
		var a AgentCaseActivity
		var won, voided int
		var closedAt string
		if err := rows.Scan(&a.AgentID, &a.CaseID, &a.Role, &won, &voided, &closedAt); err != nil {
			return nil, err
		}
		a.Won = intToBool(won)
		a.Voided = intToBool(voided)
		if a.ClosedAt, err = parseTime(closedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// PutAgentStatsCache writes the fully-rebuilt leaderboard row for one
// agent, refreshed on every case resolution rather than computed per
// request.
func (q *Queries) PutAgentStatsCache(ctx context.Context, s *AgentStatsCache) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO agent_stats_cache (agent_id, cases_filed, cases_defended, cases_judged, wins, losses, voids, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (agent_id) DO UPDATE SET
			cases_filed=$2, cases_defended=$3, cases_judged=$4, wins=$5, losses=$6, voids=$7, updated_at=$8
	`, s.AgentID, s.CasesFiled, s.CasesDefended, s.CasesJudged, s.Wins, s.Losses, s.Voids, formatTime(s.UpdatedAt))
	return err
}

// GetAgentStatsCache fetches one agent's cached leaderboard row.
func (q *Queries) GetAgentStatsCache(ctx context.Context, agentID string) (*AgentStatsCache, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT agent_id, cases_filed, cases_defended, cases_judged, wins, losses, voids, updated_at
		FROM agent_stats_cache WHERE agent_id=$1`, agentID)

	var s AgentStatsCache
	var updatedAt string
	if err := row.Scan(&s.AgentID, &s.CasesFiled, &s.CasesDefended, &s.CasesJudged, &s.Wins, &s.Losses, &s.Voids, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var err error
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListLeaderboard returns the top stats rows ranked by wins, for the
// public leaderboard endpoint.
func (q *Queries) ListLeaderboard(ctx context.Context, limit int) ([]*AgentStatsCache, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT agent_id, cases_filed, cases_defended, cases_judged, wins, losses, voids, updated_at
		FROM agent_stats_cache ORDER BY wins DESC, cases_judged DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*AgentStatsCache
	for rows.Next() {
		var s AgentStatsCache
		var updatedAt string
		if err := rows.Scan(&s.AgentID, &s.CasesFiled, &s.CasesDefended, &s.CasesJudged, &s.Wins, &s.Losses, &s.Voids, &updatedAt); err != nil {
			return nil, err
		}
		if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
