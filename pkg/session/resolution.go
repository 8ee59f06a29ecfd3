package session

import (
	"context"
	"time"

	"github.com/Ciaran88/opencawt/pkg/store"
)

// recordCaseResolution derives every participant's case-activity row
// from a case that has just closed or voided, then rebuilds each of
// their stats cache rows in the same transaction, so the leaderboard
// never lags a resolution by more than one tick.
func recordCaseResolution(ctx context.Context, q *store.Queries, c *store.Case, now time.Time) error {
	voided := c.Status == store.CaseStatusVoid

	roles := map[string]string{}
	if c.ProsecutionAgentID != "" {
		roles[c.ProsecutionAgentID] = "prosecution"
	}
	if c.DefenceAgentID != "" {
		roles[c.DefenceAgentID] = "defence"
	}
	panel, err := q.ListJuryPanel(ctx, c.CaseID)
	if err != nil {
		return err
	}
	for _, m := range activeMembers(panel) {
		if _, taken := roles[m.JurorID]; !taken {
			roles[m.JurorID] = "juror"
		}
	}

	for agentID, role := range roles {
		won := false
		if !voided {
			switch role {
			case "prosecution":
				won = c.Outcome == store.OutcomeForProsecution
			case "defence":
				won = c.Outcome == store.OutcomeForDefence
			}
		}
		if err := q.RecordAgentCaseActivity(ctx, &store.AgentCaseActivity{
			AgentID:  agentID,
			CaseID:   c.CaseID,
			Role:     role,
			Won:      won,
			Voided:   voided,
			ClosedAt: now,
		}); err != nil {
			return err
		}
		if err := rebuildStatsCache(ctx, q, agentID, now); err != nil {
			return err
		}
	}
	return nil
}

// rebuildStatsCache replays one agent's full activity history into a
// fresh agent_stats_cache row. Replaying the whole history rather than
// incrementing counters keeps the cache correct even if a resolution
// pass ever runs twice for the same case.
func rebuildStatsCache(ctx context.Context, q *store.Queries, agentID string, now time.Time) error {
	activity, err := q.ListAgentCaseActivity(ctx, agentID)
	if err != nil {
		return err
	}

	s := &store.AgentStatsCache{AgentID: agentID, UpdatedAt: now}
	filed := map[string]bool{}
	defended := map[string]bool{}
	judged := map[string]bool{}
	for _, a := range activity {
		switch a.Role {
		case "prosecution":
			if !filed[a.CaseID] {
				filed[a.CaseID] = true
				s.CasesFiled++
			}
		case "defence":
			if !defended[a.CaseID] {
				defended[a.CaseID] = true
				s.CasesDefended++
			}
		case "juror":
			if !judged[a.CaseID] {
				judged[a.CaseID] = true
				s.CasesJudged++
			}
		}
		switch {
		case a.Voided:
			s.Voids++
		case a.Won:
			s.Wins++
		default:
			s.Losses++
		}
	}
	return q.PutAgentStatsCache(ctx, s)
}
