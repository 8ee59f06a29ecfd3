package session

import (
	"context"
	"errors"
	"time"

	"github.com/Ciaran88/opencawt/pkg/ids"
	"github.com/Ciaran88/opencawt/pkg/jury"
	"github.com/Ciaran88/opencawt/pkg/store"
	"github.com/Ciaran88/opencawt/pkg/verdict"
)

// activeMembers returns every panel row not yet superseded by a
// replacement; a case always carries exactly Rules.JurorPanelSize of
// these once initial selection completes. A timed-out member whose
// seat was refilled keeps its row but no longer occupies a
// seat, so the replacement cross-link excludes it here.
func activeMembers(panel []*store.JuryPanelMember) []*store.JuryPanelMember {
	out := make([]*store.JuryPanelMember, 0, len(panel))
	for _, m := range panel {
		if m.MemberStatus == store.JurorReplaced || m.ReplacedByJurorID != "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

func scoreHashFor(candidates []jury.ScoredCandidate, agentID string) string {
	for _, c := range candidates {
		if c.AgentID == agentID {
			return c.ScoreHash
		}
	}
	return ""
}

func (e *Engine) tickPreSession(ctx context.Context, q *store.Queries, c *store.Case, rt *store.CaseRuntime, now time.Time) error {
	defenceCutoff := c.FiledAt.Add(time.Duration(e.Rules.DefenceAssignmentCutoffSeconds) * time.Second)
	if c.DefenceState != store.DefenceStateAssigned {
		if now.After(defenceCutoff) {
			return voidCase(ctx, q, c, rt, store.VoidMissingDefenceAssignment, now)
		}
		return nil
	}
	if c.ScheduledSessionStartAt == nil || now.Before(*c.ScheduledSessionStartAt) {
		return nil
	}
	return e.beginJurySelection(ctx, q, c, rt, now)
}

// beginJurySelection draws the beacon round, snapshots the eligible
// pool, and seats the initial panel.
func (e *Engine) beginJurySelection(ctx context.Context, q *store.Queries, c *store.Case, rt *store.CaseRuntime, now time.Time) error {
	round, err := e.Drand.RoundAfter(ctx, now)
	if err != nil {
		return err
	}
	pool, err := q.EligibleJurorPool(ctx)
	if err != nil {
		return err
	}
	if len(pool) < e.Rules.JurorPanelSize {
		return voidCase(ctx, q, c, rt, store.VoidInsufficientJurorPool, now)
	}

	result, err := jury.Select(c.CaseID, pool, round.Randomness, e.Rules.JurorPanelSize)
	if err != nil {
		return err
	}

	c.DrandRound = round.Round
	c.DrandRandomness = round.Randomness
	c.PoolSnapshotHash = result.PoolSnapshotHash
	c.SelectionProofHash = result.SelectionProofHash
	c.Status = store.CaseStatusJurySelected
	c.UpdatedAt = now
	if err := q.UpdateCase(ctx, c); err != nil {
		return err
	}

	deadline := now.Add(time.Duration(e.Rules.JurorReadinessSeconds) * time.Second)
	for _, jurorID := range result.SelectedJurors {
		m := &store.JuryPanelMember{
			CaseID:          c.CaseID,
			JurorID:         jurorID,
			ScoreHash:       scoreHashFor(result.ScoredCandidates, jurorID),
			MemberStatus:    store.JurorPendingReady,
			ReadyDeadlineAt: &deadline,
			SelectionRunID:  ids.New(),
		}
		if err := q.CreateJuryPanelMember(ctx, m); err != nil {
			return err
		}
	}
	return transitionStage(ctx, q, c, rt, store.StageJuryReadiness, deadline, now)
}

func (e *Engine) tickJuryReadiness(ctx context.Context, q *store.Queries, c *store.Case, rt *store.CaseRuntime, now time.Time) error {
	panel, err := q.ListJuryPanel(ctx, c.CaseID)
	if err != nil {
		return err
	}

	timedOut := false
	used := usedAgentIDs(panel)
	for _, m := range activeMembers(panel) {
		if m.MemberStatus != store.JurorPendingReady || m.ReadyDeadlineAt == nil || !now.After(*m.ReadyDeadlineAt) {
			continue
		}
		timedOut = true
		pool, err := q.EligibleJurorPool(ctx)
		if err != nil {
			return err
		}
		candidates, err := scoredCandidatesFromProof(c, pool)
		if err != nil {
			return err
		}

		m.MemberStatus = store.JurorTimedOut
		nextID, ok := jury.NextReplacement(candidates, used)
		if !ok {
			return voidCase(ctx, q, c, rt, store.VoidInsufficientJurorPool, now)
		}
		used[nextID] = true
		m.ReplacedByJurorID = nextID
		if err := q.UpdateJuryPanelMember(ctx, m); err != nil {
			return err
		}

		newDeadline := now.Add(time.Duration(e.Rules.JurorReadinessSeconds) * time.Second)
		replacement := &store.JuryPanelMember{
			CaseID:               c.CaseID,
			JurorID:              nextID,
			ScoreHash:            scoreHashFor(candidates, nextID),
			MemberStatus:         store.JurorPendingReady,
			ReadyDeadlineAt:      &newDeadline,
			ReplacementOfJurorID: m.JurorID,
			SelectionRunID:       ids.New(),
		}
		if err := q.CreateJuryPanelMember(ctx, replacement); err != nil {
			return err
		}
		c.ReplacementCountReady++
	}
	if timedOut {
		c.UpdatedAt = now
		if err := q.UpdateCase(ctx, c); err != nil {
			return err
		}
	}

	panel, err = q.ListJuryPanel(ctx, c.CaseID)
	if err != nil {
		return err
	}
	active := activeMembers(panel)
	if len(active) != e.Rules.JurorPanelSize {
		return nil
	}
	for _, m := range active {
		if m.MemberStatus != store.JurorReady {
			return nil
		}
	}

	deadline := now.Add(time.Duration(e.Rules.StageSubmissionSeconds) * time.Second)
	return transitionStage(ctx, q, c, rt, store.StageOpeningAddress, deadline, now)
}

// tickStage advances a submission phase once both sides have filed,
// or voids on a missed deadline.
func (e *Engine) tickStage(ctx context.Context, q *store.Queries, c *store.Case, rt *store.CaseRuntime, now time.Time, phase store.SubmissionPhase, next store.SessionStage, onMissing store.VoidReason) error {
	_, errP := q.GetSubmission(ctx, c.CaseID, store.SideProsecution, phase)
	if errP != nil && !errors.Is(errP, store.ErrNotFound) {
		return errP
	}
	_, errD := q.GetSubmission(ctx, c.CaseID, store.SideDefence, phase)
	if errD != nil && !errors.Is(errD, store.ErrNotFound) {
		return errD
	}

	if errP == nil && errD == nil {
		deadline := now.Add(time.Duration(e.Rules.StageSubmissionSeconds) * time.Second)
		return transitionStage(ctx, q, c, rt, next, deadline, now)
	}
	if rt.StageDeadlineAt != nil && now.After(*rt.StageDeadlineAt) {
		return voidCase(ctx, q, c, rt, onMissing, now)
	}
	return nil
}

func (e *Engine) tickSummingUp(ctx context.Context, q *store.Queries, c *store.Case, rt *store.CaseRuntime, now time.Time) error {
	_, errP := q.GetSubmission(ctx, c.CaseID, store.SideProsecution, store.PhaseSummingUp)
	if errP != nil && !errors.Is(errP, store.ErrNotFound) {
		return errP
	}
	_, errD := q.GetSubmission(ctx, c.CaseID, store.SideDefence, store.PhaseSummingUp)
	if errD != nil && !errors.Is(errD, store.ErrNotFound) {
		return errD
	}

	if errP == nil && errD == nil {
		return e.beginVoting(ctx, q, c, rt, now)
	}
	if rt.StageDeadlineAt != nil && now.After(*rt.StageDeadlineAt) {
		return voidCase(ctx, q, c, rt, store.VoidMissingSummingSubmission, now)
	}
	return nil
}

func (e *Engine) beginVoting(ctx context.Context, q *store.Queries, c *store.Case, rt *store.CaseRuntime, now time.Time) error {
	panel, err := q.ListJuryPanel(ctx, c.CaseID)
	if err != nil {
		return err
	}

	votingDeadline := now.Add(time.Duration(e.Rules.JurorVoteSeconds) * time.Second)
	for _, m := range activeMembers(panel) {
		if m.MemberStatus != store.JurorReady {
			continue
		}
		m.MemberStatus = store.JurorActiveVoting
		m.VotingDeadlineAt = &votingDeadline
		if err := q.UpdateJuryPanelMember(ctx, m); err != nil {
			return err
		}
	}

	hardDeadline := now.Add(time.Duration(e.Rules.VotingHardTimeoutSeconds) * time.Second)
	c.Status = store.CaseStatusVoting
	c.SessionStage = store.StageVoting
	c.UpdatedAt = now
	if err := q.UpdateCase(ctx, c); err != nil {
		return err
	}

	rt.CurrentStage = store.StageVoting
	rt.StageStartedAt = now
	rt.StageDeadlineAt = &votingDeadline
	rt.VotingHardDeadlineAt = &hardDeadline
	if err := q.UpsertCaseRuntime(ctx, rt); err != nil {
		return err
	}
	return appendEvent(ctx, q, c.CaseID, "system", "voting_opened", store.StageVoting, "voting_opened", now)
}

func (e *Engine) tickVoting(ctx context.Context, q *store.Queries, c *store.Case, rt *store.CaseRuntime, now time.Time) error {
	panel, err := q.ListJuryPanel(ctx, c.CaseID)
	if err != nil {
		return err
	}
	ballots, err := q.ListBallots(ctx, c.CaseID)
	if err != nil {
		return err
	}
	votedBy := make(map[string]bool, len(ballots))
	for _, b := range ballots {
		votedBy[b.JurorID] = true
	}

	hardExpired := rt.VotingHardDeadlineAt != nil && now.After(*rt.VotingHardDeadlineAt)
	changed := false
	used := usedAgentIDs(panel)
	for _, m := range activeMembers(panel) {
		if m.MemberStatus != store.JurorActiveVoting {
			continue
		}
		if votedBy[m.JurorID] {
			m.MemberStatus = store.JurorVoted
			if err := q.UpdateJuryPanelMember(ctx, m); err != nil {
				return err
			}
			changed = true
			continue
		}
		if hardExpired {
			continue // force-closed below without further replacement
		}
		if m.VotingDeadlineAt == nil || !now.After(*m.VotingDeadlineAt) {
			continue
		}

		pool, err := q.EligibleJurorPool(ctx)
		if err != nil {
			return err
		}
		candidates, err := scoredCandidatesFromProof(c, pool)
		if err != nil {
			return err
		}

		m.MemberStatus = store.JurorTimedOut
		if nextID, ok := jury.NextReplacement(candidates, used); ok {
			used[nextID] = true
			m.ReplacedByJurorID = nextID
			newDeadline := now.Add(time.Duration(e.Rules.JurorVoteSeconds) * time.Second)
			replacement := &store.JuryPanelMember{
				CaseID:               c.CaseID,
				JurorID:              nextID,
				ScoreHash:            scoreHashFor(candidates, nextID),
				MemberStatus:         store.JurorActiveVoting,
				VotingDeadlineAt:     &newDeadline,
				ReplacementOfJurorID: m.JurorID,
				SelectionRunID:       ids.New(),
			}
			if err := q.CreateJuryPanelMember(ctx, replacement); err != nil {
				return err
			}
			c.ReplacementCountVote++
		}
		if err := q.UpdateJuryPanelMember(ctx, m); err != nil {
			return err
		}
		changed = true
	}
	if changed {
		c.UpdatedAt = now
		if err := q.UpdateCase(ctx, c); err != nil {
			return err
		}
	}

	panel, err = q.ListJuryPanel(ctx, c.CaseID)
	if err != nil {
		return err
	}
	active := activeMembers(panel)
	allDone := true
	for _, m := range active {
		if m.MemberStatus == store.JurorActiveVoting {
			allDone = false
			break
		}
	}
	if !allDone && !hardExpired {
		return nil
	}

	ballots, err = q.ListBallots(ctx, c.CaseID)
	if err != nil {
		return err
	}
	return e.closeCase(ctx, q, c, rt, active, ballots, now)
}

// closeCase runs the verdict engine over whatever ballots are present
// (a hard-timeout close may be short of a full panel) and either
// enqueues a seal job or voids the case on an inconclusive result.
func (e *Engine) closeCase(ctx context.Context, q *store.Queries, c *store.Case, rt *store.CaseRuntime, panel []*store.JuryPanelMember, ballots []*store.Ballot, now time.Time) error {
	if !e.markClosing(c.CaseID) {
		return nil
	}
	defer e.clearClosing(c.CaseID)

	claims, err := q.ListClaims(ctx, c.CaseID)
	if err != nil {
		return err
	}
	submissions, err := q.ListSubmissions(ctx, c.CaseID)
	if err != nil {
		return err
	}
	evidence, err := q.ListEvidence(ctx, c.CaseID)
	if err != nil {
		return err
	}

	participants := make([]string, 0, len(panel))
	for _, m := range panel {
		participants = append(participants, m.JurorID)
	}
	submissionHashes := make([]string, 0, len(submissions))
	for _, s := range submissions {
		submissionHashes = append(submissionHashes, s.ContentHash)
	}
	evidenceHashes := make([]string, 0, len(evidence))
	for _, ev := range evidence {
		evidenceHashes = append(evidenceHashes, ev.BodyHash)
	}

	nowISO := now.UTC().Format(time.RFC3339Nano)
	result, err := verdict.Compute(c.CaseID, e.Rules.JurorPanelSize, participants, c.DrandRound, c.DrandRandomness, c.PoolSnapshotHash, c.SelectionProofHash, submissionHashes, evidenceHashes, claims, ballots, nowISO)
	if err != nil {
		return err
	}

	for _, cv := range result.Bundle.ClaimVerdicts {
		outcome := store.OutcomeUndecided
		switch cv.Finding {
		case "proven":
			outcome = store.OutcomeForProsecution
		case "not_proven", "insufficient":
			outcome = store.OutcomeForDefence
		}
		if err := q.UpdateClaimOutcome(ctx, cv.ClaimID, outcome); err != nil {
			return err
		}
	}

	if result.Outcome == "inconclusive" {
		return voidCase(ctx, q, c, rt, store.VoidInconclusiveVerdict, now)
	}

	c.Status = store.CaseStatusClosed
	c.SessionStage = store.StageClosed
	c.VerdictHash = result.VerdictHash
	c.Outcome = store.Outcome(result.Outcome)
	c.SealStatus = store.SealStatusPending
	c.UpdatedAt = now
	if err := q.UpdateCase(ctx, c); err != nil {
		return err
	}
	rt.CurrentStage = store.StageClosed
	rt.StageStartedAt = now
	rt.StageDeadlineAt = nil
	if err := q.UpsertCaseRuntime(ctx, rt); err != nil {
		return err
	}
	if err := recordCaseResolution(ctx, q, c, now); err != nil {
		return err
	}
	if err := appendEvent(ctx, q, c.CaseID, "system", "case_closed", store.StageClosed, result.Outcome, now); err != nil {
		return err
	}

	_, err = e.Seal.EnqueueForCase(ctx, c.CaseID, result.VerdictHash, result.Bundle)
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return err
	}
	return nil
}
