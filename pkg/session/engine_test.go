package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ciaran88/opencawt/pkg/config"
	"github.com/Ciaran88/opencawt/pkg/crypto"
	"github.com/Ciaran88/opencawt/pkg/drand"
	"github.com/Ciaran88/opencawt/pkg/ids"
	"github.com/Ciaran88/opencawt/pkg/seal"
	"github.com/Ciaran88/opencawt/pkg/store"
)

// testRules shrinks the panel to three seats so fixtures stay small;
// every timing value keeps the shape of the production defaults.
func testRules() config.RulesConfig {
	return config.RulesConfig{
		SessionStartsAfterSeconds:      3600,
		DefenceAssignmentCutoffSeconds: 2700,
		NamedDefendantExclusiveSeconds: 900,
		NamedDefendantResponseSeconds:  86400,
		JurorReadinessSeconds:          60,
		StageSubmissionSeconds:         1800,
		JurorVoteSeconds:               900,
		VotingHardTimeoutSeconds:       1800,
		JurorPanelSize:                 3,
	}
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	store *store.Store
	eng   *Engine
	seal  *seal.Pipeline
	clk   *clock
}

func newFixture(t *testing.T, jurorCount int) *fixture {
	t.Helper()
	s, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clk := &clock{now: time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)}

	sp := seal.NewPipeline(s, seal.StubWorker{})
	sp.Now = clk.Now
	sp.OnMinted = func(ctx context.Context, job *store.SealJob, resp seal.Response) error {
		return ApplyCaseSealResult(ctx, s, job.CaseID, resp, clk.Now())
	}

	eng := NewEngine(s, drand.NewStubClient(), sp, testRules())
	eng.Now = clk.Now

	ctx := context.Background()
	seedAgent := func(id string, jurorEligible bool) {
		require.NoError(t, s.Q().UpsertAgent(ctx, &store.Agent{
			AgentID: id, JurorEligible: jurorEligible, StatsPublic: true,
			CreatedAt: clk.now, UpdatedAt: clk.now,
		}))
	}
	seedAgent("agent-pros", false)
	seedAgent("agent-def", false)
	for i := 1; i <= jurorCount; i++ {
		id := fmt.Sprintf("juror-%02d", i)
		seedAgent(id, true)
		require.NoError(t, s.Q().UpsertJurorAvailability(ctx, &store.JurorAvailability{
			AgentID: id, Availability: store.JurorAvailable,
		}))
	}

	return &fixture{store: s, eng: eng, seal: sp, clk: clk}
}

// fileCase seeds a filed case plus its runtime row and one claim, the
// state the filing handler leaves behind before the engine's first
// tick.
func (f *fixture) fileCase(t *testing.T, assigned bool) *store.Case {
	t.Helper()
	ctx := context.Background()
	now := f.clk.now
	start := now.Add(time.Duration(testRules().SessionStartsAfterSeconds) * time.Second)

	c := &store.Case{
		CaseID:              "case-1",
		PublicSlug:          "CASE1SLUG0",
		Status:              store.CaseStatusFiled,
		SessionStage:        store.StagePreSession,
		RulesetVersion:      "v1",
		ProsecutionAgentID:  "agent-pros",
		DefenceState:        store.DefenceStateOpen,
		SealStatus:          store.SealStatusPending,
		DefenceInviteStatus: "none",
		FiledAt:             now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if assigned {
		c.DefenceAgentID = "agent-def"
		c.DefenceState = store.DefenceStateAssigned
		c.ScheduledSessionStartAt = &start
	}
	require.NoError(t, f.store.Q().CreateCase(ctx, c))
	require.NoError(t, f.store.Q().UpsertCaseRuntime(ctx, &store.CaseRuntime{
		CaseID:                  c.CaseID,
		CurrentStage:            store.StagePreSession,
		StageStartedAt:          now,
		ScheduledSessionStartAt: c.ScheduledSessionStartAt,
	}))
	require.NoError(t, f.store.Q().CreateClaim(ctx, &store.Claim{
		ClaimID: "claim-1", CaseID: c.CaseID, ClaimIndex: 1,
		Summary: "breached the agreed interface contract", RequestedRemedy: "public_correction",
		AllegedPrinciples: []int{1, 4}, ClaimOutcome: store.OutcomeUndecided,
	}))
	return c
}

func (f *fixture) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, f.eng.Tick(context.Background()))
}

func (f *fixture) mustCase(t *testing.T) *store.Case {
	t.Helper()
	c, err := f.store.Q().GetCase(context.Background(), "case-1")
	require.NoError(t, err)
	return c
}

func (f *fixture) panel(t *testing.T) []*store.JuryPanelMember {
	t.Helper()
	panel, err := f.store.Q().ListJuryPanel(context.Background(), "case-1")
	require.NoError(t, err)
	return panel
}

func (f *fixture) markAllReady(t *testing.T) {
	t.Helper()
	for _, m := range activeMembers(f.panel(t)) {
		if m.MemberStatus != store.JurorPendingReady {
			continue
		}
		m.MemberStatus = store.JurorReady
		require.NoError(t, f.store.Q().UpdateJuryPanelMember(context.Background(), m))
	}
}

func (f *fixture) submitBoth(t *testing.T, phase store.SubmissionPhase) {
	t.Helper()
	for _, side := range []store.SubmissionSide{store.SideProsecution, store.SideDefence} {
		text := string(side) + " " + string(phase) + " statement"
		require.NoError(t, f.store.Q().UpsertSubmission(context.Background(), &store.Submission{
			SubmissionID: ids.New(),
			CaseID:       "case-1",
			Side:         side,
			Phase:        phase,
			Text:         text,
			ContentHash:  crypto.HashBytesHex([]byte(text)),
			CreatedAt:    f.clk.now,
		}))
	}
}

// castBallots files one ballot per still-unvoted active juror, with the
// supplied finding per claim.
func (f *fixture) castBallots(t *testing.T, votes []store.BallotVote) {
	t.Helper()
	ctx := context.Background()
	ballots, err := f.store.Q().ListBallots(ctx, "case-1")
	require.NoError(t, err)
	voted := map[string]bool{}
	for _, b := range ballots {
		voted[b.JurorID] = true
	}
	for _, m := range activeMembers(f.panel(t)) {
		if m.MemberStatus != store.JurorActiveVoting || voted[m.JurorID] {
			continue
		}
		require.NoError(t, f.store.Q().CreateBallot(ctx, &store.Ballot{
			BallotID:   ids.New(),
			CaseID:     "case-1",
			JurorID:    m.JurorID,
			Votes:      votes,
			BallotHash: crypto.HashBytesHex([]byte(m.JurorID + "-ballot")),
			Signature:  "sig-" + m.JurorID,
			CreatedAt:  f.clk.now,
		}))
	}
}

// runToVoting walks a filed case through selection, readiness, and all
// four submission phases, leaving every juror in active_voting.
func (f *fixture) runToVoting(t *testing.T) {
	t.Helper()
	f.clk.advance(time.Duration(testRules().SessionStartsAfterSeconds)*time.Second + time.Second)
	f.tick(t)
	require.Equal(t, store.StageJuryReadiness, f.mustCase(t).SessionStage)

	f.markAllReady(t)
	f.clk.advance(time.Second)
	f.tick(t)
	require.Equal(t, store.StageOpeningAddress, f.mustCase(t).SessionStage)

	for _, step := range []struct {
		phase store.SubmissionPhase
		next  store.SessionStage
	}{
		{store.PhaseOpening, store.StageEvidence},
		{store.PhaseEvidence, store.StageClosingAddress},
		{store.PhaseClosing, store.StageSummingUp},
		{store.PhaseSummingUp, store.StageVoting},
	} {
		f.submitBoth(t, step.phase)
		f.clk.advance(time.Minute)
		f.tick(t)
		require.Equal(t, step.next, f.mustCase(t).SessionStage)
	}
}

func TestEngine_HappyPathCloseAndSeal(t *testing.T) {
	f := newFixture(t, 3)
	f.fileCase(t, true)
	f.runToVoting(t)

	c := f.mustCase(t)
	require.Equal(t, store.CaseStatusVoting, c.Status)
	require.NotEmpty(t, c.DrandRandomness)
	require.NotEmpty(t, c.PoolSnapshotHash)
	require.NotEmpty(t, c.SelectionProofHash)

	f.castBallots(t, []store.BallotVote{{ClaimID: "claim-1", Finding: "proven", RecommendedRemedy: "public_correction"}})
	f.clk.advance(time.Minute)
	f.tick(t)

	c = f.mustCase(t)
	require.Equal(t, store.CaseStatusClosed, c.Status)
	require.Equal(t, store.StageClosed, c.SessionStage)
	require.Equal(t, store.OutcomeForProsecution, c.Outcome)
	require.Equal(t, store.SealStatusPending, c.SealStatus)
	require.NotEmpty(t, c.VerdictHash)

	claims, err := f.store.Q().ListClaims(context.Background(), "case-1")
	require.NoError(t, err)
	require.Equal(t, store.OutcomeForProsecution, claims[0].ClaimOutcome)

	job, err := f.store.Q().GetSealJobByCase(context.Background(), "case-1")
	require.NoError(t, err)
	require.Equal(t, store.SealJobQueued, job.Status)

	// Driving the stub worker finalises the job and seals the case
	// through the OnMinted hook.
	require.NoError(t, f.seal.Drive(context.Background(), job.JobID))
	c = f.mustCase(t)
	require.Equal(t, store.CaseStatusSealed, c.Status)
	require.Equal(t, store.SealStatusSealed, c.SealStatus)
	require.NotEmpty(t, c.SealAssetID)
	require.NotNil(t, c.SealedAt)

	job, err = f.store.Q().GetSealJobByCase(context.Background(), "case-1")
	require.NoError(t, err)
	require.Equal(t, store.SealJobMinted, job.Status)

	// The transcript carries case_closed then case_sealed, with seqNo
	// strictly increasing and gap-free from 1.
	events, err := f.store.Q().ListTranscript(context.Background(), "case-1")
	require.NoError(t, err)
	var closedIdx, sealedIdx = -1, -1
	for i, e := range events {
		require.Equal(t, int64(i+1), e.SeqNo)
		switch e.EventType {
		case "case_closed":
			closedIdx = i
		case "case_sealed":
			sealedIdx = i
		}
	}
	require.GreaterOrEqual(t, closedIdx, 0)
	require.Greater(t, sealedIdx, closedIdx)

	// Resolution stats were rebuilt inside the closing transaction.
	stats, err := f.store.Q().GetAgentStatsCache(context.Background(), "agent-pros")
	require.NoError(t, err)
	require.Equal(t, 1, stats.CasesFiled)
	require.Equal(t, 1, stats.Wins)
}

func TestEngine_ReadinessReplacement(t *testing.T) {
	f := newFixture(t, 5) // panel of 3, two alternates
	f.fileCase(t, true)

	f.clk.advance(time.Duration(testRules().SessionStartsAfterSeconds)*time.Second + time.Second)
	f.tick(t)
	panel := f.panel(t)
	require.Len(t, panel, 3)

	// Only one of the three seated jurors confirms; the other two sit
	// out the readiness window.
	readyJuror := activeMembers(panel)[0]
	readyJuror.MemberStatus = store.JurorReady
	require.NoError(t, f.store.Q().UpdateJuryPanelMember(context.Background(), readyJuror))

	f.clk.advance(time.Duration(testRules().JurorReadinessSeconds)*time.Second + time.Millisecond)
	f.tick(t)

	c := f.mustCase(t)
	require.Equal(t, 2, c.ReplacementCountReady)
	require.Equal(t, store.StageJuryReadiness, c.SessionStage)

	panel = f.panel(t)
	require.Len(t, panel, 5)
	var timedOut, replacements int
	for _, m := range panel {
		switch {
		case m.MemberStatus == store.JurorTimedOut:
			timedOut++
			require.NotEmpty(t, m.ReplacedByJurorID)
			repl, err := f.store.Q().GetJuryPanelMember(context.Background(), "case-1", m.ReplacedByJurorID)
			require.NoError(t, err)
			require.Equal(t, m.JurorID, repl.ReplacementOfJurorID)
		case m.ReplacementOfJurorID != "":
			replacements++
			require.Equal(t, store.JurorPendingReady, m.MemberStatus)
		}
	}
	require.Equal(t, 2, timedOut)
	require.Equal(t, 2, replacements)

	// Once the replacements confirm, the panel is whole and the session
	// proceeds.
	f.markAllReady(t)
	f.clk.advance(time.Second)
	f.tick(t)
	require.Equal(t, store.StageOpeningAddress, f.mustCase(t).SessionStage)
}

func TestEngine_ReadinessPoolExhaustedVoids(t *testing.T) {
	f := newFixture(t, 3) // no alternates
	f.fileCase(t, true)

	f.clk.advance(time.Duration(testRules().SessionStartsAfterSeconds)*time.Second + time.Second)
	f.tick(t)

	// No juror confirms; no replacement candidates remain.
	f.clk.advance(time.Duration(testRules().JurorReadinessSeconds)*time.Second + time.Millisecond)
	f.tick(t)

	c := f.mustCase(t)
	require.Equal(t, store.CaseStatusVoid, c.Status)
	require.Equal(t, store.VoidInsufficientJurorPool, c.VoidReason)
	require.Equal(t, store.SealStatusFailed, c.SealStatus)
}

func TestEngine_DefenceTimeoutVoids(t *testing.T) {
	f := newFixture(t, 3)
	f.fileCase(t, false)

	// Just inside the window nothing happens.
	f.clk.advance(time.Duration(testRules().DefenceAssignmentCutoffSeconds) * time.Second)
	f.tick(t)
	require.Equal(t, store.CaseStatusFiled, f.mustCase(t).Status)

	// One tick past the cutoff the case voids.
	f.clk.advance(time.Second)
	f.tick(t)

	c := f.mustCase(t)
	require.Equal(t, store.CaseStatusVoid, c.Status)
	require.Equal(t, store.OutcomeVoid, c.Outcome)
	require.Equal(t, store.VoidMissingDefenceAssignment, c.VoidReason)
	require.Equal(t, store.SealStatusFailed, c.SealStatus)
	require.NotNil(t, c.VoidedAt)

	_, err := f.store.Q().GetSealJobByCase(context.Background(), "case-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	rt, err := f.store.Q().GetCaseRuntime(context.Background(), "case-1")
	require.NoError(t, err)
	require.Equal(t, store.VoidMissingDefenceAssignment, rt.VoidReason)

	events, err := f.store.Q().ListTranscript(context.Background(), "case-1")
	require.NoError(t, err)
	require.Equal(t, "case_voided", events[len(events)-1].EventType)

	// A terminal case never ticks again.
	f.clk.advance(time.Hour)
	f.tick(t)
	require.Equal(t, store.CaseStatusVoid, f.mustCase(t).Status)
}

func TestEngine_MissingOpeningSubmissionVoids(t *testing.T) {
	f := newFixture(t, 3)
	f.fileCase(t, true)

	f.clk.advance(time.Duration(testRules().SessionStartsAfterSeconds)*time.Second + time.Second)
	f.tick(t)
	f.markAllReady(t)
	f.clk.advance(time.Second)
	f.tick(t)
	require.Equal(t, store.StageOpeningAddress, f.mustCase(t).SessionStage)

	// Prosecution files, defence never does; the deadline lapses.
	text := "prosecution opening"
	require.NoError(t, f.store.Q().UpsertSubmission(context.Background(), &store.Submission{
		SubmissionID: ids.New(), CaseID: "case-1", Side: store.SideProsecution, Phase: store.PhaseOpening,
		Text: text, ContentHash: crypto.HashBytesHex([]byte(text)), CreatedAt: f.clk.now,
	}))
	f.clk.advance(time.Duration(testRules().StageSubmissionSeconds)*time.Second + time.Millisecond)
	f.tick(t)

	c := f.mustCase(t)
	require.Equal(t, store.CaseStatusVoid, c.Status)
	require.Equal(t, store.VoidMissingOpeningSubmission, c.VoidReason)
}

func TestEngine_InconclusiveVerdictVoids(t *testing.T) {
	f := newFixture(t, 3)
	f.fileCase(t, true)
	require.NoError(t, f.store.Q().CreateClaim(context.Background(), &store.Claim{
		ClaimID: "claim-2", CaseID: "case-1", ClaimIndex: 2,
		Summary: "withheld agreed telemetry", RequestedRemedy: "data_release",
		AllegedPrinciples: []int{7}, ClaimOutcome: store.OutcomeUndecided,
	}))
	f.runToVoting(t)

	// Every juror splits the claims down the middle: one proven, one
	// not proven — no overall majority either way.
	f.castBallots(t, []store.BallotVote{
		{ClaimID: "claim-1", Finding: "proven"},
		{ClaimID: "claim-2", Finding: "not_proven"},
	})
	f.clk.advance(time.Minute)
	f.tick(t)

	c := f.mustCase(t)
	require.Equal(t, store.CaseStatusVoid, c.Status)
	require.Equal(t, store.VoidInconclusiveVerdict, c.VoidReason)
	require.Equal(t, store.SealStatusFailed, c.SealStatus)

	_, err := f.store.Q().GetSealJobByCase(context.Background(), "case-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestEngine_VotingReplacementAndHardTimeout(t *testing.T) {
	f := newFixture(t, 4) // panel of 3, one alternate
	f.fileCase(t, true)
	f.runToVoting(t)

	// Two jurors vote; the third sits out its voting window.
	votes := []store.BallotVote{{ClaimID: "claim-1", Finding: "proven", RecommendedRemedy: "public_correction"}}
	ctx := context.Background()
	active := activeMembers(f.panel(t))
	require.Len(t, active, 3)
	for _, m := range active[:2] {
		require.NoError(t, f.store.Q().CreateBallot(ctx, &store.Ballot{
			BallotID: ids.New(), CaseID: "case-1", JurorID: m.JurorID,
			Votes:      votes,
			BallotHash: crypto.HashBytesHex([]byte(m.JurorID)), Signature: "sig-" + m.JurorID, CreatedAt: f.clk.now,
		}))
	}

	f.clk.advance(time.Duration(testRules().JurorVoteSeconds)*time.Second + time.Millisecond)
	f.tick(t)

	c := f.mustCase(t)
	require.Equal(t, 1, c.ReplacementCountVote)
	require.Equal(t, store.CaseStatusVoting, c.Status)

	// The promoted alternate never votes either; the case-level hard
	// deadline forces closure with the two ballots on file.
	f.clk.advance(time.Duration(testRules().VotingHardTimeoutSeconds)*time.Second + time.Millisecond)
	f.tick(t)

	c = f.mustCase(t)
	require.Equal(t, store.CaseStatusClosed, c.Status)
	require.Equal(t, store.OutcomeForProsecution, c.Outcome)

	ballots, err := f.store.Q().ListBallots(ctx, "case-1")
	require.NoError(t, err)
	require.Len(t, ballots, 2)
}

func TestEngine_SelectionIsReproducibleFromCaseArtefacts(t *testing.T) {
	f := newFixture(t, 5)
	f.fileCase(t, true)
	f.clk.advance(time.Duration(testRules().SessionStartsAfterSeconds)*time.Second + time.Second)
	f.tick(t)

	c := f.mustCase(t)
	pool, err := f.store.Q().EligibleJurorPool(context.Background())
	require.NoError(t, err)

	candidates, err := scoredCandidatesFromProof(c, pool)
	require.NoError(t, err)
	require.Len(t, candidates, 5)

	// The seated panel is exactly the lowest-scoring prefix of the
	// re-derived candidate ordering.
	seated := map[string]bool{}
	for _, m := range activeMembers(f.panel(t)) {
		seated[m.JurorID] = true
	}
	for i := 0; i < testRules().JurorPanelSize; i++ {
		require.True(t, seated[candidates[i].AgentID], "candidate %d should hold a seat", i)
	}
}

func TestEngine_TickRecordsDiagnosticOnPoisonCase(t *testing.T) {
	f := newFixture(t, 3)
	c := f.fileCase(t, true)

	// Corrupt the runtime row out from under the case so the per-case
	// tick fails; the scan must keep going and record the failure.
	_, err := f.store.DB.Exec(`DELETE FROM case_runtime WHERE case_id = $1`, c.CaseID)
	require.NoError(t, err)

	require.NoError(t, f.eng.Tick(context.Background()))

	diag, err := f.store.Q().GetEngineDiagnostic(context.Background(), c.CaseID)
	require.NoError(t, err)
	require.Equal(t, 1, diag.FailureCount)
	require.Contains(t, diag.LastError, "not found")
}
