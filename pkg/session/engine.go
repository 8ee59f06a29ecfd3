// Package session drives the per-case stage machine: one
// logical timer loop observes every open case and performs at most one
// transition per tick, each transition executed inside a single store
// transaction so the case row, runtime row, and transcript can never
// diverge. The process-local in-flight closure lock keeps one
// process from entering the closing pipeline twice for the same
// case.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Ciaran88/opencawt/pkg/config"
	"github.com/Ciaran88/opencawt/pkg/drand"
	"github.com/Ciaran88/opencawt/pkg/jury"
	"github.com/Ciaran88/opencawt/pkg/seal"
	"github.com/Ciaran88/opencawt/pkg/store"
)

// Engine ticks every open case forward. It holds no per-case state of
// its own beyond the in-process closing lock: everything else lives in
// the store so multiple processes could in principle run the engine
// (the closing lock is this process's optimization, not a correctness
// requirement, since the store transaction is still the authority).
type Engine struct {
	Store  *store.Store
	Drand  drand.Client
	Seal   *seal.Pipeline
	Rules  config.RulesConfig
	Now    func() time.Time
	Logger *slog.Logger

	closingMu sync.Mutex
	closing   map[string]bool
}

// NewEngine builds an engine logging through slog.Default() unless
// overridden.
func NewEngine(s *store.Store, d drand.Client, sp *seal.Pipeline, rules config.RulesConfig) *Engine {
	return &Engine{
		Store:   s,
		Drand:   d,
		Seal:    sp,
		Rules:   rules,
		Now:     time.Now,
		Logger:  slog.Default(),
		closing: make(map[string]bool),
	}
}

// Run loops Tick every interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.Logger.Error("session engine tick failed", "error", err)
			}
		}
	}
}

// Tick scans every non-terminal case and attempts one transition each.
// A per-case failure is recorded to engine_diagnostics and does not
// block the rest of the scan.
func (e *Engine) Tick(ctx context.Context) error {
	cases, err := e.Store.Q().ListOpenCases(ctx)
	if err != nil {
		return fmt.Errorf("session: list open cases: %w", err)
	}
	for _, c := range cases {
		if err := e.tickCase(ctx, c.CaseID); err != nil {
			e.Logger.Error("case tick failed", "caseId", c.CaseID, "error", err)
			_ = e.recordDiagnostic(ctx, c.CaseID, err)
		}
	}
	return nil
}

func (e *Engine) recordDiagnostic(ctx context.Context, caseID string, tickErr error) error {
	return e.Store.Q().RecordEngineDiagnostic(ctx, caseID, tickErr.Error(), e.Now().UTC().Format(time.RFC3339Nano))
}

// tickCase loads a case and dispatches on its current stage, running
// the transition (if any) inside a single transaction.
func (e *Engine) tickCase(ctx context.Context, caseID string) error {
	if e.isClosing(caseID) {
		return nil
	}

	return e.Store.WithTx(ctx, func(q *store.Queries) error {
		c, err := q.GetCase(ctx, caseID)
		if err != nil {
			return err
		}
		if c.Status == store.CaseStatusClosed || c.Status == store.CaseStatusSealed || c.Status == store.CaseStatusVoid {
			return nil
		}
		rt, err := q.GetCaseRuntime(ctx, caseID)
		if err != nil {
			return err
		}

		now := e.Now()
		switch rt.CurrentStage {
		case store.StagePreSession:
			return e.tickPreSession(ctx, q, c, rt, now)
		case store.StageJuryReadiness:
			return e.tickJuryReadiness(ctx, q, c, rt, now)
		case store.StageOpeningAddress:
			return e.tickStage(ctx, q, c, rt, now, store.PhaseOpening, store.StageEvidence, store.VoidMissingOpeningSubmission)
		case store.StageEvidence:
			return e.tickStage(ctx, q, c, rt, now, store.PhaseEvidence, store.StageClosingAddress, store.VoidMissingEvidenceSubmission)
		case store.StageClosingAddress:
			return e.tickStage(ctx, q, c, rt, now, store.PhaseClosing, store.StageSummingUp, store.VoidMissingClosingSubmission)
		case store.StageSummingUp:
			return e.tickSummingUp(ctx, q, c, rt, now)
		case store.StageVoting:
			return e.tickVoting(ctx, q, c, rt, now)
		}
		return nil
	})
}

func (e *Engine) isClosing(caseID string) bool {
	e.closingMu.Lock()
	defer e.closingMu.Unlock()
	return e.closing[caseID]
}

func (e *Engine) markClosing(caseID string) bool {
	e.closingMu.Lock()
	defer e.closingMu.Unlock()
	if e.closing[caseID] {
		return false
	}
	e.closing[caseID] = true
	return true
}

func (e *Engine) clearClosing(caseID string) {
	e.closingMu.Lock()
	defer e.closingMu.Unlock()
	delete(e.closing, caseID)
}

func appendEvent(ctx context.Context, q *store.Queries, caseID, actorRole, eventType string, stage store.SessionStage, message string, now time.Time) error {
	return q.AppendTranscriptEvent(ctx, &store.TranscriptEvent{
		CaseID:    caseID,
		ActorRole: actorRole,
		EventType: eventType,
		Stage:     stage,
		Message:   message,
		CreatedAt: now,
	})
}

func voidCase(ctx context.Context, q *store.Queries, c *store.Case, rt *store.CaseRuntime, reason store.VoidReason, now time.Time) error {
	c.Status = store.CaseStatusVoid
	c.Outcome = store.OutcomeVoid
	c.VoidReason = reason
	c.VoidedAt = &now
	c.SealStatus = store.SealStatusFailed
	c.UpdatedAt = now
	if err := q.UpdateCase(ctx, c); err != nil {
		return err
	}
	rt.VoidReason = reason
	rt.VoidedAt = &now
	if err := q.UpsertCaseRuntime(ctx, rt); err != nil {
		return err
	}
	if err := recordCaseResolution(ctx, q, c, now); err != nil {
		return err
	}
	return appendEvent(ctx, q, c.CaseID, "system", "case_voided", rt.CurrentStage, string(reason), now)
}

func transitionStage(ctx context.Context, q *store.Queries, c *store.Case, rt *store.CaseRuntime, next store.SessionStage, deadline time.Time, now time.Time) error {
	c.SessionStage = next
	c.UpdatedAt = now
	if err := q.UpdateCase(ctx, c); err != nil {
		return err
	}
	rt.CurrentStage = next
	rt.StageStartedAt = now
	rt.StageDeadlineAt = &deadline
	if err := q.UpsertCaseRuntime(ctx, rt); err != nil {
		return err
	}
	return appendEvent(ctx, q, c.CaseID, "system", "stage_advanced", next, string(next), now)
}

// scoredCandidatesFromProof re-derives the ranked candidate list from
// a case's pool snapshot and randomness, the same deterministic
// sequence used at initial selection, so replacement promotion always
// draws from the identical ordering.
func scoredCandidatesFromProof(c *store.Case, eligiblePool []string) ([]jury.ScoredCandidate, error) {
	result, err := jury.Select(c.CaseID, eligiblePool, c.DrandRandomness, len(eligiblePool))
	if err != nil {
		return nil, err
	}
	return result.ScoredCandidates, nil
}

// usedAgentIDs returns every agent already seated (ready, voting,
// replaced, or timed out) on a case's panel, so replacement promotion
// never reuses a candidate.
func usedAgentIDs(panel []*store.JuryPanelMember) map[string]bool {
	used := map[string]bool{}
	for _, m := range panel {
		used[m.JurorID] = true
	}
	return used
}

func sortedStrings(in map[string]bool) []string {
	out := make([]string, 0, len(in))
	for k := range in {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
