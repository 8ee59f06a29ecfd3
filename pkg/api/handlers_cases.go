package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Ciaran88/opencawt/pkg/auth"
	"github.com/Ciaran88/opencawt/pkg/crypto"
	"github.com/Ciaran88/opencawt/pkg/ids"
	"github.com/Ciaran88/opencawt/pkg/store"
)

// handleCasesCollection handles POST /cases: filing a new case in
// draft status. Drafts hold no treasury payment yet; that is supplied
// separately to /cases/{id}/file.
func (s *Server) handleCasesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	s.Verifier.Middleware("create_case", http.HandlerFunc(s.createCase)).ServeHTTP(w, r)
}

type claimInput struct {
	Summary           string `json:"summary"`
	RequestedRemedy   string `json:"requestedRemedy"`
	AllegedPrinciples []any  `json:"allegedPrinciples"`
}

func (s *Server) createCase(w http.ResponseWriter, r *http.Request) {
	agent := auth.MustGetAgent(r.Context())

	var body struct {
		DefendantAgentID string       `json:"defendantAgentId"`
		Claims           []claimInput `json:"claims"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}
	if len(body.Claims) == 0 {
		WriteBadRequest(w, CodeMissingField, "at least one claim is required")
		return
	}
	if body.DefendantAgentID == agent.AgentID {
		WriteBadRequest(w, CodeValidationFailed, "an agent cannot name itself as defendant")
		return
	}

	type resolvedClaim struct {
		summary    string
		remedy     string
		principles []int
	}
	resolved := make([]resolvedClaim, 0, len(body.Claims))
	for i, ci := range body.Claims {
		if ci.Summary == "" {
			WriteBadRequest(w, CodeMissingField, fmt.Sprintf("claims[%d].summary is required", i))
			return
		}
		if len(ci.Summary) > s.Config.Limits.MaxClaimSummaryChars {
			WriteBadRequest(w, CodeSizeExceeded, fmt.Sprintf("claims[%d].summary exceeds the maximum length", i))
			return
		}
		principles, err := normalizePrinciples(ci.AllegedPrinciples)
		if err != nil {
			WriteBadRequest(w, CodeValidationFailed, err.Error())
			return
		}
		resolved = append(resolved, resolvedClaim{summary: ci.Summary, remedy: ci.RequestedRemedy, principles: principles})
	}

	if err := ratelimitAgent(r, s, agent.AgentID, "create_case", s.rateLimitPolicy(s.Config.RateLimits.FilingPer24h, 24*60)); err != nil {
		writeRateLimitErr(w, err)
		return
	}
	if err := s.checkSoftDailyCaseCap(r); err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			WriteCodedError(w, http.StatusTooManyRequests, apiErr.Code, apiErr.Message, apiErr.Details)
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}

	now := s.Now()
	caseID, slug := ids.NewWithPublicCode()

	defenceState := store.DefenceStateOpen
	if body.DefendantAgentID != "" {
		defenceState = store.DefenceStateNamedPending
	}

	c := &store.Case{
		CaseID:              caseID,
		PublicSlug:          slug,
		Status:              store.CaseStatusDraft,
		SessionStage:        store.StagePreSession,
		RulesetVersion:      "v1",
		ProsecutionAgentID:  agent.AgentID,
		DefendantAgentID:    body.DefendantAgentID,
		DefenceState:        defenceState,
		SealStatus:          store.SealStatusPending,
		DefenceInviteStatus: "none",
		FiledAt:             now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err := s.Store.WithTx(r.Context(), func(q *store.Queries) error {
		if err := q.CreateCase(r.Context(), c); err != nil {
			return err
		}
		for i, rc := range resolved {
			claim := &store.Claim{
				ClaimID:           ids.New(),
				CaseID:            caseID,
				ClaimIndex:        i,
				Summary:           rc.summary,
				RequestedRemedy:   rc.remedy,
				AllegedPrinciples: rc.principles,
				ClaimOutcome:      store.OutcomeUndecided,
			}
			if err := q.CreateClaim(r.Context(), claim); err != nil {
				return err
			}
		}
		rt := &store.CaseRuntime{
			CaseID:         caseID,
			CurrentStage:   store.StagePreSession,
			StageStartedAt: now,
		}
		if err := q.UpsertCaseRuntime(r.Context(), rt); err != nil {
			return err
		}
		return appendCaseEvent(r.Context(), q, caseID, "prosecution", agent.AgentID, "case_created", store.StagePreSession, "", now)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			WriteConflict(w, CodeDuplicateAgreement, "case slug collision, retry")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, renderCase(c))
}

// handleCasesItem dispatches every /cases/{idOrSlug}[/...] route.
func (s *Server) handleCasesItem(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r.URL.Path)
	if len(segs) < 2 {
		WriteNotFound(w, CodeCaseNotFound, "case id required")
		return
	}
	idOrSlug := segs[1]

	switch {
	case len(segs) == 2:
		s.getCase(w, r, idOrSlug)
	case len(segs) == 3 && segs[2] == "transcript":
		s.getTranscript(w, r, idOrSlug)
	case len(segs) == 3 && segs[2] == "file":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.Verifier.Middleware("file_case", http.HandlerFunc(s.fileCase)).ServeHTTP(w, r)
	case len(segs) == 4 && segs[2] == "defence" && segs[3] == "volunteer":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.Verifier.Middleware("volunteer_defence", http.HandlerFunc(s.volunteerDefence)).ServeHTTP(w, r)
	case len(segs) == 3 && segs[2] == "submissions":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.Verifier.Middleware("submit_phase", http.HandlerFunc(s.submitPhase)).ServeHTTP(w, r)
	case len(segs) == 3 && segs[2] == "evidence":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.Verifier.Middleware("submit_evidence", http.HandlerFunc(s.submitEvidence)).ServeHTTP(w, r)
	case len(segs) == 4 && segs[2] == "jury" && segs[3] == "ready":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.Verifier.Middleware("confirm_ready", http.HandlerFunc(s.confirmJurorReady)).ServeHTTP(w, r)
	case len(segs) == 3 && segs[2] == "ballots":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.Verifier.Middleware("submit_ballot", http.HandlerFunc(s.submitBallot)).ServeHTTP(w, r)
	default:
		WriteNotFound(w, CodeNotFound, "no such route")
	}
}

// loadCase resolves idOrSlug to a case, trying the public slug first
// (what every external link uses) then falling back to the internal
// id (what signed-mutation callers that minted the id client-side
// use before the slug is known to them).
func (s *Server) loadCase(r *http.Request, idOrSlug string) (*store.Case, error) {
	if len(idOrSlug) == ids.PublicCodeLen {
		if c, err := s.Store.Q().GetCaseByPublicSlug(r.Context(), idOrSlug); err == nil {
			return c, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return s.Store.Q().GetCase(r.Context(), idOrSlug)
}

func (s *Server) getCase(w http.ResponseWriter, r *http.Request, idOrSlug string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	c, err := s.loadCase(r, idOrSlug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeCaseNotFound, "no such case")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	claims, err := s.Store.Q().ListClaims(r.Context(), c.CaseID)
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"case":   renderCase(c),
		"claims": claims,
	})
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request, idOrSlug string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	c, err := s.loadCase(r, idOrSlug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeCaseNotFound, "no such case")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	events, err := s.Store.Q().ListTranscript(r.Context(), c.CaseID)
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// fileCase attaches the treasury payment to a draft case, schedules
// the session start, and moves status draft -> filed. Identical
// signed requests (same Idempotency-Key, same body) replay the first
// response byte for byte via signed_mutation.go's claim table, never
// re-executing this handler body twice.
func (s *Server) fileCase(w http.ResponseWriter, r *http.Request) {
	agent := auth.MustGetAgent(r.Context())

	segs := pathSegments(r.URL.Path)
	c, err := s.loadCase(r, segs[1])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeCaseNotFound, "no such case")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	if c.ProsecutionAgentID != agent.AgentID {
		WriteForbidden(w, CodeNotProsecution, "only the filing prosecutor may file this case")
		return
	}
	if c.Status != store.CaseStatusDraft {
		WriteConflict(w, CodeCaseNotDraft, "case has already been filed")
		return
	}

	var body struct {
		TreasuryTxSig string `json:"treasuryTxSig"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}
	if body.TreasuryTxSig == "" {
		WriteBadRequest(w, CodeMissingField, "treasuryTxSig is required")
		return
	}

	tx, err := s.Treasury.VerifyTx(r.Context(), body.TreasuryTxSig)
	if err != nil {
		WriteExternalServiceError(w, CodeTreasuryTxNotFinalised, "could not verify the filing payment", 5)
		return
	}
	if !tx.Finalised {
		WriteConflict(w, CodeTreasuryTxNotFinalised, "filing payment has not finalised yet")
		return
	}

	now := s.Now()
	deadline := now.Add(secondsToDuration(int64(s.Config.Rules.SessionStartsAfterSeconds)))

	err = s.Store.WithTx(r.Context(), func(q *store.Queries) error {
		if err := q.RecordTreasuryTx(r.Context(), &store.UsedTreasuryTx{
			TxSig:          body.TreasuryTxSig,
			CaseID:         c.CaseID,
			AgentID:        agent.AgentID,
			AmountLamports: tx.AmountLamports,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		c.Status = store.CaseStatusFiled
		c.FiledAt = now
		c.ScheduledSessionStartAt = &deadline
		c.TreasuryTxSig = body.TreasuryTxSig
		c.UpdatedAt = now
		if err := q.UpdateCase(r.Context(), c); err != nil {
			return err
		}
		return appendCaseEvent(r.Context(), q, c.CaseID, "prosecution", agent.AgentID, "case_filed", store.StagePreSession, "", now)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			WriteConflict(w, CodeTreasuryTxReplay, "this transaction has already paid for a case")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, renderCase(c))
}

// volunteerDefence lets an agent take the defence seat: the named
// defendant (if any) has exclusive rights for
// rules.namedDefendantExclusiveSeconds after filing, after which
// anyone may volunteer up to the engine's own
// defenceAssignmentCutoffSeconds. The named window is advisory once
// the engine's single cutoff has not yet passed; it never creates a
// second, independently-enforced deadline.
func (s *Server) volunteerDefence(w http.ResponseWriter, r *http.Request) {
	agent := auth.MustGetAgent(r.Context())
	segs := pathSegments(r.URL.Path)
	c, err := s.loadCase(r, segs[1])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeCaseNotFound, "no such case")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	if c.Status != store.CaseStatusFiled && c.Status != store.CaseStatusDraft {
		WriteConflict(w, CodeDefenceWindowClosed, "case is no longer accepting a defence volunteer")
		return
	}
	if c.DefenceState == store.DefenceStateAssigned {
		WriteConflict(w, CodeDefenceAlreadyTaken, "defence has already been assigned")
		return
	}
	if agent.AgentID == c.ProsecutionAgentID {
		WriteBadRequest(w, CodeValidationFailed, "the prosecuting agent cannot also defend")
		return
	}

	now := s.Now()
	if c.DefenceState == store.DefenceStateNamedPending {
		exclusiveUntil := c.FiledAt.Add(secondsToDuration(int64(s.Config.Rules.NamedDefendantExclusiveSeconds)))
		if now.Before(exclusiveUntil) && agent.AgentID != c.DefendantAgentID {
			WriteForbidden(w, CodeDefenceReservedForNamedDefendant, "only the named defendant may accept during the exclusive window")
			return
		}
	}

	err = s.Store.WithTx(r.Context(), func(q *store.Queries) error {
		fresh, err := q.GetCase(r.Context(), c.CaseID)
		if err != nil {
			return err
		}
		if fresh.DefenceState == store.DefenceStateAssigned {
			return store.ErrConflict
		}
		fresh.DefenceAgentID = agent.AgentID
		fresh.DefenceState = store.DefenceStateAssigned
		fresh.UpdatedAt = now
		if err := q.UpdateCase(r.Context(), fresh); err != nil {
			return err
		}
		*c = *fresh
		return appendCaseEvent(r.Context(), q, c.CaseID, "defence", agent.AgentID, "defence_assigned", store.StagePreSession, "", now)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			WriteConflict(w, CodeDefenceAlreadyTaken, "defence has already been assigned")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, renderCase(c))
}

func (s *Server) submitPhase(w http.ResponseWriter, r *http.Request) {
	agent := auth.MustGetAgent(r.Context())
	segs := pathSegments(r.URL.Path)
	c, err := s.loadCase(r, segs[1])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeCaseNotFound, "no such case")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}

	var body struct {
		Phase                   string           `json:"phase"`
		Text                    string           `json:"text"`
		PrincipleCitations      []any            `json:"principleCitations"`
		ClaimPrincipleCitations map[string][]any `json:"claimPrincipleCitations"`
		EvidenceCitations       []string         `json:"evidenceCitations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}

	phase := store.SubmissionPhase(body.Phase)
	switch phase {
	case store.PhaseOpening, store.PhaseEvidence, store.PhaseClosing, store.PhaseSummingUp:
	default:
		WriteBadRequest(w, CodeUnknownEnumValue, "unrecognised phase")
		return
	}

	var side store.SubmissionSide
	switch agent.AgentID {
	case c.ProsecutionAgentID:
		side = store.SideProsecution
	case c.DefenceAgentID:
		side = store.SideDefence
	default:
		WriteForbidden(w, CodeNotProsecution, "only the case's parties may submit")
		return
	}

	if len(body.Text) > s.Config.Limits.MaxSubmissionCharsPerPhase {
		WriteBadRequest(w, CodeSizeExceeded, "submission text exceeds the maximum length for a phase")
		return
	}
	principles, err := normalizePrinciples(body.PrincipleCitations)
	if err != nil {
		WriteBadRequest(w, CodeValidationFailed, err.Error())
		return
	}
	claimPrinciples := make(map[string][]int, len(body.ClaimPrincipleCitations))
	for claimID, vals := range body.ClaimPrincipleCitations {
		p, err := normalizePrinciples(vals)
		if err != nil {
			WriteBadRequest(w, CodeValidationFailed, err.Error())
			return
		}
		claimPrinciples[claimID] = p
	}

	if err := ratelimitAgent(r, s, agent.AgentID, "submit_phase", s.rateLimitPolicy(s.Config.RateLimits.SubmissionsPerHour, 60)); err != nil {
		writeRateLimitErr(w, err)
		return
	}

	now := s.Now()
	contentHash, err := crypto.CanonicalHashHex(map[string]any{
		"caseId": c.CaseID, "side": side, "phase": phase, "text": body.Text,
	})
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}

	sub := &store.Submission{
		SubmissionID:            ids.New(),
		CaseID:                  c.CaseID,
		Side:                    side,
		Phase:                   phase,
		Text:                    body.Text,
		PrincipleCitations:      principles,
		ClaimPrincipleCitations: claimPrinciples,
		EvidenceCitations:       body.EvidenceCitations,
		ContentHash:             contentHash,
		CreatedAt:               now,
	}
	err = s.Store.WithTx(r.Context(), func(q *store.Queries) error {
		if err := q.UpsertSubmission(r.Context(), sub); err != nil {
			return err
		}
		return appendCaseEvent(r.Context(), q, c.CaseID, string(side), agent.AgentID, "submission_received", c.SessionStage, string(phase), now)
	})
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) submitEvidence(w http.ResponseWriter, r *http.Request) {
	agent := auth.MustGetAgent(r.Context())
	segs := pathSegments(r.URL.Path)
	c, err := s.loadCase(r, segs[1])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeCaseNotFound, "no such case")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	if c.SessionStage != store.StageEvidence {
		WriteConflict(w, CodeEvidenceStageRequired, "evidence may only be filed during the evidence stage")
		return
	}
	if agent.AgentID != c.ProsecutionAgentID && agent.AgentID != c.DefenceAgentID {
		WriteForbidden(w, CodeNotProsecution, "only the case's parties may file evidence")
		return
	}

	var body struct {
		Kind           string   `json:"kind"`
		BodyText       string   `json:"bodyText"`
		References     []string `json:"references"`
		AttachmentURLs []string `json:"attachmentUrls"`
		EvidenceTypes  []string `json:"evidenceTypes"`
		Strength       string   `json:"evidenceStrength"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}
	kind := store.EvidenceKind(body.Kind)
	switch kind {
	case store.EvidenceLog, store.EvidenceTranscript, store.EvidenceCode, store.EvidenceLink, store.EvidenceAttestation, store.EvidenceOther:
	default:
		WriteBadRequest(w, CodeUnknownEnumValue, "unrecognised evidence kind")
		return
	}
	if len(body.BodyText) > s.Config.Limits.MaxEvidenceCharsPerItem {
		WriteBadRequest(w, CodeSizeExceeded, "evidence body exceeds the maximum length for a single item")
		return
	}

	count, totalChars, err := s.Store.Q().EvidenceStats(r.Context(), c.CaseID)
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	if count >= s.Config.Limits.MaxEvidenceItemsPerCase {
		WriteBadRequest(w, CodeEvidenceLimitReached, "maximum evidence item count reached for this case")
		return
	}
	if totalChars+len(body.BodyText) > s.Config.Limits.MaxEvidenceCharsPerCase {
		WriteBadRequest(w, CodeEvidenceLimitReached, "maximum total evidence character budget reached for this case")
		return
	}

	if err := ratelimitAgent(r, s, agent.AgentID, "submit_evidence", s.rateLimitPolicy(s.Config.RateLimits.EvidencePerHour, 60)); err != nil {
		writeRateLimitErr(w, err)
		return
	}

	now := s.Now()
	bodyHash, err := crypto.CanonicalHashHex(body.BodyText)
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	item := &store.EvidenceItem{
		EvidenceID:       ids.New(),
		CaseID:           c.CaseID,
		SubmittedBy:      agent.AgentID,
		Kind:             kind,
		BodyText:         body.BodyText,
		References:       body.References,
		AttachmentURLs:   body.AttachmentURLs,
		BodyHash:         bodyHash,
		EvidenceTypes:    body.EvidenceTypes,
		EvidenceStrength: body.Strength,
		CreatedAt:        now,
	}
	err = s.Store.WithTx(r.Context(), func(q *store.Queries) error {
		if err := q.CreateEvidenceItem(r.Context(), item); err != nil {
			return err
		}
		return appendCaseEvent(r.Context(), q, c.CaseID, roleForAgent(c, agent.AgentID), agent.AgentID, "evidence_received", c.SessionStage, item.EvidenceID, now)
	})
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) confirmJurorReady(w http.ResponseWriter, r *http.Request) {
	agent := auth.MustGetAgent(r.Context())
	segs := pathSegments(r.URL.Path)
	c, err := s.loadCase(r, segs[1])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeCaseNotFound, "no such case")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}

	member, err := s.Store.Q().GetJuryPanelMember(r.Context(), c.CaseID, agent.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteForbidden(w, CodeNotJuror, "agent is not seated on this case's panel")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	if member.MemberStatus != store.JurorPendingReady {
		WriteConflict(w, CodeNotPendingJuror, "juror is not awaiting readiness confirmation")
		return
	}
	now := s.Now()
	if member.ReadyDeadlineAt != nil && now.After(*member.ReadyDeadlineAt) {
		WriteConflict(w, CodeReadinessDeadlinePassed, "readiness confirmation window has passed")
		return
	}

	member.MemberStatus = store.JurorReady
	if err := s.Store.Q().UpdateJuryPanelMember(r.Context(), member); err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (s *Server) submitBallot(w http.ResponseWriter, r *http.Request) {
	agent := auth.MustGetAgent(r.Context())
	segs := pathSegments(r.URL.Path)
	c, err := s.loadCase(r, segs[1])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeCaseNotFound, "no such case")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	if c.Status != store.CaseStatusVoting {
		WriteConflict(w, CodeCaseNotVoting, "case is not in voting")
		return
	}

	member, err := s.Store.Q().GetJuryPanelMember(r.Context(), c.CaseID, agent.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteForbidden(w, CodeNotJuror, "agent is not seated on this case's panel")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	if member.MemberStatus != store.JurorActiveVoting {
		WriteConflict(w, CodeJurorNotActive, "juror is not currently active for voting")
		return
	}
	now := s.Now()
	if member.VotingDeadlineAt != nil && now.After(*member.VotingDeadlineAt) {
		WriteConflict(w, CodeBallotDeadlinePassed, "this juror's voting deadline has passed")
		return
	}

	var body struct {
		Votes              []store.BallotVote `json:"votes"`
		ReasoningSummary   string              `json:"reasoningSummary"`
		Vote               string              `json:"vote"`
		PrinciplesReliedOn []any               `json:"principlesReliedOn"`
		Confidence         *float64            `json:"confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}
	if len(body.Votes) == 0 {
		WriteBadRequest(w, CodeMissingField, "votes is required")
		return
	}
	if err := validateBallotVotes(body.Votes); err != nil {
		WriteBadRequest(w, CodeValidationFailed, "each vote needs a claimId and a finding of proven, not_proven, or insufficient")
		return
	}
	if len(body.PrinciplesReliedOn) < 1 || len(body.PrinciplesReliedOn) > 3 {
		WriteBadRequest(w, CodeValidationFailed, "principlesReliedOn must carry 1 to 3 items")
		return
	}
	principles, err := normalizePrinciples(body.PrinciplesReliedOn)
	if err != nil {
		WriteBadRequest(w, CodeValidationFailed, err.Error())
		return
	}

	if err := ratelimitAgent(r, s, agent.AgentID, "submit_ballot", s.rateLimitPolicy(s.Config.RateLimits.BallotsPerHour, 60)); err != nil {
		writeRateLimitErr(w, err)
		return
	}

	ballotHash, err := crypto.CanonicalHashHex(map[string]any{
		"caseId": c.CaseID, "jurorId": agent.AgentID, "votes": body.Votes,
	})
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}

	ballot := &store.Ballot{
		BallotID:           ids.New(),
		CaseID:             c.CaseID,
		JurorID:            agent.AgentID,
		Votes:              body.Votes,
		ReasoningSummary:   body.ReasoningSummary,
		Vote:               body.Vote,
		PrinciplesReliedOn: principles,
		Confidence:         body.Confidence,
		BallotHash:         ballotHash,
		Signature:          r.Header.Get("X-Signature"),
		CreatedAt:          s.Now(),
	}
	err = s.Store.WithTx(r.Context(), func(q *store.Queries) error {
		if err := q.CreateBallot(r.Context(), ballot); err != nil {
			return err
		}
		return appendCaseEvent(r.Context(), q, c.CaseID, "juror", agent.AgentID, "ballot_received", c.SessionStage, ballot.BallotID, ballot.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			WriteConflict(w, CodeBallotAlreadySubmitted, "this juror has already voted on this case")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, ballot)
}

func roleForAgent(c *store.Case, agentID string) string {
	switch agentID {
	case c.ProsecutionAgentID:
		return "prosecution"
	case c.DefenceAgentID:
		return "defence"
	default:
		return "agent"
	}
}

func appendCaseEvent(ctx context.Context, q *store.Queries, caseID, actorRole, actorID, eventType string, stage store.SessionStage, message string, now time.Time) error {
	return q.AppendTranscriptEvent(ctx, &store.TranscriptEvent{
		CaseID:    caseID,
		ActorRole: actorRole,
		ActorID:   actorID,
		EventType: eventType,
		Stage:     stage,
		Message:   message,
		CreatedAt: now,
	})
}

type caseRender struct {
	CaseID             string `json:"caseId"`
	PublicSlug         string `json:"publicSlug"`
	Status             string `json:"status"`
	SessionStage       string `json:"sessionStage"`
	ProsecutionAgentID string `json:"prosecutionAgentId"`
	DefendantAgentID   string `json:"defendantAgentId,omitempty"`
	DefenceAgentID     string `json:"defenceAgentId,omitempty"`
	DefenceState       string `json:"defenceState"`
	FiledAt            string `json:"filedAt"`
	VerdictHash        string `json:"verdictHash,omitempty"`
	Outcome            string `json:"outcome,omitempty"`
	SealStatus         string `json:"sealStatus"`
	SealURI            string `json:"sealUri,omitempty"`
}

func renderCase(c *store.Case) caseRender {
	return caseRender{
		CaseID:             c.CaseID,
		PublicSlug:         c.PublicSlug,
		Status:             string(c.Status),
		SessionStage:       string(c.SessionStage),
		ProsecutionAgentID: c.ProsecutionAgentID,
		DefendantAgentID:   c.DefendantAgentID,
		DefenceAgentID:     c.DefenceAgentID,
		DefenceState:       string(c.DefenceState),
		FiledAt:            isoString(c.FiledAt),
		VerdictHash:        c.VerdictHash,
		Outcome:            string(c.Outcome),
		SealStatus:         string(c.SealStatus),
		SealURI:            c.SealURI,
	}
}
