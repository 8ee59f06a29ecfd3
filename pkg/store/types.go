// Package store is OpenCawt's single transactional record store: one
// *sql.DB (sqlite or postgres, selected by config.DBDriver) holding
// every entity in the data model, accessed only through this package's
// typed methods and the WithTx transaction helper. No handler or
// engine package touches database/sql directly.
package store

import "time"

// CaseStatus is a case's top-level lifecycle state.
type CaseStatus string

const (
	CaseStatusDraft        CaseStatus = "draft"
	CaseStatusFiled        CaseStatus = "filed"
	CaseStatusJurySelected CaseStatus = "jury_selected"
	CaseStatusVoting       CaseStatus = "voting"
	CaseStatusClosed       CaseStatus = "closed"
	CaseStatusSealed       CaseStatus = "sealed"
	CaseStatusVoid         CaseStatus = "void"
)

// SessionStage is the case's position in the stage machine.
type SessionStage string

const (
	StagePreSession      SessionStage = "pre_session"
	StageJuryReadiness   SessionStage = "jury_readiness"
	StageOpeningAddress  SessionStage = "opening_addresses"
	StageEvidence        SessionStage = "evidence"
	StageClosingAddress  SessionStage = "closing_addresses"
	StageSummingUp       SessionStage = "summing_up"
	StageVoting          SessionStage = "voting"
	StageClosed          SessionStage = "closed"
)

// DefenceState tracks how the defendant side of a case was populated.
type DefenceState string

const (
	DefenceStateOpen            DefenceState = "open"             // any agent may volunteer
	DefenceStateNamedPending    DefenceState = "named_pending"     // a specific defendant was named, awaiting response
	DefenceStateAssigned        DefenceState = "assigned"          // defence agent locked in
	DefenceStateUnassigned      DefenceState = "unassigned"        // window expired, no defence (voids)
)

// SealStatus mirrors the seal job's lifecycle onto the case row.
type SealStatus string

const (
	SealStatusPending SealStatus = "pending"
	SealStatusMinting SealStatus = "minting"
	SealStatusSealed  SealStatus = "sealed"
	SealStatusFailed  SealStatus = "failed"
)

// Outcome is a case's (or claim's) decided direction.
type Outcome string

const (
	OutcomeForProsecution Outcome = "for_prosecution"
	OutcomeForDefence     Outcome = "for_defence"
	OutcomeVoid           Outcome = "void"
	OutcomeUndecided      Outcome = "undecided"
)

// VoidReason names why a case entered the terminal void state.
type VoidReason string

const (
	VoidMissingDefenceAssignment  VoidReason = "missing_defence_assignment"
	VoidMissingOpeningSubmission  VoidReason = "missing_opening_submission"
	VoidMissingEvidenceSubmission VoidReason = "missing_evidence_submission"
	VoidMissingClosingSubmission VoidReason = "missing_closing_submission"
	VoidMissingSummingSubmission VoidReason = "missing_summing_submission"
	VoidVotingTimeout             VoidReason = "voting_timeout"
	VoidInconclusiveVerdict       VoidReason = "inconclusive_verdict"
	VoidInsufficientJurorPool     VoidReason = "insufficient_juror_pool"
)

// Agent is a participant identified by an Ed25519 public key.
type Agent struct {
	AgentID       string
	DisplayName   string
	Bio           string
	Banned        bool
	JurorEligible bool
	NotifyURL     string
	StatsPublic   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AgentCapability is a scoped bearer token minted on an agent's behalf.
type AgentCapability struct {
	TokenHash string
	AgentID   string
	Scope     string
	ExpiresAt *time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Active reports whether the capability may still be used.
func (c AgentCapability) Active(now time.Time) bool {
	if c.RevokedAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return false
	}
	return true
}

// JurorAvailabilityState is an agent's self-reported juror status.
type JurorAvailabilityState string

const (
	JurorAvailable JurorAvailabilityState = "available"
	JurorLimited   JurorAvailabilityState = "limited"
)

// JurorAvailability records one agent's opt-in to the eligible juror pool.
type JurorAvailability struct {
	AgentID      string
	Availability JurorAvailabilityState
	Profile      string
}

// Case is the primary dispute entity.
type Case struct {
	CaseID        string
	PublicSlug    string
	Status        CaseStatus
	SessionStage  SessionStage
	RulesetVersion string

	ProsecutionAgentID string
	DefendantAgentID   string // named defendant, if any, before assignment
	DefenceAgentID     string // assigned defence agent, once set
	DefenceState       DefenceState

	ReplacementCountReady int
	ReplacementCountVote  int

	FiledAt                time.Time
	ScheduledSessionStartAt *time.Time

	DrandRound         int64
	DrandRandomness    string
	PoolSnapshotHash   string
	SelectionProofHash string

	VerdictHash    string
	Outcome        Outcome
	VoidReason     VoidReason
	VoidedAt       *time.Time

	SealStatus    SealStatus
	SealAssetID   string
	SealTxSig     string
	SealURI       string
	MetadataURI   string
	SealedAt      *time.Time

	TreasuryTxSig string

	DefenceInviteStatus   string
	DefenceInviteAttempts int
	DefenceInviteLastErr  string

	LastEventSeqNo int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Claim is one alleged wrong within a case.
type Claim struct {
	ClaimID           string
	CaseID            string
	ClaimIndex        int
	Summary           string
	RequestedRemedy   string
	AllegedPrinciples []int // subset of 1..12
	ClaimOutcome      Outcome
}

// SubmissionSide is which party a submission belongs to.
type SubmissionSide string

const (
	SideProsecution SubmissionSide = "prosecution"
	SideDefence     SubmissionSide = "defence"
)

// SubmissionPhase is the stage a submission was filed for.
type SubmissionPhase string

const (
	PhaseOpening   SubmissionPhase = "opening"
	PhaseEvidence  SubmissionPhase = "evidence"
	PhaseClosing   SubmissionPhase = "closing"
	PhaseSummingUp SubmissionPhase = "summing_up"
)

// Submission is one side's filing for one phase of a case.
type Submission struct {
	SubmissionID            string
	CaseID                  string
	Side                    SubmissionSide
	Phase                   SubmissionPhase
	Text                    string
	PrincipleCitations      []int
	ClaimPrincipleCitations map[string][]int // claimID -> principle ids
	EvidenceCitations       []string
	ContentHash             string
	CreatedAt               time.Time
}

// EvidenceKind classifies an evidence item.
type EvidenceKind string

const (
	EvidenceLog         EvidenceKind = "log"
	EvidenceTranscript  EvidenceKind = "transcript"
	EvidenceCode        EvidenceKind = "code"
	EvidenceLink        EvidenceKind = "link"
	EvidenceAttestation EvidenceKind = "attestation"
	EvidenceOther       EvidenceKind = "other"
)

// EvidenceItem is one piece of evidence filed against a case.
type EvidenceItem struct {
	EvidenceID      string
	CaseID          string
	SubmittedBy     string
	Kind            EvidenceKind
	BodyText        string
	References      []string
	AttachmentURLs  []string
	BodyHash        string
	EvidenceTypes   []string
	EvidenceStrength string
	CreatedAt       time.Time
}

// JuryMemberStatus is a panel member's readiness/voting lifecycle.
type JuryMemberStatus string

const (
	JurorPendingReady  JuryMemberStatus = "pending_ready"
	JurorReady         JuryMemberStatus = "ready"
	JurorTimedOut      JuryMemberStatus = "timed_out"
	JurorReplaced      JuryMemberStatus = "replaced"
	JurorActiveVoting  JuryMemberStatus = "active_voting"
	JurorVoted         JuryMemberStatus = "voted"
)

// JuryPanelMember is one juror's row on a case's panel.
type JuryPanelMember struct {
	CaseID              string
	JurorID             string
	ScoreHash           string
	MemberStatus        JuryMemberStatus
	ReadyDeadlineAt     *time.Time
	VotingDeadlineAt    *time.Time
	ReplacementOfJurorID string
	ReplacedByJurorID    string
	SelectionRunID       string
}

// BallotVote is one claim's finding within a juror's ballot.
type BallotVote struct {
	ClaimID           string `json:"claimId"`
	Finding           string `json:"finding"` // proven | not_proven | insufficient
	RecommendedRemedy string `json:"recommendedRemedy,omitempty"`
}

// Ballot is a juror's complete structured decision for a case.
type Ballot struct {
	BallotID          string
	CaseID            string
	JurorID           string
	Votes             []BallotVote
	ReasoningSummary  string
	Vote              string // overall recommendation, optional free text
	PrinciplesReliedOn []int // 1..3 items
	Confidence        *float64
	BallotHash        string
	Signature         string
	CreatedAt         time.Time
}

// CaseRuntime mirrors the case's authoritative deadline state.
type CaseRuntime struct {
	CaseID                  string
	CurrentStage            SessionStage
	StageStartedAt          time.Time
	StageDeadlineAt         *time.Time
	ScheduledSessionStartAt *time.Time
	VotingHardDeadlineAt    *time.Time
	VoidReason              VoidReason
	VoidedAt                *time.Time
}

// TranscriptEvent is one append-only, strictly-ordered audit record
// for a case.
type TranscriptEvent struct {
	CaseID    string
	SeqNo     int64
	ActorRole string
	ActorID   string
	EventType string
	Stage     SessionStage
	Message   string
	ArtifactRef string
	Payload   []byte // canonical JSON, nullable
	CreatedAt time.Time
}

// SealJobStatus is the seal job's own lifecycle.
type SealJobStatus string

const (
	SealJobQueued  SealJobStatus = "queued"
	SealJobMinting SealJobStatus = "minting"
	SealJobMinted  SealJobStatus = "minted"
	SealJobFailed  SealJobStatus = "failed"
)

// SealJob is the at-most-once mint request queued for a case or an
// agreement.
type SealJob struct {
	JobID        string
	CaseID       string // empty for agreement seal jobs
	ProposalID   string // empty for case seal jobs
	Status       SealJobStatus
	Attempts     int
	LastError    string
	PayloadHash  string
	RequestJSON  []byte
	ResponseJSON []byte
	ClaimedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// NonRetryablePrefix marks a terminal, never-retried failure.
const NonRetryablePrefix = "NON_RETRYABLE:"

// IsNonRetryable reports whether lastError marks a terminal failure.
func (j SealJob) IsNonRetryable() bool {
	return len(j.LastError) >= len(NonRetryablePrefix) && j.LastError[:len(NonRetryablePrefix)] == NonRetryablePrefix
}

// UsedTreasuryTx records a consumed filing-payment transaction.
type UsedTreasuryTx struct {
	TxSig          string
	CaseID         string
	AgentID        string
	AmountLamports int64
	CreatedAt      time.Time
}

// IdempotencyStatus is the claim row's own state.
type IdempotencyStatus string

const (
	IdempotencyInProgress IdempotencyStatus = "in_progress"
	IdempotencyComplete   IdempotencyStatus = "complete"
)

// IdempotencyRecord binds one (agent, method, path, key) to at most
// one outcome.
type IdempotencyRecord struct {
	AgentID         string
	Method          string
	Path            string
	IdempotencyKey  string
	RequestHash     string
	ResponseStatus  int
	ResponseJSON    []byte
	Status          IdempotencyStatus
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// AgentActionLog is the anti-replay log: one row per distinct
// (agentID, signature, timestampSec) triple ever accepted.
type AgentActionLog struct {
	AgentID      string
	ActionType   string
	CaseID       string
	Signature    string
	TimestampSec int64
	CreatedAt    time.Time
}

// AgentCaseActivity is one agent's derived participation record for a
// single resolved case, feeding the stats cache.
type AgentCaseActivity struct {
	AgentID  string
	CaseID   string
	Role     string // prosecution | defence | juror
	Won      bool
	Voided   bool
	ClosedAt time.Time
}

// AgentStatsCache is the rebuilt-on-resolution leaderboard row.
type AgentStatsCache struct {
	AgentID        string
	CasesFiled     int
	CasesDefended  int
	CasesJudged    int
	Wins           int
	Losses         int
	Voids          int
	UpdatedAt      time.Time
}

// AgreementMode is whether an OCP agreement's terms are publicly
// readable.
type AgreementMode string

const (
	AgreementPublic  AgreementMode = "public"
	AgreementPrivate AgreementMode = "private"
)

// AgreementStatus is the notarised-agreement lifecycle.
type AgreementStatus string

const (
	AgreementPending   AgreementStatus = "pending"
	AgreementAccepted  AgreementStatus = "accepted"
	AgreementSealed    AgreementStatus = "sealed"
	AgreementExpired   AgreementStatus = "expired"
	AgreementCancelled AgreementStatus = "cancelled"
)

// Agreement is a two-party notarised-agreement proposal.
type Agreement struct {
	ProposalID      string
	AgreementCode   string
	Mode            AgreementMode
	PartyAAgentID   string
	PartyBAgentID   string
	TermsHash       string
	CanonicalTerms  []byte // canonical JSON
	SigA            string
	SigB            string
	Status          AgreementStatus
	ExpiresAt       time.Time
	CreatedAt       time.Time
	AcceptedAt      *time.Time
	SealedAt        *time.Time
	SealAssetID     string
	SealTxSig       string
	SealURI         string
	MetadataURI     string
}

// WebhookOutboxStatus tracks one queued delivery's lifecycle.
type WebhookOutboxStatus string

const (
	WebhookPending WebhookOutboxStatus = "pending"
	WebhookDone    WebhookOutboxStatus = "done"
	WebhookFailed  WebhookOutboxStatus = "failed"
)

// WebhookOutboxEntry is one pending HMAC-signed webhook delivery.
type WebhookOutboxEntry struct {
	ID          string
	TargetURL   string
	Kind        string // "agent_notify" | "defence_invite" | "case_sealed"
	Body        []byte
	Attempts    int
	Status      WebhookOutboxStatus
	LastError   string
	ScheduledAt time.Time
	CreatedAt   time.Time
}
