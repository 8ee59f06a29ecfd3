// Package agreement implements the two-party notarised-agreement
// protocol: propose, accept, and verify, sharing the same
// canonical-hash and seal pipeline the dispute court uses to close a
// case.
package agreement

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/Ciaran88/opencawt/pkg/crypto"
	"github.com/Ciaran88/opencawt/pkg/ids"
	"github.com/Ciaran88/opencawt/pkg/seal"
	"github.com/Ciaran88/opencawt/pkg/store"
)

var (
	// ErrInvalidPartyID means an agentId isn't a valid base58 Ed25519
	// public key.
	ErrInvalidPartyID = errors.New("agreement: invalid party agent id")
	// ErrSignatureInvalid means sigA/sigB failed to verify over the
	// attestation payload.
	ErrSignatureInvalid = errors.New("agreement: signature invalid")
	// ErrNotPending is returned by Accept when the proposal isn't
	// awaiting acceptance.
	ErrNotPending = errors.New("agreement: proposal not pending")
	// ErrNotFound is returned when a proposalId/agreementCode has no
	// matching row.
	ErrNotFound = store.ErrNotFound
)

// ProposeRequest is the caller-supplied body of POST /agreements/propose.
// ProposalID is minted client-side (Party A must know it before sigA
// can be computed, since the attestation payload embeds it) and
// carried in the request; the server only derives the agreementCode
// deterministically from it and persists the row, rejecting reused
// ids via the store's unique constraint.
type ProposeRequest struct {
	ProposalID    string
	Mode          store.AgreementMode
	PartyAAgentID string
	PartyBAgentID string
	Terms         any
	SigA          string
	ExpiresAt     time.Time
}

// Service owns the propose/accept/verify lifecycle.
type Service struct {
	Store *store.Store
	Seal  *seal.Pipeline
	Now   func() time.Time
}

// NewService builds a Service against the shared store and seal
// pipeline.
func NewService(s *store.Store, sp *seal.Pipeline) *Service {
	return &Service{Store: s, Seal: sp, Now: time.Now}
}

// agentPubKeyHex decodes a base58 agent id into the hex public key
// crypto.Verify expects.
func agentPubKeyHex(agentID string) (string, error) {
	pub, err := crypto.DecodeAgentID(agentID)
	if err != nil {
		return "", ErrInvalidPartyID
	}
	return hex.EncodeToString(pub), nil
}

// Propose canonicalises the supplied terms, takes proposalId from the
// request and derives the 10-char agreementCode from it, derives the
// attestation payload, verifies
// sigA against Party A's key, and persists the proposal pending Party
// B's acceptance.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*store.Agreement, error) {
	pubA, err := agentPubKeyHex(req.PartyAAgentID)
	if err != nil {
		return nil, err
	}
	if _, err := agentPubKeyHex(req.PartyBAgentID); err != nil {
		return nil, err
	}
	if err := validateTerms(req.Terms); err != nil {
		return nil, err
	}

	canonicalTerms, err := crypto.CanonicalJSON(req.Terms)
	if err != nil {
		return nil, err
	}
	termsHash, err := crypto.CanonicalHashHex(req.Terms)
	if err != nil {
		return nil, err
	}

	proposalID := req.ProposalID
	agreementCode := ids.NewPublicCode(proposalID)
	expiresISO := req.ExpiresAt.UTC().Format(time.RFC3339Nano)

	ok, err := crypto.VerifyAgreementAttestation(pubA, req.SigA, proposalID, termsHash, agreementCode, req.PartyAAgentID, req.PartyBAgentID, expiresISO)
	if err != nil || !ok {
		return nil, ErrSignatureInvalid
	}

	now := s.Now()
	a := &store.Agreement{
		ProposalID:     proposalID,
		AgreementCode:  agreementCode,
		Mode:           req.Mode,
		PartyAAgentID:  req.PartyAAgentID,
		PartyBAgentID:  req.PartyBAgentID,
		TermsHash:      termsHash,
		CanonicalTerms: canonicalTerms,
		SigA:           req.SigA,
		Status:         store.AgreementPending,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      now,
	}
	if err := s.Store.Q().CreateAgreement(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Accept verifies sigB over the same attestation payload the proposer
// signed, then enqueues a seal job through the shared pipeline. The
// agreement moves to sealed only once the mint worker's callback
// reports success (ApplySealResult); this call leaves it accepted.
func (s *Service) Accept(ctx context.Context, proposalID, sigB string) (*store.Agreement, *store.SealJob, error) {
	a, err := s.Store.Q().GetAgreement(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	if a.Status != store.AgreementPending {
		return nil, nil, ErrNotPending
	}

	pubB, err := agentPubKeyHex(a.PartyBAgentID)
	if err != nil {
		return nil, nil, err
	}
	expiresISO := a.ExpiresAt.UTC().Format(time.RFC3339Nano)
	ok, err := crypto.VerifyAgreementAttestation(pubB, sigB, a.ProposalID, a.TermsHash, a.AgreementCode, a.PartyAAgentID, a.PartyBAgentID, expiresISO)
	if err != nil || !ok {
		return nil, nil, ErrSignatureInvalid
	}

	now := s.Now()
	a.SigB = sigB
	a.Status = store.AgreementAccepted
	a.AcceptedAt = &now
	if err := s.Store.Q().UpdateAgreement(ctx, a); err != nil {
		return nil, nil, err
	}

	job, err := s.Seal.EnqueueForAgreement(ctx, a.ProposalID, a.TermsHash, map[string]string{
		"agreementCode": a.AgreementCode,
		"partyA":        a.PartyAAgentID,
		"partyB":        a.PartyBAgentID,
	})
	if err != nil {
		return nil, nil, err
	}
	return a, job, nil
}

// ApplySealResult records a completed mint against the agreement named
// by the seal job, called from the /internal/seal-result callback
// alongside the session engine's equivalent case-side handling.
func (s *Service) ApplySealResult(ctx context.Context, proposalID string, resp seal.Response) error {
	a, err := s.Store.Q().GetAgreement(ctx, proposalID)
	if err != nil {
		return err
	}
	now := s.Now()
	a.Status = store.AgreementSealed
	a.SealedAt = &now
	a.SealAssetID = resp.AssetID
	a.SealTxSig = resp.TxSig
	a.SealURI = resp.SealURI
	a.MetadataURI = resp.MetadataURI
	return s.Store.Q().UpdateAgreement(ctx, a)
}

// VerifyResult is the GET /verify response body.
type VerifyResult struct {
	TermsHashValid bool   `json:"termsHashValid"`
	SigAValid      bool   `json:"sigAValid"`
	SigBValid      bool   `json:"sigBValid"`
	OverallValid   bool   `json:"overallValid"`
	Reason         string `json:"reason,omitempty"`
}

// Verify re-derives termsHash and the attestation payload from the
// stored canonicalTerms and re-checks both signatures, so anyone
// holding the stored row can independently confirm the notarisation.
func (s *Service) Verify(ctx context.Context, proposalIDOrCode string) (*VerifyResult, error) {
	a, err := s.lookup(ctx, proposalIDOrCode)
	if err != nil {
		return nil, err
	}

	var terms any
	if err := json.Unmarshal(a.CanonicalTerms, &terms); err != nil {
		return &VerifyResult{Reason: "stored terms are not valid JSON"}, nil
	}
	recomputedHash, err := crypto.CanonicalHashHex(terms)
	if err != nil {
		return &VerifyResult{Reason: "unable to recompute terms hash"}, nil
	}

	res := &VerifyResult{TermsHashValid: recomputedHash == a.TermsHash}
	expiresISO := a.ExpiresAt.UTC().Format(time.RFC3339Nano)

	if pubA, err := agentPubKeyHex(a.PartyAAgentID); err == nil {
		res.SigAValid, _ = crypto.VerifyAgreementAttestation(pubA, a.SigA, a.ProposalID, a.TermsHash, a.AgreementCode, a.PartyAAgentID, a.PartyBAgentID, expiresISO)
	}
	if a.SigB != "" {
		if pubB, err := agentPubKeyHex(a.PartyBAgentID); err == nil {
			res.SigBValid, _ = crypto.VerifyAgreementAttestation(pubB, a.SigB, a.ProposalID, a.TermsHash, a.AgreementCode, a.PartyAAgentID, a.PartyBAgentID, expiresISO)
		}
	}

	res.OverallValid = res.TermsHashValid && res.SigAValid && res.SigBValid
	if !res.OverallValid && res.Reason == "" {
		switch {
		case !res.TermsHashValid:
			res.Reason = "recomputed terms hash does not match the stored hash"
		case !res.SigAValid:
			res.Reason = "party A signature does not verify"
		case !res.SigBValid:
			res.Reason = "party B signature does not verify"
		}
	}
	return res, nil
}

func (s *Service) lookup(ctx context.Context, idOrCode string) (*store.Agreement, error) {
	if len(idOrCode) == ids.PublicCodeLen {
		return s.Store.Q().GetAgreementByCode(ctx, idOrCode)
	}
	return s.Store.Q().GetAgreement(ctx, idOrCode)
}
