package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Ciaran88/opencawt/pkg/agreement"
	"github.com/Ciaran88/opencawt/pkg/store"
)

// agreementView is the public rendering of an Agreement: the raw
// canonical terms are embedded as JSON rather than re-escaped, and
// both signatures are surfaced so a reader can run the same
// verification the /verify endpoint performs.
type agreementView struct {
	ProposalID    string          `json:"proposalId"`
	AgreementCode string          `json:"agreementCode"`
	Mode          string          `json:"mode"`
	PartyAAgentID string          `json:"partyAAgentId"`
	PartyBAgentID string          `json:"partyBAgentId"`
	TermsHash     string          `json:"termsHash"`
	Terms         json.RawMessage `json:"terms"`
	SigA          string          `json:"sigA"`
	SigB          string          `json:"sigB,omitempty"`
	Status        string          `json:"status"`
	ExpiresAt     string          `json:"expiresAt"`
	CreatedAt     string          `json:"createdAt"`
	AcceptedAt    string          `json:"acceptedAt,omitempty"`
	SealedAt      string          `json:"sealedAt,omitempty"`
	SealAssetID   string          `json:"sealAssetId,omitempty"`
	SealTxSig     string          `json:"sealTxSig,omitempty"`
	SealURI       string          `json:"sealUri,omitempty"`
	MetadataURI   string          `json:"metadataUri,omitempty"`
}

func renderAgreement(a *store.Agreement) agreementView {
	return agreementView{
		ProposalID:    a.ProposalID,
		AgreementCode: a.AgreementCode,
		Mode:          string(a.Mode),
		PartyAAgentID: a.PartyAAgentID,
		PartyBAgentID: a.PartyBAgentID,
		TermsHash:     a.TermsHash,
		Terms:         json.RawMessage(a.CanonicalTerms),
		SigA:          a.SigA,
		SigB:          a.SigB,
		Status:        string(a.Status),
		ExpiresAt:     isoString(a.ExpiresAt),
		CreatedAt:     isoString(a.CreatedAt),
		AcceptedAt:    isoStringPtr(a.AcceptedAt),
		SealedAt:      isoStringPtr(a.SealedAt),
		SealAssetID:   a.SealAssetID,
		SealTxSig:     a.SealTxSig,
		SealURI:       a.SealURI,
		MetadataURI:   a.MetadataURI,
	}
}

// handleAgreementsCollection handles POST /agreements, which proposes
// an agreement (POST /agreements/propose reaches the same handler via
// handleAgreementsItem). A bare GET /agreements, with or without query
// parameters, answers 404.
func (s *Server) handleAgreementsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.Verifier.Middleware("propose_agreement", http.HandlerFunc(s.proposeAgreement)).ServeHTTP(w, r)
	case http.MethodGet:
		s.handleLeaderboardStyleList(w, r)
	default:
		WriteMethodNotAllowed(w)
	}
}

// handleLeaderboardStyleList is the bare GET /agreements listing;
// there is no public "list all agreements" surface, so this simply
// 404s clients probing for one, keeping the route reserved for the
// propose verb without silently 200-ing an unbounded scan.
func (s *Server) handleLeaderboardStyleList(w http.ResponseWriter, r *http.Request) {
	WriteNotFound(w, CodeNotFound, "use GET /agreements/{proposalId} or GET /verify")
}

type proposeAgreementRequest struct {
	ProposalID    string `json:"proposalId"`
	Mode          string `json:"mode"`
	PartyAAgentID string `json:"partyAAgentId"`
	PartyBAgentID string `json:"partyBAgentId"`
	Terms         any    `json:"terms"`
	SigA          string `json:"sigA"`
	ExpiresAt     string `json:"expiresAt"`
}

func (s *Server) proposeAgreement(w http.ResponseWriter, r *http.Request) {
	var body proposeAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}
	if body.ProposalID == "" || body.PartyAAgentID == "" || body.PartyBAgentID == "" || body.SigA == "" {
		WriteBadRequest(w, CodeMissingField, "proposalId, partyAAgentId, partyBAgentId and sigA are required")
		return
	}
	mode := store.AgreementMode(body.Mode)
	if mode != store.AgreementPublic && mode != store.AgreementPrivate {
		WriteBadRequest(w, CodeUnknownEnumValue, "mode must be \"public\" or \"private\"")
		return
	}
	expiresAt, err := time.Parse(time.RFC3339, body.ExpiresAt)
	if err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "expiresAt must be an ISO-8601 timestamp")
		return
	}

	a, err := s.Agreements.Propose(r.Context(), agreement.ProposeRequest{
		ProposalID:    body.ProposalID,
		Mode:          mode,
		PartyAAgentID: body.PartyAAgentID,
		PartyBAgentID: body.PartyBAgentID,
		Terms:         body.Terms,
		SigA:          body.SigA,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		s.writeAgreementError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderAgreement(a))
}

// handleAgreementsItem handles POST /agreements/propose,
// GET /agreements/{id} and POST /agreements/{id}/accept.
func (s *Server) handleAgreementsItem(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r.URL.Path)
	// segs[0] == "agreements"
	if len(segs) < 2 {
		WriteNotFound(w, CodeNotFound, "missing agreement id")
		return
	}
	id := segs[1]

	if len(segs) == 2 && id == "propose" {
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.Verifier.Middleware("propose_agreement", http.HandlerFunc(s.proposeAgreement)).ServeHTTP(w, r)
		return
	}

	if len(segs) == 3 && segs[2] == "accept" {
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.Verifier.Middleware("accept_agreement", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.acceptAgreement(w, r, id)
		})).ServeHTTP(w, r)
		return
	}

	if len(segs) == 2 {
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w)
			return
		}
		s.getAgreement(w, r, id)
		return
	}

	WriteNotFound(w, CodeNotFound, "no such route")
}

func (s *Server) getAgreement(w http.ResponseWriter, r *http.Request, proposalID string) {
	a, err := s.Store.Q().GetAgreement(r.Context(), proposalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeProposalNotFound, "no such agreement")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, renderAgreement(a))
}

type acceptAgreementRequest struct {
	SigB string `json:"sigB"`
}

func (s *Server) acceptAgreement(w http.ResponseWriter, r *http.Request, proposalID string) {
	var body acceptAgreementRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}
	if body.SigB == "" {
		WriteBadRequest(w, CodeMissingField, "sigB is required")
		return
	}

	a, _, err := s.Agreements.Accept(r.Context(), proposalID, body.SigB)
	if err != nil {
		s.writeAgreementError(w, r, err)
		return
	}
	// Minting happens on the seal pipeline's own background sweep
	// (pkg/seal.Pipeline.SweepRetryable), the same as a closed case's
	// seal job: the handler only enqueues, it never drives the mint
	// inline on the request goroutine.
	writeJSON(w, http.StatusOK, renderAgreement(a))
}

// handleVerify handles GET /verify?proposalId=|agreementCode=, the
// independently-checkable signature/hash round-trip.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	idOrCode := r.URL.Query().Get("proposalId")
	if idOrCode == "" {
		idOrCode = r.URL.Query().Get("agreementCode")
	}
	if idOrCode == "" {
		WriteBadRequest(w, CodeMissingField, "proposalId or agreementCode query parameter is required")
		return
	}
	res, err := s.Agreements.Verify(r.Context(), idOrCode)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeProposalNotFound, "no such agreement")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeAgreementError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agreement.ErrInvalidPartyID), errors.Is(err, agreement.ErrSignatureInvalid):
		WriteBadRequest(w, CodeInsufficientSignatures, err.Error())
	case errors.Is(err, agreement.ErrInvalidTerms):
		WriteBadRequest(w, CodeValidationFailed, err.Error())
	case errors.Is(err, agreement.ErrNotPending):
		WriteCodedError(w, http.StatusConflict, CodeValidationFailed, err.Error(), nil)
	case errors.Is(err, agreement.ErrNotFound):
		WriteNotFound(w, CodeProposalNotFound, "no such agreement")
	case errors.Is(err, store.ErrConflict):
		WriteCodedError(w, http.StatusConflict, CodeDuplicateAgreement, "an agreement with that proposalId already exists", nil)
	default:
		WriteInternal(w, requestID(r), err)
	}
}
