package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Ciaran88/opencawt/pkg/auth"
	"github.com/Ciaran88/opencawt/pkg/ids"
	"github.com/Ciaran88/opencawt/pkg/store"
)

// agentView is the public, read-side rendering of an Agent: it omits
// nothing sensitive (there is no secret on this row) but exists
// separately from store.Agent so the wire shape can evolve without
// touching the storage layer.
type agentView struct {
	AgentID       string `json:"agentId"`
	DisplayName   string `json:"displayName,omitempty"`
	Bio           string `json:"bio,omitempty"`
	Banned        bool   `json:"banned"`
	JurorEligible bool   `json:"jurorEligible"`
	StatsPublic   bool   `json:"statsPublic"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

func renderAgent(a *store.Agent) agentView {
	return agentView{
		AgentID:       a.AgentID,
		DisplayName:   a.DisplayName,
		Bio:           a.Bio,
		Banned:        a.Banned,
		JurorEligible: a.JurorEligible,
		StatsPublic:   a.StatsPublic,
		CreatedAt:     isoString(a.CreatedAt),
		UpdatedAt:     isoString(a.UpdatedAt),
	}
}

// handleAgentsCollection handles POST /agents (register or update a
// profile) — a signed mutation, since only the agent itself (proven
// by its Ed25519 signature) may write its own profile.
func (s *Server) handleAgentsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	s.Verifier.Middleware("register_agent", http.HandlerFunc(s.registerAgent)).ServeHTTP(w, r)
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	agent := auth.MustGetAgent(r.Context())

	var body struct {
		DisplayName   string `json:"displayName"`
		Bio           string `json:"bio"`
		NotifyURL     string `json:"notifyUrl"`
		StatsPublic   *bool  `json:"statsPublic"`
		JurorEligible *bool  `json:"jurorEligible"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}

	ctx := r.Context()
	now := s.Now()

	existing, err := s.Store.Q().GetAgent(ctx, agent.AgentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		WriteInternal(w, requestID(r), err)
		return
	}

	a := &store.Agent{
		AgentID:       agent.AgentID,
		DisplayName:   body.DisplayName,
		Bio:           body.Bio,
		NotifyURL:     body.NotifyURL,
		StatsPublic:   true,
		JurorEligible: false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if existing != nil {
		a.Banned = existing.Banned
		a.JurorEligible = existing.JurorEligible
		a.StatsPublic = existing.StatsPublic
		a.CreatedAt = existing.CreatedAt
	}
	if body.StatsPublic != nil {
		a.StatsPublic = *body.StatsPublic
	}
	if body.JurorEligible != nil {
		a.JurorEligible = *body.JurorEligible
	}

	if err := s.Store.Q().UpsertAgent(ctx, a); err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, renderAgent(a))
}

// handleAgentsItem handles every /agents/{id}[/...] route: the plain
// profile read, the juror-availability opt-in, and capability
// mint/revoke.
func (s *Server) handleAgentsItem(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r.URL.Path)
	if len(segs) < 2 {
		WriteNotFound(w, CodeNotFound, "agent id required")
		return
	}
	agentID := segs[1]

	switch {
	case len(segs) == 2:
		s.getAgent(w, r, agentID)
	case len(segs) == 3 && segs[2] == "stats":
		s.getAgentStats(w, r, agentID)
	case len(segs) == 3 && segs[2] == "juror-availability":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.Verifier.Middleware("set_juror_availability", http.HandlerFunc(s.setJurorAvailability)).ServeHTTP(w, r)
	case len(segs) == 3 && segs[2] == "capabilities":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.Verifier.Middleware("mint_capability", http.HandlerFunc(s.mintCapability)).ServeHTTP(w, r)
	case len(segs) == 4 && segs[2] == "capabilities" && segs[3] == "revoke":
		if r.Method != http.MethodPost {
			WriteMethodNotAllowed(w)
			return
		}
		s.Verifier.Middleware("revoke_capability", http.HandlerFunc(s.revokeCapability)).ServeHTTP(w, r)
	default:
		WriteNotFound(w, CodeNotFound, "no such route")
	}
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	a, err := s.Store.Q().GetAgent(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeAgentNotFound, "no such agent")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, renderAgent(a))
}

func (s *Server) getAgentStats(w http.ResponseWriter, r *http.Request, agentID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	a, err := s.Store.Q().GetAgent(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeAgentNotFound, "no such agent")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	if !a.StatsPublic {
		// Private stats stay readable to the agent itself through a
		// capability token minted under its own key.
		cap, err := s.capabilityFromBearer(r)
		if err != nil || cap.AgentID != agentID {
			WriteForbidden(w, CodeValidationFailed, "stats for this agent are private")
			return
		}
	}
	stats, err := s.Store.Q().GetAgentStatsCache(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeAgentNotFound, "no stats recorded for this agent")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) setJurorAvailability(w http.ResponseWriter, r *http.Request) {
	agent := auth.MustGetAgent(r.Context())
	var body struct {
		Availability string `json:"availability"`
		Profile      string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}
	avail := store.JurorAvailabilityState(body.Availability)
	switch avail {
	case store.JurorAvailable, store.JurorLimited:
	default:
		WriteBadRequest(w, CodeUnknownEnumValue, "availability must be available or limited")
		return
	}
	j := &store.JurorAvailability{AgentID: agent.AgentID, Availability: avail, Profile: body.Profile}
	if err := s.Store.Q().UpsertJurorAvailability(r.Context(), j); err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// capabilityScopes bounds what a minted bearer token may authorise;
// today every scope maps 1:1 to a signed-mutation action type.
var capabilityScopes = map[string]bool{
	"submit_evidence": true,
	"submit_ballot":   true,
	"file_case":       true,
}

func (s *Server) mintCapability(w http.ResponseWriter, r *http.Request) {
	agent := auth.MustGetAgent(r.Context())
	var body struct {
		Scope     string `json:"scope"`
		ExpiresIn int64  `json:"expiresInSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}
	if !capabilityScopes[body.Scope] {
		WriteBadRequest(w, CodeUnknownEnumValue, "unrecognised capability scope")
		return
	}

	now := s.Now()
	var expiresAt *time.Time
	if body.ExpiresIn > 0 {
		expires := now.Add(secondsToDuration(body.ExpiresIn))
		expiresAt = &expires
	}

	token, tokenHash, err := s.mintCapabilityToken(agent.AgentID, body.Scope, ids.New(), now, expiresAt)
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}

	c := &store.AgentCapability{
		TokenHash: tokenHash,
		AgentID:   agent.AgentID,
		Scope:     body.Scope,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := s.Store.Q().CreateAgentCapability(r.Context(), c); err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     token,
		"tokenHash": tokenHash,
		"scope":     c.Scope,
		"expiresAt": isoStringPtr(c.ExpiresAt),
	})
}

func (s *Server) revokeCapability(w http.ResponseWriter, r *http.Request) {
	agent := auth.MustGetAgent(r.Context())
	var body struct {
		TokenHash string `json:"tokenHash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}
	cap, err := s.Store.Q().GetAgentCapability(r.Context(), body.TokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeNotFound, "no such capability")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	if cap.AgentID != agent.AgentID {
		WriteForbidden(w, CodeValidationFailed, "capability does not belong to this agent")
		return
	}
	if err := s.Store.Q().RevokeAgentCapability(r.Context(), body.TokenHash, isoString(s.Now())); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeNotFound, "capability already revoked or missing")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
