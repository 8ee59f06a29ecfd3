package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Ciaran88/opencawt/pkg/crypto"
	"github.com/Ciaran88/opencawt/pkg/seal"
	"github.com/Ciaran88/opencawt/pkg/session"
	"github.com/Ciaran88/opencawt/pkg/store"
)

// checkWorkerToken enforces the static bearer token the mint worker
// authenticates with, constant-time
// compared the same way signature bytes are in the signed-mutation
// pipeline.
func (s *Server) checkWorkerToken(r *http.Request) bool {
	want := s.Config.WorkerToken
	if want == "" {
		return false
	}
	got := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(got) <= len(prefix) || got[:len(prefix)] != prefix {
		return false
	}
	got = got[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// sealResultRequest is the worker's callback body for a completed (or
// failed) mint attempt, keyed by the jobId the worker claimed via
// pkg/seal.Pipeline.Drive/ClaimSealJob.
type sealResultRequest struct {
	JobID        string       `json:"jobId"`
	Status       string       `json:"status"` // "minted" | "failed"
	AssetID      string       `json:"assetId,omitempty"`
	TxSig        string       `json:"txSig,omitempty"`
	SealedURI    string       `json:"sealedUri,omitempty"`
	MetadataURI  string       `json:"metadataUri,omitempty"`
	ErrorCode    string       `json:"errorCode,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	NonRetryable bool         `json:"nonRetryable,omitempty"`
}

// handleSealResult is POST /internal/seal-result: the mint worker's
// terminal callback for a claimed seal job. It is
// idempotent: a replay of the exact same payload against an
// already-terminal job returns {"replayed":true}; a different payload
// against a terminal job fails SEAL_JOB_ALREADY_FINALISED.
func (s *Server) handleSealResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if !s.checkWorkerToken(r) {
		WriteUnauthorized(w, CodeMissingAuthHeaders, "invalid or missing worker token")
		return
	}

	var body sealResultRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, CodeMalformedRequest, "request body is not valid JSON")
		return
	}
	if body.JobID == "" {
		WriteBadRequest(w, CodeMissingField, "jobId is required")
		return
	}

	job, err := s.Store.Q().GetSealJob(r.Context(), body.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, CodeNotFound, "no such seal job")
			return
		}
		WriteInternal(w, requestID(r), err)
		return
	}

	payloadHash, err := crypto.CanonicalHashHex(body)
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}

	if job.Status == store.SealJobMinted || job.Status == store.SealJobFailed {
		var storedHash string
		if job.ResponseJSON != nil {
			var stored sealResultRequest
			if err := json.Unmarshal(job.ResponseJSON, &stored); err == nil {
				stored.JobID = body.JobID
				if h, err := crypto.CanonicalHashHex(stored); err == nil {
					storedHash = h
				}
			}
		}
		if storedHash != "" && storedHash == payloadHash {
			writeJSON(w, http.StatusOK, map[string]any{"replayed": true})
			return
		}
		WriteCodedError(w, http.StatusConflict, CodeSealJobAlreadyFinalised, "seal job already finalised with a different result", nil)
		return
	}

	now := s.Now()
	switch body.Status {
	case "minted":
		resp := seal.Response{AssetID: body.AssetID, TxSig: body.TxSig, SealURI: body.SealedURI, MetadataURI: body.MetadataURI}
		respJSON, err := json.Marshal(body)
		if err != nil {
			WriteInternal(w, requestID(r), err)
			return
		}
		if err := s.Store.Q().FinalizeSealJob(r.Context(), job.JobID, store.SealJobMinted, "", respJSON, isoString(now)); err != nil {
			WriteInternal(w, requestID(r), err)
			return
		}
		if job.CaseID != "" {
			if err := session.ApplyCaseSealResult(r.Context(), s.Store, job.CaseID, resp, now); err != nil {
				WriteInternal(w, requestID(r), err)
				return
			}
		}
		if job.ProposalID != "" && s.Agreements != nil {
			if err := s.Agreements.ApplySealResult(r.Context(), job.ProposalID, resp); err != nil {
				WriteInternal(w, requestID(r), err)
				return
			}
		}
	case "failed":
		lastError := body.ErrorMessage
		if body.NonRetryable {
			lastError = store.NonRetryablePrefix + lastError
		}
		respJSON, err := json.Marshal(body)
		if err != nil {
			WriteInternal(w, requestID(r), err)
			return
		}
		if err := s.Store.Q().FinalizeSealJob(r.Context(), job.JobID, store.SealJobFailed, lastError, respJSON, isoString(now)); err != nil {
			WriteInternal(w, requestID(r), err)
			return
		}
		if job.CaseID != "" {
			if c, err := s.Store.Q().GetCase(r.Context(), job.CaseID); err == nil {
				c.SealStatus = store.SealStatusFailed
				c.UpdatedAt = now
				_ = s.Store.Q().UpdateCase(r.Context(), c)
			}
		}
	default:
		WriteBadRequest(w, CodeUnknownEnumValue, "status must be \"minted\" or \"failed\"")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleDiagnostics is GET /internal/diagnostics: surfaces the session
// engine's per-case tick failure counters so a poisoned
// case is visible without tailing logs. Authenticated by the same
// system API key used for other operator-only reads.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	want := s.Config.SystemAPIKey
	if want == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get("X-System-Api-Key")), []byte(want)) != 1 {
		WriteUnauthorized(w, CodeMissingAuthHeaders, "invalid or missing system api key")
		return
	}

	diags, err := s.Store.Q().ListEngineDiagnostics(r.Context())
	if err != nil {
		WriteInternal(w, requestID(r), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": diags})
}
