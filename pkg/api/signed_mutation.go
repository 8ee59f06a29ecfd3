package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Ciaran88/opencawt/pkg/auth"
	"github.com/Ciaran88/opencawt/pkg/crypto"
	"github.com/Ciaran88/opencawt/pkg/store"
)

// MutationVerifier implements the signed-mutation pipeline every
// state-changing endpoint runs behind: header
// extraction, Ed25519 verification, the timestamp window, the
// anti-replay action log, and the per-(agent, method, path, key)
// idempotency claim lifecycle, all ahead of the handler.
type MutationVerifier struct {
	Store         *store.Store
	Now           func() time.Time
	Window        time.Duration
	IdempotencyTTL time.Duration
}

// NewMutationVerifier builds a verifier with a ±5 minute timestamp
// window and a 24h idempotency retention window.
func NewMutationVerifier(s *store.Store) *MutationVerifier {
	return &MutationVerifier{
		Store:          s,
		Now:            time.Now,
		Window:         5 * time.Minute,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// Middleware wraps a mutating handler. actionType labels the
// anti-replay action-log row (e.g. "file_case", "submit_ballot").
// Handlers mounted behind it may call auth.MustGetAgent on the
// request context.
func (v *MutationVerifier) Middleware(actionType string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := auth.GetRequestID(r.Context())

		agentID := r.Header.Get("X-Agent-Id")
		tsRaw := r.Header.Get("X-Timestamp")
		nonce := r.Header.Get("X-Nonce")
		bodyHashHeader := r.Header.Get("X-Body-Sha256")
		sigHex := r.Header.Get("X-Signature")
		if agentID == "" || tsRaw == "" || nonce == "" || bodyHashHeader == "" || sigHex == "" {
			WriteUnauthorized(w, CodeMissingAuthHeaders, "missing one or more signed-mutation headers")
			return
		}
		if !isValidNonce(nonce) {
			WriteUnauthorized(w, CodeMissingAuthHeaders, "X-Nonce must be 8-128 alphanumeric characters")
			return
		}
		ts, err := strconv.ParseInt(tsRaw, 10, 64)
		if err != nil {
			WriteUnauthorized(w, CodeMissingAuthHeaders, "X-Timestamp must be unix seconds")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			WriteBadRequest(w, CodeMalformedRequest, "unable to read request body")
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		bodyHash := crypto.HashBytesHex(body)
		if bodyHash != bodyHashHeader {
			WriteUnauthorized(w, CodeSignatureInvalid, "X-Body-Sha256 does not match request body")
			return
		}

		now := v.Now()
		delta := now.Unix() - ts
		if delta < 0 {
			delta = -delta
		}
		if delta > int64(v.Window.Seconds()) {
			WriteUnauthorized(w, CodeTimestampExpired, "timestamp outside the accepted window")
			return
		}

		agent, err := v.Store.Q().GetAgent(r.Context(), agentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				WriteUnauthorized(w, CodeAgentNotFound, "unknown agent id")
				return
			}
			WriteInternal(w, requestID, err)
			return
		}
		if agent.Banned {
			WriteForbidden(w, CodeAgentBanned, "agent is banned from initiating signed mutations")
			return
		}

		ok, err := crypto.VerifyMutationByAgentID(agentID, sigHex, r.Method, r.URL.Path, ts, nonce, bodyHash)
		if err != nil || !ok {
			WriteUnauthorized(w, CodeSignatureInvalid, "signature verification failed")
			return
		}

		if err := v.Store.Q().RecordAgentAction(r.Context(), &store.AgentActionLog{
			AgentID:      agentID,
			ActionType:   actionType,
			Signature:    sigHex,
			TimestampSec: ts,
			CreatedAt:    now,
		}); err != nil {
			if errors.Is(err, store.ErrConflict) {
				WriteUnauthorized(w, CodeNonceReused, "this signature has already been used")
				return
			}
			WriteInternal(w, requestID, err)
			return
		}

		pubKey, err := crypto.DecodeAgentID(agentID)
		if err != nil {
			WriteUnauthorized(w, CodeSignatureInvalid, "invalid agent id encoding")
			return
		}
		ctx := auth.WithAgent(r.Context(), auth.Agent{AgentID: agentID, PublicKey: hex.EncodeToString(pubKey)})
		r = r.WithContext(ctx)

		idempotencyKey := r.Header.Get("Idempotency-Key")
		if idempotencyKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		v.runIdempotent(next, w, r, agentID, idempotencyKey, bodyHash, now)
	})
}

// runIdempotent binds the handler's outcome to the per-(agent, method,
// path, key) idempotency record: replay a complete match, refuse a
// mismatched or in-flight key, release the claim on failure.
func (v *MutationVerifier) runIdempotent(next http.Handler, w http.ResponseWriter, r *http.Request, agentID, key, requestHash string, now time.Time) {
	requestID := auth.GetRequestID(r.Context())
	method, path := r.Method, r.URL.Path

	claim := &store.IdempotencyRecord{
		AgentID:        agentID,
		Method:         method,
		Path:           path,
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Status:         store.IdempotencyInProgress,
		ExpiresAt:      now.Add(v.IdempotencyTTL),
		CreatedAt:      now,
	}
	existing, created, err := v.Store.Q().BeginIdempotentClaim(r.Context(), claim)
	if err != nil {
		WriteInternal(w, requestID, err)
		return
	}

	if !created {
		switch existing.Status {
		case store.IdempotencyComplete:
			if existing.RequestHash != requestHash {
				WriteConflict(w, CodeIdempotencyKeyReused, "idempotency key was already used with a different request body")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(existing.ResponseStatus)
			_, _ = w.Write(existing.ResponseJSON)
			return
		default: // in_progress
			WriteConflict(w, CodeIdempotencyInProgress, "a request with this idempotency key is already in flight")
			return
		}
	}

	capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
	next.ServeHTTP(capture, r)

	if capture.statusCode >= 200 && capture.statusCode < 300 {
		if err := v.Store.Q().CompleteIdempotentClaim(r.Context(), agentID, method, path, key, capture.statusCode, capture.body.Bytes()); err != nil {
			// The response already reached the client; log-worthy but not
			// recoverable from here.
			_ = err
		}
		return
	}
	_ = v.Store.Q().ReleaseIdempotentClaim(r.Context(), agentID, method, path, key)
}

func isValidNonce(nonce string) bool {
	if len(nonce) < 8 || len(nonce) > 128 {
		return false
	}
	for _, r := range nonce {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// writeJSON is a small helper handlers use to emit a 2xx JSON body
// through the idempotency-capturing response writer.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
