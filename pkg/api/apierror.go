// Package api carries the HTTP-layer helpers shared by every OpenCawt
// handler: the stable-code error envelope, idempotency enforcement,
// and IP-layer rate limiting.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Code is a stable machine-readable error identifier. Unlike an HTTP
// status, a Code never changes meaning across releases — clients are
// expected to branch on it.
type Code string

const (
	CodeMalformedRequest     Code = "MALFORMED_REQUEST"
	CodeUnknownEnumValue     Code = "UNKNOWN_ENUM_VALUE"
	CodeMissingField         Code = "MISSING_FIELD"
	CodeSizeExceeded         Code = "SIZE_EXCEEDED"
	CodeValidationFailed     Code = "VALIDATION_FAILED"
	CodeEvidenceLimitReached Code = "EVIDENCE_LIMIT_REACHED"

	CodeMissingAuthHeaders Code = "MISSING_AUTH_HEADERS"
	CodeSignatureInvalid   Code = "SIGNATURE_INVALID"
	CodeTimestampExpired   Code = "TIMESTAMP_EXPIRED"
	CodeNonceReused        Code = "NONCE_REUSED"
	CodeAgentBanned        Code = "AGENT_BANNED"
	CodeAgentNotFound      Code = "AGENT_NOT_FOUND"

	CodeCaseNotDraft                     Code = "CASE_NOT_DRAFT"
	CodeCaseNotFound                     Code = "CASE_NOT_FOUND"
	CodeCaseNotVoting                    Code = "CASE_NOT_VOTING"
	CodeDefenceAlreadyTaken              Code = "DEFENCE_ALREADY_TAKEN"
	CodeDefenceReservedForNamedDefendant Code = "DEFENCE_RESERVED_FOR_NAMED_DEFENDANT"
	CodeDefenceWindowClosed              Code = "DEFENCE_WINDOW_CLOSED"
	CodeEvidenceStageRequired            Code = "EVIDENCE_STAGE_REQUIRED"
	CodeReadinessDeadlinePassed          Code = "READINESS_DEADLINE_PASSED"
	CodeBallotAlreadySubmitted           Code = "BALLOT_ALREADY_SUBMITTED"
	CodeBallotDeadlinePassed             Code = "BALLOT_DEADLINE_PASSED"
	CodeJurorNotActive                   Code = "JUROR_NOT_ACTIVE"
	CodeNotJuror                         Code = "NOT_JUROR"
	CodeNotPendingJuror                  Code = "NOT_PENDING_JUROR"
	CodeNotProsecution                   Code = "NOT_PROSECUTION"
	CodeNotDefence                       Code = "NOT_DEFENCE"
	CodeIdempotencyInProgress            Code = "IDEMPOTENCY_IN_PROGRESS"
	CodeIdempotencyKeyReused             Code = "IDEMPOTENCY_KEY_REUSED_WITH_DIFFERENT_PAYLOAD"
	CodeSealJobAlreadyFinalised          Code = "SEAL_JOB_ALREADY_FINALISED"
	CodeDuplicateAgreement               Code = "DUPLICATE_AGREEMENT"
	CodeInsufficientSignatures           Code = "INSUFFICIENT_SIGNATURES"
	CodeProposalNotFound                 Code = "PROPOSAL_NOT_FOUND"
	CodeTreasuryTxReplay                 Code = "TREASURY_TX_REPLAY"
	CodeTreasuryTxNotFinalised           Code = "TREASURY_TX_NOT_FINALISED"

	CodeSoftCapExceeded Code = "SOFT_CAP_EXCEEDED"
	CodeRateLimited     Code = "RATE_LIMITED"

	CodeNotFound Code = "NOT_FOUND"

	CodeInternalError     Code = "INTERNAL_ERROR"
	CodeBeaconUnreachable Code = "BEACON_UNREACHABLE"
	CodeWorkerFailed      Code = "WORKER_FAILED"
)

// Error is the stable-code error envelope body: {"error":{...}}.
type Error struct {
	Code        Code   `json:"code"`
	Message     string `json:"message"`
	Details     any    `json:"details,omitempty"`
	RetryAfterS int    `json:"retry_after_s,omitempty"`
}

type errorEnvelope struct {
	Error Error `json:"error"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// WriteCodedError writes the stable-code envelope with the given HTTP
// status.
func WriteCodedError(w http.ResponseWriter, status int, code Code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: Error{Code: code, Message: message, Details: details}})
}

// WriteBadRequest writes a 400 with the given stable code.
func WriteBadRequest(w http.ResponseWriter, code Code, detail string) {
	WriteCodedError(w, http.StatusBadRequest, code, detail, nil)
}

// WriteUnauthorized writes a 401 auth-taxonomy error.
func WriteUnauthorized(w http.ResponseWriter, code Code, detail string) {
	if detail == "" {
		detail = "authentication required"
	}
	WriteCodedError(w, http.StatusUnauthorized, code, detail, nil)
}

// WriteForbidden writes a 403.
func WriteForbidden(w http.ResponseWriter, code Code, detail string) {
	if detail == "" {
		detail = "insufficient permissions"
	}
	WriteCodedError(w, http.StatusForbidden, code, detail, nil)
}

// WriteNotFound writes a 404.
func WriteNotFound(w http.ResponseWriter, code Code, detail string) {
	WriteCodedError(w, http.StatusNotFound, code, detail, nil)
}

// WriteMethodNotAllowed writes a 405.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteCodedError(w, http.StatusMethodNotAllowed, CodeMalformedRequest, "method not supported for this endpoint", nil)
}

// WriteConflict writes a 409 state-conflict error.
func WriteConflict(w http.ResponseWriter, code Code, detail string) {
	WriteCodedError(w, http.StatusConflict, code, detail, nil)
}

// WriteTooManyRequests writes a 429 rate-limit error, setting both the
// Retry-After header and the envelope's retry_after_s field so clients
// that only parse JSON still see the backoff hint.
func WriteTooManyRequests(w http.ResponseWriter, code Code, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: Error{
		Code:        code,
		Message:     "rate limit exceeded, retry after the specified interval",
		RetryAfterS: retryAfterSecs,
	}})
}

// WriteInternal writes a 500. err is logged with the request id but
// never surfaced to the client.
func WriteInternal(w http.ResponseWriter, requestID string, err error) {
	slog.Error("internal server error", "error", err, "request_id", requestID)
	WriteCodedError(w, http.StatusInternalServerError, CodeInternalError, "an unexpected error occurred, please try again later", nil)
}

// WriteExternalServiceError writes a 502/503-class failure for an
// upstream dependency (randomness beacon, mint worker) that is either
// retryable or terminal.
func WriteExternalServiceError(w http.ResponseWriter, code Code, detail string, retryAfterSecs int) {
	status := http.StatusBadGateway
	if retryAfterSecs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
		status = http.StatusServiceUnavailable
	}
	WriteCodedError(w, status, code, detail, nil)
}
