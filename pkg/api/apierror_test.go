package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Ciaran88/opencawt/pkg/api"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) api.Error {
	t.Helper()
	var body struct {
		Error api.Error `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteBadRequest_Envelope(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteBadRequest(w, api.CodeMissingField, "claimText is required")

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	e := decodeError(t, w)
	require.Equal(t, api.CodeMissingField, e.Code)
	require.Equal(t, "claimText is required", e.Message)
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, "req-123", errors.New("pq: connection refused to host=10.0.0.1"))

	e := decodeError(t, w)
	require.Equal(t, api.CodeInternalError, e.Code)
	require.NotContains(t, e.Message, "10.0.0.1", "internal error details must not leak to the client")
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWriteTooManyRequests_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, api.CodeSoftCapExceeded, 30)

	require.Equal(t, "30", w.Header().Get("Retry-After"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	e := decodeError(t, w)
	require.Equal(t, api.CodeSoftCapExceeded, e.Code)
	require.Equal(t, 30, e.RetryAfterS)
}

func TestWriteMethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteMethodNotAllowed(w)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestWriteUnauthorized_DefaultMessage(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteUnauthorized(w, api.CodeMissingAuthHeaders, "")

	e := decodeError(t, w)
	require.Equal(t, "authentication required", e.Message)
}

func TestWriteConflict_StateConflictCode(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteConflict(w, api.CodeIdempotencyKeyReused, "request hash mismatch")

	require.Equal(t, http.StatusConflict, w.Code)
	e := decodeError(t, w)
	require.Equal(t, api.CodeIdempotencyKeyReused, e.Code)
}
