package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ciaran88/opencawt/pkg/store"
)

func TestHandleSealResult_RejectsMissingWorkerToken(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)

	req := httptest.NewRequest(http.MethodPost, "/internal/seal-result", bytes.NewReader([]byte(`{"jobId":"x"}`)))
	rec := httptest.NewRecorder()
	srv.handleSealResult(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleSealResult_MintedFinalizesJobAndCase(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)
	ctx := context.Background()

	require.NoError(t, srv.Store.Q().CreateCase(ctx, &store.Case{
		CaseID: "case-1", PublicSlug: "SLUG0000AB", Status: store.CaseStatusClosed,
		SessionStage: store.StageClosed, SealStatus: store.SealStatusPending,
		ProsecutionAgentID: "prosecutor", FiledAt: now, CreatedAt: now, UpdatedAt: now,
	}))
	job, err := srv.Seal.EnqueueForCase(ctx, "case-1", "case-hash", nil)
	require.NoError(t, err)

	body, err := json.Marshal(sealResultRequest{
		JobID: job.JobID, Status: "minted",
		AssetID: "asset-1", TxSig: "tx-1", SealedURI: "uri://seal", MetadataURI: "uri://meta",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/internal/seal-result", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-worker-token")
	rec := httptest.NewRecorder()
	srv.handleSealResult(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := srv.Store.Q().GetSealJob(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, store.SealJobMinted, updated.Status)

	c, err := srv.Store.Q().GetCase(ctx, "case-1")
	require.NoError(t, err)
	require.Equal(t, store.SealStatusSealed, c.SealStatus)
}

func seedSealableCase(t *testing.T, srv *Server, caseID string, now time.Time) *store.SealJob {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, srv.Store.Q().CreateCase(ctx, &store.Case{
		CaseID: caseID, PublicSlug: caseID + "SLUG0001", Status: store.CaseStatusClosed,
		SessionStage: store.StageClosed, SealStatus: store.SealStatusPending,
		ProsecutionAgentID: "prosecutor", FiledAt: now, CreatedAt: now, UpdatedAt: now,
	}))
	job, err := srv.Seal.EnqueueForCase(ctx, caseID, "case-hash", nil)
	require.NoError(t, err)
	return job
}

func TestHandleSealResult_ReplayOfIdenticalPayloadSucceeds(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)
	job := seedSealableCase(t, srv, "case-replay", now)

	body, err := json.Marshal(sealResultRequest{JobID: job.JobID, Status: "minted", AssetID: "a", TxSig: "t"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/internal/seal-result", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer test-worker-token")
		rec := httptest.NewRecorder()
		srv.handleSealResult(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i)
	}
}

func TestHandleSealResult_DifferentPayloadAgainstFinalisedJobConflicts(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)
	job := seedSealableCase(t, srv, "case-conflict", now)

	first, err := json.Marshal(sealResultRequest{JobID: job.JobID, Status: "minted", AssetID: "a", TxSig: "t"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/internal/seal-result", bytes.NewReader(first))
	req.Header.Set("Authorization", "Bearer test-worker-token")
	rec := httptest.NewRecorder()
	srv.handleSealResult(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	second, err := json.Marshal(sealResultRequest{JobID: job.JobID, Status: "minted", AssetID: "different", TxSig: "t"})
	require.NoError(t, err)
	req2 := httptest.NewRequest(http.MethodPost, "/internal/seal-result", bytes.NewReader(second))
	req2.Header.Set("Authorization", "Bearer test-worker-token")
	rec2 := httptest.NewRecorder()
	srv.handleSealResult(rec2, req2)
	require.Equal(t, http.StatusConflict, rec2.Code)
}

func TestHandleDiagnostics_RequiresSystemAPIKey(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)

	req := httptest.NewRequest(http.MethodGet, "/internal/diagnostics", nil)
	rec := httptest.NewRecorder()
	srv.handleDiagnostics(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/internal/diagnostics", nil)
	req2.Header.Set("X-System-Api-Key", "test-system-key")
	rec2 := httptest.NewRecorder()
	srv.handleDiagnostics(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}
