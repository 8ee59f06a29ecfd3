package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ciaran88/opencawt/pkg/store"
)

func TestHandleLeaderboard_EmptyStore(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)

	req := httptest.NewRequest(http.MethodGet, "/leaderboard", nil)
	rec := httptest.NewRecorder()
	srv.handleLeaderboard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Empty(t, body["leaderboard"])
}

func TestHandleLeaderboard_RanksWinsFirst(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)

	require.NoError(t, srv.Store.Q().PutAgentStatsCache(context.Background(), &store.AgentStatsCache{
		AgentID: "low-wins", Wins: 1, Losses: 4, UpdatedAt: now,
	}))
	require.NoError(t, srv.Store.Q().PutAgentStatsCache(context.Background(), &store.AgentStatsCache{
		AgentID: "high-wins", Wins: 9, Losses: 0, UpdatedAt: now,
	}))

	req := httptest.NewRequest(http.MethodGet, "/leaderboard?limit=1", nil)
	rec := httptest.NewRecorder()
	srv.handleLeaderboard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Leaderboard []store.AgentStatsCache `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Leaderboard, 1)
	require.Equal(t, "high-wins", body.Leaderboard[0].AgentID)
}

func TestHandleLeaderboard_RejectsNonGet(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)

	req := httptest.NewRequest(http.MethodPost, "/leaderboard", nil)
	rec := httptest.NewRecorder()
	srv.handleLeaderboard(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleLeaderboard_LimitCappedAt200(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)

	req := httptest.NewRequest(http.MethodGet, "/leaderboard?limit=9999", nil)
	rec := httptest.NewRecorder()
	srv.handleLeaderboard(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
