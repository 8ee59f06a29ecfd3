package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ciaran88/opencawt/pkg/store"
)

func TestCapabilityToken_MintAndVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)
	ctx := context.Background()

	expires := now.Add(time.Hour)
	token, tokenHash, err := srv.mintCapabilityToken("agent-1", "submit_ballot", "jti-1", now, &expires)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Len(t, tokenHash, 64)

	require.NoError(t, srv.Store.Q().CreateAgentCapability(ctx, &store.AgentCapability{
		TokenHash: tokenHash, AgentID: "agent-1", Scope: "submit_ballot",
		ExpiresAt: &expires, CreatedAt: now,
	}))

	r := httptest.NewRequest(http.MethodGet, "/agents/agent-1/stats", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	cap, err := srv.capabilityFromBearer(r)
	require.NoError(t, err)
	require.Equal(t, "agent-1", cap.AgentID)
	require.Equal(t, "submit_ballot", cap.Scope)
}

func TestCapabilityToken_RevokedHashIsDead(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)
	ctx := context.Background()

	token, tokenHash, err := srv.mintCapabilityToken("agent-1", "file_case", "jti-2", now, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Store.Q().CreateAgentCapability(ctx, &store.AgentCapability{
		TokenHash: tokenHash, AgentID: "agent-1", Scope: "file_case", CreatedAt: now,
	}))
	require.NoError(t, srv.Store.Q().RevokeAgentCapability(ctx, tokenHash, now.Format(time.RFC3339Nano)))

	r := httptest.NewRequest(http.MethodGet, "/agents/agent-1/stats", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	_, err = srv.capabilityFromBearer(r)
	require.ErrorIs(t, err, errCapabilityInvalid)
}

func TestCapabilityToken_TamperedTokenRejected(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)

	token, tokenHash, err := srv.mintCapabilityToken("agent-1", "file_case", "jti-3", now, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Store.Q().CreateAgentCapability(context.Background(), &store.AgentCapability{
		TokenHash: tokenHash, AgentID: "agent-1", Scope: "file_case", CreatedAt: now,
	}))

	// Flip the final signature byte: the JWT no longer verifies even
	// though the stored row is active.
	tampered := token[:len(token)-1] + "x"
	if tampered == token {
		tampered = token[:len(token)-1] + "y"
	}
	r := httptest.NewRequest(http.MethodGet, "/agents/agent-1/stats", nil)
	r.Header.Set("Authorization", "Bearer "+tampered)
	_, err = srv.capabilityFromBearer(r)
	require.ErrorIs(t, err, errCapabilityInvalid)
}

func TestCapabilityToken_ExpiredJWTRejected(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)

	expired := now.Add(-time.Minute)
	token, tokenHash, err := srv.mintCapabilityToken("agent-1", "file_case", "jti-4", now.Add(-time.Hour), &expired)
	require.NoError(t, err)
	require.NoError(t, srv.Store.Q().CreateAgentCapability(context.Background(), &store.AgentCapability{
		TokenHash: tokenHash, AgentID: "agent-1", Scope: "file_case",
		ExpiresAt: &expired, CreatedAt: now.Add(-time.Hour),
	}))

	r := httptest.NewRequest(http.MethodGet, "/agents/agent-1/stats", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	_, err = srv.capabilityFromBearer(r)
	require.ErrorIs(t, err, errCapabilityInvalid)
}

func TestGetAgentStats_PrivateStatsRequireCapability(t *testing.T) {
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	srv := newTestServer(t, now)
	ctx := context.Background()

	require.NoError(t, srv.Store.Q().UpsertAgent(ctx, &store.Agent{
		AgentID: "agent-private", StatsPublic: false, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, srv.Store.Q().PutAgentStatsCache(ctx, &store.AgentStatsCache{
		AgentID: "agent-private", CasesFiled: 2, Wins: 1, UpdatedAt: now,
	}))

	// Bare read is refused.
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/agents/agent-private/stats", nil)
	srv.getAgentStats(w, r, "agent-private")
	require.Equal(t, http.StatusForbidden, w.Code)

	// The agent's own capability token opens it.
	token, tokenHash, err := srv.mintCapabilityToken("agent-private", "file_case", "jti-5", now, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Store.Q().CreateAgentCapability(ctx, &store.AgentCapability{
		TokenHash: tokenHash, AgentID: "agent-private", Scope: "file_case", CreatedAt: now,
	}))

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/agents/agent-private/stats", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	srv.getAgentStats(w, r, "agent-private")
	require.Equal(t, http.StatusOK, w.Code)

	// Someone else's capability does not.
	otherToken, otherHash, err := srv.mintCapabilityToken("agent-other", "file_case", "jti-6", now, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Store.Q().CreateAgentCapability(ctx, &store.AgentCapability{
		TokenHash: otherHash, AgentID: "agent-other", Scope: "file_case", CreatedAt: now,
	}))
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/agents/agent-private/stats", nil)
	r.Header.Set("Authorization", "Bearer "+otherToken)
	srv.getAgentStats(w, r, "agent-private")
	require.Equal(t, http.StatusForbidden, w.Code)
}
