package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Ciaran88/opencawt/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDispatcher_DeliverOneMarksDoneOn2xx(t *testing.T) {
	var gotSig, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s := newTestStore(t)
	d := NewDispatcher(s, []byte("deployment-secret"))
	d.Now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	e, err := d.Enqueue(context.Background(), KindCaseSealed, srv.URL, []byte(`{"caseId":"c1"}`))
	require.NoError(t, err)

	require.NoError(t, d.DeliverOne(context.Background(), e))
	require.Equal(t, `{"caseId":"c1"}`, gotBody)

	mac := hmac.New(sha256.New, []byte("deployment-secret"))
	mac.Write([]byte(`{"caseId":"c1"}`))
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSig)

	got, err := s.Q().GetWebhook(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, store.WebhookDone, got.Status)
}

func TestDispatcher_DeliverOneRetriesOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	s := newTestStore(t)
	d := NewDispatcher(s, []byte("secret"))
	d.Now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	e, err := d.Enqueue(context.Background(), KindAgentNotify, srv.URL, []byte(`{}`))
	require.NoError(t, err)

	require.NoError(t, d.DeliverOne(context.Background(), e))

	got, err := s.Q().GetWebhook(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, store.WebhookPending, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Contains(t, got.LastError, "status 500")
	require.True(t, got.ScheduledAt.After(d.Now()))
}

func TestDispatcher_DeliverOneFailsAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	s := newTestStore(t)
	d := NewDispatcher(s, []byte("secret"))
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	d.Now = func() time.Time { return now }
	d.Policy.MaxAttempts = 1

	e, err := d.Enqueue(context.Background(), KindAgentNotify, srv.URL, []byte(`{}`))
	require.NoError(t, err)

	require.NoError(t, d.DeliverOne(context.Background(), e))

	got, err := s.Q().GetWebhook(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, store.WebhookFailed, got.Status)
}

func TestDispatcher_SweepPendingDeliversDueEntries(t *testing.T) {
	delivered := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered++
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	s := newTestStore(t)
	d := NewDispatcher(s, []byte("secret"))
	d.Now = func() time.Time { return time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC) }

	_, err := d.Enqueue(context.Background(), KindDefenceInvite, srv.URL, []byte(`{"a":1}`))
	require.NoError(t, err)
	_, err = d.Enqueue(context.Background(), KindDefenceInvite, srv.URL, []byte(`{"a":2}`))
	require.NoError(t, err)

	n, err := d.SweepPending(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, delivered)
}
