package api

import (
	"testing"
	"time"

	"github.com/Ciaran88/opencawt/pkg/agreement"
	"github.com/Ciaran88/opencawt/pkg/config"
	"github.com/Ciaran88/opencawt/pkg/seal"
	"github.com/Ciaran88/opencawt/pkg/treasury"
	"github.com/Ciaran88/opencawt/pkg/webhook"
)

// newTestServer builds a fully wired Server against a fresh in-memory
// sqlite store and stub backends, the same shape cmd/opencawtd
// assembles in production minus the HTTP listener and background
// sweepers. now is pinned so handler tests can assert on exact
// timestamps.
func newTestServer(t *testing.T, now time.Time) *Server {
	t.Helper()
	s := newMutationTestStore(t)

	cfg := config.Load()
	cfg.WorkerToken = "test-worker-token"
	cfg.SystemAPIKey = "test-system-key"

	sealPipeline := seal.NewPipeline(s, seal.StubWorker{})
	agreements := agreement.NewService(s, sealPipeline)
	agreements.Now = func() time.Time { return now }
	dispatcher := webhook.NewDispatcher(s, []byte("test-signing-key"))
	treasuryVerifier := treasury.NewStubVerifier(0)

	srv := NewServer(s, cfg, agreements, sealPipeline, dispatcher, treasuryVerifier)
	srv.Now = func() time.Time { return now }
	return srv
}
