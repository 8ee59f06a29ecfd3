// Package api mounts OpenCawt's HTTP surface: signed-mutation
// endpoints for every agent-initiated action, plain reads for public
// case/agent/leaderboard data, and the internal worker-callback and
// diagnostics routes. Routing is a plain *http.ServeMux with
// per-handler method switches and manual path parsing rather than Go
// 1.22's pattern mux, since that is the idiom this codebase's HTTP
// layer was built around.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Ciaran88/opencawt/pkg/agreement"
	"github.com/Ciaran88/opencawt/pkg/auth"
	"github.com/Ciaran88/opencawt/pkg/config"
	"github.com/Ciaran88/opencawt/pkg/ratelimit"
	"github.com/Ciaran88/opencawt/pkg/seal"
	"github.com/Ciaran88/opencawt/pkg/store"
	"github.com/Ciaran88/opencawt/pkg/treasury"
	"github.com/Ciaran88/opencawt/pkg/webhook"
)

// Server wires every already-built subsystem (store, session rules,
// seal pipeline, agreement service, webhook dispatcher, rate limiters)
// into one mux. The session engine itself is not held here: it runs
// in its own goroutine from cmd/opencawtd and only ever shares the
// store, never the HTTP layer.
type Server struct {
	Store      *store.Store
	Config     *config.Config
	Verifier   *MutationVerifier
	Agreements *agreement.Service
	Seal       *seal.Pipeline
	Webhooks   *webhook.Dispatcher
	Treasury   treasury.Verifier
	RateLimits ratelimit.Store

	// SoftCapLimiter backs the service-wide day-granularity case cap
	// (checkSoftDailyCaseCap). It is a separate Store from RateLimits
	// because it tracks one shared bucket across every agent rather
	// than one bucket per agent, and because it is the bucket that
	// needs to agree across more than one opencawtd process when
	// cmd/opencawtd wires it to Redis.
	SoftCapLimiter ratelimit.Store

	Logger *slog.Logger
	Now    func() time.Time
}

// NewServer builds a Server from its already-constructed subsystems.
// SoftCapLimiter defaults to an in-process store of its own, separate
// from the one RateLimits uses; cmd/opencawtd swaps it for
// ratelimit.RedisStore when REDIS_ADDR is configured.
func NewServer(s *store.Store, cfg *config.Config, ag *agreement.Service, sp *seal.Pipeline, wh *webhook.Dispatcher, tv treasury.Verifier) *Server {
	return &Server{
		Store:          s,
		Config:         cfg,
		Verifier:       NewMutationVerifier(s),
		Agreements:     ag,
		Seal:           sp,
		Webhooks:       wh,
		Treasury:       tv,
		RateLimits:     ratelimit.NewInMemoryStore(),
		SoftCapLimiter: ratelimit.NewInMemoryStore(),
		Logger:         slog.Default(),
		Now:            time.Now,
	}
}

// rateLimitPolicy converts one of the configured per-agent hourly/daily
// quotas into a ratelimit.Policy, burst sized to one quota's worth so
// a single burst of activity never needs more than the window allows.
func (s *Server) rateLimitPolicy(perWindow int, windowMinutes int) ratelimit.Policy {
	rpm := perWindow
	if windowMinutes > 1 {
		rpm = (perWindow + windowMinutes - 1) / windowMinutes
	}
	if rpm < 1 {
		rpm = 1
	}
	return ratelimit.Policy{RPM: rpm, Burst: perWindow}
}

// Router builds the full mux plus the global middleware chain:
// request-id injection, CORS, and per-IP rate limiting ahead of every
// route.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/agents", s.handleAgentsCollection)
	mux.HandleFunc("/agents/", s.handleAgentsItem)

	mux.HandleFunc("/cases", s.handleCasesCollection)
	mux.HandleFunc("/cases/", s.handleCasesItem)

	mux.HandleFunc("/agreements", s.handleAgreementsCollection)
	mux.HandleFunc("/agreements/", s.handleAgreementsItem)

	mux.HandleFunc("/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("/verify", s.handleVerify)

	mux.HandleFunc("/internal/seal-result", s.handleSealResult)
	mux.HandleFunc("/internal/diagnostics", s.handleDiagnostics)

	globalLimiter := NewGlobalRateLimiter(20, 40)

	var handler http.Handler = mux
	handler = globalLimiter.Middleware(handler)
	handler = auth.CORSMiddleware(s.Config.CORSOrigin)(handler)
	handler = auth.RequestIDMiddleware(handler)
	return handler
}

// pathSegments splits a request path into its non-empty components.
func pathSegments(path string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				out = append(out, path[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func requestID(r *http.Request) string {
	return auth.GetRequestID(r.Context())
}
