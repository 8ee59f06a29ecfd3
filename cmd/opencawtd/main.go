// Command opencawtd runs the OpenCawt notarisation and adjudication
// service: the signed-mutation HTTP surface, the session engine's
// background tick loop, and the seal-job/webhook sweepers, sharing one
// store. Config is env-first with a SQLite "lite mode" fallback when
// no Postgres DSN is configured; each background subsystem runs in its
// own goroutine under one signal-driven shutdown context.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ciaran88/opencawt/pkg/agreement"
	"github.com/Ciaran88/opencawt/pkg/config"
	"github.com/Ciaran88/opencawt/pkg/drand"
	"github.com/Ciaran88/opencawt/pkg/ratelimit"
	"github.com/Ciaran88/opencawt/pkg/seal"
	"github.com/Ciaran88/opencawt/pkg/session"
	"github.com/Ciaran88/opencawt/pkg/store"
	"github.com/Ciaran88/opencawt/pkg/treasury"
	"github.com/Ciaran88/opencawt/pkg/webhook"

	"github.com/Ciaran88/opencawt/pkg/api"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if profilePath := os.Getenv("CONFIG_PROFILE"); profilePath != "" {
		base, err := config.LoadProfile(profilePath)
		if err != nil {
			log.Fatalf("opencawtd: load config profile: %v", err)
		}
		cfg = config.LoadWithProfile(base)
	}

	logHandlerOpts := &slog.HandlerOptions{}
	var handler slog.Handler
	if cfg.IsProduction {
		handler = slog.NewJSONHandler(os.Stdout, logHandlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, logHandlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("opencawt starting", "driver", cfg.DBDriver, "solanaMode", cfg.SolanaMode, "drandMode", cfg.DrandMode)

	s, err := store.Open(cfg.DBDriver, cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	var drandClient drand.Client
	if cfg.DrandMode == "http" {
		drandClient = drand.NewHTTPClient("")
	} else {
		drandClient = drand.NewStubClient()
	}

	var sealWorker seal.Worker
	if cfg.SealWorkerMode == "http" {
		sealWorker = seal.NewHTTPWorker(os.Getenv("SEAL_WORKER_ENDPOINT"), cfg.WorkerToken)
	} else {
		sealWorker = seal.StubWorker{}
	}
	sealPipeline := seal.NewPipeline(s, sealWorker)

	agreements := agreement.NewService(s, sealPipeline)

	sealPipeline.OnMinted = func(ctx context.Context, job *store.SealJob, resp seal.Response) error {
		if job.CaseID != "" {
			return session.ApplyCaseSealResult(ctx, s, job.CaseID, resp, time.Now())
		}
		if job.ProposalID != "" {
			return agreements.ApplySealResult(ctx, job.ProposalID, resp)
		}
		return nil
	}

	var treasuryVerifier treasury.Verifier
	if cfg.SolanaMode == "rpc" {
		treasuryVerifier = treasury.NewRPCVerifier(os.Getenv("SOLANA_RPC_ENDPOINT"), cfg.TreasuryAddress)
	} else {
		treasuryVerifier = treasury.NewStubVerifier(0)
	}

	webhookSigningKey := []byte(os.Getenv("WEBHOOK_SIGNING_KEY"))
	if len(webhookSigningKey) == 0 {
		webhookSigningKey = []byte("opencawt-dev-signing-key")
		logger.Warn("WEBHOOK_SIGNING_KEY not set; using an insecure development key")
	}
	dispatcher := webhook.NewDispatcher(s, webhookSigningKey)

	engine := session.NewEngine(s, drandClient, sealPipeline, cfg.Rules)
	engine.Logger = logger

	srv := api.NewServer(s, cfg, agreements, sealPipeline, dispatcher, treasuryVerifier)
	srv.Logger = logger
	if cfg.RedisAddr != "" {
		srv.SoftCapLimiter = ratelimit.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		logger.Info("soft daily case cap backed by redis", "addr", cfg.RedisAddr)
	}

	httpServer := &http.Server{
		Addr:              cfg.APIHost + ":" + cfg.APIPort,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go engine.Run(ctx, 1*time.Second)
	go runSealSweeper(ctx, sealPipeline, logger)
	go runWebhookSweeper(ctx, dispatcher, logger)
	go runIdempotencySweeper(ctx, s, logger)

	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("opencawt shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	return 0
}

// runSealSweeper drives the seal job retry sweep on a
// fixed tick until ctx is cancelled.
func runSealSweeper(ctx context.Context, p *seal.Pipeline, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.SweepRetryable(ctx); err != nil {
				logger.Error("seal sweep failed", "error", err)
			}
		}
	}
}

// runWebhookSweeper drains pending outbound deliveries.
func runWebhookSweeper(ctx context.Context, d *webhook.Dispatcher, logger *slog.Logger) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.SweepPending(ctx, 25); err != nil {
				logger.Error("webhook sweep failed", "error", err)
			}
		}
	}
}

// runIdempotencySweeper deletes expired idempotency rows and replay
// guard entries.
func runIdempotencySweeper(ctx context.Context, s *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC().Format(time.RFC3339Nano)
			if _, err := s.Q().SweepExpiredIdempotencyRecords(ctx, now); err != nil {
				logger.Error("idempotency sweep failed", "error", err)
			}
			cutoff := time.Now().Add(-48 * time.Hour).Unix()
			if _, err := s.Q().SweepExpiredAgentActions(ctx, cutoff); err != nil {
				logger.Error("agent action log sweep failed", "error", err)
			}
		}
	}
}
