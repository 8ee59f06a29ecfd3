// Package config loads OpenCawt's server configuration from the
// environment, with an optional YAML base profile underneath it.
package config

import (
	"os"
	"strconv"
)

// RateLimitConfig bounds per-agent mutation throughput. The limits are
// enforced per agent and action class by the token buckets of
// pkg/ratelimit (see pkg/api/ratelimit.go); the action log is not read
// for this.
type RateLimitConfig struct {
	FilingPer24h       int
	EvidencePerHour    int
	SubmissionsPerHour int
	BallotsPerHour     int
}

// RulesConfig carries every timing parameter that drives the session
// engine's stage machine. Seconds, not durations, because these values
// round-trip through JSON config and env vars most naturally as plain
// integers.
type RulesConfig struct {
	SessionStartsAfterSeconds      int
	DefenceAssignmentCutoffSeconds int
	NamedDefendantExclusiveSeconds int
	NamedDefendantResponseSeconds  int
	JurorReadinessSeconds          int
	StageSubmissionSeconds         int
	JurorVoteSeconds               int
	VotingHardTimeoutSeconds       int
	JurorPanelSize                 int
}

// LimitsConfig bounds the size and count of agent-submitted content.
type LimitsConfig struct {
	MaxSubmissionCharsPerPhase int
	MaxEvidenceCharsPerItem    int
	MaxEvidenceCharsPerCase    int
	MaxEvidenceItemsPerCase    int
	MaxClaimSummaryChars       int
}

// Config holds every server setting enumerated by the operator-facing
// config key list. Fields are plain Go types rather than typed
// wrappers so env parsing stays a flat table of conversions.
type Config struct {
	APIHost string
	APIPort string

	DBDriver string // "sqlite" | "postgres"
	DBPath   string // sqlite file path, or a postgres DSN when DBDriver=="postgres"

	CORSOrigin   string
	IsProduction bool

	SolanaMode     string // "stub" | "rpc"
	SealWorkerMode string // "stub" | "http"
	DrandMode      string // "stub" | "http"

	WorkerToken        string
	SystemAPIKey       string
	HeliusWebhookToken string
	TreasuryAddress    string

	SoftDailyCaseCap int
	SoftCapMode      string // "warn" | "enforce"

	// RedisAddr, when set, backs the service-wide soft daily case cap
	// with pkg/ratelimit.RedisStore instead of the in-process default,
	// so the cap holds across more than one opencawtd process.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimits RateLimitConfig
	Rules      RulesConfig
	Limits     LimitsConfig
}

// Load reads configuration from the environment, applying the
// defaults a fresh "lite mode" deployment needs to boot without any
// operator-supplied values. Call LoadWithProfile instead when a YAML
// base profile should be layered underneath the environment.
func Load() *Config {
	return LoadWithProfile(nil)
}

// LoadWithProfile applies env vars on top of base (which may be nil).
// Env vars always win: this lets an operator check in a profile.yaml
// with shared defaults and override individual keys per deployment via
// the environment.
func LoadWithProfile(base *Config) *Config {
	cfg := defaultConfig()
	if base != nil {
		overlay(cfg, base)
	}

	cfg.APIHost = envOr("API_HOST", cfg.APIHost)
	cfg.APIPort = envOr("API_PORT", cfg.APIPort)
	cfg.DBDriver = envOr("DB_DRIVER", cfg.DBDriver)
	cfg.DBPath = envOr("DB_PATH", cfg.DBPath)
	cfg.CORSOrigin = envOr("CORS_ORIGIN", cfg.CORSOrigin)
	cfg.IsProduction = envBoolOr("IS_PRODUCTION", cfg.IsProduction)
	cfg.SolanaMode = envOr("SOLANA_MODE", cfg.SolanaMode)
	cfg.SealWorkerMode = envOr("SEAL_WORKER_MODE", cfg.SealWorkerMode)
	cfg.DrandMode = envOr("DRAND_MODE", cfg.DrandMode)
	cfg.WorkerToken = envOr("WORKER_TOKEN", cfg.WorkerToken)
	cfg.SystemAPIKey = envOr("SYSTEM_API_KEY", cfg.SystemAPIKey)
	cfg.HeliusWebhookToken = envOr("HELIUS_WEBHOOK_TOKEN", cfg.HeliusWebhookToken)
	cfg.TreasuryAddress = envOr("TREASURY_ADDRESS", cfg.TreasuryAddress)
	cfg.SoftDailyCaseCap = envIntOr("SOFT_DAILY_CASE_CAP", cfg.SoftDailyCaseCap)
	cfg.SoftCapMode = envOr("SOFT_CAP_MODE", cfg.SoftCapMode)
	cfg.RedisAddr = envOr("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envOr("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = envIntOr("REDIS_DB", cfg.RedisDB)

	cfg.RateLimits.FilingPer24h = envIntOr("RATE_LIMIT_FILING_PER_24H", cfg.RateLimits.FilingPer24h)
	cfg.RateLimits.EvidencePerHour = envIntOr("RATE_LIMIT_EVIDENCE_PER_HOUR", cfg.RateLimits.EvidencePerHour)
	cfg.RateLimits.SubmissionsPerHour = envIntOr("RATE_LIMIT_SUBMISSIONS_PER_HOUR", cfg.RateLimits.SubmissionsPerHour)
	cfg.RateLimits.BallotsPerHour = envIntOr("RATE_LIMIT_BALLOTS_PER_HOUR", cfg.RateLimits.BallotsPerHour)

	cfg.Rules.SessionStartsAfterSeconds = envIntOr("RULES_SESSION_STARTS_AFTER_SECONDS", cfg.Rules.SessionStartsAfterSeconds)
	cfg.Rules.DefenceAssignmentCutoffSeconds = envIntOr("RULES_DEFENCE_ASSIGNMENT_CUTOFF_SECONDS", cfg.Rules.DefenceAssignmentCutoffSeconds)
	cfg.Rules.NamedDefendantExclusiveSeconds = envIntOr("RULES_NAMED_DEFENDANT_EXCLUSIVE_SECONDS", cfg.Rules.NamedDefendantExclusiveSeconds)
	cfg.Rules.NamedDefendantResponseSeconds = envIntOr("RULES_NAMED_DEFENDANT_RESPONSE_SECONDS", cfg.Rules.NamedDefendantResponseSeconds)
	cfg.Rules.JurorReadinessSeconds = envIntOr("RULES_JUROR_READINESS_SECONDS", cfg.Rules.JurorReadinessSeconds)
	cfg.Rules.StageSubmissionSeconds = envIntOr("RULES_STAGE_SUBMISSION_SECONDS", cfg.Rules.StageSubmissionSeconds)
	cfg.Rules.JurorVoteSeconds = envIntOr("RULES_JUROR_VOTE_SECONDS", cfg.Rules.JurorVoteSeconds)
	cfg.Rules.VotingHardTimeoutSeconds = envIntOr("RULES_VOTING_HARD_TIMEOUT_SECONDS", cfg.Rules.VotingHardTimeoutSeconds)
	cfg.Rules.JurorPanelSize = envIntOr("RULES_JUROR_PANEL_SIZE", cfg.Rules.JurorPanelSize)

	cfg.Limits.MaxSubmissionCharsPerPhase = envIntOr("LIMITS_MAX_SUBMISSION_CHARS_PER_PHASE", cfg.Limits.MaxSubmissionCharsPerPhase)
	cfg.Limits.MaxEvidenceCharsPerItem = envIntOr("LIMITS_MAX_EVIDENCE_CHARS_PER_ITEM", cfg.Limits.MaxEvidenceCharsPerItem)
	cfg.Limits.MaxEvidenceCharsPerCase = envIntOr("LIMITS_MAX_EVIDENCE_CHARS_PER_CASE", cfg.Limits.MaxEvidenceCharsPerCase)
	cfg.Limits.MaxEvidenceItemsPerCase = envIntOr("LIMITS_MAX_EVIDENCE_ITEMS_PER_CASE", cfg.Limits.MaxEvidenceItemsPerCase)
	cfg.Limits.MaxClaimSummaryChars = envIntOr("LIMITS_MAX_CLAIM_SUMMARY_CHARS", cfg.Limits.MaxClaimSummaryChars)

	return cfg
}

func defaultConfig() *Config {
	return &Config{
		APIHost:        "0.0.0.0",
		APIPort:        "8080",
		DBDriver:       "sqlite",
		DBPath:         "opencawt.db",
		CORSOrigin:     "*",
		IsProduction:   false,
		SolanaMode:     "stub",
		SealWorkerMode: "stub",
		DrandMode:      "stub",

		SoftDailyCaseCap: 500,
		SoftCapMode:      "warn",

		RateLimits: RateLimitConfig{
			FilingPer24h:       5,
			EvidencePerHour:    30,
			SubmissionsPerHour: 30,
			BallotsPerHour:     60,
		},
		Rules: RulesConfig{
			SessionStartsAfterSeconds:      3600,
			DefenceAssignmentCutoffSeconds: 2700,
			NamedDefendantExclusiveSeconds: 900,
			NamedDefendantResponseSeconds:  86400,
			JurorReadinessSeconds:          60,
			StageSubmissionSeconds:         1800,
			JurorVoteSeconds:               900,
			VotingHardTimeoutSeconds:       1800,
			JurorPanelSize:                 11,
		},
		Limits: LimitsConfig{
			MaxSubmissionCharsPerPhase: 8000,
			MaxEvidenceCharsPerItem:    4000,
			MaxEvidenceCharsPerCase:    40000,
			MaxEvidenceItemsPerCase:    25,
			MaxClaimSummaryChars:       2000,
		},
	}
}

// overlay copies every field of base into cfg; used when a YAML
// profile has already been parsed into a Config and should seed the
// defaults before env vars are applied.
func overlay(cfg *Config, base *Config) {
	*cfg = *base
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
