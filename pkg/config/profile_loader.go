package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// profileDoc mirrors Config's shape with yaml tags; kept separate from
// Config so env-var field names (which follow Go/JSON convention) and
// YAML field names (snake_case, matching the operator-facing config
// key list) can diverge without struct tag clutter on the hot path.
type profileDoc struct {
	APIHost      string `yaml:"api_host"`
	APIPort      string `yaml:"api_port"`
	DBDriver     string `yaml:"db_driver"`
	DBPath       string `yaml:"db_path"`
	CORSOrigin   string `yaml:"cors_origin"`
	IsProduction bool   `yaml:"is_production"`

	SolanaMode     string `yaml:"solana_mode"`
	SealWorkerMode string `yaml:"seal_worker_mode"`
	DrandMode      string `yaml:"drand_mode"`

	TreasuryAddress  string `yaml:"treasury_address"`
	SoftDailyCaseCap int    `yaml:"soft_daily_case_cap"`
	SoftCapMode      string `yaml:"soft_cap_mode"`

	RateLimits struct {
		FilingPer24h       int `yaml:"filing_per_24h"`
		EvidencePerHour    int `yaml:"evidence_per_hour"`
		SubmissionsPerHour int `yaml:"submissions_per_hour"`
		BallotsPerHour     int `yaml:"ballots_per_hour"`
	} `yaml:"rate_limits"`

	Rules struct {
		SessionStartsAfterSeconds      int `yaml:"session_starts_after_seconds"`
		DefenceAssignmentCutoffSeconds int `yaml:"defence_assignment_cutoff_seconds"`
		NamedDefendantExclusiveSeconds int `yaml:"named_defendant_exclusive_seconds"`
		NamedDefendantResponseSeconds  int `yaml:"named_defendant_response_seconds"`
		JurorReadinessSeconds          int `yaml:"juror_readiness_seconds"`
		StageSubmissionSeconds         int `yaml:"stage_submission_seconds"`
		JurorVoteSeconds               int `yaml:"juror_vote_seconds"`
		VotingHardTimeoutSeconds       int `yaml:"voting_hard_timeout_seconds"`
		JurorPanelSize                 int `yaml:"juror_panel_size"`
	} `yaml:"rules"`

	Limits struct {
		MaxSubmissionCharsPerPhase int `yaml:"max_submission_chars_per_phase"`
		MaxEvidenceCharsPerItem    int `yaml:"max_evidence_chars_per_item"`
		MaxEvidenceCharsPerCase    int `yaml:"max_evidence_chars_per_case"`
		MaxEvidenceItemsPerCase    int `yaml:"max_evidence_items_per_case"`
		MaxClaimSummaryChars       int `yaml:"max_claim_summary_chars"`
	} `yaml:"limits"`
}

// LoadProfile reads a YAML base profile from path and applies it on
// top of the built-in defaults. The returned Config is meant to be
// passed to LoadWithProfile so environment variables still take final
// precedence.
func LoadProfile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config profile %q: %w", path, err)
	}

	var doc profileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config profile %q: %w", path, err)
	}

	cfg := defaultConfig()
	applyProfileDoc(cfg, &doc)
	return cfg, nil
}

func applyProfileDoc(cfg *Config, doc *profileDoc) {
	setIfNonZero(&cfg.APIHost, doc.APIHost)
	setIfNonZero(&cfg.APIPort, doc.APIPort)
	setIfNonZero(&cfg.DBDriver, doc.DBDriver)
	setIfNonZero(&cfg.DBPath, doc.DBPath)
	setIfNonZero(&cfg.CORSOrigin, doc.CORSOrigin)
	cfg.IsProduction = doc.IsProduction
	setIfNonZero(&cfg.SolanaMode, doc.SolanaMode)
	setIfNonZero(&cfg.SealWorkerMode, doc.SealWorkerMode)
	setIfNonZero(&cfg.DrandMode, doc.DrandMode)
	setIfNonZero(&cfg.TreasuryAddress, doc.TreasuryAddress)
	if doc.SoftDailyCaseCap != 0 {
		cfg.SoftDailyCaseCap = doc.SoftDailyCaseCap
	}
	setIfNonZero(&cfg.SoftCapMode, doc.SoftCapMode)

	if doc.RateLimits.FilingPer24h != 0 {
		cfg.RateLimits.FilingPer24h = doc.RateLimits.FilingPer24h
	}
	if doc.RateLimits.EvidencePerHour != 0 {
		cfg.RateLimits.EvidencePerHour = doc.RateLimits.EvidencePerHour
	}
	if doc.RateLimits.SubmissionsPerHour != 0 {
		cfg.RateLimits.SubmissionsPerHour = doc.RateLimits.SubmissionsPerHour
	}
	if doc.RateLimits.BallotsPerHour != 0 {
		cfg.RateLimits.BallotsPerHour = doc.RateLimits.BallotsPerHour
	}

	r := doc.Rules
	setIfNonZeroInt(&cfg.Rules.SessionStartsAfterSeconds, r.SessionStartsAfterSeconds)
	setIfNonZeroInt(&cfg.Rules.DefenceAssignmentCutoffSeconds, r.DefenceAssignmentCutoffSeconds)
	setIfNonZeroInt(&cfg.Rules.NamedDefendantExclusiveSeconds, r.NamedDefendantExclusiveSeconds)
	setIfNonZeroInt(&cfg.Rules.NamedDefendantResponseSeconds, r.NamedDefendantResponseSeconds)
	setIfNonZeroInt(&cfg.Rules.JurorReadinessSeconds, r.JurorReadinessSeconds)
	setIfNonZeroInt(&cfg.Rules.StageSubmissionSeconds, r.StageSubmissionSeconds)
	setIfNonZeroInt(&cfg.Rules.JurorVoteSeconds, r.JurorVoteSeconds)
	setIfNonZeroInt(&cfg.Rules.VotingHardTimeoutSeconds, r.VotingHardTimeoutSeconds)
	setIfNonZeroInt(&cfg.Rules.JurorPanelSize, r.JurorPanelSize)

	l := doc.Limits
	setIfNonZeroInt(&cfg.Limits.MaxSubmissionCharsPerPhase, l.MaxSubmissionCharsPerPhase)
	setIfNonZeroInt(&cfg.Limits.MaxEvidenceCharsPerItem, l.MaxEvidenceCharsPerItem)
	setIfNonZeroInt(&cfg.Limits.MaxEvidenceCharsPerCase, l.MaxEvidenceCharsPerCase)
	setIfNonZeroInt(&cfg.Limits.MaxEvidenceItemsPerCase, l.MaxEvidenceItemsPerCase)
	setIfNonZeroInt(&cfg.Limits.MaxClaimSummaryChars, l.MaxClaimSummaryChars)
}

func setIfNonZero(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setIfNonZeroInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
