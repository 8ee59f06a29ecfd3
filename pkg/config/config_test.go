package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Ciaran88/opencawt/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"API_HOST", "API_PORT", "DB_DRIVER", "DB_PATH", "CORS_ORIGIN", "IS_PRODUCTION",
		"SOLANA_MODE", "SEAL_WORKER_MODE", "DRAND_MODE", "WORKER_TOKEN", "SYSTEM_API_KEY",
		"HELIUS_WEBHOOK_TOKEN", "TREASURY_ADDRESS", "SOFT_DAILY_CASE_CAP", "SOFT_CAP_MODE",
		"RATE_LIMIT_FILING_PER_24H", "RULES_JUROR_PANEL_SIZE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.False(t, cfg.IsProduction)
	assert.Equal(t, "warn", cfg.SoftCapMode)
	assert.Equal(t, 11, cfg.Rules.JurorPanelSize)
	assert.Equal(t, 5, cfg.RateLimits.FilingPer24h)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("IS_PRODUCTION", "true")
	t.Setenv("RULES_JUROR_PANEL_SIZE", "7")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.APIPort)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.True(t, cfg.IsProduction)
	assert.Equal(t, 7, cfg.Rules.JurorPanelSize)
}

func TestLoadProfile_OverlayThenEnvWins(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_port: "9191"
rules:
  juror_panel_size: 9
`), 0o644))

	base, err := config.LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "9191", base.APIPort)
	assert.Equal(t, 9, base.Rules.JurorPanelSize)

	t.Setenv("API_PORT", "9292")
	cfg := config.LoadWithProfile(base)
	assert.Equal(t, "9292", cfg.APIPort, "env var must win over the profile")
	assert.Equal(t, 9, cfg.Rules.JurorPanelSize, "profile value stands when no env override is set")
}
