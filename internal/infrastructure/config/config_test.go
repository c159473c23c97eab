package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
server:
  host: 127.0.0.1
  port: 9090
storage:
  database_path: recon-test.db
rates:
  base_url: https://rates.example.com
  retry_max: 2
matching:
  auto_approve_threshold: 90
  candidate_threshold: 60
observability:
  logging:
    level: debug
    format: json
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr())
	assert.Equal(t, "recon-test.db", cfg.Storage.DatabasePath)
	assert.Equal(t, "https://rates.example.com", cfg.Rates.BaseURL)
	assert.Equal(t, 2, cfg.Rates.RetryMax)
	assert.Equal(t, 90, cfg.Matching.AutoApproveThreshold)
	assert.Equal(t, 60, cfg.Matching.CandidateThreshold)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
	assert.Equal(t, "json", cfg.Observability.Logging.Format)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("RATES_API_KEY", "secret-from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "rates:\n  api_key: ${RATES_API_KEY}\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Rates.APIKey)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RECON_DB_PATH", "env.db")
	t.Setenv("MATCH_AUTO_APPROVE", "92")
	t.Setenv("CONSOLIDATION_BATCH_SIZE", "5")

	cfg := LoadFromEnv()
	assert.Equal(t, "env.db", cfg.Storage.DatabasePath)
	assert.Equal(t, 92, cfg.Matching.AutoApproveThreshold)
	assert.Equal(t, 5, cfg.Consolidation.UpdateBatchSize)

	// unset values fall back to defaults
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Matching.CandidateThreshold)
}

func TestLoadOrEnvFallsBack(t *testing.T) {
	cfg := LoadOrEnvWithPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, cfg)
	assert.Equal(t, "recon.db", cfg.Storage.DatabasePath)
}
