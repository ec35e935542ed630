package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, "@every 30s", cfg.RuleReloadSchedule)
	assert.Equal(t, "RTA", cfg.DefaultConnector)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
	assert.Len(t, cfg.ExchangeSchemes, 3)
	assert.False(t, cfg.IsProduction())
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SUBMIT_TIMEOUT", "3s")
	t.Setenv("EXCHANGE_SCHEMES", "Alpha,Beta")
	t.Setenv("DEFAULT_CONNECTOR", "EXCHANGE")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, []string{"Alpha", "Beta"}, cfg.ExchangeSchemes)
	assert.Equal(t, "EXCHANGE", cfg.DefaultConnector)
}

func TestLoadDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("KLEAR_TEST_ONLY=1\nDB_PATH=from-file.db\n"), 0o600))
	t.Setenv("DB_PATH", "from-env.db")
	t.Cleanup(func() { _ = os.Unsetenv("KLEAR_TEST_ONLY") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DBPath, "environment wins over the file")
	assert.Equal(t, "1", os.Getenv("KLEAR_TEST_ONLY"))
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")

	t.Run("unparseable duration", func(t *testing.T) {
		t.Setenv("PROBE_TIMEOUT", "soon")
		_, err := Load(missing)
		assert.ErrorContains(t, err, "parse env")
	})

	t.Run("unknown connector", func(t *testing.T) {
		t.Setenv("DEFAULT_CONNECTOR", "FAX")
		_, err := Load(missing)
		assert.ErrorContains(t, err, "DEFAULT_CONNECTOR")
	})

	t.Run("success rate out of range", func(t *testing.T) {
		t.Setenv("EXCHANGE_SUCCESS_RATE", "1.5")
		_, err := Load(missing)
		assert.ErrorContains(t, err, "EXCHANGE_SUCCESS_RATE")
	})
}
