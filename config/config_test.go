package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "reconcile", cfg.AppName)
	assert.Equal(t, StoreWorkbook, cfg.Store)
	assert.Equal(t, 71, cfg.NameThreshold)
	assert.Equal(t, 0.75, cfg.LabelThreshold)
	assert.Equal(t, 0.02, cfg.PremiumTolerance)
	assert.Equal(t, "RAW STATEMENT", cfg.InsurerSheet)
	assert.Empty(t, cfg.BrokerSheet)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("STORE", "sqlite")
	t.Setenv("NAME_THRESHOLD", "80")
	t.Setenv("MATCH_WORKERS", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store)

	pc := cfg.PipelineConfig()
	assert.Equal(t, 80, pc.Names.Threshold)
	assert.Equal(t, 3, pc.Names.Workers)
	assert.Equal(t, 0.02, pc.Scorer.PremiumTolerance)
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("OUTPUT_DIR=/tmp/recon-out\nLOG_LEVEL=debug\n"), 0o600))

	// godotenv does not override variables that are already set
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("OUTPUT_DIR", "")
	require.NoError(t, os.Unsetenv("OUTPUT_DIR"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/recon-out", cfg.OutputDir)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_MissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "unknown store", key: "STORE", value: "mongo"},
		{name: "threshold above 100", key: "NAME_THRESHOLD", value: "101"},
		{name: "unknown exporter", key: "TRACING_EXPORTER", value: "zipkin"},
		{name: "not a number", key: "LABEL_THRESHOLD", value: "high"},
		{name: "zero label threshold", key: "LABEL_THRESHOLD", value: "0"},
		{name: "zero premium tolerance", key: "PREMIUM_TOLERANCE", value: "0"},
		{name: "tolerance of one", key: "PREMIUM_TOLERANCE", value: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
