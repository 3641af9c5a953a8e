package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
app:
  name: "FleetSight"
  version: "1.0.0"
  log_level: "info"
data:
  source: "csv"
  csv_path: "data/fleet.csv"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleetsight.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, 0.10, cfg.Analyzer.ContaminationAlerts)
	assert.Equal(t, 0.05, cfg.Analyzer.ContaminationDashboard)
	assert.Equal(t, 0.5, cfg.Analyzer.RiskThreshold)
	assert.Equal(t, int64(42), cfg.Analyzer.Seed)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing name", func(c *Config) { c.App.Name = "" }, "app.name"},
		{"bad log level", func(c *Config) { c.App.LogLevel = "verbose" }, "log_level"},
		{"bad source", func(c *Config) { c.Data.Source = "redis" }, "data.source"},
		{"csv without path", func(c *Config) { c.Data.CSVPath = "" }, "csv_path"},
		{"bad contamination", func(c *Config) { c.Analyzer.ContaminationAlerts = 0.7 }, "contamination_alerts"},
		{"bad threshold", func(c *Config) { c.Analyzer.RiskThreshold = 1.5 }, "risk_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, validYAML))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidatePostgresSource(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	cfg.Data.Source = "postgres"
	assert.Error(t, cfg.Validate())

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "fleetsight"
	cfg.Database.DBName = "fleetsight"
	cfg.Database.MaxConnections = 10
	assert.NoError(t, cfg.Validate())

	url := cfg.GetDatabaseURL()
	assert.Contains(t, url, "postgres://fleetsight:")
	assert.Contains(t, url, "localhost:5432/fleetsight")
	assert.Contains(t, url, "pool_max_conns=10")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FLEETSIGHT_CSV_PATH", "/srv/fleet.csv")
	t.Setenv("FLEETSIGHT_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/srv/fleet.csv", cfg.Data.CSVPath)
	assert.Equal(t, "debug", cfg.App.LogLevel)
}

func TestValidateAuthEnabled(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	cfg.Auth.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.Auth.Username = "admin"
	cfg.Auth.Password = "admin123"
	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())
}
