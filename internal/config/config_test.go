package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/rotor/internal/application"
	"github.com/bnema/rotor/internal/domain"
)

func loadFrom(t *testing.T, stateDir string) (Config, error) {
	t.Helper()

	v := viper.New()
	v.Set(StateDirKey, stateDir)
	return Load(v)
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := loadFrom(t, dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.StateDir)
	assert.Equal(t, 6, cfg.Fleet.Sessions)
	assert.Equal(t, []string{"builder", "explorer", "miner"}, cfg.Fleet.Roles)
	assert.Equal(t, 5*time.Second, cfg.Fleet.Tick)
	assert.Equal(t, 30*time.Minute, cfg.Fleet.RotationInterval)
	assert.Equal(t, 0.05, cfg.Pool.Alpha)
	assert.Equal(t, 100, cfg.Pool.Routes)
	assert.Equal(t, 30*time.Second, cfg.Session.MaxBackoff)
	assert.Equal(t, 2*time.Minute, cfg.Session.MinDwell)
	assert.Equal(t, 1000, cfg.Ledger.MaxEntries)
	assert.Zero(t, cfg.Monitor.Window)
	assert.Equal(t, 10*time.Second, cfg.Dispatch.IdempotenceWindow)
	assert.Equal(t, SnapshotBackendFile, cfg.Snapshot.Backend)
	assert.Equal(t, SecretsBackendFile, cfg.Secrets.Backend)
	assert.Equal(t, "127.0.0.1:7070", cfg.Status.Addr)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, application.DefaultPoolOptions(), cfg.PoolOptions())
	assert.Equal(t, application.DefaultLifecycleOptions(), cfg.LifecycleOptions())
	assert.Equal(t, application.DefaultLedgerOptions(), cfg.LedgerOptions())
	assert.Equal(t, application.DefaultMonitorOptions(), cfg.MonitorOptions())
	assert.Equal(t, application.DefaultDispatchOptions(), cfg.DispatchOptions())
	assert.Equal(t, application.DefaultPoolSizes(), cfg.PoolSizes())

	orchestrator, err := cfg.OrchestratorOptions()
	require.NoError(t, err)
	assert.Equal(t, application.DefaultOrchestratorOptions(), orchestrator)

	assert.Equal(t, filepath.Join(dir, "pools.toml"), cfg.PoolsPath())
	assert.Equal(t, filepath.Join(dir, "ledger.jsonl"), cfg.SnapshotPath())
	assert.Equal(t, filepath.Join(dir, "secrets"), cfg.SecretsDir())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `
[fleet]
sessions = 12
roles = ["miner", "Builder"]
tick = "2s"

[pool]
floor = 0.4

[snapshot]
backend = "sqlite"

[secrets]
backend = "pass"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600))

	cfg, err := loadFrom(t, dir)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Fleet.Sessions)
	assert.Equal(t, 2*time.Second, cfg.Fleet.Tick)
	assert.Equal(t, 0.4, cfg.Pool.Floor)
	assert.Equal(t, 0.05, cfg.Pool.Alpha, "unset keys keep their default")
	assert.Equal(t, SecretsBackendPass, cfg.Secrets.Backend)
	assert.Equal(t, filepath.Join(dir, "ledger.db"), cfg.SnapshotPath())

	orchestrator, err := cfg.OrchestratorOptions()
	require.NoError(t, err)
	assert.Equal(t, []domain.Role{domain.RoleMiner, domain.RoleBuilder}, orchestrator.Roles)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ROTOR_FLEET_SESSIONS", "3")
	t.Setenv("ROTOR_STATUS_ADDR", "127.0.0.1:9999")

	cfg, err := loadFrom(t, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Fleet.Sessions)
	assert.Equal(t, "127.0.0.1:9999", cfg.Status.Addr)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	content := `
[pool]
alpha = 1.5
beta = 0

[session]
backoff_multiplier = 0.5

[snapshot]
backend = "redis"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600))

	_, err := loadFrom(t, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool.alpha")
	assert.Contains(t, err.Error(), "pool.beta")
	assert.Contains(t, err.Error(), "session.backoff_multiplier")
	assert.Contains(t, err.Error(), `unknown snapshot.backend "redis"`)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[fleet\nsessions ="), 0o600))

	_, err := loadFrom(t, dir)
	require.ErrorContains(t, err, "read config file")
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	cfg, err := loadFrom(t, t.TempDir())
	require.NoError(t, err)

	cfg.Log.Format = "xml"
	require.ErrorContains(t, cfg.Validate(), "log.format")

	cfg.Log.Format = "console"
	cfg.Secrets.Backend = "vault"
	require.ErrorContains(t, cfg.Validate(), "secrets.backend")
}
