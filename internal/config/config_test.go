package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "lighthouse", cfg.Container.Name)
	assert.Equal(t, 90, cfg.Readiness.MaxTicks)
	assert.Equal(t, 2*time.Second, cfg.Readiness.Interval)
	assert.Equal(t, 15, *cfg.Readiness.ManualStartAt)
	assert.Equal(t, 30, *cfg.Readiness.DiagnosticsAt)
	assert.Equal(t, 7*24*time.Hour, cfg.Storage.Retention)
	assert.Equal(t, []string{"users"}, cfg.Database.KeyTables)
	assert.Equal(t, []string{"service-manager", "direct-binary", "supervisor"}, cfg.Readiness.StartStrategies)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
ports:
  web: 8443
  protocol_a: 4443
  protocol_b: 4444
storage:
  data_root: "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"
  backup_dir: "` + filepath.ToSlash(filepath.Join(dir, "backups")) + `"
readiness:
  interval: 500ms
  max_ticks: 10
  start_strategies: [direct-binary]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 8443, cfg.Ports.Web)
	assert.Equal(t, 4443, cfg.Ports.ProtocolA)
	assert.Equal(t, 4444, cfg.Ports.ProtocolB)
	assert.Equal(t, 500*time.Millisecond, cfg.Readiness.Interval)
	assert.Equal(t, 10, cfg.Readiness.MaxTicks)
	assert.Equal(t, []string{"direct-binary"}, cfg.Readiness.StartStrategies)
}

func TestLoad_ZeroDisablesEscalations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
readiness:
  manual_start_at: 0
  diagnostics_at: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Readiness.ManualStartAt)
	require.NotNil(t, cfg.Readiness.DiagnosticsAt)
	assert.Zero(t, *cfg.Readiness.ManualStartAt)
	assert.Zero(t, *cfg.Readiness.DiagnosticsAt)
}

func TestValidate_RejectsNegativeEscalationTick(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Readiness.ManualStartAt = IntPtr(-1)

	assert.Error(t, Validate(cfg))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("LIGHTHOUSE_PORTS_WEB", "9443")
	t.Setenv("LIGHTHOUSE_CONTAINER_NAME", "edge")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9443, cfg.Ports.Web)
	assert.Equal(t, "edge", cfg.Container.Name)
}

func TestValidate_RejectsUnknownStrategy(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Readiness.StartStrategies = []string{"pray"}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oneof")
}

func TestValidate_RejectsBackupDirInsideDataRoot(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.BackupDir = filepath.Join(cfg.Storage.DataRoot, "backups")

	err := Validate(cfg)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "outside"))
}

func TestValidate_RejectsCollidingTCPPorts(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Ports.ProtocolA = cfg.Ports.Web

	require.Error(t, Validate(cfg))
}

func TestValidate_RejectsInvalidPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Ports.ProtocolB = 70000

	require.Error(t, Validate(cfg))
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := GetDefaultConfig()
	cfg.Ports.Web = 8888

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8888, loaded.Ports.Web)
	assert.Equal(t, cfg.Readiness, loaded.Readiness)
}
