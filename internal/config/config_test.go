package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "/var/lib/ratd", cfg.DataPath)
	assert.Equal(t, DefaultQueueTTLSeconds, cfg.Queue.TTLSeconds)
	assert.Equal(t, DefaultQueueMaxAttempts, cfg.Queue.MaxAttempts)
	assert.False(t, cfg.Backup.Enabled)
}

func TestLoad_NoFile_ReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ValidConfig_OverridesDefaults(t *testing.T) {
	content := `
data_path: /data/ratd
queue:
  ttl_seconds: 60
  max_attempts: 5
backup:
  enabled: true
  cron: "0 2 * * *"
  s3_prefix: backups
`
	path := writeTemp(t, content)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/ratd", cfg.DataPath)
	assert.Equal(t, 60, cfg.Queue.TTLSeconds)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, "0 2 * * *", cfg.Backup.Cron)
	assert.Equal(t, "backups", cfg.Backup.S3Prefix)
}

func TestLoad_MissingDataPath_ReturnsError(t *testing.T) {
	path := writeTemp(t, "data_path: \"\"\n")

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "data_path")
}

func TestLoad_BackupEnabledWithoutCron_ReturnsError(t *testing.T) {
	content := `
backup:
  enabled: true
  cron: ""
`
	path := writeTemp(t, content)

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cron")
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeTemp(t, "{{not yaml")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestResolvePath_EnvVar_TakesPriority(t *testing.T) {
	tmp := writeTemp(t, "data_path: /data/ratd")
	t.Setenv("RATD_CONFIG", tmp)

	path := ResolvePath()
	assert.Equal(t, tmp, path)
}

func TestResolvePath_NoEnvVar_FallsBackToDefault(t *testing.T) {
	t.Setenv("RATD_CONFIG", "")

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "ratd.yaml")
	os.WriteFile(yamlPath, []byte("data_path: /data/ratd"), 0o644)

	origDir, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(origDir)

	path := ResolvePath()
	assert.Equal(t, "ratd.yaml", path)
}

func TestResolvePath_NoEnvVar_NoFile_ReturnsEmpty(t *testing.T) {
	t.Setenv("RATD_CONFIG", "")

	dir := t.TempDir()
	origDir, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(origDir)

	path := ResolvePath()
	assert.Equal(t, "", path)
}

func TestEnvInt_InvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("RATD_TEST_INT", "not-a-number")
	assert.Equal(t, 7, EnvInt("RATD_TEST_INT", 7))
}

func TestEnvDuration_ValidOverridesDefault(t *testing.T) {
	t.Setenv("RATD_TEST_DURATION", "5s")
	assert.Equal(t, 5e9, float64(EnvDuration("RATD_TEST_DURATION", 0)))
}

// writeTemp creates a temporary YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	f.Close()
	return f.Name()
}
