package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENSTOCK_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.True(t, cfg.CacheEnabled)
	assert.Empty(t, cfg.SimFinAPIKey)
	assert.False(t, cfg.Backup.Enabled)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OPENSTOCK_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("SIMFIN_API_KEY", "test-key")
	t.Setenv("CACHE_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, "test-key", cfg.SimFinAPIKey)
	assert.False(t, cfg.CacheEnabled)
}

func TestBackupEnabledByBucket(t *testing.T) {
	t.Setenv("OPENSTOCK_DATA_DIR", t.TempDir())
	t.Setenv("BACKUP_BUCKET", "openstock-backups")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Backup.Enabled)
	assert.Equal(t, "openstock-backups", cfg.Backup.Bucket)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
}

func TestValidate(t *testing.T) {
	t.Setenv("OPENSTOCK_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Port = 8080
	cfg.Backup.Enabled = true
	cfg.Backup.Bucket = ""
	assert.Error(t, cfg.Validate())

	cfg.Backup.Bucket = "b"
	assert.Error(t, cfg.Validate(), "missing credentials should fail")

	cfg.Backup.AccessKeyID = "id"
	cfg.Backup.SecretAccessKey = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestCacheDBPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENSTOCK_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.DataDir, "cache.db"), cfg.CacheDBPath())
}

func TestGetEnvAsIntInvalid(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	assert.Equal(t, 42, getEnvAsInt("SOME_INT", 42))
}
