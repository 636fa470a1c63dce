package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.DatabaseDriver)
	assert.Equal(t, BackendFilesystem, cfg.StorageBackend)
	assert.Equal(t, int64(1024*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, DefaultForbiddenExtensions, cfg.ForbiddenExtensions)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/ds.db")
	t.Setenv("FORBIDDEN_EXTENSIONS", " exe , , js ")
	t.Setenv("CLEANUP_INTERVAL_HOURS", "0.5")
	t.Setenv("S3_FORCE_PATH_STYLE", "false")
	t.Setenv("MAX_FILE_SIZE", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.DatabaseDriver)
	assert.Equal(t, "/tmp/ds.db", cfg.SQLitePath)
	assert.Equal(t, []string{"exe", "js"}, cfg.ForbiddenExtensions)
	assert.Equal(t, 30*time.Minute, cfg.CleanupInterval)
	assert.False(t, cfg.S3ForcePathStyle)
	assert.Equal(t, int64(1024*1024*1024), cfg.MaxFileSize, "unparsable values fall back")
}

func TestLoad_TOMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "datashare.toml")
	content := `
port = "7000"
storage_backend = "s3"
s3_bucket = "shares"
forbidden_extensions = ["exe", "dll"]
cache_ttl_seconds = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PORT", "7001")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7001", cfg.Port, "environment wins over the file")
	assert.Equal(t, BackendS3, cfg.StorageBackend)
	assert.Equal(t, "shares", cfg.S3Bucket)
	assert.Equal(t, []string{"exe", "dll"}, cfg.ForbiddenExtensions)
	assert.Equal(t, 5*time.Second, cfg.CacheTTL)
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = "), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }, `unknown DATABASE_DRIVER "mysql"`},
		{"s3 without bucket", func(c *Config) { c.StorageBackend = BackendS3 }, "S3_BUCKET is required"},
		{"unknown backend", func(c *Config) { c.StorageBackend = "gcs" }, `unknown STORAGE_BACKEND "gcs"`},
		{"zero max size", func(c *Config) { c.MaxFileSize = 0 }, "MAX_FILE_SIZE must be positive"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, `unknown LOG_FORMAT "xml"`},
		{"zero orphan grace", func(c *Config) { c.OrphanGracePeriod = 0 }, "ORPHAN_GRACE_HOURS must be at least 5m0s"},
		{"negative orphan grace", func(c *Config) { c.OrphanGracePeriod = -time.Hour }, "ORPHAN_GRACE_HOURS must be at least"},
		{"orphan grace below floor", func(c *Config) { c.OrphanGracePeriod = time.Minute }, "ORPHAN_GRACE_HOURS must be at least"},
		{"zero rate", func(c *Config) { c.RateLimitRPS = 0 }, "RATE_LIMIT_RPS must be positive"},
		{"zero burst", func(c *Config) { c.RateLimitBurst = 0 }, "RATE_LIMIT_BURST must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})

	t.Run("orphan grace at floor is valid", func(t *testing.T) {
		cfg := Default()
		cfg.OrphanGracePeriod = MinOrphanGracePeriod
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoad_RejectsUnsafeSweepAndRateSettings(t *testing.T) {
	tests := []struct {
		key, value, wantErr string
	}{
		{"ORPHAN_GRACE_HOURS", "-1", "ORPHAN_GRACE_HOURS"},
		{"ORPHAN_GRACE_HOURS", "0", "ORPHAN_GRACE_HOURS"},
		{"ORPHAN_GRACE_HOURS", "0.01", "ORPHAN_GRACE_HOURS"},
		{"RATE_LIMIT_RPS", "0", "RATE_LIMIT_RPS"},
		{"RATE_LIMIT_RPS", "-3", "RATE_LIMIT_RPS"},
		{"RATE_LIMIT_BURST", "0", "RATE_LIMIT_BURST"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			t.Setenv(tt.key, tt.value)

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("grace above floor loads", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", "")
		t.Setenv("ORPHAN_GRACE_HOURS", "0.25")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, cfg.OrphanGracePeriod)
	})
}
