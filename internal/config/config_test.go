package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7860, cfg.Server.Port)
	assert.Equal(t, int64(25*1024*1024), cfg.Upload.MaxFileBytes)
	assert.Equal(t, 60*time.Minute, cfg.Workspace.TTL)
	assert.Equal(t, ModeDeferred, cfg.Jobs.ExecutionMode)
	assert.False(t, cfg.Synchronous())
	assert.Equal(t, 30, cfg.RateLimit.Requests)
	assert.Equal(t, []string{"ocrmypdf", "tesseract"}, cfg.OCR.Engines)
	assert.False(t, cfg.Extraction.Deep.Enabled)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9000
jobs:
  max_jobs: 32
  execution_mode: sync
workspace:
  ttl: 30m
extraction:
  deep:
    enabled: true
    command: "deeptables --json"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 32, cfg.Jobs.MaxJobs)
	assert.True(t, cfg.Synchronous())
	assert.Equal(t, 30*time.Minute, cfg.Workspace.TTL)
	assert.True(t, cfg.Extraction.Deep.Enabled)
	// untouched sections keep their defaults
	assert.Equal(t, 2, cfg.Jobs.MaxConcurrent)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("APP_ORIGIN", "https://tables.example.com")
	t.Setenv("MAX_CONTENT_LENGTH", "1048576")
	t.Setenv("SYNC_PIPELINE", "true")
	t.Setenv("OCR_ENGINES", "tesseract")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "https://tables.example.com", cfg.Server.AllowedOrigin)
	assert.Equal(t, int64(1048576), cfg.Upload.MaxFileBytes)
	assert.True(t, cfg.Synchronous())
	assert.Equal(t, []string{"tesseract"}, cfg.OCR.Engines)
	assert.Equal(t, "redis", cfg.RateLimit.Driver)
	assert.Equal(t, "cache:6379", cfg.RateLimit.Redis.Addr)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
}

func TestLoad_RedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://:s3cret@cache.internal:6379/2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.RateLimit.Driver)
	assert.Equal(t, "cache.internal:6379", cfg.RateLimit.Redis.Addr)
	assert.Equal(t, "s3cret", cfg.RateLimit.Redis.Password)
	assert.Equal(t, 2, cfg.RateLimit.Redis.DB)
}

func TestLoad_InvalidRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "http://cache:6379")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestLoad_ExpandsEnvInFile(t *testing.T) {
	t.Setenv("TABLES_DIR", "/srv/tables")
	t.Setenv("TABLES_REDIS_PASSWORD", "hunter2")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
workspace:
  base_dir: ${TABLES_DIR}/work
rate_limit:
  redis:
    password: ${TABLES_REDIS_PASSWORD}
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/tables/work", cfg.Workspace.BaseDir)
	assert.Equal(t, "hunter2", cfg.RateLimit.Redis.Password)
}

func TestLoad_PaddleEngine(t *testing.T) {
	t.Setenv("OCR_ENGINES", "paddleocr,ocrmypdf,tesseract")
	t.Setenv("PADDLE_OCR_COMMAND", `"/opt/paddle/bin/paddle2pdf" --gpu`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"paddleocr", "ocrmypdf", "tesseract"}, cfg.OCR.Engines)
	assert.Equal(t, `"/opt/paddle/bin/paddle2pdf" --gpu`, cfg.OCR.PaddleCommand)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero upload size", func(c *Config) { c.Upload.MaxFileBytes = 0 }},
		{"zero job ceiling", func(c *Config) { c.Jobs.MaxJobs = 0 }},
		{"unknown mode", func(c *Config) { c.Jobs.ExecutionMode = "eager" }},
		{"zero ttl", func(c *Config) { c.Workspace.TTL = 0 }},
		{"unknown engine", func(c *Config) { c.OCR.Engines = []string{"paddle"} }},
		{"deep without command", func(c *Config) { c.Extraction.Deep.Enabled = true }},
		{"deep command with open quote", func(c *Config) {
			c.Extraction.Deep.Enabled = true
			c.Extraction.Deep.Command = `deeptables "--json`
		}},
		{"paddle without command", func(c *Config) { c.OCR.Engines = []string{"paddleocr"} }},
		{"unknown limiter driver", func(c *Config) { c.RateLimit.Driver = "etcd" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
