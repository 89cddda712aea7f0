package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults loads a working configuration with no environment set.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "https://api.ihc-attribution.com/v1", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.RequestTimeout)
	assert.Equal(t, 3, cfg.API.MaxRetries)
	assert.Equal(t, 60, cfg.API.RequestsPerMinute)
	assert.Equal(t, 10, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 3000, cfg.Pipeline.MaxSessionsPerChunk)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.ClickHouse.Enabled)
}

// TestLoad_Overrides reads typed values from the environment.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ATTRIB_ENV", "production")
	t.Setenv("ATTRIB_DB_PORT", "5433")
	t.Setenv("ATTRIB_API_TIMEOUT", "90s")
	t.Setenv("ATTRIB_CHUNK_SIZE", "25")
	t.Setenv("ATTRIB_REDIS_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, 90*time.Second, cfg.API.RequestTimeout)
	assert.Equal(t, 25, cfg.Pipeline.ChunkSize)
	assert.True(t, cfg.Redis.Enabled)
}

// TestLoad_InvalidTypesFallBack keeps the default when a variable does not
// parse.
func TestLoad_InvalidTypesFallBack(t *testing.T) {
	t.Setenv("ATTRIB_DB_PORT", "not-a-port")
	t.Setenv("ATTRIB_API_BACKOFF_BASE", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, time.Second, cfg.API.BackoffBase)
}

// TestValidate rejects non-positive chunk limits.
func TestValidate(t *testing.T) {
	t.Setenv("ATTRIB_CHUNK_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ATTRIB_CHUNK_SIZE")
}

// TestDSN assembles the PostgreSQL connection string.
func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, User: "svc", Password: "pw",
		DBName: "attribution", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://svc:pw@db:5432/attribution?sslmode=disable", d.DSN())
}
