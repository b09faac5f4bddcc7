package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadRequiresSecretKey(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET_KEY")
}

func TestLoadRejectsShortSecretKey(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
	assert.Equal(t, 30*time.Minute, cfg.JWT.ResetExpiry)
	assert.Equal(t, time.Duration(0), cfg.JWT.Leeway)
	assert.Equal(t, 30*24*time.Hour, cfg.Refresh.Retention)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testSecret)
	t.Setenv("JWT_ACCESS_EXPIRY", "5m")
	t.Setenv("JWT_LEEWAY", "30s")
	t.Setenv("REFRESH_RETENTION", "168h")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.JWT.AccessExpiry)
	assert.Equal(t, 30*time.Second, cfg.JWT.Leeway)
	assert.Equal(t, 7*24*time.Hour, cfg.Refresh.Retention)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestLoadSecretExactly32Bytes(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", strings.Repeat("k", 32))

	_, err := Load()
	assert.NoError(t, err)
}
