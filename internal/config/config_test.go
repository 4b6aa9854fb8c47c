package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.AcquireTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.MinShadowDuration)
	assert.Equal(t, 14*24*time.Hour, cfg.MaxShadowDuration)
	assert.Equal(t, int64(1000), cfg.MinAuditVolume)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAKOI_PORT", "9090")
	t.Setenv("KAKOI_MIN_SHADOW_DURATION", "48h")
	t.Setenv("KAKOI_MIN_AUDIT_VOLUME", "50")
	t.Setenv("KAKOI_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 48*time.Hour, cfg.MinShadowDuration)
	assert.Equal(t, int64(50), cfg.MinAuditVolume)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadInvalidIntFallsBack(t *testing.T) {
	t.Setenv("KAKOI_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}

func TestValidate(t *testing.T) {
	valid := Config{
		DatabaseURL:         "postgres://localhost/kakoi",
		AcquireTimeout:      time.Second,
		MinShadowDuration:   time.Hour,
		MaxShadowDuration:   2 * time.Hour,
		MinAuditVolume:      10,
		MaxRequestBodyBytes: 1024,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }},
		{"zero acquire timeout", func(c *Config) { c.AcquireTimeout = 0 }},
		{"max below min shadow", func(c *Config) { c.MaxShadowDuration = 30 * time.Minute }},
		{"zero audit volume", func(c *Config) { c.MinAuditVolume = 0 }},
		{"zero body limit", func(c *Config) { c.MaxRequestBodyBytes = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
