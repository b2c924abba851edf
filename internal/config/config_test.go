// SPDX-License-Identifier: MIT

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	c := Load()
	c.StreamingClientID = "client-id"
	c.StreamingClientSecret = "client-secret"
	return c
}

func TestLoadDefaults(t *testing.T) {
	c := Load()
	assert.Equal(t, "motionplay.db", c.DBPath)
	assert.Equal(t, ":8080", c.Listen)
	assert.Equal(t, 5, c.DefaultTimeoutMinutes)
	assert.Equal(t, 2, c.DefaultDebounceMinutes)
	assert.Equal(t, 30, c.SessionTTLDays)
	assert.Equal(t, 5*time.Minute, c.TokenRefreshBuffer)
	assert.Equal(t, time.Minute, c.SweepInterval)
	assert.Equal(t, 30*time.Minute, c.TokenRefreshInterval)
	assert.Equal(t, 5*time.Minute, c.SecretCacheTTL)
	assert.Equal(t, "motionplay:motion", c.MotionChannel)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEFAULT_TIMEOUT_MINUTES", "10")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("MOTIONPLAY_DB_PATH", "/tmp/test.db")

	c := Load()
	assert.Equal(t, 10, c.DefaultTimeoutMinutes)
	assert.Equal(t, 30*time.Second, c.SweepInterval)
	assert.Equal(t, "/tmp/test.db", c.DBPath)
}

func TestLoadInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("DEFAULT_TIMEOUT_MINUTES", "not-a-number")
	t.Setenv("SWEEP_INTERVAL", "not-a-duration")

	c := Load()
	assert.Equal(t, 5, c.DefaultTimeoutMinutes)
	assert.Equal(t, time.Minute, c.SweepInterval)
}

func TestValidate(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())

	missing := validConfig()
	missing.StreamingClientID = ""
	err := missing.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STREAMING_CLIENT_ID")

	bad := validConfig()
	bad.DefaultTimeoutMinutes = 500
	err = bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEFAULT_TIMEOUT_MINUTES")
}

func TestParseTokenMap(t *testing.T) {
	tokens := parseTokenMap("abc=user-1, def=user-2,,broken,=x")
	assert.Equal(t, map[string]string{"abc": "user-1", "def": "user-2"}, tokens)
}
