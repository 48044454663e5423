package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, "5432", cfg.DB.Port)
	assert.Equal(t, 75.0, cfg.CertificateThreshold)
	assert.Equal(t, 64, cfg.SubscriberBuffer)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Empty(t, cfg.RedisURL)
	require.NotNil(t, cfg.Timezone)
	assert.Equal(t, "UTC", cfg.Timezone.String())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE", "memory")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_MAX_CONNS", "40")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("CERTIFICATE_THRESHOLD", "80")
	t.Setenv("REQUEST_TIMEOUT", "3s")
	t.Setenv("TIMEZONE", "Asia/Kolkata")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.EqualValues(t, 40, cfg.DB.MaxConns)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, 80.0, cfg.CertificateThreshold)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	require.NotNil(t, cfg.Timezone)
	assert.Equal(t, "Asia/Kolkata", cfg.Timezone.String())
	_, offset := time.Date(2026, time.March, 10, 0, 0, 0, 0, cfg.Timezone).Zone()
	assert.Equal(t, 5*60*60+30*60, offset)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"unknown store":      {"STORE", "sqlite"},
		"threshold too high": {"CERTIFICATE_THRESHOLD", "120"},
		"zero buffer":        {"SUBSCRIBER_BUFFER", "0"},
		"bad level":          {"LOG_LEVEL", "loud"},
		"not a number":       {"DB_MAX_CONNS", "many"},
		"unknown timezone":   {"TIMEZONE", "Mars/Olympus"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	Config{LogLevel: "debug", LogFormat: "json"}.NewLogger(&buf).Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	Config{LogLevel: "warn"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())
}
