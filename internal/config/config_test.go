package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarathsp06/courier/internal/retry"
)

func TestLoadFromDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 2*time.Minute, cfg.DeliveryLease)
	assert.Equal(t, 30*time.Second, cfg.DeliveryTimeout)
	assert.Equal(t, "Courier", cfg.UserAgentProduct)
	assert.Equal(t, retry.DefaultPolicy(), cfg.Retry.Policy())
	assert.False(t, cfg.OTel.Enabled)
	assert.True(t, cfg.OTel.Traces)
	assert.True(t, cfg.OTel.Metrics)
	assert.InDelta(t, 1.0, cfg.OTel.SampleRate, 0.0001)
	assert.Equal(t, 30*time.Second, cfg.OTel.MetricInterval)
}

func TestLoadFromOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFrom(map[string]string{
		"STORE_BACKEND":            "postgres",
		"DATABASE_URL":             "postgres://db/courier",
		"REDIS_URL":                "redis://localhost:6379/0",
		"WORKER_COUNT":             "16",
		"DELIVERY_RATE_LIMIT":      "25.5",
		"RETRY_MAX_RETRIES":        "8",
		"RETRY_INITIAL_BACKOFF":    "500ms",
		"RETRY_BACKOFF_MULTIPLIER": "3",
		"RETRY_MAX_BACKOFF":        "1h",
		"OTEL_ENABLED":             "true",
		"OTEL_ENDPOINT":            "collector:4318",
		"OTEL_INSECURE":            "false",
		"OTEL_HEADERS":             "x-api-key:abc,x-team:core",
		"OTEL_METRICS":             "false",
		"OTEL_SAMPLE_RATE":         "0.25",
	})
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 16, cfg.WorkerCount)
	assert.InDelta(t, 25.5, cfg.DeliveryRateLimit, 0.0001)
	assert.Equal(t, retry.Policy{
		MaxRetries:        8,
		InitialBackoff:    500 * time.Millisecond,
		BackoffMultiplier: 3,
		MaxBackoff:        time.Hour,
	}, cfg.Retry.Policy())
	assert.True(t, cfg.OTel.Enabled)
	assert.Equal(t, "collector:4318", cfg.OTel.Endpoint)
	assert.False(t, cfg.OTel.Insecure)
	assert.Equal(t, map[string]string{"x-api-key": "abc", "x-team": "core"}, cfg.OTel.Headers)
	assert.False(t, cfg.OTel.Metrics)
	assert.InDelta(t, 0.25, cfg.OTel.SampleRate, 0.0001)
}

func TestLoadFromInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		vars map[string]string
	}{
		{"unknown backend", map[string]string{"STORE_BACKEND": "sqlite"}},
		{"postgres without url", map[string]string{"STORE_BACKEND": "postgres", "DATABASE_URL": ""}},
		{"zero workers", map[string]string{"WORKER_COUNT": "0"}},
		{"lease not above timeout", map[string]string{"DELIVERY_LEASE": "30s", "DELIVERY_TIMEOUT": "30s"}},
		{"negative rate", map[string]string{"DELIVERY_RATE_LIMIT": "-1"}},
		{"bad retry policy", map[string]string{"RETRY_BACKOFF_MULTIPLIER": "0.5"}},
		{"unparsable duration", map[string]string{"POLL_INTERVAL": "soon"}},
		{"sample rate above one", map[string]string{"OTEL_SAMPLE_RATE": "1.5"}},
		{"zero metric interval", map[string]string{"OTEL_ENABLED": "true", "OTEL_METRIC_INTERVAL": "0s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFrom(tt.vars)
			assert.Error(t, err)
		})
	}
}
