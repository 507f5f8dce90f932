package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sarathsp06/courier/internal/config"
)

func testConfig(t *testing.T, vars map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	return cfg
}

func TestSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want string
	}{
		{1, "root:AlwaysOnSampler"},
		{2, "root:AlwaysOnSampler"},
		{0, "root:AlwaysOffSampler"},
		{0.25, "root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := sampler(tt.rate).Description()
		assert.Contains(t, desc, "ParentBased")
		assert.Contains(t, desc, tt.want)
	}
}

func TestNewResourceDescribesDeployment(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, map[string]string{
		"ENVIRONMENT":         "staging",
		"WORKER_COUNT":        "4",
		"DELIVERY_RATE_LIMIT": "10",
	})
	res, err := newResource(context.Background(), cfg, "2.3.4")
	require.NoError(t, err)

	set := res.Set()
	get := func(key attribute.Key) attribute.Value {
		v, ok := set.Value(key)
		require.True(t, ok, "missing %s", key)
		return v
	}
	assert.Equal(t, ServiceName, get(semconv.ServiceNameKey).AsString())
	assert.Equal(t, "2.3.4", get(semconv.ServiceVersionKey).AsString())
	assert.Equal(t, "staging", get(semconv.DeploymentEnvironmentKey).AsString())
	assert.Equal(t, "memory", get("courier.store.backend").AsString())
	assert.Equal(t, int64(4), get("courier.workers").AsInt64())
	assert.InDelta(t, 10.0, get("courier.delivery.rate_limit").AsFloat64(), 0.0001)
}

// Setup mutates global providers, so these tests do not run in parallel.

func TestSetupWithSignalsDisabled(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"OTEL_ENABLED": "true",
		"OTEL_TRACES":  "false",
		"OTEL_METRICS": "false",
	})

	shutdown, err := Setup(context.Background(), cfg, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestSetupInstallsTracerProvider(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	cfg := testConfig(t, map[string]string{
		"OTEL_ENABLED":     "true",
		"OTEL_METRICS":     "false",
		"OTEL_ENDPOINT":    "127.0.0.1:1",
		"OTEL_HEADERS":     "x-api-key:abc",
		"OTEL_SAMPLE_RATE": "0.5",
	})

	shutdown, err := Setup(context.Background(), cfg, "test")
	require.NoError(t, err)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)
	assert.NoError(t, shutdown(context.Background()), "nothing was recorded, so nothing is exported")
}
