package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestNewLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	NewLogger("delivery-worker").Info("hello", "delivery_id", "d1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "delivery-worker", line["component"])
	assert.Equal(t, "d1", line["delivery_id"])
	assert.Equal(t, "hello", line["msg"])
}

func TestSetLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer func() {
		SetLevel(slog.LevelInfo)
		SetOutput(os.Stdout)
	}()

	log := NewLogger("test")
	log.Debug("hidden")
	assert.Zero(t, buf.Len())

	SetLevel(slog.LevelDebug)
	log.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}
