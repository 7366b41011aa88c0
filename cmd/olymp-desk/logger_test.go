package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/olymp-desk/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestNewHandler_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, config.LoggingConfig{Level: "info", Format: "text"}))

	logger.With("component", "desk").WithGroup("ev").Info("routed", "actor", 42)
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "level=INFO msg=routed component=desk ev.actor=42")
	assert.NotContains(t, out, "hidden")
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, config.LoggingConfig{Level: "debug", Format: "json"}))

	logger.Debug("lane started", "actor", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "DEBUG", rec["level"])
	assert.Equal(t, "lane started", rec["msg"])
	assert.Equal(t, float64(7), rec["actor"])
}
