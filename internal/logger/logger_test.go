package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liao/culture-bot/internal/config"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, config.LogConfig{Level: "warn", Format: "json"})

	l.Info("hidden")
	l.Warn("vector store loaded", "count", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "vector store loaded", rec["msg"])
	assert.EqualValues(t, 3, rec["count"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, config.LogConfig{Level: "debug", Format: "text"})

	l.Debug("received message", "session", "qq:1")
	assert.Contains(t, buf.String(), "received message")
	assert.Contains(t, buf.String(), "qq:1")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, config.LogConfig{Level: "verbose"})

	l.Debug("dropped")
	l.Info("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
