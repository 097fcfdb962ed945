package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/relay-agent/internal/config"
)

func TestProdLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.Config{AppEnv: "prod", LogLevel: slog.LevelInfo}, "1.2.3", "relay-agent")

	logger.Info("relay write failed", "relay", 3)
	logger.Debug("hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "relay write failed", rec["msg"])
	assert.Equal(t, "relay-agent", rec["app"])
	assert.Equal(t, "1.2.3", rec["version"])
	assert.Equal(t, "prod", rec["env"])
	assert.EqualValues(t, 3, rec["relay"])
}

func TestDevLoggerIsPlainText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, config.Config{AppEnv: "dev", LogLevel: slog.LevelDebug}, "dev", "relay-agent")

	logger.Debug("guard armed", "threshold", 40)
	out := buf.String()
	assert.Contains(t, out, "guard armed")
	assert.Contains(t, out, "threshold=40")
	assert.NotContains(t, out, "\x1b[")
}
