package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(level LogLevel) (*StoreLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: level, Format: "json", Output: &buf})
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	decoder := json.NewDecoder(buf)
	for decoder.More() {
		var line map[string]interface{}
		require.NoError(t, decoder.Decode(&line))
		lines = append(lines, line)
	}
	return lines
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("warn"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelInfo, ParseLevel(""), "unknown levels default to info")
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := jsonLogger(LevelWarn)
	ctx := context.Background()

	logger.Debug(ctx, "dropped")
	logger.Info(ctx, "dropped too")
	logger.Warn(ctx, nil, "kept")
	logger.Error(ctx, fmt.Errorf("boom"), "kept too")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "kept", lines[0]["msg"])
	assert.Equal(t, "boom", lines[1]["error"])
}

func TestLoggerFields(t *testing.T) {
	logger, buf := jsonLogger(LevelInfo)

	derived := logger.WithComponent("styles").With("pipeline", "scss")
	derived.Info(context.Background(), "compiled", "files", 3)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "styles", lines[0]["component"])
	assert.Equal(t, "scss", lines[0]["pipeline"])
	assert.Equal(t, float64(3), lines[0]["files"])
}

func TestStatusReporterVocabulary(t *testing.T) {
	logger, buf := jsonLogger(LevelInfo)
	reporter := NewStatusReporter(logger, "styles")
	ctx := context.Background()

	reporter.Running(ctx, "change (base.scss)")
	reporter.Waiting(ctx)
	reporter.Succeeded(ctx, 125*time.Millisecond)
	reporter.Failed(ctx, fmt.Errorf("undefined variable"), 30*time.Millisecond)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 4)

	assert.Equal(t, "RUN", lines[0]["msg"])
	assert.Equal(t, "change (base.scss)", lines[0]["reason"])
	assert.Equal(t, "styles", lines[0]["component"])

	assert.Equal(t, "WAIT", lines[1]["msg"])
	assert.Equal(t, "OK", lines[2]["msg"])
	assert.Equal(t, float64(125), lines[2]["elapsed_ms"])

	assert.Equal(t, "ERR", lines[3]["msg"])
	assert.Equal(t, "undefined variable", lines[3]["error"])
}

func TestStatusReporterDisabled(t *testing.T) {
	logger, buf := jsonLogger(LevelInfo)
	NewStatusReporter(logger, "scripts").Disabled(context.Background(), "no entry points")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "pipeline disabled", lines[0]["msg"])
	assert.Equal(t, "no entry points", lines[0]["reason"])
}
