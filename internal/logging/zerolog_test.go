package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZerolog_LevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerolog(&buf, "warn", "influx")

	logger.Info().Msg("filtered")
	assert.Empty(t, buf.String())

	logger.Warn().Msg("kept")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "influx", entry["component"])
	assert.Contains(t, entry, "time")
}

func TestNewZerolog_InvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerolog(&buf, "loud", "x")

	logger.Debug().Msg("filtered")
	logger.Info().Msg("kept")
	assert.NotContains(t, buf.String(), "filtered")
	assert.Contains(t, buf.String(), "kept")
}

func TestZerologAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	a := NewZerologAdapter(NewZerolog(&buf, "debug", "dispatcher"))

	a.Error("write failed", "bucket", "stats", "points", 3, 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "stats", entry["bucket"])
	assert.Equal(t, float64(3), entry["points"])
}

func TestToFields_SkipsNonStringKeys(t *testing.T) {
	fields := toFields([]any{"a", 1, 2, "b", "dangling"})
	assert.Equal(t, map[string]any{"a": 1}, fields)
}
