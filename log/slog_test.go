package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSLogWithOptions(t *testing.T) {
	logger, err := NewSLogWithOptions(&SLogOptions{Level: "debug", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewSLogWithOptions(&SLogOptions{Level: "verbose"})
	assert.Error(t, err)

	_, err = NewSLogWithOptions(&SLogOptions{Format: "xml"})
	assert.Error(t, err)

	_, err = NewSLogWithOptions(nil)
	assert.Error(t, err)
}

func TestSLogFileTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	logger, err := NewSLogWithOptions(&SLogOptions{
		Level:  "info",
		Format: "json",
		Target: path,
		Fields: map[string]any{"service": "schemax"},
	})
	require.NoError(t, err)

	logger.Info("table created", "model", "user")
	logger.Debug("should be filtered")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "table created", entry["msg"])
	assert.Equal(t, "user", entry["model"])
	assert.Equal(t, "schemax", entry["service"])
}

func TestSLogWithGroup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "group.log")

	logger, err := NewSLogWithOptions(&SLogOptions{Format: "json", Target: path})
	require.NoError(t, err)

	logger.WithGroup("registry").With("driver", "sqlite3").Warn("counter missing", "model", "user")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	group, ok := entry["registry"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sqlite3", group["driver"])
	assert.Equal(t, "user", group["model"])
}

func TestNewLoggerWithOptions(t *testing.T) {
	logger, err := NewLoggerWithOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), logger)

	logger, err = NewLoggerWithOptions(&SLogOptions{Level: "warn"})
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
