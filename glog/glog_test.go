package glog

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLoggerRespectsLevel(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "glog-*.jsonl")
	require.NoError(t, err)
	defer f.Close()

	l := NewStructuredLogger(f, WARN)
	assert.NotPanics(t, func() {
		l.DebugStructured("should be filtered", nil)
		l.WarnStructured("should appear", map[string]interface{}{"k": "v"})
	})

	_, err = f.Seek(0, 0)
	require.NoError(t, err)
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var entry LogEntry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	assert.Equal(t, "should appear", entry.Message)
	assert.Equal(t, "WARN", entry.Level)
	assert.False(t, scanner.Scan())
}

func TestSessionLoggerTagsSessionID(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "glog-*.jsonl")
	require.NoError(t, err)
	defer f.Close()

	prev := GetStructuredLogger()
	SetStructuredLogger(NewStructuredLogger(f, DEBUG))
	defer SetStructuredLogger(prev)

	sl := NewSessionLogger("sess-42")
	sl.Info("hello", map[string]interface{}{"x": float64(1)})

	_, err = f.Seek(0, 0)
	require.NoError(t, err)

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var entry LogEntry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	assert.Equal(t, "sess-42", entry.Fields["session_id"])
	assert.Equal(t, float64(1), entry.Fields["x"])
}

func TestLevelToString(t *testing.T) {
	assert.Equal(t, "DEBUG", levelToString(DEBUG))
	assert.Equal(t, "WARN", levelToString(WARN))
	assert.Equal(t, "UNKNOWN", levelToString(LEVEL(99)))
}
