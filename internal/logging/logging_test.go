package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestLogWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requests.log")

	l := &Logger{enabled: true, console: false}
	require.NoError(t, l.SetOutput(path))
	defer l.Close()

	l.Log(&RequestLog{RequestID: "r1", Action: "search/query", Success: true, Status: 200})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"action":"search/query"`)
}

func TestSetLevelFromStringAcceptsKnownLevels(t *testing.T) {
	SetLevelFromString("debug")
	require.True(t, Op().Enabled(nil, slog.LevelDebug))
	SetLevelFromString("error")
	require.False(t, Op().Enabled(nil, slog.LevelWarn))
	SetLevelFromString("info")
}

func TestOpWithTraceAddsFields(t *testing.T) {
	base := Op()
	traced := OpWithTrace("trace-1", "span-1")
	require.NotEqual(t, base, traced)

	untraced := OpWithTrace("", "")
	require.Equal(t, base, untraced)
}
