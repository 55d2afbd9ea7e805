package base

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugLoggerDisabledOnEmptyPath(t *testing.T) {
	l, err := NewDebugLogger("", "test")
	require.NoError(t, err)
	require.Nil(t, l)

	// Nil receivers are safe so call sites stay unguarded.
	assert.NoError(t, l.Request("m", nil))
	assert.NoError(t, l.Chunk("m", nil))
	assert.NoError(t, l.Event("m", nil))
	assert.NoError(t, l.Close())
}

func TestDebugLoggerWritesTaggedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.jsonl")
	l, err := NewDebugLogger(path, "chatcompletion")
	require.NoError(t, err)

	require.NoError(t, l.Request("gpt-4o-mini", map[string]any{"stream": true}))
	require.NoError(t, l.Chunk("gpt-4o-mini", `{"id":"c1"}`))
	require.NoError(t, l.Event("gpt-4o-mini", map[string]any{"type": "done"}))
	require.NoError(t, l.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)

	var rec debugRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "request", rec.Type)
	assert.Equal(t, "chatcompletion", rec.Provider)
	assert.Equal(t, "gpt-4o-mini", rec.Model)
	assert.NotEmpty(t, rec.Time)

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "chunk", rec.Type)

	require.NoError(t, json.Unmarshal([]byte(lines[2]), &rec))
	assert.Equal(t, "event", rec.Type)
}
