package assetos

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRecorderWritesCloudEventLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "bus.jsonl")
	rec, err := NewFileRecorder(path, NopLogger{})
	require.NoError(t, err)

	rec.Record("comms.status", map[string]any{"method": "wifi", "connected": true})
	rec.Record("operations.heartbeat", map[string]any{"status": "ok"})
	require.NoError(t, rec.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		lines = append(lines, event)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, "comms.status", lines[0]["type"])
	assert.Equal(t, "assetos/bus", lines[0]["source"])
	assert.NotEmpty(t, lines[0]["id"])
	assert.Equal(t, "operations.heartbeat", lines[1]["type"])
}

func TestFileRecorderHandlesUnserializablePayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.jsonl")
	rec, err := NewFileRecorder(path, NopLogger{})
	require.NoError(t, err)

	rec.Record("bad.payload", func() {})
	require.NoError(t, rec.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "unserializable")
}
