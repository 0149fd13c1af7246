package rplog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestNewTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	New("session").Info("started")

	m := decodeLine(t, &buf)
	assert.Equal(t, "session", m["component"])
	assert.Equal(t, "started", m["message"])
}

func TestWithAddsExtraField(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	New("control").With("session_id", "abc123").Info("connected")

	m := decodeLine(t, &buf)
	assert.Equal(t, "control", m["component"])
	assert.Equal(t, "abc123", m["session_id"])
}

func TestErrorAttachesUnderlyingError(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	New("transport").Error("handshake failed", errors.New("timed out"))

	m := decodeLine(t, &buf)
	assert.Equal(t, "timed out", m["error"])
	assert.Equal(t, "handshake failed", m["message"])
}

func TestEventAcceptsTrailingKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	New("media").Warn("dropped frame", "frame_index", 42)

	m := decodeLine(t, &buf)
	assert.EqualValues(t, 42, m["frame_index"])
}
