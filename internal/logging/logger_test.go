package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "json")
	l.Info().Msg("dropped")
	l.Warn().Str("provider", "national").Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "national", entry["provider"])
	assert.Equal(t, "warn", entry["level"])
}

func TestComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	l := Component(New(&buf, "debug", ""), "matcher")
	l.Debug().Msg("x")
	assert.Contains(t, buf.String(), `"component":"matcher"`)
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel("DEBUG"))
	assert.True(t, ValidLevel(""))
	assert.False(t, ValidLevel("verbose"))
}
