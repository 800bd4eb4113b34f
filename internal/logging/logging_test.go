package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	t.Cleanup(func() { Init(false) })

	var buf bytes.Buffer
	require.NoError(t, Setup(Options{Debug: true, Format: FormatJSON, Out: &buf}))
	assert.True(t, DebugEnabled())
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	log.Debug().Str("cycle_id", "c1").Msg("cycle started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "c1", line["cycle_id"])
	assert.Equal(t, "cycle started", line["message"])
	assert.Contains(t, line, "time")

	buf.Reset()
	require.NoError(t, Setup(Options{Format: "console", Out: &buf}))
	assert.False(t, DebugEnabled())
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	require.Error(t, Setup(Options{Format: "xml"}))
}
