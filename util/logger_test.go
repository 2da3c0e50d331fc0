package util

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(3) // debug level
	l.SetOutput(&buf)

	l.Error().Msg("e")
	l.Warn().Msg("w")
	l.Info().Msg("i")
	l.Verbose().Msg("v")
	l.Debug().Msg("d")

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.Len(t, lines, 5, output)

	wantPrefixes := []string{"ERR", "WRN", "INF", "DBG", "TRC"}
	for i, prefix := range wantPrefixes {
		assert.Contains(t, lines[i], prefix, "line %d", i)
	}
}

func TestLogger_QuietMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(0) // quiet
	l.SetOutput(&buf)

	l.Info().Msg("should not appear")
	l.Verbose().Msg("should not appear")
	l.Debug().Msg("should not appear")
	l.Error().Msg("always appears")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1, buf.String())
}

func TestLogger_NoTimestampBelowDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(1)
	l.SetOutput(&buf)

	l.Info().Msg("test")

	assert.NotContains(t, buf.String(), "<nil>")
	assert.True(t, strings.HasPrefix(buf.String(), "INF"), buf.String())
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, 1).With("session_id", "abc")

	l.Info().Str("addr", "10.0.0.1:23").Msg("connecting")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry["session_id"])
	assert.Equal(t, "10.0.0.1:23", entry["addr"])
	assert.Equal(t, "connecting", entry["message"])
	assert.Equal(t, "info", entry["level"])
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info().Msg("nothing")
		l.With("k", "v").Error().Msg("nothing")
	})
}

func TestLogger_Zerolog(t *testing.T) {
	var buf bytes.Buffer
	zl := NewJSONLogger(&buf, 1).With("session_id", "abc").Zerolog()
	zl.Info().Msg("from zerolog")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry["session_id"])

	var nilLogger *Logger
	nop := nilLogger.Zerolog()
	assert.NotPanics(t, func() { nop.Error().Msg("discarded") })
}

func TestBufPool_RoundTrip(t *testing.T) {
	buf := GetBuf()
	require.NotNil(t, buf)
	assert.Len(t, *buf, DefaultBufSize)

	(*buf)[0] = 0xFF
	PutBuf(buf)

	buf2 := GetBuf()
	require.NotNil(t, buf2)
	PutBuf(buf2)
}

func TestPutBuf_Nil(t *testing.T) {
	assert.NotPanics(t, func() { PutBuf(nil) })
}
