package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset() {
	SetLevel(LevelInfo)
	SetOutput(os.Stderr)
	SetLogFile("")
}

func TestLevelFiltering(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)

	Debug("hidden %d", 1)
	Info("hidden %d", 2)
	Warn("shown %d", 3)
	Error("shown %d", 4)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN: shown 3")
	assert.Contains(t, out, "ERROR: shown 4")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestAppendLog(t *testing.T) {
	defer reset()

	path := filepath.Join(t.TempDir(), "ingest.log")
	SetLogFile(path)

	AppendLog("first line")
	AppendLog("second line")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), " first line\n")
	assert.Contains(t, string(data), " second line\n")
}

func TestAppendLogDisabled(t *testing.T) {
	defer reset()
	SetLogFile("")
	AppendLog("nowhere")
}
