package logger

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvLoggerDebugGatedByEnv(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	l := NewEnvLogger("[test]")

	t.Setenv("HOSTBEAT_DEBUG", "")
	l.Debug("hidden %d", 1)
	assert.Empty(t, buf.String())

	t.Setenv("HOSTBEAT_DEBUG", "1")
	l.Debug("visible %d", 2)
	assert.Contains(t, buf.String(), "[test] visible 2")
}

func TestEnvLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	l := NewEnvLogger("[x]")
	l.Info("info msg")
	l.Warn("warn msg")
	l.Error("error msg")

	out := buf.String()
	assert.Contains(t, out, "[x] info msg")
	assert.Contains(t, out, "[x] WARN: warn msg")
	assert.Contains(t, out, "[x] ERROR: error msg")
}

func TestNoopLoggerDiscards(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	l := Noop()
	l.Debug("a")
	l.Info("b")
	l.Warn("c")
	l.Error("d")

	assert.Empty(t, buf.String())
}

func TestBufferLogger(t *testing.T) {
	l := NewBufferLogger()

	l.Debug("d %d", 1)
	l.Info("i")
	l.Warn("w")
	l.Error("e")

	assert.Len(t, l.Messages, 4)
	assert.True(t, l.HasLevel("debug"))
	assert.True(t, l.HasLevel("info"))
	assert.True(t, l.HasLevel("warn"))
	assert.True(t, l.HasLevel("error"))
	assert.False(t, l.HasLevel("fatal"))

	assert.Equal(t, "d 1", l.Messages[0].Message)

	l.Clear()
	assert.Empty(t, l.Messages)
}

func TestSetDefault(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	buf := NewBufferLogger()
	SetDefault(buf)

	Default().Info("through default")
	assert.Len(t, buf.Messages, 1)
	assert.True(t, strings.Contains(buf.Messages[0].Message, "through default"))
}
