package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/pterm/pterm"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevWriter, prevLevel := pterm.DefaultLogger.Writer, pterm.DefaultLogger.Level
	pterm.DefaultLogger.Writer = &buf
	t.Cleanup(func() {
		pterm.DefaultLogger.Writer = prevWriter
		pterm.DefaultLogger.Level = prevLevel
	})
	return &buf
}

func TestLoggerTag(t *testing.T) {
	buf := captureLog(t)
	l := NewLogger("01HV")
	assert.Equal(t, l.Tag(), "01HV")

	l.Info("view %q (%d bytes)", "a.txt", 12)
	assert.Equal(t, strings.Contains(buf.String(), `[01HV] view "a.txt" (12 bytes)`), true)

	// A literal percent in the message is not reinterpreted by the tag.
	buf.Reset()
	l.Warn("%s", "100% done")
	assert.Equal(t, strings.Contains(buf.String(), "[01HV] 100% done"), true)
}

func TestDebugNeedsEnable(t *testing.T) {
	buf := captureLog(t)
	pterm.DefaultLogger.Level = pterm.LogLevelInfo

	LogDebug("hidden")
	assert.Equal(t, strings.Contains(buf.String(), "hidden"), false)

	EnableDebug()
	LogDebug("shown")
	assert.Equal(t, strings.Contains(buf.String(), "shown"), true)
}
