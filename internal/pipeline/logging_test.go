package pipeline

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLoggerTo(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "run_id", "abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "run_id=abc")

	buf.Reset()
	newLoggerTo(&buf, "LOUD").Info("defaults to info")
	assert.Contains(t, buf.String(), "defaults to info")
}
