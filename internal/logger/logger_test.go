package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "WARN", "text")
	t.Cleanup(func() { InitWithWriter(buf, "INFO", "text") })

	Debug("debug message")
	Info("info message")
	Warn("warn message")
	Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "ERROR", "text")
	t.Cleanup(func() { InitWithWriter(buf, "INFO", "text") })

	SetLevel("LOUD")
	Warn("still filtered")
	assert.Empty(t, buf.String())
}

func TestContextFieldsInJSON(t *testing.T) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "INFO", "json")
	t.Cleanup(func() { InitWithWriter(buf, "INFO", "text") })

	lc := NewLogContext("deploy", "lighthouse")
	ctx := WithContext(context.Background(), lc)
	InfoCtx(ctx, "container created", "image", "panel:latest")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "container created", entry["msg"])
	assert.Equal(t, lc.RunID, entry[KeyRunID])
	assert.Equal(t, "deploy", entry[KeyCommand])
	assert.Equal(t, "lighthouse", entry[KeyContainer])
	assert.Equal(t, "panel:latest", entry["image"])
}

func TestFromContextNil(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Nil(t, FromContext(nil)) //nolint:staticcheck // nil context is handled explicitly
}
