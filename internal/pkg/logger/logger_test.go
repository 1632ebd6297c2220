package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_AddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("subscription-core", "info", &buf)

	ctx := WithUserID(WithCorrelationID(context.Background(), "req-1"), "u1")
	l.InfoContext(ctx, "hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "subscription-core", line["service"])
	assert.Equal(t, "req-1", line["correlation_id"])
	assert.Equal(t, "u1", line["user_id"])
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("svc", "warn", &buf)
	l.Info("dropped")
	assert.Empty(t, buf.String())
	l.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}
