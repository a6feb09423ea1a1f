package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutputWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, "debug", "json")
	logger.WithField("doc_id", "bill-1").Info("aggregated")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "bill-1", line["doc_id"])
	assert.Equal(t, "aggregated", line["msg"])
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestNewWithOutputFallsBackToInfo(t *testing.T) {
	logger := NewWithOutput(&bytes.Buffer{}, "chatty", "text")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, isText := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}
