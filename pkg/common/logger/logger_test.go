package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "debug", "", "ingestion-service")
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	l.WithField("archivo_id", "a1").Info("archivo accepted")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ingestion-service", line["service"])
	assert.Equal(t, "a1", line["archivo_id"])
	assert.Equal(t, "archivo accepted", line["msg"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "chatty", "text", "")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())

	l.Debug("hidden")
	assert.Empty(t, buf.String())
	l.Info("shown")
	assert.Contains(t, buf.String(), "msg=shown")
	assert.NotContains(t, buf.String(), "service=")
}

func TestForArchivo(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })
	var buf bytes.Buffer
	Log = newLogger(&buf, "info", "json", "svc")

	ForArchivo("a9").Warn("job failed")
	assert.Contains(t, buf.String(), `"archivo_id":"a9"`)
	assert.Contains(t, buf.String(), `"level":"warning"`)
}
