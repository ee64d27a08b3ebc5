package telemetry

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("debug", "json", &buf)
	require.NoError(t, err)

	log.Named("bridge").Debug("starting worker")
	require.NoError(t, log.Sync())

	assert.Contains(t, buf.String(), `"logger":"bridge"`)
	assert.Contains(t, buf.String(), `"msg":"starting worker"`)
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("warn", "console", &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_Rejects(t *testing.T) {
	_, err := NewLogger("loud", "json", nil)
	assert.Error(t, err)
	_, err = NewLogger("info", "xml", nil)
	assert.Error(t, err)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveExtraction("11.5", "success", 42, 3*time.Second)
	m.ObserveExtraction("11.5", "error", 0, time.Second)
	m.ObserveWorker("extract", "ok")

	path := filepath.Join(t.TempDir(), "siapxml.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `siapxml_extractions_total{layout="11.5",status="error"} 1`)
	assert.Contains(t, string(data), `siapxml_extractions_total{layout="11.5",status="success"} 1`)
	assert.Contains(t, string(data), `siapxml_extraction_rows{layout="11.5"} 42`)
	assert.Contains(t, string(data), `siapxml_worker_invocations_total{outcome="ok",selector="extract"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveExtraction("11.1", "success", 1, time.Second)
	assert.NoError(t, m.WriteTextfile("/nonexistent/x.prom"))
}
