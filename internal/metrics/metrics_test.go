package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordOutcomes(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncrementExtraction("pan", "done")
	m.IncrementExtraction("pan", "done")
	m.IncrementExtraction("aadhaar", "error")
	m.IncrementExport("failed")
	m.ObserveExtractionLatency("pan", 6*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExtractionOutcome.WithLabelValues("pan", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractionOutcome.WithLabelValues("aadhaar", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExportOutcome.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ExtractionLatency))
}

func TestTrackInFlight(t *testing.T) {
	m := New(prometheus.NewRegistry())
	done := m.TrackInFlight()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExtractionsInFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ExtractionsInFlight))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.IncrementExtraction("pan", "done")
	m.ObserveExtractionLatency("pan", time.Second)
	m.IncrementExport("ok")
	m.IncrementRequest("GET", "200")
	m.TrackInFlight()()
}
