package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for case handling and document extraction.
type Metrics struct {
	// Extraction outcomes by document type and result (ok, failed, conflict, rejected)
	ExtractionOutcome *prometheus.CounterVec

	// Round trip to the inference endpoint by document type
	ExtractionLatency *prometheus.HistogramVec

	ExtractionsInFlight prometheus.Gauge

	// Checklist export attempts by result
	ExportOutcome *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
}

// New registers every metric on reg. Pass prometheus.DefaultRegisterer in production and a
// fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExtractionOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_extraction_outcomes_total",
			Help: "Document extraction outcomes by document type and result",
		}, []string{"document_type", "result"}),

		ExtractionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kyc_extraction_duration_seconds",
			Help:    "Duration of inference calls by document type",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		}, []string{"document_type"}),

		ExtractionsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kyc_extractions_in_flight",
			Help: "Extractions currently waiting on the inference endpoint",
		}),

		ExportOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_checklist_exports_total",
			Help: "Checklist export attempts by result",
		}, []string{"result"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "status"}),
	}
}

func (m *Metrics) IncrementExtraction(documentType, result string) {
	if m != nil {
		m.ExtractionOutcome.WithLabelValues(documentType, result).Inc()
	}
}

func (m *Metrics) ObserveExtractionLatency(documentType string, d time.Duration) {
	if m != nil {
		m.ExtractionLatency.WithLabelValues(documentType).Observe(d.Seconds())
	}
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.ExtractionsInFlight.Inc()
	return m.ExtractionsInFlight.Dec
}

func (m *Metrics) IncrementExport(result string) {
	if m != nil {
		m.ExportOutcome.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementRequest(method, status string) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(method, status).Inc()
	}
}
