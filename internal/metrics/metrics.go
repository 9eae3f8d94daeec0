// Package metrics holds the Prometheus instruments of the ingestion pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline captures per-record outcomes and extraction latency.
type Pipeline struct {
	records            *prometheus.CounterVec
	paymentReady       prometheus.Counter
	ingestFailures     prometheus.Counter
	evidenceFailures   prometheus.Counter
	extractionDuration *prometheus.HistogramVec
	exports            *prometheus.CounterVec
}

// NewPipeline registers the instruments on registerer; nil means the default registerer.
func NewPipeline(registerer prometheus.Registerer) *Pipeline {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Pipeline{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speer_records_total",
			Help: "Ledger records written, by terminal status and strategy used.",
		}, []string{"status", "strategy"}),
		paymentReady: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speer_payment_ready_total",
			Help: "Records that qualified for a payment instruction.",
		}),
		ingestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speer_ingest_failures_total",
			Help: "Uploads that could not be written to the ledger.",
		}),
		evidenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "speer_evidence_store_failures_total",
			Help: "Uploads whose bytes could not be persisted in the evidence store.",
		}),
		extractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speer_extraction_duration_seconds",
			Help:    "Time spent extracting fields from one evidence item.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"strategy"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "speer_exports_total",
			Help: "Export artifacts written, by kind.",
		}, []string{"kind"}),
	}

	registerer.MustRegister(
		m.records,
		m.paymentReady,
		m.ingestFailures,
		m.evidenceFailures,
		m.extractionDuration,
		m.exports,
	)
	return m
}

// RecordWritten counts one terminal record.
func (m *Pipeline) RecordWritten(status, strategy string, paymentReady bool) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(status, strategy).Inc()
	if paymentReady {
		m.paymentReady.Inc()
	}
}

func (m *Pipeline) IngestFailed() {
	if m == nil {
		return
	}
	m.ingestFailures.Inc()
}

func (m *Pipeline) EvidenceStoreFailed() {
	if m == nil {
		return
	}
	m.evidenceFailures.Inc()
}

func (m *Pipeline) ObserveExtraction(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.extractionDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (m *Pipeline) ExportWritten(kind string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(kind).Inc()
}
