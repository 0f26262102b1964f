// Package metrics defines the prometheus instrumentation for the batch
// pipeline. Collectors are registered on an injected Registerer so tests can
// use an isolated registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingress source label values.
const (
	SourceHTTP = "http"
	SourceMQTT = "mqtt"
)

// Flush stage label values.
const (
	StageSink    = "sink"
	StagePublish = "publish"
)

// Pipeline holds the collectors used across the ingest/flush/fan-out path.
type Pipeline struct {
	RecordsIngested *prometheus.CounterVec
	RecordsRejected *prometheus.CounterVec
	RecordsBuffered prometheus.Gauge
	BatchesFlushed  prometheus.Counter
	FlushErrors     *prometheus.CounterVec
	SinkLatency     prometheus.Histogram
	WSSubscribers   prometheus.Gauge
}

// New creates and registers the pipeline collectors.
func New(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		RecordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadsense_records_ingested_total",
			Help: "Valid records accepted into the ingest buffer, by ingress source.",
		}, []string{"source"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadsense_records_rejected_total",
			Help: "Inbound records dropped by validation, by ingress source.",
		}, []string{"source"}),
		RecordsBuffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roadsense_records_buffered",
			Help: "Current number of records waiting in the ingest buffer.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roadsense_batches_flushed_total",
			Help: "Completed flush cycles (drain + persist + publish + broadcast).",
		}),
		FlushErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roadsense_flush_errors_total",
			Help: "Flush-stage failures, by stage.",
		}, []string{"stage"}),
		SinkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roadsense_sink_latency_seconds",
			Help:    "Latency of persisting one drained batch.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		WSSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roadsense_ws_subscribers",
			Help: "Currently registered live-subscription handles.",
		}),
	}

	reg.MustRegister(
		p.RecordsIngested,
		p.RecordsRejected,
		p.RecordsBuffered,
		p.BatchesFlushed,
		p.FlushErrors,
		p.SinkLatency,
		p.WSSubscribers,
	)
	return p
}
