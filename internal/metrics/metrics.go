// Package metrics exposes Prometheus collectors for the upload engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's collectors. Register once per process.
type Metrics struct {
	// UploadsTotal counts finished uploads by outcome: uploaded, mapped,
	// failed, cancelled.
	UploadsTotal *prometheus.CounterVec

	// UploadedBytes counts encrypted bytes put to the object store.
	UploadedBytes prometheus.Counter

	// InProgress tracks currently running upload workers.
	InProgress prometheus.Gauge

	// QueueDepth tracks items waiting or running in the queue.
	QueueDepth prometheus.Gauge

	// SessionTotal mirrors the session upload counter shown to the UI.
	SessionTotal prometheus.Gauge

	// PutThroughput observes per-file PUT throughput in MiB/s.
	PutThroughput prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "uploader",
			Name:      "uploads_total",
			Help:      "Finished uploads by outcome.",
		}, []string{"outcome"}),
		UploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lumen",
			Subsystem: "uploader",
			Name:      "uploaded_bytes_total",
			Help:      "Encrypted bytes uploaded to the object store.",
		}),
		InProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lumen",
			Subsystem: "uploader",
			Name:      "in_progress",
			Help:      "Upload workers currently running.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lumen",
			Subsystem: "uploader",
			Name:      "queue_depth",
			Help:      "Items currently tracked by the queue.",
		}),
		SessionTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lumen",
			Subsystem: "uploader",
			Name:      "session_total",
			Help:      "Items admitted in the current upload session.",
		}),
		PutThroughput: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lumen",
			Subsystem: "uploader",
			Name:      "put_throughput_mib_per_sec",
			Help:      "Per-file PUT throughput in MiB/s.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}

	reg.MustRegister(m.UploadsTotal, m.UploadedBytes, m.InProgress, m.QueueDepth, m.SessionTotal, m.PutThroughput)
	return m
}

// Outcome labels for UploadsTotal.
const (
	OutcomeUploaded  = "uploaded"
	OutcomeMapped    = "mapped"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)
