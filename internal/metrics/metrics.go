package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EnvelopesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donations_envelopes_received_total",
		Help: "Total number of verified webhook envelopes received, labelled by event type.",
	}, []string{"event_type"})

	EnvelopeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donations_envelope_outcomes_total",
		Help: "Total number of envelopes reaching a terminal outcome, labelled by outcome.",
	}, []string{"outcome"})

	SignatureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "donations_webhook_signature_failures_total",
		Help: "Total number of webhook requests rejected by signature verification.",
	})

	EnvelopeProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "donations_envelope_processing_duration_ms",
		Help:    "End-to-end envelope processing latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	ApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "donations_apply_duration_ms",
		Help:    "Latency of the atomic ledger apply in milliseconds.",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
	})

	PenceCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donations_pence_credited_total",
		Help: "Minor currency units newly credited, labelled by bucket.",
	}, []string{"bucket"})

	Invalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "donations_cache_invalidations_total",
		Help: "Page cache invalidations, labelled by result (ok, error, dropped).",
	}, []string{"result"})

	InvalidationQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "donations_invalidation_queue_utilization_ratio",
		Help: "Current invalidation queue utilization (0–1).",
	})
)
