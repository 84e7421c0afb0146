// Package metrics exposes prometheus instruments for extractions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultFiltered = "filtered"
)

// Extraction metrics
var (
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscrub_extractions_total",
			Help: "Total number of extraction requests by result",
		},
		[]string{"result"},
	)

	ExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailscrub_extraction_duration_seconds",
			Help:    "Duration of extraction requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExtractionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailscrub_extractions_in_flight",
			Help: "Number of extractions currently running",
		},
	)
)

// Message metrics
var (
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscrub_messages_total",
			Help: "Total number of selected messages by result",
		},
		[]string{"result"},
	)

	HeadersRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscrub_headers_removed_total",
			Help: "Total number of header blocks removed by header name",
		},
		[]string{"header"},
	)

	MessageBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailscrub_message_bytes",
			Help:    "Size of fetched raw messages in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
)

// Mailbox session metrics
var (
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailscrub_sessions_total",
			Help: "Total number of mail sessions opened by result",
		},
		[]string{"result"},
	)
)
