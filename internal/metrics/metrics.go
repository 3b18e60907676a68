// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeCancelled    = "cancelled"
	OutcomeAPIError     = "api_error"
	OutcomeNetworkError = "network_error"
	OutcomeError        = "error"
)

// Stream frame results.
const (
	FrameApplied   = "applied"
	FrameMalformed = "malformed"
)

var (
	CandidateFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoded_candidate_fetches_total",
		Help: "Candidate fetches by provider and outcome",
	}, []string{"provider", "outcome"})

	CandidateFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "decoded_candidate_fetch_duration_seconds",
		Help:    "Latency of single-token candidate fetches",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"provider"})

	TokensAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoded_tokens_accepted_total",
		Help: "Tokens appended to sessions, by generation mode",
	}, []string{"mode"})

	StreamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "decoded_stream_frames_total",
		Help: "Streaming events processed, by result",
	}, []string{"result"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decoded_active_sessions",
		Help: "Sessions currently held by the gateway",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decoded_ws_connections",
		Help: "Open WebSocket connections",
	})

	EventsDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "decoded_events_dropped",
		Help: "Events discarded because the event bus buffer was full",
	})
)

// RecordFetch counts one candidate fetch.
func RecordFetch(provider, outcome string, duration time.Duration) {
	CandidateFetches.WithLabelValues(provider, outcome).Inc()
	if outcome == OutcomeOK {
		CandidateFetchDuration.WithLabelValues(provider).Observe(duration.Seconds())
	}
}

func RecordToken(mode string) {
	TokensAccepted.WithLabelValues(mode).Inc()
}

func RecordFrame(result string) {
	StreamFrames.WithLabelValues(result).Inc()
}
