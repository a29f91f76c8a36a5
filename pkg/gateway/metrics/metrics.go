// Package metrics holds the gateway's Prometheus registry. It satisfies
// session.Metrics so the chat loop stays decoupled from the metrics backend.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	MessagesTotal    *prometheus.CounterVec
	ResponseDuration *prometheus.HistogramVec

	FallbacksTotal      *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
	StreamWarningsTotal prometheus.Counter
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "hanashi"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live chat sessions",
	})

	sessionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total chat sessions started",
	}, []string{"identity"})

	sessionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_duration_seconds",
		Help:      "Chat session duration in seconds",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
	})

	messagesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "Total user messages accepted for processing",
	}, []string{"character"})

	responseDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "response_duration_seconds",
		Help:      "Full response latency from user message to completion",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"character"})

	fallbacksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallbacks_total",
		Help:      "Responses served from the local fallback after generation failed",
	}, []string{"character"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "Command failures by fault kind",
	}, []string{"kind"})

	streamWarningsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_warnings_total",
		Help:      "Warnings emitted for long-running streams",
	})

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		messagesTotal,
		responseDuration,
		fallbacksTotal,
		errorsTotal,
		streamWarningsTotal,
	)

	return &Metrics{
		registry:            registry,
		SessionsActive:      sessionsActive,
		SessionsTotal:       sessionsTotal,
		SessionDuration:     sessionDuration,
		MessagesTotal:       messagesTotal,
		ResponseDuration:    responseDuration,
		FallbacksTotal:      fallbacksTotal,
		ErrorsTotal:         errorsTotal,
		StreamWarningsTotal: streamWarningsTotal,
	}
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted(anonymous bool) {
	m.SessionsActive.Inc()
	identity := "authenticated"
	if anonymous {
		identity = "anonymous"
	}
	m.SessionsTotal.WithLabelValues(identity).Inc()
}

func (m *Metrics) SessionEnded(duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) MessageProcessed(characterID string) {
	m.MessagesTotal.WithLabelValues(characterID).Inc()
}

func (m *Metrics) ResponseObserved(characterID string, elapsed time.Duration) {
	m.ResponseDuration.WithLabelValues(characterID).Observe(elapsed.Seconds())
}

func (m *Metrics) FallbackServed(characterID string) {
	m.FallbacksTotal.WithLabelValues(characterID).Inc()
}

func (m *Metrics) ErrorObserved(kind string) {
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) StreamWarningObserved() {
	m.StreamWarningsTotal.Inc()
}
