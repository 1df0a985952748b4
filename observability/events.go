package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	published *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking published vault events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "epochvault",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of published vault events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.published)
	})
	return eventRegistry
}

// RecordEvent increments the counter for the supplied event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.published.WithLabelValues(normalized).Inc()
}
