// Package metrics holds the Prometheus collectors of the console client.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector. Build one per process (or per test) with New.
type Metrics struct {
	// HTTP session client
	Requests       *prometheus.CounterVec
	Refreshes      *prometheus.CounterVec
	RefreshRetries prometheus.Counter

	// Push channels
	PushState     *prometheus.GaugeVec
	PushReconnect *prometheus.CounterVec
	PushEvents    *prometheus.CounterVec
	PushDropped   *prometheus.CounterVec
}

// New registers all collectors on registry. A nil registry gets a private one.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_http_requests_total",
				Help: "Outbound API requests by method and response status",
			},
			[]string{"method", "status"},
		),
		Refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_token_refreshes_total",
				Help: "Token refresh calls sent to the backend by outcome",
			},
			[]string{"outcome"},
		),
		RefreshRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "console_http_retries_total",
				Help: "Requests re-issued after a token refresh",
			},
		),
		PushState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "console_push_state",
				Help: "Current push channel state (0 disconnected, 1 connecting, 2 connected, 3 given up)",
			},
			[]string{"channel"},
		),
		PushReconnect: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_push_reconnects_total",
				Help: "Scheduled push channel reconnect attempts",
			},
			[]string{"channel"},
		),
		PushEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_push_events_total",
				Help: "Push events delivered to handlers by type",
			},
			[]string{"channel", "type"},
		),
		PushDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "console_push_dropped_total",
				Help: "Malformed push frames dropped",
			},
			[]string{"channel"},
		),
	}
}

// ObserveRequest counts one completed request. status 0 means a transport failure.
func (m *Metrics) ObserveRequest(method string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.Requests.WithLabelValues(method, label).Inc()
}
