package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reservation"

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	// Operations counts ledger operations by operation and outcome.
	Operations *prometheus.CounterVec
	// LowStockEvents counts low-stock alerts by result
	// (emitted, published, dropped, failed).
	LowStockEvents *prometheus.CounterVec
	Expired        prometheus.Counter
	Available      *prometheus.GaugeVec
	Checkpoints    *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total number of ledger operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		LowStockEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifier",
				Name:      "low_stock_events_total",
				Help:      "Low-stock events by delivery result.",
			},
			[]string{"result"},
		),
		Expired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "expired_reservations_total",
				Help:      "Reservations expired by the sweeper.",
			},
		),
		Available: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "available_stock",
				Help:      "Available-to-sell stock per SKU after the last transition.",
			},
			[]string{"sku"},
		),
		Checkpoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "checkpoints_total",
				Help:      "Ledger snapshots written to storage by result.",
			},
			[]string{"result"},
		),
	}

	m.Registry.MustRegister(
		m.Operations,
		m.LowStockEvents,
		m.Expired,
		m.Available,
		m.Checkpoints,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
