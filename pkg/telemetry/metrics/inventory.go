package metrics

import (
	"mercator-hq/interpose/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// InventoryMetrics tracks the asynchronous inventory recorder.
type InventoryMetrics struct {
	dropsTotal  *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
}

// NewInventoryMetrics creates and registers inventory metrics.
func NewInventoryMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *InventoryMetrics {
	im := &InventoryMetrics{
		dropsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "inventory_dropped_total",
				Help:      "Inventory records dropped because the queue was full",
			},
			[]string{"kind"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "inventory_errors_total",
				Help:      "Inventory writes that failed",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(im.dropsTotal, im.errorsTotal)

	return im
}

// RecordDrop records a dropped record.
func (im *InventoryMetrics) RecordDrop(kind string) {
	im.dropsTotal.WithLabelValues(kind).Inc()
}

// RecordError records a failed write.
func (im *InventoryMetrics) RecordError(kind string) {
	im.errorsTotal.WithLabelValues(kind).Inc()
}
