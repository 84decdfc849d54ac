package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor collects engine metrics on a private registry.
// A nil *Monitor is valid and records nothing.
type Monitor struct {
	registry          *prometheus.Registry
	batchesStarted    *prometheus.CounterVec
	batchesFinished   *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	stepDeviations    *prometheus.CounterVec
	inventoryQuantity *prometheus.GaugeVec
	activeAlarms      *prometheus.GaugeVec
	startTime         time.Time
}

// NewMonitor creates a new monitoring instance
func NewMonitor() *Monitor {
	m := &Monitor{
		registry: prometheus.NewRegistry(),
		batchesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mixerline_batches_started_total",
				Help: "Batches started per mixer",
			},
			[]string{"mixer"},
		),
		batchesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mixerline_batches_finished_total",
				Help: "Batches reaching a terminal status",
			},
			[]string{"mixer", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mixerline_step_duration_seconds",
				Help:    "Actual duration of closed recipe steps",
				Buckets: prometheus.ExponentialBuckets(15, 2, 10), // 15s .. ~2h
			},
			[]string{"function"},
		),
		stepDeviations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mixerline_step_deviations_total",
				Help: "Closed steps whose measured quantity deviates beyond tolerance",
			},
			[]string{"product"},
		),
		inventoryQuantity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mixerline_inventory_quantity",
				Help: "Current stock per product",
			},
			[]string{"product"},
		),
		activeAlarms: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mixerline_active_alarms",
				Help: "Active alarms per mixer and severity",
			},
			[]string{"mixer", "severity"},
		),
		startTime: time.Now(),
	}

	m.registry.MustRegister(
		m.batchesStarted,
		m.batchesFinished,
		m.stepDuration,
		m.stepDeviations,
		m.inventoryQuantity,
		m.activeAlarms,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mixerline_uptime_seconds",
			Help: "Seconds since the engine started",
		}, func() float64 { return time.Since(m.startTime).Seconds() }),
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// BatchStarted records a batch admission.
func (m *Monitor) BatchStarted(mixer string) {
	if m == nil {
		return
	}
	m.batchesStarted.WithLabelValues(mixer).Inc()
}

// BatchFinished records a terminal batch status.
func (m *Monitor) BatchFinished(mixer, status string) {
	if m == nil {
		return
	}
	m.batchesFinished.WithLabelValues(mixer, status).Inc()
}

// StepClosed records the duration of a closed step and whether it deviated.
func (m *Monitor) StepClosed(function, product string, seconds float64, deviated bool) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(function).Observe(seconds)
	if deviated {
		m.stepDeviations.WithLabelValues(product).Inc()
	}
}

// InventoryLevel records the stock of a product.
func (m *Monitor) InventoryLevel(product string, quantity float64) {
	if m == nil {
		return
	}
	m.inventoryQuantity.WithLabelValues(product).Set(quantity)
}

// AlarmRaised increments the active alarm gauge.
func (m *Monitor) AlarmRaised(mixer, severity string) {
	if m == nil {
		return
	}
	m.activeAlarms.WithLabelValues(mixer, severity).Inc()
}

// AlarmCleared decrements the active alarm gauge.
func (m *Monitor) AlarmCleared(mixer, severity string) {
	if m == nil {
		return
	}
	m.activeAlarms.WithLabelValues(mixer, severity).Dec()
}
