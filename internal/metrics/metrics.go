package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exposed by the engine.
type Metrics struct {
	ChecksTotal        *prometheus.CounterVec
	CheckDuration      *prometheus.HistogramVec
	MonitorUp          *prometheus.GaugeVec
	IncidentsActive    prometheus.Gauge
	NotificationsTotal *prometheus.CounterVec
}

// New registers the engine's instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "uptimo_checks_total",
			Help: "Completed checks by monitor type and resulting status.",
		}, []string{"type", "status"}),
		CheckDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "uptimo_check_duration_seconds",
			Help:    "Wall-clock duration of check execution.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"type"}),
		MonitorUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "uptimo_monitor_up",
			Help: "Last known verdict per monitor: 1 up, 0 down, -1 unknown.",
		}, []string{"monitor"}),
		IncidentsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uptimo_incidents_active",
			Help: "Number of currently open incidents.",
		}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "uptimo_notifications_total",
			Help: "Notification delivery attempts by channel type and result.",
		}, []string{"channel_type", "success"}),
	}
}
