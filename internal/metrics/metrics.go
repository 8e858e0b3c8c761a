package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 服务级 Prometheus 指标
type Metrics struct {
	FallsDetected     prometheus.Counter
	LogEntries        *prometheus.CounterVec
	NotificationsSent prometheus.Counter
	AlarmActive       prometheus.Gauge
}

// New 注册指标到给定 registry（nil 则使用默认 registry）
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FallsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "wardwatch_falls_detected_total",
			Help: "Number of fall incidents detected (edge-triggered, one per incident).",
		}),
		LogEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wardwatch_log_entries_total",
			Help: "Log entries recorded, by type and sink outcome.",
		}, []string{"type", "sink"}),
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "wardwatch_notifications_sent_total",
			Help: "Platform notifications pushed on new incidents.",
		}),
		AlarmActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wardwatch_alarm_active",
			Help: "1 while the audible alarm is playing, 0 otherwise.",
		}),
	}
}
