package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Crew metrics
	SailorsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captain_sailors_total",
			Help: "Total number of registered sailors by derived status",
		},
		[]string{"status"},
	)

	SailorCPUsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captain_sailor_cpus_total",
			Help: "CPU capacity and usage across the crew",
		},
		[]string{"kind"}, // "capacity" or "used"
	)

	SailorGPUsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captain_sailor_gpus_total",
			Help: "GPU capacity and usage across the crew",
		},
		[]string{"kind"},
	)

	// Chore metrics
	ChoresTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "captain_chores_total",
			Help: "Total number of chores by status",
		},
		[]string{"status"},
	)

	ChoresSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captain_chores_submitted_total",
			Help: "Total number of chores submitted",
		},
	)

	ChoresRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captain_chores_rejected_total",
			Help: "Total number of chore submissions rejected, by reason",
		},
		[]string{"reason"},
	)

	ChoresAssignedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captain_chores_assigned_total",
			Help: "Total number of chores assigned to a sailor",
		},
	)

	ChoresTerminatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captain_chores_terminated_total",
			Help: "Total number of chores that reached a terminal status",
		},
		[]string{"status", "reason"},
	)

	// Control loop metrics
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "captain_control_tick_duration_seconds",
			Help:    "Time taken for one control loop tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "captain_control_ticks_total",
			Help: "Total number of control loop ticks completed",
		},
	)

	// Sailor RPC metrics
	SailorRPCTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captain_sailor_rpc_total",
			Help: "Total number of outbound sailor RPCs by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	SailorRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "captain_sailor_rpc_duration_seconds",
			Help:    "Sailor RPC duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// HTTP ingress metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "captain_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "captain_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(SailorsTotal)
	prometheus.MustRegister(SailorCPUsTotal)
	prometheus.MustRegister(SailorGPUsTotal)
	prometheus.MustRegister(ChoresTotal)
	prometheus.MustRegister(ChoresSubmittedTotal)
	prometheus.MustRegister(ChoresRejectedTotal)
	prometheus.MustRegister(ChoresAssignedTotal)
	prometheus.MustRegister(ChoresTerminatedTotal)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(SailorRPCTotal)
	prometheus.MustRegister(SailorRPCDuration)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus HTTP handler for the /metrics scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
