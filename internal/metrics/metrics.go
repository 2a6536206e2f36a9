package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors shared by the bot and the API. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	commands       *prometheus.CounterVec
	commandSeconds *prometheus.HistogramVec
	raceRetries    *prometheus.CounterVec
	lockWait       *prometheus.HistogramVec
	notifications  *prometheus.CounterVec
	timersArmed    prometheus.Gauge
}

// New creates the collectors and registers them on reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipsbot",
			Name:      "commands_total",
			Help:      "Commands handled, by command and outcome.",
		}, []string{"command", "outcome"}),
		commandSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shipsbot",
			Name:      "command_duration_seconds",
			Help:      "Command handling latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		raceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipsbot",
			Name:      "checkpoint_race_retries_total",
			Help:      "Operations restarted because a checkpoint moved.",
		}, []string{"op"}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shipsbot",
			Name:      "player_lock_wait_seconds",
			Help:      "Time spent acquiring player locks.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipsbot",
			Name:      "notifications_total",
			Help:      "Notifications fired, by kind and final status.",
		}, []string{"kind", "status"}),
		timersArmed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shipsbot",
			Name:      "scheduler_timers",
			Help:      "Timers currently armed in the notification scheduler.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.commands, m.commandSeconds, m.raceRetries, m.lockWait, m.notifications, m.timersArmed)
	}
	return m
}

// NewRegistry returns a registry with the Go runtime and process collectors
// already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) CommandDone(command, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, outcome).Inc()
	m.commandSeconds.WithLabelValues(command).Observe(d.Seconds())
}

func (m *Metrics) RaceRetry(op string) {
	if m == nil {
		return
	}
	m.raceRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) LockWait(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) NotificationDone(kind, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) TimersArmed(n int) {
	if m == nil {
		return
	}
	m.timersArmed.Set(float64(n))
}
