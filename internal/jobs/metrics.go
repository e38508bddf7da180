package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and the notification dispatcher.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	sends       *prometheus.HistogramVec
	drifts      prometheus.Counter
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// ObserveTransition counts a notification state change.
func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "NEW"
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ObserveSend records the latency of one transport call by outcome.
func (m *Metrics) ObserveSend(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// AddBalanceDrifts increments the drift counter found by the integrity job.
func (m *Metrics) AddBalanceDrifts(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.drifts.Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dairyledger_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dairyledger_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dairyledger_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dairyledger_notification_transitions_total",
		Help: "Notification state transitions grouped by source and target state.",
	}, []string{"from", "to"})
	sends := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dairyledger_notification_send_seconds",
		Help:    "Latency of transport calls grouped by outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	drifts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dairyledger_balance_drifts_total",
		Help: "Parties whose stored balance disagreed with their ledger.",
	})
	registerer.MustRegister(runs, failures, duration, transitions, sends, drifts)
	return &Metrics{runs: runs, failures: failures, duration: duration, transitions: transitions, sends: sends, drifts: drifts}
}
