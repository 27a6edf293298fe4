package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	jobResultOK     = "ok"
	jobResultFailed = "failed"
)

// CronJobMetrics covers the scheduler loop: per-job runs, their latency, the
// last good run, and ticks skipped because another instance held the lock.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	lockSkips   prometheus.Counter
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "farmlink",
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "farmlink",
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Wall time of scheduled job runs.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "farmlink",
			Subsystem: "cron",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per job.",
		}, []string{"job"}),
		lockSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "farmlink",
			Subsystem: "cron",
			Name:      "lock_skipped_ticks_total",
			Help:      "Ticks skipped because the scheduler lock was held elsewhere.",
		}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.lockSkips)
	return m
}

// ObserveRun records one job execution. A nil err counts as ok.
func (c *CronJobMetrics) ObserveRun(job string, took time.Duration, err error) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(took.Seconds())
	if err != nil {
		c.runs.WithLabelValues(job, jobResultFailed).Inc()
		return
	}
	c.runs.WithLabelValues(job, jobResultOK).Inc()
	c.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

func (c *CronJobMetrics) IncLockSkipped() {
	if c == nil || c.lockSkips == nil {
		return
	}
	c.lockSkips.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
