package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tigerroll/riptide/pkg/flow/core/metrics"
)

// PrometheusRecorder implements metrics.MetricRecorder on its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	commandDuration *prometheus.HistogramVec
	commandTotal    *prometheus.CounterVec
	jobsAcquired    *prometheus.CounterVec
	lockRaceLost    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobTotal        *prometheus.CounterVec
	locksReclaimed  prometheus.Counter
	queueDepth      prometheus.Gauge
}

// NewPrometheusRecorder creates a PrometheusRecorder whose metric names start with namespace.
func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time spent in the command pipeline, commit included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		commandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_total",
			Help:      "Commands executed by outcome.",
		}, []string{"command", "outcome"}),
		jobsAcquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_acquired_total",
			Help:      "Jobs locked by the acquisition loops.",
		}, []string{"kind"}),
		lockRaceLost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_race_lost_total",
			Help:      "Lock attempts lost to another acquirer.",
		}, []string{"kind"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler_type", "outcome"}),
		jobTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_executions_total",
			Help:      "Job executions by handler type and outcome.",
		}, []string{"handler_type", "outcome"}),
		locksReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locks_reclaimed_total",
			Help:      "Expired job locks cleared by the reclaimer.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "execution_queue_depth",
			Help:      "Jobs waiting in the worker pool queue.",
		}),
	}

	registry.MustRegister(
		r.commandDuration,
		r.commandTotal,
		r.jobsAcquired,
		r.lockRaceLost,
		r.jobDuration,
		r.jobTotal,
		r.locksReclaimed,
		r.queueDepth,
	)
	return r
}

// Registry returns the Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) RecordCommand(_ context.Context, name string, duration time.Duration, err error) {
	r.commandDuration.WithLabelValues(name).Observe(duration.Seconds())
	r.commandTotal.WithLabelValues(name, commandOutcome(err)).Inc()
}

func (r *PrometheusRecorder) RecordJobsAcquired(_ context.Context, kind string, count int) {
	r.jobsAcquired.WithLabelValues(kind).Add(float64(count))
}

func (r *PrometheusRecorder) RecordLockRaceLost(_ context.Context, kind string) {
	r.lockRaceLost.WithLabelValues(kind).Inc()
}

func (r *PrometheusRecorder) RecordJobExecuted(_ context.Context, handlerType string, duration time.Duration, outcome string) {
	r.jobDuration.WithLabelValues(handlerType, outcome).Observe(duration.Seconds())
	r.jobTotal.WithLabelValues(handlerType, outcome).Inc()
}

func (r *PrometheusRecorder) RecordLocksReclaimed(_ context.Context, count int) {
	r.locksReclaimed.Add(float64(count))
}

func (r *PrometheusRecorder) RecordQueueDepth(_ context.Context, depth int) {
	r.queueDepth.Set(float64(depth))
}

func commandOutcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
