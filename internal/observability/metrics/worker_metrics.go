package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	WorkerJobReasonDeadlineExceeded = "deadline_exceeded"
	WorkerJobReasonLockHeld         = "lock_held"
	WorkerJobReasonUnknown          = "unknown"
)

// WorkerMetrics captures worker-pool and scheduler health signals.
type WorkerMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobTimeouts *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	runLoopLag  prometheus.Observer
}

var (
	workerMetricsOnce sync.Once
	workerMetrics     *WorkerMetrics
)

// Worker returns the singleton worker metrics registry.
func Worker() *WorkerMetrics {
	return WorkerWithConfig(Config{})
}

// WorkerWithConfig returns the singleton worker metrics registry using config labels.
func WorkerWithConfig(cfg Config) *WorkerMetrics {
	workerMetricsOnce.Do(func() {
		workerMetrics = newWorkerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return workerMetrics
}

// ResetWorkerMetricsForTest resets the worker metrics singleton for tests.
func ResetWorkerMetricsForTest() {
	workerMetricsOnce = sync.Once{}
	workerMetrics = nil
}

func newWorkerMetrics(registerer prometheus.Registerer, cfg Config) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "shelfsync"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &WorkerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shelfsync_worker_job_runs_total",
			Help:        "Total scheduler/worker job executions.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "shelfsync_worker_job_duration_seconds",
			Help:        "Scheduler/worker job durations.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shelfsync_worker_job_timeouts_total",
			Help:        "Total scheduler/worker job soft timeouts.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shelfsync_worker_job_errors_total",
			Help:        "Total scheduler/worker job errors by reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "shelfsync_event_queue_depth",
			Help:        "Events buffered for asynchronous processing.",
			ConstLabels: constLabels,
		}),
		runLoopLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "shelfsync_worker_run_loop_lag_seconds",
			Help:        "Delay between scheduled and actual run-loop start.",
			Buckets:     []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(m.jobRuns, m.jobDuration, m.jobTimeouts, m.jobErrors, m.queueDepth)
	if collector, ok := m.runLoopLag.(prometheus.Collector); ok {
		registerer.MustRegister(collector)
	}
	return m
}

// IncJobRun records a job execution.
func (m *WorkerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records a job execution duration.
func (m *WorkerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// IncJobTimeout records a job soft timeout.
func (m *WorkerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError records a job error classified by reason.
func (m *WorkerMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, classifyJobError(err)).Inc()
}

// SetQueueDepth records the current queue backlog.
func (m *WorkerMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveRunLoopLag records scheduler loop lag.
func (m *WorkerMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(d.Seconds())
}

func classifyJobError(err error) string {
	switch {
	case err == nil:
		return WorkerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return WorkerJobReasonDeadlineExceeded
	default:
		return WorkerJobReasonUnknown
	}
}
