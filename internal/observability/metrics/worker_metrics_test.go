package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	assert.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestWorkerMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newWorkerMetrics(reg, Config{ServiceName: "shelfsync-test", Environment: "test"})

	m.IncJobRun("event_sweep")
	m.IncJobRun("event_sweep")
	assert.Equal(t, 2.0, counterValue(t, m.jobRuns.WithLabelValues("event_sweep")))

	m.IncJobError("event_sweep", context.DeadlineExceeded)
	assert.Equal(t, 1.0, counterValue(t, m.jobErrors.WithLabelValues("event_sweep", WorkerJobReasonDeadlineExceeded)))

	m.IncJobError("event_sweep", assert.AnError)
	assert.Equal(t, 1.0, counterValue(t, m.jobErrors.WithLabelValues("event_sweep", WorkerJobReasonUnknown)))

	m.IncJobTimeout("poll_fallback")
	assert.Equal(t, 1.0, counterValue(t, m.jobTimeouts.WithLabelValues("poll_fallback")))

	m.SetQueueDepth(7)
	var g dto.Metric
	assert.NoError(t, m.queueDepth.Write(&g))
	assert.Equal(t, 7.0, g.GetGauge().GetValue())

	m.ObserveJobDuration("event_sweep", 250*time.Millisecond)
	m.ObserveRunLoopLag(time.Second)
}

func TestWorkerMetricsNilReceiverIsSafe(t *testing.T) {
	var m *WorkerMetrics
	m.IncJobRun("x")
	m.IncJobTimeout("x")
	m.IncJobError("x", nil)
	m.SetQueueDepth(1)
	m.ObserveJobDuration("x", time.Second)
	m.ObserveRunLoopLag(time.Second)
}

func TestClassifyJobError(t *testing.T) {
	assert.Equal(t, WorkerJobReasonUnknown, classifyJobError(nil))
	assert.Equal(t, WorkerJobReasonUnknown, classifyJobError(assert.AnError))
	assert.Equal(t, WorkerJobReasonDeadlineExceeded, classifyJobError(context.DeadlineExceeded))
	assert.Equal(t, WorkerJobReasonDeadlineExceeded, classifyJobError(context.Canceled))
}
