package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricTasksTotal    = "stope.tasks.total"
	metricTaskDuration  = "stope.task.duration.seconds"
	metricErrorsTotal   = "stope.errors.total"
	metricInflightTasks = "stope.inflight.tasks"

	attrOp     = "op"
	attrStatus = "status"

	// StatusError is the status label recorded for failed operations.
	StatusError = "error"

	// StatusOK is the status label recorded for successful operations.
	StatusOK = "ok"
)

// durationBucketBoundaries covers 10ms to 600s for analysis workloads
// that range from sub-second cache loads to multi-minute experiment runs.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// REDMetrics holds the OTel instruments for Rate, Error, Duration metrics
// over task executions.
type REDMetrics struct {
	tasksTotal    metric.Int64Counter
	taskDuration  metric.Float64Histogram
	errorsTotal   metric.Int64Counter
	inflightTasks metric.Int64UpDownCounter
}

// NewREDMetrics creates RED metric instruments from the given meter.
func NewREDMetrics(mt metric.Meter) (*REDMetrics, error) {
	total, err := mt.Int64Counter(metricTasksTotal,
		metric.WithDescription("Total number of executed tasks"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTasksTotal, err)
	}

	duration, err := mt.Float64Histogram(metricTaskDuration,
		metric.WithDescription("Task duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTaskDuration, err)
	}

	errTotal, err := mt.Int64Counter(metricErrorsTotal,
		metric.WithDescription("Total number of failed tasks"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricErrorsTotal, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricInflightTasks,
		metric.WithDescription("Number of in-flight tasks"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricInflightTasks, err)
	}

	return &REDMetrics{
		tasksTotal:    total,
		taskDuration:  duration,
		errorsTotal:   errTotal,
		inflightTasks: inflight,
	}, nil
}

// RecordTask records a completed task with its operation, status, and
// duration.
func (rm *REDMetrics) RecordTask(ctx context.Context, op, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrOp, op),
		attribute.String(attrStatus, status),
	)

	rm.tasksTotal.Add(ctx, 1, attrs)
	rm.taskDuration.Record(ctx, duration.Seconds(), attrs)

	if status == StatusError {
		rm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrOp, op),
		))
	}
}

// TrackInflight increments the in-flight gauge and returns a function to
// decrement it.
func (rm *REDMetrics) TrackInflight(ctx context.Context, op string) func() {
	attrs := metric.WithAttributes(attribute.String(attrOp, op))
	rm.inflightTasks.Add(ctx, 1, attrs)

	return func() {
		rm.inflightTasks.Add(ctx, -1, attrs)
	}
}
