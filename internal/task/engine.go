package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stopeworks/stope/internal/observability"
)

// Engine defaults.
const (
	defaultWorkers   = 2
	defaultQueueSize = 64
)

// cancelledMessage is the log message of a cancellation-terminated task.
const cancelledMessage = "cancelled"

// Engine errors.
var (
	// ErrEngineClosed reports a submission to a closed engine.
	ErrEngineClosed = errors.New("task engine is closed")
	// ErrQueuePolicyReserved reports use of the queue conflict policy,
	// which is reserved and not implemented.
	ErrQueuePolicyReserved = errors.New("queue conflict policy is reserved")
)

// ConflictPolicy decides what Submit does when a task with the same id is
// already idle or pending.
type ConflictPolicy int

// Conflict policies.
const (
	// PolicyIgnore keeps the running task and drops the new submission.
	PolicyIgnore ConflictPolicy = iota
	// PolicyCancel cancels the running task and replaces its record.
	PolicyCancel
	// PolicyQueue is reserved; submitting with it returns an error.
	PolicyQueue
)

// Job is the unit of work the engine schedules.
type Job func(ctx context.Context, proxy *Proxy) error

// statusUpdate carries one record change through the engine's channel.
// The token identifies the submission that produced it: updates from a
// replaced or cleared submission are dropped at the receiver.
type statusUpdate struct {
	id      string
	token   *atomic.Bool
	status  Status
	message string
	data    *Data
	at      time.Time
}

// Options configure an Engine.
type Options struct {
	// Workers bounds the number of concurrently running jobs. Default 2.
	Workers int
	// QueueSize is the status channel buffer. Default 64.
	QueueSize int
	// Logger is the engine's base logger.
	Logger *slog.Logger
	// Metrics receives per-task RED recordings when set.
	Metrics *observability.REDMetrics
	// TaskLogSizeMB caps a task's rotating log file. Default 5.
	TaskLogSizeMB int
	// TaskLogBackups is the number of rotated task log files kept. Default 2.
	TaskLogBackups int
}

// Engine owns the task records, the cancellation tokens, and the bounded
// worker pool.
type Engine struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.REDMetrics

	logSizeMB  int
	logBackups int

	mu      sync.Mutex
	results map[string]*Record
	stops   map[string]*atomic.Bool
	closed  bool

	updates  chan statusUpdate
	sem      chan struct{}
	jobs     sync.WaitGroup
	recvDone chan struct{}
}

// NewEngine creates an engine and starts its receiver loop.
func NewEngine(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.TaskLogSizeMB <= 0 {
		opts.TaskLogSizeMB = defaultTaskLogSizeMB
	}

	if opts.TaskLogBackups <= 0 {
		opts.TaskLogBackups = defaultTaskLogBackups
	}

	e := &Engine{
		logger:     opts.Logger,
		tracer:     otel.Tracer("stope/task"),
		metrics:    opts.Metrics,
		logSizeMB:  opts.TaskLogSizeMB,
		logBackups: opts.TaskLogBackups,
		results:    make(map[string]*Record),
		stops:      make(map[string]*atomic.Bool),
		updates:    make(chan statusUpdate, opts.QueueSize),
		sem:        make(chan struct{}, opts.Workers),
		recvDone:   make(chan struct{}),
	}

	go e.receive()

	return e
}

// Submit registers a task and schedules its job on the pool. The conflict
// policy applies when a task with the same id is still idle or pending.
func (e *Engine) Submit(ctx context.Context, id string, job Job, policy ConflictPolicy) error {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return ErrEngineClosed
	}

	if existing, ok := e.results[id]; ok && !existing.Status.Terminal() {
		switch policy {
		case PolicyIgnore:
			e.mu.Unlock()
			e.logger.Debug("submission ignored, task already active", "task", id)

			return nil
		case PolicyCancel:
			e.signalStopLocked(id)
		case PolicyQueue:
			e.mu.Unlock()

			return fmt.Errorf("submit %s: %w", id, ErrQueuePolicyReserved)
		}
	}

	stop := &atomic.Bool{}
	e.stops[id] = stop
	e.results[id] = &Record{
		ID:     id,
		Status: StatusIdle,
		Logs: []Log{{
			Status:    StatusIdle,
			Message:   "submitted",
			Timestamp: time.Now().UTC(),
		}},
	}

	e.jobs.Add(1)
	e.mu.Unlock()

	go e.run(ctx, id, job, stop)

	return nil
}

// run executes one job on the bounded pool.
func (e *Engine) run(ctx context.Context, id string, job Job, stop *atomic.Bool) {
	defer e.jobs.Done()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		e.send(id, stop, StatusFailed, cancelledMessage, nil)

		return
	}
	defer func() { <-e.sem }()

	proxy := newProxy(id, stop, e.updates, e.logger, e.logSizeMB, e.logBackups)

	// Cancelled while queued behind the pool.
	if proxy.CheckStop() != nil {
		e.send(id, stop, StatusFailed, cancelledMessage, nil)

		return
	}

	ctx, span := e.tracer.Start(ctx, "stope.task",
		trace.WithAttributes(attribute.String("task.id", id)))
	defer span.End()

	var jobErr error

	if e.metrics != nil {
		op := KindOf(id)

		release := e.metrics.TrackInflight(ctx, op)
		started := time.Now()

		defer func(err *error) {
			status := observability.StatusOK
			if *err != nil {
				status = observability.StatusError
			}

			e.metrics.RecordTask(ctx, op, status, time.Since(started))
			release()
		}(&jobErr)
	}

	e.send(id, stop, StatusPending, "started", nil)

	jobErr = job(ctx, proxy)

	switch {
	case jobErr == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(jobErr, ErrTaskStop):
		span.SetStatus(codes.Error, cancelledMessage)
		e.send(id, stop, StatusFailed, cancelledMessage, nil)
	default:
		span.RecordError(jobErr)
		span.SetStatus(codes.Error, jobErr.Error())
		e.send(id, stop, StatusFailed, jobErr.Error(), nil)
	}
}

func (e *Engine) send(id string, token *atomic.Bool, status Status, message string, data *Data) {
	e.updates <- statusUpdate{
		id:      id,
		token:   token,
		status:  status,
		message: message,
		data:    data,
		at:      time.Now().UTC(),
	}
}

// receive drains the status channel and applies updates to the results
// map. Updates for records that no longer exist are dropped.
func (e *Engine) receive() {
	defer close(e.recvDone)

	for u := range e.updates {
		e.mu.Lock()

		rec, ok := e.results[u.id]
		if !ok || e.stops[u.id] != u.token {
			e.mu.Unlock()
			e.logger.Debug("dropping update from stale submission", "task", u.id)

			continue
		}

		rec.Status = u.status
		rec.Logs = append(rec.Logs, Log{
			Status:    u.status,
			Message:   u.message,
			Timestamp: u.at,
		})

		if u.data != nil {
			rec.Data = u.data
		}

		e.mu.Unlock()
	}
}

// Get returns a snapshot of one task record.
func (e *Engine) Get(id string) (*Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.results[id]
	if !ok {
		return nil, false
	}

	return rec.clone(), true
}

// List returns snapshots of all task records, ordered by id.
func (e *Engine) List() []*Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Record, 0, len(e.results))
	for _, rec := range e.results {
		out = append(out, rec.clone())
	}

	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })

	return out
}

// Invalidate cancels the task and removes its scheduler entry. With clear
// set the result record is dropped too, so late updates from the
// cancelled job are discarded by the receiver.
func (e *Engine) Invalidate(id string, clear bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.invalidateLocked(id, clear)
}

// InvalidatePrefix invalidates every task whose id starts with prefix,
// enabling "cancel everything for project X".
func (e *Engine) InvalidatePrefix(prefix string, clear bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, rec := range e.results {
		if rec.HasPrefix(prefix) {
			e.invalidateLocked(id, clear)
		}
	}
}

// InvalidateAll invalidates every task.
func (e *Engine) InvalidateAll(clear bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id := range e.results {
		e.invalidateLocked(id, clear)
	}
}

func (e *Engine) invalidateLocked(id string, clear bool) {
	e.signalStopLocked(id)

	if clear {
		delete(e.results, id)
		delete(e.stops, id)
	}
}

// signalStopLocked sets the cancellation token. The token stays current so
// the job's final "cancelled" update is still applied to a kept record.
func (e *Engine) signalStopLocked(id string) {
	if stop, ok := e.stops[id]; ok {
		stop.Store(true)
	}
}

// Close sets every cancellation token, waits for running jobs to observe
// it, then stops the receiver. The engine accepts no submissions
// afterwards.
func (e *Engine) Close() {
	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return
	}

	e.closed = true

	for id := range e.stops {
		e.signalStopLocked(id)
	}

	e.mu.Unlock()

	e.jobs.Wait()
	close(e.updates)
	<-e.recvDone
}
