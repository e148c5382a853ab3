package task

import (
	"log/slog"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Default per-task log rotation limits.
const (
	defaultTaskLogSizeMB  = 5
	defaultTaskLogBackups = 2
)

// Proxy is a job's handle into the engine. It reports status through the
// engine's update channel — never by touching the results map — and
// carries the cancellation token and the task-scoped logger.
type Proxy struct {
	id      string
	stop    *atomic.Bool
	updates chan<- statusUpdate
	logger  *slog.Logger

	logSizeMB  int
	logBackups int
}

func newProxy(id string, stop *atomic.Bool, updates chan<- statusUpdate, logger *slog.Logger,
	logSizeMB, logBackups int,
) *Proxy {
	return &Proxy{
		id:         id,
		stop:       stop,
		updates:    updates,
		logger:     logger.With("task", id),
		logSizeMB:  logSizeMB,
		logBackups: logBackups,
	}
}

// ID returns the task id.
func (p *Proxy) ID() string { return p.id }

// Logger returns the task-scoped logger. Inside a Context scope it writes
// to the task's rotating log file.
func (p *Proxy) Logger() *slog.Logger { return p.logger }

// CheckStop returns ErrTaskStop once the cancellation token is set. Jobs
// call it on stage entry and at loop heads.
func (p *Proxy) CheckStop() error {
	if p.stop.Load() {
		return ErrTaskStop
	}

	return nil
}

// LogPending reports progress while the job runs.
func (p *Proxy) LogPending(message string) {
	p.flush(StatusPending, message, nil)
}

// LogSuccess appends a success-status log entry without a payload.
func (p *Proxy) LogSuccess(message string) {
	p.flush(StatusSuccess, message, nil)
}

// LogError appends a failed-status log entry.
func (p *Proxy) LogError(message string) {
	p.flush(StatusFailed, message, nil)
}

// Success reports terminal success with the result payload.
func (p *Proxy) Success(data *Data) {
	p.flush(StatusSuccess, "completed", data)
}

// Context scopes the proxy's logger to a rotating per-task log file. The
// returned closer restores the previous logger and flushes the sink; call
// it when the job returns.
func (p *Proxy) Context(logFile string) func() {
	sink := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    p.logSizeMB,
		MaxBackups: p.logBackups,
	}

	previous := p.logger
	p.logger = slog.New(slog.NewTextHandler(sink, nil)).With("task", p.id)

	return func() {
		p.logger = previous
		_ = sink.Close()
	}
}

func (p *Proxy) flush(status Status, message string, data *Data) {
	p.logger.Debug("task update", "status", status, "message", message)

	p.updates <- statusUpdate{
		id:      p.id,
		token:   p.stop,
		status:  status,
		message: message,
		data:    data,
		at:      time.Now().UTC(),
	}
}
