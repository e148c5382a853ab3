// Package task implements the background task engine: a bounded worker
// pool, the results map HTTP readers poll, and the proxy jobs report
// through. Status updates travel over one channel and are applied by a
// single receiver, so per-task log order is append order for every reader.
package task

import (
	"errors"
	"strings"
	"time"

	"github.com/stopeworks/stope/internal/topics"
)

// ErrTaskStop is the cooperative cancellation sentinel. It never reaches
// API callers; the engine maps it to a Failed record with a "cancelled"
// log entry.
var ErrTaskStop = errors.New("task stopped")

// idSeparator joins the parts of a task id.
const idSeparator = "__"

// Status is the lifecycle state of a task record.
type Status string

// Task lifecycle states.
const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Kind names the job families submitted to the engine.
type Kind string

// Job kinds.
const (
	KindTopics     Kind = "topics"
	KindEvaluation Kind = "evaluation"
	KindExperiment Kind = "experiment"
)

// ID builds the conventional task id <project>__<kind>__<column>.
func ID(projectID string, kind Kind, column string) string {
	return projectID + idSeparator + string(kind) + idSeparator + column
}

// ProjectPrefix is the id prefix shared by all tasks of one project, used
// for prefix invalidation.
func ProjectPrefix(projectID string) string {
	return projectID + idSeparator
}

// KindOf extracts the kind segment of a conventional task id. Ids that do
// not follow the convention are returned whole, so metric labels stay
// meaningful either way.
func KindOf(id string) string {
	parts := strings.Split(id, idSeparator)
	if len(parts) < 3 {
		return id
	}

	return parts[1]
}

// Log is one append-only task log entry.
type Log struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DataKind discriminates the task result payload.
type DataKind string

// Task result payload kinds.
const (
	DataTopics     DataKind = "topics"
	DataEvaluation DataKind = "evaluation"
	DataExperiment DataKind = "experiment"
)

// Data is the tagged task result payload. Exactly the field matching Kind
// is set.
type Data struct {
	Kind       DataKind           `json:"kind"`
	Topics     *topics.Result     `json:"topics,omitempty"`
	Evaluation *topics.Evaluation `json:"evaluation,omitempty"`
	Experiment *topics.Experiment `json:"experiment,omitempty"`
}

// TopicsData wraps a topic result as a task payload.
func TopicsData(result *topics.Result) *Data {
	return &Data{Kind: DataTopics, Topics: result}
}

// EvaluationData wraps an evaluation as a task payload.
func EvaluationData(eval *topics.Evaluation) *Data {
	return &Data{Kind: DataEvaluation, Evaluation: eval}
}

// ExperimentData wraps an experiment record as a task payload.
func ExperimentData(record *topics.Experiment) *Data {
	return &Data{Kind: DataExperiment, Experiment: record}
}

// Record is one task's observable state.
type Record struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Logs   []Log  `json:"logs"`
	Data   *Data  `json:"data,omitempty"`
}

// clone returns a snapshot safe to hand to readers outside the results
// lock.
func (r *Record) clone() *Record {
	out := *r
	out.Logs = make([]Log, len(r.Logs))
	copy(out.Logs, r.Logs)

	return &out
}

// HasPrefix reports whether the record belongs to the id prefix.
func (r *Record) HasPrefix(prefix string) bool {
	return strings.HasPrefix(r.ID, prefix)
}
