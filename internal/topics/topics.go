// Package topics defines the topic-modeling records and the collaborator
// interfaces a configured model is assembled from. The bundled reference
// implementations are deterministic and dependency-free; production
// embedders and clusterers plug in behind the same interfaces.
package topics

import (
	"errors"
	"time"

	"github.com/stopeworks/stope/internal/project"
)

// OutlierTopicID is the cluster id assigned to documents no topic claims.
const OutlierTopicID = -1

// labelTerms is the number of top-weighted terms joined into a topic label.
const labelTerms = 3

// ErrInvalidValueType reports misconfigured hyperparameters.
var ErrInvalidValueType = errors.New("invalid hyperparameter value")

// WordWeight is one weighted term of a topic.
type WordWeight struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// Topic is one discovered topic. The same record type forms the hierarchy
// tree via Children.
type Topic struct {
	ID        int          `json:"id"`
	Label     string       `json:"label"`
	Words     []WordWeight `json:"words"`
	Frequency int          `json:"frequency"`
	Children  []*Topic     `json:"children,omitempty"`
}

// Counts summarizes document disposition for one modeling run.
type Counts struct {
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`
	Outlier int `json:"outlier"`
	Total   int `json:"total"`
}

// Result is the per-project, per-column topic-modeling outcome persisted
// as topics/<column>.json.
type Result struct {
	ProjectID string    `json:"project_id"`
	Column    string    `json:"column"`
	Topics    []Topic   `json:"topics"`
	Hierarchy *Topic    `json:"hierarchy,omitempty"`
	Counts    Counts    `json:"counts"`
	CreatedAt time.Time `json:"created_at"`
}

// Experiment is the hyperparameter-search record persisted as
// evaluation/topic_experiment_<column>.json. EndAt stays nil while the
// search runs and after cancellation between trials.
type Experiment struct {
	ProjectID string     `json:"project_id"`
	Column    string     `json:"column"`
	Trials    []Trial    `json:"trials"`
	StartedAt time.Time  `json:"started_at"`
	EndAt     *time.Time `json:"end_at"`
}

// Trial is one scored hyperparameter candidate of an experiment.
type Trial struct {
	ID        int                 `json:"id"`
	Params    project.TopicParams `json:"params"`
	Score     float64             `json:"score"`
	StartedAt time.Time           `json:"started_at"`
	EndAt     *time.Time          `json:"end_at"`
}

// Evaluation scores one topic-modeling result, persisted as
// evaluation/topic_evaluation_<column>.json.
type Evaluation struct {
	ProjectID    string    `json:"project_id"`
	Column       string    `json:"column"`
	Coherence    float64   `json:"coherence"`
	Diversity    float64   `json:"diversity"`
	OutlierRatio float64   `json:"outlier_ratio"`
	CreatedAt    time.Time `json:"created_at"`
}
