package project

import (
	"errors"
	"fmt"
)

// Schema errors.
var (
	// ErrMissingColumn reports a schema lookup for an absent column.
	ErrMissingColumn = errors.New("column is not part of the project schema")
	// ErrWrongColumnType reports an operation applied to a column of an
	// incompatible type.
	ErrWrongColumnType = errors.New("column has the wrong type for this operation")
	// ErrUnsyncedSchema reports a workspace whose columns do not cover the
	// schema.
	ErrUnsyncedSchema = errors.New("workspace columns are out of sync with the schema")
)

// ColumnType enumerates the schema column kinds.
type ColumnType string

// Schema column kinds.
const (
	ColumnTextual            ColumnType = "textual"
	ColumnContinuous         ColumnType = "continuous"
	ColumnOrderedCategorical ColumnType = "ordered_categorical"
	ColumnCategorical        ColumnType = "categorical"
	ColumnMultiCategorical   ColumnType = "multi_categorical"
	ColumnTemporal           ColumnType = "temporal"
	ColumnGeospatial         ColumnType = "geospatial"
	ColumnUnique             ColumnType = "unique"
	ColumnBoolean            ColumnType = "boolean"
	ColumnTopic              ColumnType = "topic"
)

// Schema is the ordered, typed column list of a project.
type Schema struct {
	Columns []Column `json:"columns"`
}

// Column is one typed schema entry. Type-specific fields are populated only
// for the matching kind.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`

	// Categories orders the values of an ordered-categorical column.
	Categories []string `json:"categories,omitempty"`
	// Delimiter splits the cells of a multi-categorical column.
	Delimiter string `json:"delimiter,omitempty"`
	// Format is the time layout of a temporal column.
	Format string `json:"format,omitempty"`
	// TopicParams carries the topic-modeling hyperparameters of a textual
	// column.
	TopicParams *TopicParams `json:"topic_params,omitempty"`
}

// TopicParams are the per-column topic-modeling hyperparameters.
type TopicParams struct {
	MinTopicSize   int            `json:"min_topic_size,omitempty"`
	NumTopics      int            `json:"num_topics,omitempty"`
	ReduceOutliers bool           `json:"reduce_outliers,omitempty"`
	Stopwords      []string       `json:"stopwords,omitempty"`
	MinDocFreq     float64        `json:"min_doc_freq,omitempty"`
	MaxDocFreq     float64        `json:"max_doc_freq,omitempty"`
	UMAPNeighbors  int            `json:"umap_neighbors,omitempty"`
	UMAPComponents int            `json:"umap_components,omitempty"`
	ClusterEpsilon float64        `json:"cluster_epsilon,omitempty"`
	LabelOverrides map[int]string `json:"label_overrides,omitempty"`
}

// Column returns the schema entry for name.
func (s Schema) Column(name string) (Column, error) {
	for _, col := range s.Columns {
		if col.Name == name {
			return col, nil
		}
	}

	return Column{}, fmt.Errorf("%w: %q", ErrMissingColumn, name)
}

// TextualColumn returns the schema entry for name, requiring it textual.
func (s Schema) TextualColumn(name string) (Column, error) {
	col, err := s.Column(name)
	if err != nil {
		return Column{}, err
	}

	if col.Type != ColumnTextual {
		return Column{}, fmt.Errorf("%w: %q is %s, want %s",
			ErrWrongColumnType, name, col.Type, ColumnTextual)
	}

	return col, nil
}

// AssertCovered verifies that every schema column is present in the
// workspace column set.
func (s Schema) AssertCovered(workspaceColumns []string) error {
	present := make(map[string]bool, len(workspaceColumns))
	for _, name := range workspaceColumns {
		present[name] = true
	}

	for _, col := range s.Columns {
		if !present[col.Name] {
			return fmt.Errorf("%w: missing %q", ErrUnsyncedSchema, col.Name)
		}
	}

	return nil
}
