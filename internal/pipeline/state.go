// Package pipeline orchestrates the topic-discovery stages over one
// project column. Stages communicate through a mutable State: each stage
// reads only fields a prior stage populated and writes only fields later
// stages consume. Every persistent write also seeds the artifact cache on
// the same key, so concurrent readers observe stage outputs as soon as the
// save returns.
package pipeline

import (
	"github.com/stopeworks/stope/internal/project"
	"github.com/stopeworks/stope/internal/topics"
	"github.com/stopeworks/stope/internal/vectors"
	"github.com/stopeworks/stope/internal/workspace"
)

// State is the shared mutable context of one pipeline run.
type State struct {
	// CanSave gates persistent writes. Experiment trials run with it off
	// so candidate models never touch the project's artifacts.
	CanSave bool

	// Populated by the load stage.
	Project   *project.Project
	Column    project.Column
	Workspace *workspace.Table

	// Populated by the preprocess stage. Mask and DocIndices align
	// workspace rows with the document slices: documents exist only for
	// rows whose heavy preprocessing produced a non-empty string.
	Mask             []bool
	DocIndices       []int
	PreprocessedDocs []string
	EmbeddingDocs    []string

	// Populated by the model-build and embed stages.
	Model           *topics.Model
	DocumentVectors *vectors.Matrix

	// Populated by the topic-modeling and postprocess stages.
	Fitted *topics.Fitted
	Result *topics.Result
}

// Params returns the column's hyperparameters, zero when unset.
func (s *State) Params() project.TopicParams {
	if s.Column.TopicParams == nil {
		return project.TopicParams{}
	}

	return *s.Column.TopicParams
}

// ShallowCopy clones the state header while sharing the prefix artifacts
// (workspace, documents, vectors). Experiment trials branch from it.
func (s *State) ShallowCopy() *State {
	out := *s

	return &out
}
