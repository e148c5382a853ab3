package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stopeworks/stope/internal/artifact"
	"github.com/stopeworks/stope/internal/preprocess"
	"github.com/stopeworks/stope/internal/project"
	"github.com/stopeworks/stope/internal/task"
	"github.com/stopeworks/stope/internal/topics"
	"github.com/stopeworks/stope/internal/workspace"
)

// visualizationDims is the dimensionality of the plot embedding.
const visualizationDims = 2

// defaultUMAPComponents is the reduced dimensionality used for clustering
// input when the column does not override it.
const defaultUMAPComponents = 5

// Stage is one step of the pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, s *State, proxy *task.Proxy) error
}

// loadStage reads the workspace and the project record and verifies the
// target column is a textual schema column backed by the workspace.
type loadStage struct {
	store  *artifact.Store
	column string
}

func (st loadStage) Name() string { return "load" }

func (st loadStage) Run(ctx context.Context, s *State, _ *task.Proxy) error {
	p, err := st.store.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	col, err := p.Schema.TextualColumn(st.column)
	if err != nil {
		return err
	}

	ws, err := st.store.LoadWorkspace(ctx, workspace.View{})
	if err != nil {
		return fmt.Errorf("load workspace: %w", err)
	}

	if !ws.HasColumn(col.Name) {
		return fmt.Errorf("%w: missing %q", project.ErrUnsyncedSchema, col.Name)
	}

	s.Project = p
	s.Column = col
	s.Workspace = ws

	return nil
}

// preprocessStage reuses the workspace's preprocessed companion column when
// present and computes it otherwise, persisting the updated workspace
// mid-run so later failures resume from it.
type preprocessStage struct {
	store *artifact.Store
}

func (st preprocessStage) Name() string { return "preprocess" }

func (st preprocessStage) Run(ctx context.Context, s *State, proxy *task.Proxy) error {
	raw, err := s.Workspace.Column(s.Column.Name)
	if err != nil {
		return err
	}

	companion := workspace.PreprocessedColumn(s.Column.Name)

	heavy, err := s.Workspace.Column(companion)
	if errors.Is(err, workspace.ErrNoSuchColumn) {
		proxy.LogPending("preprocessing documents")

		heavy = preprocess.Heavy(raw, s.Params().Stopwords)

		err = s.Workspace.SetColumn(companion, heavy)
		if err != nil {
			return err
		}

		if s.CanSave {
			err = st.store.SaveWorkspace(ctx, s.Workspace)
			if err != nil {
				return err
			}
		}
	} else if err != nil {
		return err
	}

	s.Mask, s.DocIndices = preprocess.NonEmptyMask(heavy)

	light := preprocess.Light(raw)

	s.PreprocessedDocs = make([]string, 0, len(s.DocIndices))
	s.EmbeddingDocs = make([]string, 0, len(s.DocIndices))

	for _, idx := range s.DocIndices {
		if stopErr := proxy.CheckStop(); stopErr != nil {
			return stopErr
		}

		s.PreprocessedDocs = append(s.PreprocessedDocs, heavy[idx])
		s.EmbeddingDocs = append(s.EmbeddingDocs, light[idx])
	}

	return nil
}

// modelBuildStage assembles the configured model from the column's
// hyperparameters.
type modelBuildStage struct{}

func (modelBuildStage) Name() string { return "model-build" }

func (modelBuildStage) Run(_ context.Context, s *State, _ *task.Proxy) error {
	model, err := topics.NewModel(s.Params())
	if err != nil {
		return err
	}

	s.Model = model

	return nil
}

// embedStage loads the column's document vectors when a synced copy
// exists and computes them otherwise.
type embedStage struct {
	store *artifact.Store
}

func (st embedStage) Name() string { return "embed" }

func (st embedStage) Run(ctx context.Context, s *State, proxy *task.Proxy) error {
	want := len(s.PreprocessedDocs)

	vecs, err := st.store.LoadVectors(ctx, artifact.DocumentVectors, s.Column.Name, want)
	if err == nil {
		s.DocumentVectors = vecs

		return nil
	}

	// Missing, out-of-sync, and corrupted vectors are all recoverable by
	// recomputing them.
	if !errors.Is(err, artifact.ErrFileNotExists) &&
		!errors.Is(err, artifact.ErrUnsyncedVectors) &&
		!errors.Is(err, artifact.ErrCorruptedFile) {
		return err
	}

	proxy.LogPending("computing document vectors")

	vecs, err = s.Model.Embedder.Embed(ctx, s.EmbeddingDocs)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}

	if s.CanSave {
		err = st.store.SaveVectors(ctx, artifact.DocumentVectors, s.Column.Name, vecs)
		if err != nil {
			return err
		}
	}

	s.DocumentVectors = vecs

	return nil
}

// topicModelStage fits the model and persists it.
type topicModelStage struct {
	store *artifact.Store
}

func (st topicModelStage) Name() string { return "topic-model" }

func (st topicModelStage) Run(ctx context.Context, s *State, proxy *task.Proxy) error {
	proxy.LogPending("fitting topic model")

	fitted, err := s.Model.Fit(ctx, s.PreprocessedDocs, s.DocumentVectors)
	if err != nil {
		return err
	}

	if s.CanSave {
		err = st.store.SaveModel(ctx, s.Column.Name, fitted)
		if err != nil {
			return err
		}
	}

	s.Fitted = fitted

	return nil
}

// visualizeStage reduces the document vectors for clustering diagnostics
// and down to two dimensions for plots.
type visualizeStage struct {
	store *artifact.Store
}

func (st visualizeStage) Name() string { return "visualize" }

func (st visualizeStage) Run(ctx context.Context, s *State, proxy *task.Proxy) error {
	components := s.Params().UMAPComponents
	if components <= 0 {
		components = defaultUMAPComponents
	}

	reduced, err := s.Model.Reducer.Reduce(ctx, s.DocumentVectors, components)
	if err != nil {
		return fmt.Errorf("reduce vectors: %w", err)
	}

	plot, err := s.Model.Reducer.Reduce(ctx, s.DocumentVectors, visualizationDims)
	if err != nil {
		return fmt.Errorf("reduce plot vectors: %w", err)
	}

	if !s.CanSave {
		return nil
	}

	err = st.store.SaveVectors(ctx, artifact.UMAPVectors, s.Column.Name, reduced)
	if err != nil {
		return err
	}

	return st.store.SaveVectors(ctx, artifact.VisualizationVectors, s.Column.Name, plot)
}

// postprocessStage derives the topic result, writes it, and stamps the
// workspace's topic companion column.
type postprocessStage struct {
	store *artifact.Store
}

func (st postprocessStage) Name() string { return "postprocess" }

func (st postprocessStage) Run(ctx context.Context, s *State, proxy *task.Proxy) error {
	list := s.Fitted.Topics()

	invalid := s.Workspace.Rows() - len(s.DocIndices)

	result := &topics.Result{
		ProjectID: st.store.ProjectID(),
		Column:    s.Column.Name,
		Topics:    list,
		Hierarchy: topics.BuildHierarchy(list),
		Counts:    s.Fitted.Counts(invalid),
		CreatedAt: time.Now().UTC(),
	}

	s.Result = result

	if !s.CanSave {
		return nil
	}

	err := st.store.SaveTopics(ctx, s.Column.Name, result)
	if err != nil {
		return err
	}

	// Map per-document assignments back onto workspace rows; rows without
	// a document stay empty.
	assigned := make([]string, s.Workspace.Rows())

	for docPos, rowIdx := range s.DocIndices {
		if stopErr := proxy.CheckStop(); stopErr != nil {
			return stopErr
		}

		assigned[rowIdx] = strconv.Itoa(s.Fitted.Assignments[docPos])
	}

	err = s.Workspace.SetColumn(workspace.TopicColumn(s.Column.Name), assigned)
	if err != nil {
		return err
	}

	return st.store.SaveWorkspace(ctx, s.Workspace)
}
