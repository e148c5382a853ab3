package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stopeworks/stope/internal/artifact"
	"github.com/stopeworks/stope/internal/task"
	"github.com/stopeworks/stope/internal/topics"
)

// Pipeline runs an ordered stage sequence over one project column.
type Pipeline struct {
	store  *artifact.Store
	logger *slog.Logger
	tracer trace.Tracer
	stages []Stage
}

// NewTopicPipeline builds the full topic-discovery pipeline for a column.
func NewTopicPipeline(store *artifact.Store, column string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("stope/pipeline"),
		stages: []Stage{
			loadStage{store: store, column: column},
			preprocessStage{store: store},
			modelBuildStage{},
			embedStage{store: store},
			topicModelStage{store: store},
			visualizeStage{store: store},
			postprocessStage{store: store},
		},
	}
}

// Run executes all stages over a fresh state and returns the topic result.
func (p *Pipeline) Run(ctx context.Context, proxy *task.Proxy) (*topics.Result, error) {
	state := &State{CanSave: true}

	err := p.RunStages(ctx, state, proxy, 0)
	if err != nil {
		return nil, err
	}

	return state.Result, nil
}

// Stage offsets used by the experiment driver.
const (
	// ModelStagesIndex is the offset of the model-build stage, where
	// trials resume over a shared prefix state.
	ModelStagesIndex = 2
	// PrefixStageCount is the number of leading stages whose outputs
	// (workspace, documents, vectors) are shared across trials.
	PrefixStageCount = 4
)

// RunPrefix executes the shared leading stages: load, preprocess,
// model-build, and embed. Their outputs are reused across experiment
// trials.
func (p *Pipeline) RunPrefix(ctx context.Context, state *State, proxy *task.Proxy) error {
	return p.runRange(ctx, state, proxy, 0, PrefixStageCount)
}

// RunStages executes the stages starting at from over the given state.
// The experiment driver uses it to rerun the model stages on a shared
// prefix state.
func (p *Pipeline) RunStages(ctx context.Context, state *State, proxy *task.Proxy, from int) error {
	return p.runRange(ctx, state, proxy, from, len(p.stages))
}

func (p *Pipeline) runRange(ctx context.Context, state *State, proxy *task.Proxy, from, to int) error {
	for _, stage := range p.stages[from:to] {
		err := proxy.CheckStop()
		if err != nil {
			return err
		}

		err = p.runStage(ctx, stage, state, proxy)
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, state *State, proxy *task.Proxy) error {
	ctx, span := p.tracer.Start(ctx, "stope.pipeline."+stage.Name(),
		trace.WithAttributes(
			attribute.String("project.id", p.store.ProjectID()),
			attribute.Bool("pipeline.can_save", state.CanSave),
		))
	defer span.End()

	proxy.Logger().Info("stage started", "stage", stage.Name())

	err := stage.Run(ctx, state, proxy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return fmt.Errorf("stage %s: %w", stage.Name(), err)
	}

	span.SetStatus(codes.Ok, "")

	return nil
}

// RunEvaluation scores a column's existing topic result and persists the
// evaluation. It is the body of the evaluation job kind.
func RunEvaluation(ctx context.Context, store *artifact.Store, column string, proxy *task.Proxy) (*topics.Evaluation, error) {
	err := proxy.CheckStop()
	if err != nil {
		return nil, err
	}

	result, err := store.LoadTopics(ctx, column)
	if err != nil {
		return nil, fmt.Errorf("load topic result: %w", err)
	}

	eval := topics.Evaluate(result)

	err = store.SaveEvaluation(ctx, column, eval)
	if err != nil {
		return nil, err
	}

	return eval, nil
}
