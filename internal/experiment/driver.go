package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stopeworks/stope/internal/artifact"
	"github.com/stopeworks/stope/internal/pipeline"
	"github.com/stopeworks/stope/internal/project"
	"github.com/stopeworks/stope/internal/task"
	"github.com/stopeworks/stope/internal/topics"
)

// Driver runs a hyperparameter search for one column under a single task.
// Trials do not submit sub-tasks; the whole search is one job.
type Driver struct {
	store   *artifact.Store
	column  string
	sampler Sampler
	logger  *slog.Logger
}

// NewDriver creates an experiment driver for a column.
func NewDriver(store *artifact.Store, column string, sampler Sampler, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{
		store:   store,
		column:  column,
		sampler: sampler,
		logger:  logger,
	}
}

// Run executes the search. The shared prefix (workspace, preprocessed
// documents, document vectors) is computed once with persistence on; each
// trial shallow-copies it and reruns the model stages with persistence
// off, so candidate models never replace the project's artifacts. The
// record is saved after every trial; cancellation between trials leaves
// the persisted record with a null EndAt.
func (d *Driver) Run(ctx context.Context, constraints Constraints, proxy *task.Proxy) (*topics.Experiment, error) {
	constraints = constraints.withDefaults()

	record := &topics.Experiment{
		ProjectID: d.store.ProjectID(),
		Column:    d.column,
		StartedAt: time.Now().UTC(),
	}

	err := d.store.SaveExperiment(ctx, d.column, record)
	if err != nil {
		return nil, err
	}

	pipe := pipeline.NewTopicPipeline(d.store, d.column, d.logger)

	prefix := &pipeline.State{CanSave: true}

	err = pipe.RunPrefix(ctx, prefix, proxy)
	if err != nil {
		return record, err
	}

	for trial := range constraints.Trials {
		err = proxy.CheckStop()
		if err != nil {
			return record, err
		}

		candidate := d.sampler.Suggest(trial, constraints)

		result, trialErr := d.runTrial(ctx, pipe, prefix, trial, candidate, proxy)
		if trialErr != nil {
			if errors.Is(trialErr, task.ErrTaskStop) {
				return record, trialErr
			}

			return record, fmt.Errorf("trial %d: %w", trial, trialErr)
		}

		record.Trials = append(record.Trials, result)

		err = d.store.SaveExperiment(ctx, d.column, record)
		if err != nil {
			return record, err
		}

		proxy.LogPending(fmt.Sprintf("trial %d scored %.4f", trial, result.Score))
	}

	end := time.Now().UTC()
	record.EndAt = &end

	err = d.store.SaveExperiment(ctx, d.column, record)
	if err != nil {
		return record, err
	}

	return record, nil
}

// runTrial applies one candidate to a shallow copy of the prefix state
// and reruns the model stages without persistence.
func (d *Driver) runTrial(ctx context.Context, pipe *pipeline.Pipeline, prefix *pipeline.State,
	trial int, candidate project.TopicParams, proxy *task.Proxy,
) (topics.Trial, error) {
	started := time.Now().UTC()

	state := prefix.ShallowCopy()
	state.CanSave = false
	state.Column.TopicParams = &candidate

	err := pipe.RunStages(ctx, state, proxy, pipeline.ModelStagesIndex)
	if err != nil {
		return topics.Trial{}, err
	}

	eval := topics.Evaluate(state.Result)
	end := time.Now().UTC()

	return topics.Trial{
		ID:        trial,
		Params:    candidate,
		Score:     eval.Score(),
		StartedAt: started,
		EndAt:     &end,
	}, nil
}
