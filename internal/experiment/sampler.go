// Package experiment implements the hyperparameter-search driver: an
// external sampler suggests candidates, each candidate reruns the model
// stages of the pipeline over a shared prefix state, and every scored
// trial is persisted immediately so partial progress survives crash or
// cancellation.
package experiment

import (
	"math/rand/v2"

	"github.com/stopeworks/stope/internal/project"
)

// Default search-space bounds used when a constraint range is unset.
const (
	defaultTrials     = 10
	defaultMinSizeLo  = 2
	defaultMinSizeHi  = 20
	defaultEpsilonLo  = 0.2
	defaultEpsilonHi  = 0.8
	defaultMaxDocFreq = 0.95
)

// Constraints bound the candidate search space.
type Constraints struct {
	// Trials is the number of candidates to evaluate.
	Trials int
	// MinTopicSize is the inclusive [low, high] range sampled.
	MinTopicSize [2]int
	// ClusterEpsilon is the inclusive [low, high] range sampled.
	ClusterEpsilon [2]float64
	// Base carries the hyperparameters held fixed across candidates.
	Base project.TopicParams
}

func (c Constraints) withDefaults() Constraints {
	if c.Trials <= 0 {
		c.Trials = defaultTrials
	}

	if c.MinTopicSize == [2]int{} {
		c.MinTopicSize = [2]int{defaultMinSizeLo, defaultMinSizeHi}
	}

	if c.ClusterEpsilon == [2]float64{} {
		c.ClusterEpsilon = [2]float64{defaultEpsilonLo, defaultEpsilonHi}
	}

	if c.Base.MaxDocFreq == 0 {
		c.Base.MaxDocFreq = defaultMaxDocFreq
	}

	return c
}

// Sampler produces hyperparameter candidates within the constraints.
type Sampler interface {
	Suggest(trial int, c Constraints) project.TopicParams
}

// RandomSampler draws candidates uniformly from the constraint ranges.
// A fixed seed makes a search reproducible.
type RandomSampler struct {
	rng *rand.Rand
}

// NewRandomSampler creates a sampler seeded for reproducible searches.
func NewRandomSampler(seed uint64) *RandomSampler {
	return &RandomSampler{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Suggest implements Sampler.
func (s *RandomSampler) Suggest(_ int, c Constraints) project.TopicParams {
	params := c.Base

	lo, hi := c.MinTopicSize[0], c.MinTopicSize[1]
	params.MinTopicSize = lo + s.rng.IntN(hi-lo+1)

	elo, ehi := c.ClusterEpsilon[0], c.ClusterEpsilon[1]
	params.ClusterEpsilon = elo + s.rng.Float64()*(ehi-elo)

	return params
}
