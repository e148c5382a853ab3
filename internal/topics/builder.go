package topics

import (
	"fmt"

	"github.com/stopeworks/stope/internal/project"
)

// NewModel assembles a model from a textual column's hyperparameters using
// the reference collaborators. Callers swap individual collaborators for
// production implementations after construction.
func NewModel(params project.TopicParams) (*Model, error) {
	err := ValidateParams(params)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}

	return &Model{
		Params:   params,
		Embedder: HashEmbedder{},
		Reducer:  TruncateReducer{},
		Clusterer: LeaderClusterer{
			Epsilon: params.ClusterEpsilon,
			MinSize: params.MinTopicSize,
		},
		Vectorizer: CountVectorizer{
			Stopwords:  params.Stopwords,
			MinDocFreq: params.MinDocFreq,
			MaxDocFreq: params.MaxDocFreq,
		},
		Weighter:    ClassTFIDF{},
		Representer: TopWordsRepresenter{},
	}, nil
}
