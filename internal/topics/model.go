package topics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/stopeworks/stope/internal/project"
	"github.com/stopeworks/stope/internal/vectors"
)

// Embedder turns documents into dense vectors, one row per document.
type Embedder interface {
	Embed(ctx context.Context, docs []string) (*vectors.Matrix, error)
}

// Reducer projects vectors down to the requested dimensionality.
type Reducer interface {
	Reduce(ctx context.Context, m *vectors.Matrix, dims int) (*vectors.Matrix, error)
}

// Clusterer assigns each vector row a cluster id, OutlierTopicID for rows
// belonging to no cluster.
type Clusterer interface {
	Cluster(ctx context.Context, m *vectors.Matrix) ([]int, error)
}

// Vectorizer builds per-cluster term frequencies from tokenized documents.
type Vectorizer interface {
	TermCounts(docs []string, assignments []int) map[int]map[string]int
}

// Weighter scores the terms of each cluster against the corpus, the
// c-TF-IDF step of the pipeline.
type Weighter interface {
	Weigh(counts map[int]map[string]int) map[int][]WordWeight
}

// Representer post-processes the weighted terms of one topic into its
// presented word list.
type Representer interface {
	Represent(words []WordWeight) []WordWeight
}

// Model is a configured topic model assembled by the model-build stage.
type Model struct {
	Params      project.TopicParams
	Embedder    Embedder
	Reducer     Reducer
	Clusterer   Clusterer
	Vectorizer  Vectorizer
	Weighter    Weighter
	Representer Representer
}

// Fitted is the outcome of fitting a Model: per-document assignments and
// per-topic term weights. It is the unit persisted as the model blob.
type Fitted struct {
	Params      project.TopicParams
	Assignments []int
	Words       map[int][]WordWeight
	Frequencies map[int]int
}

// ValidateParams rejects hyperparameter values outside their domains.
func ValidateParams(p project.TopicParams) error {
	if p.MinTopicSize < 0 {
		return fmt.Errorf("%w: min_topic_size %d", ErrInvalidValueType, p.MinTopicSize)
	}

	if p.NumTopics < 0 {
		return fmt.Errorf("%w: num_topics %d", ErrInvalidValueType, p.NumTopics)
	}

	if p.MinDocFreq < 0 || p.MinDocFreq > 1 {
		return fmt.Errorf("%w: min_doc_freq %g", ErrInvalidValueType, p.MinDocFreq)
	}

	if p.MaxDocFreq < 0 || p.MaxDocFreq > 1 {
		return fmt.Errorf("%w: max_doc_freq %g", ErrInvalidValueType, p.MaxDocFreq)
	}

	if p.MaxDocFreq > 0 && p.MinDocFreq > p.MaxDocFreq {
		return fmt.Errorf("%w: min_doc_freq %g above max_doc_freq %g",
			ErrInvalidValueType, p.MinDocFreq, p.MaxDocFreq)
	}

	return nil
}

// Fit clusters the documents over their vectors and derives per-topic term
// weights. docs and vecs rows must line up 1:1.
func (m *Model) Fit(ctx context.Context, docs []string, vecs *vectors.Matrix) (*Fitted, error) {
	err := ValidateParams(m.Params)
	if err != nil {
		return nil, err
	}

	if len(docs) != vecs.Rows() {
		return nil, fmt.Errorf("%w: %d docs for %d vector rows",
			vectors.ErrShapeMismatch, len(docs), vecs.Rows())
	}

	assignments, err := m.Clusterer.Cluster(ctx, vecs)
	if err != nil {
		return nil, fmt.Errorf("cluster documents: %w", err)
	}

	if m.Params.ReduceOutliers {
		reassignOutliers(assignments, vecs)
	}

	counts := m.Vectorizer.TermCounts(docs, assignments)
	words := m.Weighter.Weigh(counts)

	for id, ws := range words {
		words[id] = m.Representer.Represent(ws)
	}

	freqs := make(map[int]int)
	for _, id := range assignments {
		freqs[id]++
	}

	return &Fitted{
		Params:      m.Params,
		Assignments: assignments,
		Words:       words,
		Frequencies: freqs,
	}, nil
}

// Topics orders the fitted topics by descending frequency and applies
// label overrides. The outlier pseudo-topic is excluded.
func (f *Fitted) Topics() []Topic {
	ids := make([]int, 0, len(f.Words))

	for id := range f.Words {
		if id != OutlierTopicID {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(a, b int) bool {
		if f.Frequencies[ids[a]] != f.Frequencies[ids[b]] {
			return f.Frequencies[ids[a]] > f.Frequencies[ids[b]]
		}

		return ids[a] < ids[b]
	})

	out := make([]Topic, 0, len(ids))

	for _, id := range ids {
		out = append(out, Topic{
			ID:        id,
			Label:     f.label(id),
			Words:     f.Words[id],
			Frequency: f.Frequencies[id],
		})
	}

	return out
}

// label joins the top-weighted terms, unless the user overrode the label.
func (f *Fitted) label(id int) string {
	if override, ok := f.Params.LabelOverrides[id]; ok {
		return override
	}

	words := f.Words[id]

	n := labelTerms
	if len(words) < n {
		n = len(words)
	}

	terms := make([]string, n)
	for i := range n {
		terms[i] = words[i].Term
	}

	return strings.Join(terms, ", ")
}

// Counts tallies document disposition from the assignments. invalid is the
// number of rows dropped before modeling (empty documents).
func (f *Fitted) Counts(invalid int) Counts {
	c := Counts{
		Invalid: invalid,
		Total:   len(f.Assignments) + invalid,
	}

	for _, id := range f.Assignments {
		if id == OutlierTopicID {
			c.Outlier++
		} else {
			c.Valid++
		}
	}

	return c
}

// reassignOutliers moves each outlier document to its nearest topic
// centroid by cosine similarity.
func reassignOutliers(assignments []int, vecs *vectors.Matrix) {
	centroids := make(map[int][]float64)
	members := make(map[int]int)

	for row, id := range assignments {
		if id == OutlierTopicID {
			continue
		}

		c := centroids[id]
		if c == nil {
			c = make([]float64, vecs.Cols())
			centroids[id] = c
		}

		for j, v := range vecs.Row(row) {
			c[j] += float64(v)
		}

		members[id]++
	}

	if len(centroids) == 0 {
		return
	}

	for id, c := range centroids {
		for j := range c {
			c[j] /= float64(members[id])
		}
	}

	for row, id := range assignments {
		if id != OutlierTopicID {
			continue
		}

		best, bestSim := OutlierTopicID, -1.0

		for cid, c := range centroids {
			sim := cosine(vecs.Row(row), c)
			if sim > bestSim || (sim == bestSim && cid < best) {
				best, bestSim = cid, sim
			}
		}

		assignments[row] = best
	}
}
