package topics

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/stopeworks/stope/internal/vectors"
)

// Reference-implementation defaults.
const (
	// defaultEmbedDims is the hashed embedding dimensionality.
	defaultEmbedDims = 64
	// defaultClusterEpsilon is the leader-clustering similarity threshold.
	defaultClusterEpsilon = 0.5
	// defaultTopWords is the number of weighted terms kept per topic.
	defaultTopWords = 10
)

// HashEmbedder embeds documents by hashing tokens into a fixed number of
// dimensions and L2-normalizing. Deterministic and training-free; a stand-in
// for a sentence-transformer behind the same interface.
type HashEmbedder struct {
	Dims int
}

// Embed implements Embedder.
func (e HashEmbedder) Embed(ctx context.Context, docs []string) (*vectors.Matrix, error) {
	dims := e.Dims
	if dims <= 0 {
		dims = defaultEmbedDims
	}

	m := vectors.NewMatrix(len(docs), dims)

	for i, doc := range docs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		row := m.Row(i)

		for _, tok := range strings.Fields(doc) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(tok))

			sum := h.Sum32()

			// Sign bit from the hash keeps the expectation near zero.
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}

			row[sum%uint32(dims)] += sign
		}

		normalize(row)
	}

	return m, nil
}

// TruncateReducer keeps the first dims coordinates of each row. A stand-in
// for UMAP; deterministic by construction.
type TruncateReducer struct{}

// Reduce implements Reducer.
func (TruncateReducer) Reduce(ctx context.Context, m *vectors.Matrix, dims int) (*vectors.Matrix, error) {
	if dims <= 0 || dims > m.Cols() {
		dims = m.Cols()
	}

	out := vectors.NewMatrix(m.Rows(), dims)

	for i := range m.Rows() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		src := m.Row(i)
		dst := out.Row(i)

		copy(dst, src[:dims])
		normalize(dst)
	}

	return out, nil
}

// LeaderClusterer greedily assigns each row to the first existing cluster
// whose leader vector is within Epsilon cosine similarity, creating a new
// cluster otherwise. Clusters smaller than MinSize dissolve into outliers.
type LeaderClusterer struct {
	Epsilon float64
	MinSize int
}

// Cluster implements Clusterer.
func (c LeaderClusterer) Cluster(ctx context.Context, m *vectors.Matrix) ([]int, error) {
	eps := c.Epsilon
	if eps <= 0 {
		eps = defaultClusterEpsilon
	}

	assignments := make([]int, m.Rows())
	var leaders [][]float32

	for i := range m.Rows() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		row := m.Row(i)
		assigned := OutlierTopicID

		for id, leader := range leaders {
			if cosine32(row, leader) >= eps {
				assigned = id

				break
			}
		}

		if assigned == OutlierTopicID {
			assigned = len(leaders)
			leaders = append(leaders, row)
		}

		assignments[i] = assigned
	}

	dissolveSmallClusters(assignments, c.MinSize)

	return assignments, nil
}

// dissolveSmallClusters turns clusters below minSize into outliers and
// renumbers the survivors densely in order of first appearance.
func dissolveSmallClusters(assignments []int, minSize int) {
	if minSize <= 1 {
		return
	}

	sizes := make(map[int]int)
	for _, id := range assignments {
		sizes[id]++
	}

	renumber := make(map[int]int)

	for i, id := range assignments {
		if sizes[id] < minSize {
			assignments[i] = OutlierTopicID

			continue
		}

		dense, ok := renumber[id]
		if !ok {
			dense = len(renumber)
			renumber[id] = dense
		}

		assignments[i] = dense
	}
}

// CountVectorizer tokenizes by whitespace, drops stopwords, and applies
// document-frequency bounds before counting terms per cluster.
type CountVectorizer struct {
	Stopwords  []string
	MinDocFreq float64
	MaxDocFreq float64
}

// TermCounts implements Vectorizer.
func (v CountVectorizer) TermCounts(docs []string, assignments []int) map[int]map[string]int {
	stop := make(map[string]bool, len(v.Stopwords))
	for _, w := range v.Stopwords {
		stop[strings.ToLower(w)] = true
	}

	keep := v.admittedTerms(docs, stop)
	counts := make(map[int]map[string]int)

	for i, doc := range docs {
		id := assignments[i]

		bucket := counts[id]
		if bucket == nil {
			bucket = make(map[string]int)
			counts[id] = bucket
		}

		for _, tok := range strings.Fields(strings.ToLower(doc)) {
			if keep[tok] {
				bucket[tok]++
			}
		}
	}

	return counts
}

// admittedTerms applies stopword and document-frequency filtering over the
// whole corpus.
func (v CountVectorizer) admittedTerms(docs []string, stop map[string]bool) map[string]bool {
	df := make(map[string]int)

	for _, doc := range docs {
		seen := make(map[string]bool)

		for _, tok := range strings.Fields(strings.ToLower(doc)) {
			if !stop[tok] && !seen[tok] {
				df[tok]++
				seen[tok] = true
			}
		}
	}

	n := float64(len(docs))
	keep := make(map[string]bool, len(df))

	for tok, freq := range df {
		ratio := float64(freq) / n

		if v.MinDocFreq > 0 && ratio < v.MinDocFreq {
			continue
		}

		if v.MaxDocFreq > 0 && ratio > v.MaxDocFreq {
			continue
		}

		keep[tok] = true
	}

	return keep
}

// ClassTFIDF weighs each cluster's terms by class-based TF-IDF: term
// frequency within the cluster damped by how many clusters use the term.
type ClassTFIDF struct{}

// Weigh implements Weighter.
func (ClassTFIDF) Weigh(counts map[int]map[string]int) map[int][]WordWeight {
	clusterFreq := make(map[string]int)

	for _, bucket := range counts {
		for term := range bucket {
			clusterFreq[term]++
		}
	}

	nClusters := float64(len(counts))
	out := make(map[int][]WordWeight, len(counts))

	for id, bucket := range counts {
		total := 0
		for _, c := range bucket {
			total += c
		}

		words := make([]WordWeight, 0, len(bucket))

		for term, c := range bucket {
			tf := float64(c) / float64(max(total, 1))
			idf := math.Log(1 + nClusters/float64(clusterFreq[term]))

			words = append(words, WordWeight{Term: term, Weight: tf * idf})
		}

		sortWords(words)
		out[id] = words
	}

	return out
}

// TopWordsRepresenter keeps the N heaviest terms of a topic.
type TopWordsRepresenter struct {
	N int
}

// Represent implements Representer.
func (r TopWordsRepresenter) Represent(words []WordWeight) []WordWeight {
	n := r.N
	if n <= 0 {
		n = defaultTopWords
	}

	if len(words) > n {
		words = words[:n]
	}

	return words
}

// sortWords orders by descending weight, ties broken lexicographically so
// output is deterministic.
func sortWords(words []WordWeight) {
	sort.Slice(words, func(a, b int) bool {
		if words[a].Weight != words[b].Weight {
			return words[a].Weight > words[b].Weight
		}

		return words[a].Term < words[b].Term
	})
}

func normalize(row []float32) {
	var sum float64
	for _, v := range row {
		sum += float64(v) * float64(v)
	}

	if sum == 0 {
		return
	}

	norm := float32(math.Sqrt(sum))
	for j := range row {
		row[j] /= norm
	}
}

func cosine32(a, b []float32) float64 {
	var dot, na, nb float64

	for j := range a {
		dot += float64(a[j]) * float64(b[j])
		na += float64(a[j]) * float64(a[j])
		nb += float64(b[j]) * float64(b[j])
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / math.Sqrt(na*nb)
}

func cosine(a []float32, b []float64) float64 {
	var dot, na, nb float64

	for j := range a {
		dot += float64(a[j]) * b[j]
		na += float64(a[j]) * float64(a[j])
		nb += b[j] * b[j]
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / math.Sqrt(na*nb)
}
