package topics

import (
	"fmt"
	"math"
	"sort"
)

// hierarchyMergeThreshold is the minimum cosine similarity for two topics
// to join one community in a hierarchy layer.
const hierarchyMergeThreshold = 0.2

// BuildHierarchy groups topics layer by layer on a cosine-similarity graph
// of their term-weight vectors, stopping when a layer fails to merge
// further or collapses to a single root. The returned root is nil when
// there are no topics.
func BuildHierarchy(leaves []Topic) *Topic {
	if len(leaves) == 0 {
		return nil
	}

	layer := make([]*Topic, len(leaves))
	for i := range leaves {
		leaf := leaves[i]
		layer[i] = &leaf
	}

	nextID := maxTopicID(leaves) + 1

	for len(layer) > 1 {
		merged := mergeLayer(layer, &nextID)
		if len(merged) == len(layer) {
			break
		}

		layer = merged
	}

	if len(layer) == 1 {
		return layer[0]
	}

	root := &Topic{
		ID:       nextID,
		Label:    "root",
		Children: layer,
	}
	for _, child := range layer {
		root.Frequency += child.Frequency
	}

	return root
}

// mergeLayer groups the layer into communities of mutually similar topics
// and wraps each multi-member community in a parent node.
func mergeLayer(layer []*Topic, nextID *int) []*Topic {
	communities := findCommunities(layer)

	out := make([]*Topic, 0, len(communities))

	for _, members := range communities {
		if len(members) == 1 {
			out = append(out, layer[members[0]])

			continue
		}

		parent := &Topic{
			ID:       *nextID,
			Children: make([]*Topic, 0, len(members)),
		}
		*nextID++

		for _, idx := range members {
			parent.Children = append(parent.Children, layer[idx])
			parent.Frequency += layer[idx].Frequency
		}

		parent.Words = mergedWords(parent.Children)
		parent.Label = joinLabel(parent.Words)

		out = append(out, parent)
	}

	return out
}

// findCommunities runs single-pass label propagation over the similarity
// graph: each topic joins the neighbor community with the highest summed
// similarity above the threshold.
func findCommunities(layer []*Topic) [][]int {
	vecs := make([]map[string]float64, len(layer))
	for i, t := range layer {
		vecs[i] = wordVector(t)
	}

	community := make([]int, len(layer))
	for i := range community {
		community[i] = i
	}

	for i := range layer {
		bestCommunity, bestSim := community[i], 0.0

		for j := range layer {
			if community[j] == community[i] {
				continue
			}

			sim := sparseCosine(vecs[i], vecs[j])
			if sim >= hierarchyMergeThreshold && sim > bestSim {
				bestCommunity, bestSim = community[j], sim
			}
		}

		community[i] = bestCommunity
	}

	grouped := make(map[int][]int)
	for i, c := range community {
		grouped[c] = append(grouped[c], i)
	}

	keys := make([]int, 0, len(grouped))
	for c := range grouped {
		keys = append(keys, c)
	}

	sort.Ints(keys)

	out := make([][]int, 0, len(keys))
	for _, c := range keys {
		out = append(out, grouped[c])
	}

	return out
}

// mergedWords sums child term weights and keeps the heaviest terms.
func mergedWords(children []*Topic) []WordWeight {
	sum := make(map[string]float64)

	for _, child := range children {
		for _, w := range child.Words {
			sum[w.Term] += w.Weight
		}
	}

	words := make([]WordWeight, 0, len(sum))
	for term, weight := range sum {
		words = append(words, WordWeight{Term: term, Weight: weight})
	}

	sortWords(words)

	if len(words) > defaultTopWords {
		words = words[:defaultTopWords]
	}

	return words
}

func joinLabel(words []WordWeight) string {
	n := labelTerms
	if len(words) < n {
		n = len(words)
	}

	label := ""
	for i := range n {
		if i > 0 {
			label += ", "
		}

		label += words[i].Term
	}

	if label == "" {
		label = fmt.Sprintf("%d topics", n)
	}

	return label
}

func wordVector(t *Topic) map[string]float64 {
	vec := make(map[string]float64, len(t.Words))
	for _, w := range t.Words {
		vec[w.Term] = w.Weight
	}

	return vec
}

func sparseCosine(a, b map[string]float64) float64 {
	var dot, na, nb float64

	for term, wa := range a {
		na += wa * wa

		if wb, ok := b[term]; ok {
			dot += wa * wb
		}
	}

	for _, wb := range b {
		nb += wb * wb
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / math.Sqrt(na*nb)
}

func maxTopicID(topics []Topic) int {
	maxID := 0

	for _, t := range topics {
		if t.ID > maxID {
			maxID = t.ID
		}
	}

	return maxID
}
