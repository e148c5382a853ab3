package topics_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stopeworks/stope/internal/project"
	"github.com/stopeworks/stope/internal/topics"
	"github.com/stopeworks/stope/internal/vectors"
)

// Two clearly separated vocabularies so the reference clusterer finds two
// topics without tuning.
var sampleDocs = []string{
	"shipping delivery parcel courier",
	"delivery parcel shipping late",
	"parcel courier shipping delivery",
	"battery screen phone charger",
	"screen phone battery cracked",
	"phone charger battery screen",
}

func fitSample(t *testing.T, params project.TopicParams) *topics.Fitted {
	t.Helper()

	model, err := topics.NewModel(params)
	require.NoError(t, err)

	vecs, err := model.Embedder.Embed(context.Background(), sampleDocs)
	require.NoError(t, err)

	fitted, err := model.Fit(context.Background(), sampleDocs, vecs)
	require.NoError(t, err)

	return fitted
}

func TestValidateParams(t *testing.T) {
	t.Parallel()

	require.NoError(t, topics.ValidateParams(project.TopicParams{}))

	cases := []project.TopicParams{
		{MinTopicSize: -1},
		{NumTopics: -2},
		{MinDocFreq: 1.5},
		{MaxDocFreq: -0.1},
		{MinDocFreq: 0.9, MaxDocFreq: 0.5},
	}

	for _, params := range cases {
		err := topics.ValidateParams(params)
		assert.ErrorIs(t, err, topics.ErrInvalidValueType, "%+v", params)
	}
}

func TestModel_FitSeparatesVocabularies(t *testing.T) {
	t.Parallel()

	fitted := fitSample(t, project.TopicParams{MinTopicSize: 2})

	require.Len(t, fitted.Assignments, len(sampleDocs))

	// Documents sharing a vocabulary land in one cluster, and the two
	// vocabularies land in different clusters.
	assert.Equal(t, fitted.Assignments[0], fitted.Assignments[1])
	assert.Equal(t, fitted.Assignments[3], fitted.Assignments[4])
	assert.NotEqual(t, fitted.Assignments[0], fitted.Assignments[3])
}

func TestFitted_TopicsAndLabels(t *testing.T) {
	t.Parallel()

	fitted := fitSample(t, project.TopicParams{MinTopicSize: 2})

	got := fitted.Topics()
	require.NotEmpty(t, got)

	for _, topic := range got {
		assert.NotEqual(t, topics.OutlierTopicID, topic.ID)
		assert.NotEmpty(t, topic.Label)
		assert.NotEmpty(t, topic.Words)
	}

	// A label override replaces the joined top terms.
	fitted.Params.LabelOverrides = map[int]string{got[0].ID: "Shipping issues"}
	relabeled := fitted.Topics()
	assert.Equal(t, "Shipping issues", relabeled[0].Label)
}

func TestFitted_CountsOutliers(t *testing.T) {
	t.Parallel()

	// A high minimum topic size turns every cluster into outliers.
	fitted := fitSample(t, project.TopicParams{MinTopicSize: 100})

	counts := fitted.Counts(2)
	assert.Equal(t, len(sampleDocs), counts.Outlier)
	assert.Equal(t, 0, counts.Valid)
	assert.Equal(t, 2, counts.Invalid)
	assert.Equal(t, len(sampleDocs)+2, counts.Total)
}

func TestModel_ReduceOutliersReassigns(t *testing.T) {
	t.Parallel()

	model, err := topics.NewModel(project.TopicParams{ReduceOutliers: true})
	require.NoError(t, err)

	// Force one outlier by clustering with an impossible threshold for the
	// last, distinct document.
	model.Clusterer = staticClusterer{labels: []int{0, 0, 0, 1, 1, topics.OutlierTopicID}}

	vecs, err := model.Embedder.Embed(context.Background(), sampleDocs)
	require.NoError(t, err)

	fitted, err := model.Fit(context.Background(), sampleDocs, vecs)
	require.NoError(t, err)

	// The outlier document shares the phone vocabulary, so it joins
	// cluster 1.
	assert.Equal(t, 1, fitted.Assignments[5])
}

type staticClusterer struct {
	labels []int
}

func (s staticClusterer) Cluster(context.Context, *vectors.Matrix) ([]int, error) {
	out := make([]int, len(s.labels))
	copy(out, s.labels)

	return out, nil
}

func TestBuildHierarchy(t *testing.T) {
	t.Parallel()

	assert.Nil(t, topics.BuildHierarchy(nil))

	similar := []topics.Topic{
		{ID: 0, Words: []topics.WordWeight{{Term: "shipping", Weight: 1}, {Term: "parcel", Weight: 0.8}}, Frequency: 3},
		{ID: 1, Words: []topics.WordWeight{{Term: "shipping", Weight: 0.9}, {Term: "courier", Weight: 0.7}}, Frequency: 2},
		{ID: 2, Words: []topics.WordWeight{{Term: "battery", Weight: 1}, {Term: "screen", Weight: 0.9}}, Frequency: 4},
	}

	root := topics.BuildHierarchy(similar)
	require.NotNil(t, root)

	// The shipping topics merge under one parent before joining the root.
	assert.Equal(t, 9, root.Frequency)
	assert.Len(t, collectLeaves(root), 3)
}

func collectLeaves(t *topics.Topic) []*topics.Topic {
	if len(t.Children) == 0 {
		return []*topics.Topic{t}
	}

	var leaves []*topics.Topic
	for _, child := range t.Children {
		leaves = append(leaves, collectLeaves(child)...)
	}

	return leaves
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	result := &topics.Result{
		ProjectID: "reviews",
		Column:    "review",
		Topics: []topics.Topic{
			{ID: 0, Words: []topics.WordWeight{{Term: "a", Weight: 1}, {Term: "b", Weight: 1}}},
			{ID: 1, Words: []topics.WordWeight{{Term: "c", Weight: 1}, {Term: "d", Weight: 1}}},
		},
		Counts: topics.Counts{Valid: 8, Outlier: 2, Total: 10},
	}

	eval := topics.Evaluate(result)

	assert.InDelta(t, 1.0, eval.Coherence, 1e-9, "short word lists are fully concentrated")
	assert.InDelta(t, 1.0, eval.Diversity, 1e-9, "no shared terms")
	assert.InDelta(t, 0.2, eval.OutlierRatio, 1e-9)
	assert.InDelta(t, 1.8, eval.Score(), 1e-9)
}
