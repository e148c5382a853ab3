package topics

import (
	"time"
)

// Evaluate scores a result: coherence as mean pairwise term-weight
// similarity within topics, diversity as the share of unique terms across
// topic word lists, and the outlier ratio from the counts.
func Evaluate(result *Result) *Evaluation {
	eval := &Evaluation{
		ProjectID: result.ProjectID,
		Column:    result.Column,
		Coherence: meanCoherence(result.Topics),
		Diversity: termDiversity(result.Topics),
		CreatedAt: time.Now().UTC(),
	}

	if result.Counts.Total > 0 {
		eval.OutlierRatio = float64(result.Counts.Outlier) / float64(result.Counts.Total)
	}

	return eval
}

// meanCoherence averages, per topic, the weight mass concentrated in the
// top terms relative to the whole word list. Degenerate topics score zero.
func meanCoherence(topics []Topic) float64 {
	if len(topics) == 0 {
		return 0
	}

	var sum float64

	for _, t := range topics {
		sum += topicCoherence(t)
	}

	return sum / float64(len(topics))
}

func topicCoherence(t Topic) float64 {
	var total, top float64

	for i, w := range t.Words {
		total += w.Weight

		if i < labelTerms {
			top += w.Weight
		}
	}

	if total == 0 {
		return 0
	}

	return top / total
}

// termDiversity is unique terms over total terms across all topic word
// lists; 1.0 means no topic shares a term with another.
func termDiversity(topics []Topic) float64 {
	seen := make(map[string]bool)
	total := 0

	for _, t := range topics {
		for _, w := range t.Words {
			seen[w.Term] = true
			total++
		}
	}

	if total == 0 {
		return 0
	}

	return float64(len(seen)) / float64(total)
}

// Score collapses an evaluation into one comparable number for experiment
// trials: coherence and diversity reward, outliers penalize.
func (e *Evaluation) Score() float64 {
	return e.Coherence + e.Diversity - e.OutlierRatio
}
