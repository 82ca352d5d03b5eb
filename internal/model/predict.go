package model

import "slices"

// Prediction is one class of a ranked output vector.
type Prediction struct {
	Class int     `json:"class"`
	Score float32 `json:"score"`
}

// Top returns the k highest scores in descending order. Equal scores keep
// the lower class first. k <= 0 returns nil.
func Top(scores []float32, k int) []Prediction {
	if k <= 0 {
		return nil
	}
	ranked := make([]Prediction, len(scores))
	for i, v := range scores {
		ranked[i] = Prediction{Class: i, Score: v}
	}
	slices.SortStableFunc(ranked, func(a, b Prediction) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return ranked[:min(k, len(ranked))]
}
