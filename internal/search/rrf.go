// Package search implements hybrid retrieval: vector and lexical
// candidate lists fused with Reciprocal Rank Fusion at chunk or
// document granularity.
package search

import "sort"

// DefaultRRFConstant is the standard RRF smoothing constant.
const DefaultRRFConstant = 60

// FusedResult is one entity after rank fusion.
type FusedResult struct {
	ID    int64
	Score float64
}

// FuseRRF merges ranked id lists with Reciprocal Rank Fusion. An
// entity's fused score is the sum of 1/(k+rank) over every list it
// appears in, with 1-based ranks; absence from a list contributes
// nothing. Output is ordered by score descending, ties broken by id
// ascending so identical inputs always produce identical output.
func FuseRRF(k int, lists ...[]int64) []FusedResult {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	scores := make(map[int64]float64)
	for _, list := range lists {
		for i, id := range list {
			scores[id] += 1.0 / float64(k+i+1)
		}
	}

	fused := make([]FusedResult, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, FusedResult{ID: id, Score: score})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})

	return fused
}
