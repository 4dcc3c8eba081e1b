// Package rerank reorders nearest-neighbour candidates to trade relevance
// against redundancy.
package rerank

import (
	"fmt"

	"vecsync/internal/apperr"
	"vecsync/internal/vector"
)

// Ranked is one reranked result. Rank is zero-based.
type Ranked struct {
	Point         vector.ScoredPoint `json:"point"`
	Rank          int                `json:"rank"`
	OriginalScore float64            `json:"originalScore"`
	MMRScore      float64            `json:"mmrScore"`
}

type MMROptions struct {
	// Lambda weighs relevance against diversity: 1 is pure relevance, 0 pure diversity.
	Lambda float64 `json:"lambda" yaml:"lambda"`
	// FetchCount caps how many candidates are considered. Zero means all.
	FetchCount int `json:"fetch_count" yaml:"fetch_count"`
}

func (o MMROptions) Validate() error {
	if o.Lambda < 0 || o.Lambda > 1 {
		return fmt.Errorf("%w: lambda must be within [0,1], got %g", apperr.ErrInput, o.Lambda)
	}
	if o.FetchCount < 0 {
		return fmt.Errorf("%w: fetch count must not be negative", apperr.ErrInput)
	}
	return nil
}

// ValidateDiversityWeight checks w is within [0,1].
func ValidateDiversityWeight(w float64) error {
	if w < 0 || w > 1 {
		return fmt.Errorf("%w: diversity weight must be within [0,1], got %g", apperr.ErrInput, w)
	}
	return nil
}

type candidate struct {
	point    vector.ScoredPoint
	position int
	original float64
	// relevance is only used by MMR.
	relevance float64
}

func hasVectors(cands []vector.ScoredPoint) bool {
	for _, c := range cands {
		if len(c.Vector) > 0 {
			return true
		}
	}
	return false
}

// passThrough returns the first topK candidates in their original order.
func passThrough(cands []vector.ScoredPoint, topK int) []Ranked {
	if topK > len(cands) {
		topK = len(cands)
	}
	out := make([]Ranked, 0, topK)
	for i := 0; i < topK; i++ {
		score := float64(cands[i].Score)
		out = append(out, Ranked{Point: cands[i], Rank: i, OriginalScore: score, MMRScore: score})
	}
	return out
}

// better orders two scored candidates: higher score, then higher original
// score, then earlier input position.
func better(score float64, c candidate, bestScore float64, best candidate) bool {
	if score != bestScore {
		return score > bestScore
	}
	if c.original != best.original {
		return c.original > best.original
	}
	return c.position < best.position
}

// greedy repeatedly moves the argmax of scoreFn from remaining to selected.
func greedy(remaining, selected []candidate, topK int, seeded []Ranked, scoreFn func(c candidate, selected []candidate) float64) []Ranked {
	out := seeded
	for len(out) < topK && len(remaining) > 0 {
		bestIdx := 0
		bestScore := scoreFn(remaining[0], selected)
		for i := 1; i < len(remaining); i++ {
			s := scoreFn(remaining[i], selected)
			if better(s, remaining[i], bestScore, remaining[bestIdx]) {
				bestIdx, bestScore = i, s
			}
		}

		picked := remaining[bestIdx]
		out = append(out, Ranked{
			Point:         picked.point,
			Rank:          len(out),
			OriginalScore: picked.original,
			MMRScore:      bestScore,
		})
		selected = append(selected, picked)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return out
}
