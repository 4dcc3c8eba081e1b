package rerank

import "vecsync/internal/vector"

// ApplyMMR selects up to topK candidates by Maximal Marginal Relevance:
//
//	score = lambda*sim(query, c) - (1-lambda)*max(sim(c, s) for s in selected)
//
// When no candidate carries a vector the first topK candidates are returned
// unchanged. An empty query falls back to the candidates' original scores as
// relevance. Candidates without a vector have similarity 0 to everything.
func ApplyMMR(cands []vector.ScoredPoint, query []float32, opts MMROptions, topK int) []Ranked {
	if topK <= 0 || len(cands) == 0 {
		return nil
	}
	if opts.FetchCount > 0 && len(cands) > opts.FetchCount {
		cands = cands[:opts.FetchCount]
	}
	if !hasVectors(cands) {
		return passThrough(cands, topK)
	}

	remaining := make([]candidate, len(cands))
	for i, c := range cands {
		relevance := float64(c.Score)
		if len(query) > 0 {
			relevance = vector.CosineSimilarity(query, c.Vector)
		}
		remaining[i] = candidate{point: c, position: i, original: float64(c.Score), relevance: relevance}
	}

	lambda := opts.Lambda
	return greedy(remaining, nil, topK, nil, func(c candidate, selected []candidate) float64 {
		penalty := 0.0
		for i, s := range selected {
			sim := vector.CosineSimilarity(c.point.Vector, s.point.Vector)
			if i == 0 || sim > penalty {
				penalty = sim
			}
		}
		return lambda*c.relevance - (1-lambda)*penalty
	})
}
