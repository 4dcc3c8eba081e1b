package rerank

import "vecsync/internal/vector"

// ApplyDiversity seeds the selection with the highest scoring candidate and
// then greedily picks by
//
//	score = original*(1-weight) - mean(sim(c, s) for s in selected)*weight
//
// Candidates without vectors degrade to a pass-through like ApplyMMR.
func ApplyDiversity(cands []vector.ScoredPoint, weight float64, topK int) []Ranked {
	if topK <= 0 || len(cands) == 0 {
		return nil
	}
	if !hasVectors(cands) {
		return passThrough(cands, topK)
	}

	remaining := make([]candidate, len(cands))
	seed := 0
	for i, c := range cands {
		remaining[i] = candidate{point: c, position: i, original: float64(c.Score)}
		if remaining[i].original > remaining[seed].original {
			seed = i
		}
	}

	first := remaining[seed]
	seeded := []Ranked{{Point: first.point, Rank: 0, OriginalScore: first.original, MMRScore: first.original}}
	selected := []candidate{first}
	remaining = append(remaining[:seed], remaining[seed+1:]...)

	return greedy(remaining, selected, topK, seeded, func(c candidate, selected []candidate) float64 {
		var sum float64
		for _, s := range selected {
			sum += vector.CosineSimilarity(c.point.Vector, s.point.Vector)
		}
		avg := sum / float64(len(selected))
		return c.original*(1-weight) - avg*weight
	})
}
