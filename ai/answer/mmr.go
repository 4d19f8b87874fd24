package answer

import (
	"math"
	"sort"

	"github.com/relaydesk/relaydesk/store"
)

// maximalMarginalRelevance picks up to k chunks balancing query relevance
// against mutual diversity. Each step selects the candidate maximising
// lambda*score - (1-lambda)*maxSimilarityToSelected. Candidates without an
// embedding contribute zero to the diversity term, degrading to a pure
// relevance ranking.
func maximalMarginalRelevance(candidates []*store.ScoredKnowledgeChunk, k int, lambda float32) []*store.ScoredKnowledgeChunk {
	if k <= 0 {
		return nil
	}

	pool := make([]*store.ScoredKnowledgeChunk, len(candidates))
	copy(pool, candidates)
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Score > pool[j].Score })
	if k >= len(pool) {
		return pool
	}

	selected := make([]*store.ScoredKnowledgeChunk, 0, k)
	remaining := pool
	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestValue := float32(math.Inf(-1))
		for i, candidate := range remaining {
			penalty := float32(0)
			for _, s := range selected {
				if sim := cosineSimilarity(candidate.Chunk.Embedding, s.Chunk.Embedding); sim > penalty {
					penalty = sim
				}
			}
			value := lambda*candidate.Score - (1-lambda)*penalty
			if value > bestValue {
				bestValue = value
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
