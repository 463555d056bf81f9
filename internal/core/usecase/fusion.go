package usecase

import (
	"sort"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// fusionConfig carries the reciprocal-rank-fusion tunables. Weights are
// complementary: semantic weight is 1 - LexicalWeight.
type fusionConfig struct {
	K             float64
	LexicalWeight float64
}

func (c fusionConfig) normalize() fusionConfig {
	out := c
	if out.K <= 0 {
		out.K = 60
	}
	if out.LexicalWeight < 0 || out.LexicalWeight > 1 {
		out.LexicalWeight = 0.3
	}
	return out
}

// fuseCandidates merges the dense and lexical result lists with weighted RRF.
//
// Ranks are 0-based positions after sorting each list by its own score
// descending. A document absent from one list is penalized with rank equal to
// the fused candidate-pool size, which places it strictly below every
// document present in that list. Ties on fused score break by semantic rank,
// then document id, so output order is deterministic.
func fuseCandidates(dense []domain.DenseHit, lexical []domain.LexicalHit, cfg fusionConfig) []domain.Candidate {
	cfg = cfg.normalize()

	acc := make(map[string]*domain.Candidate, len(dense)+len(lexical))
	order := make([]string, 0, len(dense)+len(lexical))

	semRank := 0
	for _, hit := range dense {
		if _, seen := acc[hit.DocumentID]; seen {
			continue
		}
		similarity := 1 - hit.Distance
		if similarity < 0 {
			similarity = 0
		}
		acc[hit.DocumentID] = &domain.Candidate{
			DocumentID:    hit.DocumentID,
			Text:          hit.Text,
			Metadata:      hit.Metadata,
			SemanticScore: similarity,
			SemanticRank:  semRank,
			LexicalRank:   -1,
		}
		order = append(order, hit.DocumentID)
		semRank++
	}

	lexRank := 0
	for _, hit := range lexical {
		existing, seen := acc[hit.Document.ID]
		if seen {
			if existing.LexicalRank >= 0 {
				continue
			}
			existing.LexicalScore = hit.Score
			existing.LexicalRank = lexRank
			lexRank++
			continue
		}
		candidate := &domain.Candidate{
			DocumentID:   hit.Document.ID,
			Text:         hit.Document.Text,
			Metadata:     hit.Document.Metadata,
			LexicalScore: hit.Score,
			LexicalRank:  lexRank,
			SemanticRank: -1,
		}
		acc[hit.Document.ID] = candidate
		order = append(order, hit.Document.ID)
		lexRank++
	}

	pool := len(acc)
	wLex := cfg.LexicalWeight
	wSem := 1 - wLex

	out := make([]domain.Candidate, 0, pool)
	for _, id := range order {
		candidate := acc[id]
		if candidate.SemanticRank < 0 {
			candidate.SemanticRank = pool
		}
		if candidate.LexicalRank < 0 {
			candidate.LexicalRank = pool
		}
		candidate.FusedScore = wSem/(cfg.K+float64(candidate.SemanticRank)) +
			wLex/(cfg.K+float64(candidate.LexicalRank))
		out = append(out, *candidate)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].SemanticRank != out[j].SemanticRank {
			return out[i].SemanticRank < out[j].SemanticRank
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}
