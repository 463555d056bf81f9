package usecase

import "github.com/kirillkom/hybrid-retrieval/internal/core/domain"

// gateThresholds partition the [0,1] relevance-score range into the three
// gate classifications.
type gateThresholds struct {
	Correct   float64
	Incorrect float64
	Filter    float64
}

func (t gateThresholds) normalize() gateThresholds {
	out := t
	if out.Correct <= 0 || out.Correct > 1 {
		out.Correct = 0.7
	}
	if out.Incorrect < 0 || out.Incorrect >= out.Correct {
		out.Incorrect = 0.3
	}
	if out.Filter <= 0 || out.Filter > 1 {
		out.Filter = 0.5
	}
	return out
}

// classifyRelevance decides whether the candidate set as a whole answers the
// query. The decision hinges on the best candidate, not the average: one
// strong hit means the corpus covers the topic, while a uniformly weak set
// means the query is out of scope for this corpus entirely.
func classifyRelevance(scores []float64, th gateThresholds) domain.GateClass {
	if len(scores) == 0 {
		return domain.GateIncorrect
	}
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	switch {
	case maxScore >= th.Correct:
		return domain.GateCorrect
	case maxScore <= th.Incorrect:
		return domain.GateIncorrect
	default:
		return domain.GateAmbiguous
	}
}

// applyGate annotates every candidate with its relevance score and gate
// decision, then applies exactly one filtering effect for the classification:
// keep-all, drop-all, or threshold-drop. It returns the surviving candidates
// in their incoming order.
func applyGate(candidates []domain.Candidate, scores []float64, th gateThresholds) ([]domain.Candidate, domain.GateClass) {
	th = th.normalize()
	class := classifyRelevance(scores, th)

	kept := make([]domain.Candidate, 0, len(candidates))
	for i := range candidates {
		if i < len(scores) {
			candidates[i].RelevanceScore = scores[i]
		}
		drop := false
		switch class {
		case domain.GateIncorrect:
			drop = true
		case domain.GateAmbiguous:
			drop = candidates[i].RelevanceScore < th.Filter
		}
		if drop {
			candidates[i].GateDecision = domain.GateDropped
			continue
		}
		candidates[i].GateDecision = domain.GateKept
		kept = append(kept, candidates[i])
	}
	return kept, class
}

// passGate marks every candidate as kept without scoring. Used when the gate
// is disabled in configuration or when a gate timeout resolves fail-open.
func passGate(candidates []domain.Candidate) []domain.Candidate {
	for i := range candidates {
		candidates[i].GateDecision = domain.GateKept
	}
	return candidates
}
