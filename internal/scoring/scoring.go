// Package scoring computes deterministic confidence values from retrieval
// quality, classification tier and draft length. The model's own confidence
// claim is logged for the audit trail but never persisted as the decision
// value; same inputs always produce the same score.
package scoring

import "github.com/bizpilot/bizpilot/internal/storage"

// Tier constants reflect how actionable each tier's messaging is: a hot lead
// draft follows a tight template, a cold one is mostly guesswork.
const (
	tierFactorHot  = 1.0
	tierFactorWarm = 0.85
	tierFactorCold = 0.7
)

// Scorer blends the confidence factors with configured weights.
type Scorer struct {
	retrievalWeight float64
	tierWeight      float64
	lengthWeight    float64
	minBodyChars    int
	shortPenalty    float64
}

// New creates a Scorer. Weights are expected to sum to 1; the constructor
// does not renormalize them so a misconfigured sum shows up in the output
// rather than being silently corrected.
func New(retrievalWeight, tierWeight, lengthWeight float64, minBodyChars int, shortPenalty float64) *Scorer {
	return &Scorer{
		retrievalWeight: retrievalWeight,
		tierWeight:      tierWeight,
		lengthWeight:    lengthWeight,
		minBodyChars:    minBodyChars,
		shortPenalty:    shortPenalty,
	}
}

// ScoreMessage blends all three factors for a generated draft:
// retrieval quality, the tier factor, and a length factor that penalizes
// drafts shorter than the minimum body length. Clamped to [0, 1].
func (s *Scorer) ScoreMessage(retrievalQuality float64, tier string, bodyLen int) float64 {
	lengthFactor := 1.0
	if bodyLen < s.minBodyChars {
		lengthFactor = s.shortPenalty
	}
	score := retrievalQuality*s.retrievalWeight +
		tierFactor(tier)*s.tierWeight +
		lengthFactor*s.lengthWeight
	return clamp01(score)
}

// ScoreClassification blends retrieval quality and the tier factor only,
// renormalized over their combined weight. There is no draft yet at
// classification time, so the length factor does not apply.
func (s *Scorer) ScoreClassification(retrievalQuality float64, tier string) float64 {
	total := s.retrievalWeight + s.tierWeight
	if total == 0 {
		return 0
	}
	score := (retrievalQuality*s.retrievalWeight + tierFactor(tier)*s.tierWeight) / total
	return clamp01(score)
}

func tierFactor(tier string) float64 {
	switch tier {
	case storage.TierHot:
		return tierFactorHot
	case storage.TierWarm:
		return tierFactorWarm
	case storage.TierCold:
		return tierFactorCold
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
