package extract

import (
	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/metrics"
)

// Scorer finalizes an extraction result: overall confidence over the
// critical field set and the needs-review decision.
type Scorer struct {
	reviewThreshold float64
	ambiguousLow    float64
	ambiguousHigh   float64
}

// NewScorer builds a scorer with the default review bands.
func NewScorer() *Scorer {
	return &Scorer{
		reviewThreshold: 0.5,
		ambiguousLow:    0.4,
		ambiguousHigh:   0.6,
	}
}

// Finalize computes overall_confidence as the mean of critical-field
// confidences, with missing critical fields contributing zero, and flags
// the result for review when confidence is low, the classifier was
// ambiguous, or a critical field came from the AI fallback.
func (s *Scorer) Finalize(result *harvest.ExtractionResult) {
	var sum float64
	var aiCritical bool
	for _, name := range harvest.CriticalFields {
		field := result.Field(name)
		if field.Filled() {
			sum += field.Confidence
		}
		if field.Source == harvest.StageAI {
			aiCritical = true
		}
	}
	result.OverallConfidence = sum / float64(len(harvest.CriticalFields))

	ambiguous := result.ClassifierScore >= s.ambiguousLow && result.ClassifierScore <= s.ambiguousHigh
	result.NeedsReview = result.OverallConfidence < s.reviewThreshold ||
		ambiguous ||
		aiCritical

	if result.IsJob {
		observeMisses(result)
		if result.NeedsReview {
			metrics.ObserveLowConfidence()
		}
	}
}
