package extract

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/metrics"
)

// AIStage is the last-resort extractor. It runs only for fields every
// deterministic stage left empty, and only while the daily call budget
// holds. Model confidence is capped so AI values never outrank structured
// data.
type AIStage struct {
	client AIClient
	budget Budget
	logger *zap.Logger
}

// NewAIStage builds the budgeted AI fallback stage.
func NewAIStage(client AIClient, budget Budget, logger *zap.Logger) *AIStage {
	return &AIStage{client: client, budget: budget, logger: logger.Named("ai_stage")}
}

// Name implements Stage.
func (s *AIStage) Name() harvest.StageName {
	return harvest.StageAI
}

// Run implements Stage.
func (s *AIStage) Run(ctx context.Context, doc *Document, result *harvest.ExtractionResult) error {
	missing := result.MissingFields()
	if len(missing) == 0 {
		return nil
	}

	if err := s.budget.Take(ctx); err != nil {
		if errors.Is(err, harvest.ErrAIBudgetExceeded) {
			metrics.ObserveAIBudgetExhausted()
			s.logger.Warn("ai budget exhausted, skipping fallback", zap.String("url", doc.URL))
			return nil
		}
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, aiStageTimeout)
	defer cancel()

	result.AICalls++
	fields, err := s.client.ExtractFields(ctx, doc.Text(), missing)
	if err != nil {
		metrics.ObserveAICall("error")
		return err
	}
	metrics.ObserveAICall("ok")

	for name, value := range fields {
		confidence := value.Confidence
		if confidence > confAICap {
			confidence = confAICap
		}
		if confidence <= 0 {
			continue
		}
		fill(result, name, clean(value.Value), harvest.StageAI, confidence)
	}
	return nil
}
