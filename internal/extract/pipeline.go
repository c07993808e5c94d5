package extract

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/metrics"
)

// Stage attempts to fill fields the pipeline is not yet confident about.
// Stages must only write through fill and never replace an existing value.
type Stage interface {
	Name() harvest.StageName
	Run(ctx context.Context, doc *Document, result *harvest.ExtractionResult) error
}

// Pipeline runs the ordered extraction stages over one page.
type Pipeline struct {
	classifier *Classifier
	stages     []Stage
	scorer     *Scorer
	clock      harvest.Clock
	logger     *zap.Logger
}

// PipelineOption customizes pipeline construction.
type PipelineOption func(*Pipeline)

// WithClock overrides the pipeline clock.
func WithClock(clock harvest.Clock) PipelineOption {
	return func(p *Pipeline) { p.clock = clock }
}

// NewPipeline assembles the staged extractor. Stages run in the given order
// after the classifier; earlier stages always win for a field.
func NewPipeline(classifier *Classifier, scorer *Scorer, clock harvest.Clock, logger *zap.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{
		classifier: classifier,
		stages:     stages,
		scorer:     scorer,
		clock:      clock,
		logger:     logger.Named("pipeline"),
	}
}

// NewDefaultPipeline wires the standard stage order. aiClient may be nil,
// in which case the AI fallback stage is omitted.
func NewDefaultPipeline(classifierThreshold float64, policies harvest.DomainPolicyStore, aiClient AIClient, budget Budget, clock harvest.Clock, logger *zap.Logger) *Pipeline {
	stages := []Stage{
		NewJSONLDStage(),
		NewMetaStage(),
		NewSelectorStage(policies),
		NewLabelStage(),
		NewRegexStage(),
	}
	if aiClient != nil {
		stages = append(stages, NewAIStage(aiClient, budget, logger))
	}
	return NewPipeline(NewClassifier(classifierThreshold), NewScorer(), clock, logger, stages...)
}

// Extract runs the classifier and, for job pages, the field stages. The
// result is finalized by the scorer before returning.
func (p *Pipeline) Extract(ctx context.Context, html []byte, url string) (harvest.ExtractionResult, error) {
	doc := NewDocument(url, html)
	result := harvest.ExtractionResult{
		URL:         url,
		Pipeline:    harvest.PipelineNew,
		ExtractedAt: p.clock.Now(),
	}

	score := p.classifier.Score(doc)
	result.ClassifierScore = score
	result.StagesFired = append(result.StagesFired, harvest.StageClassifier)

	if score < p.classifier.Threshold() {
		result.IsJob = false
		p.scorer.Finalize(&result)
		p.logger.Debug("classifier short-circuit",
			zap.String("url", url),
			zap.Float64("score", score),
		)
		return result, nil
	}
	result.IsJob = true

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if len(result.MissingFields()) == 0 {
			break
		}
		before := filledCount(&result)
		if err := stage.Run(ctx, doc, &result); err != nil {
			// A failing stage never aborts the pipeline; later stages may
			// still fill the gaps.
			p.logger.Warn("stage failed",
				zap.String("stage", string(stage.Name())),
				zap.String("url", url),
				zap.Error(err),
			)
			continue
		}
		if filledCount(&result) > before {
			result.StagesFired = append(result.StagesFired, stage.Name())
		}
	}

	p.scorer.Finalize(&result)
	return result, nil
}

func filledCount(result *harvest.ExtractionResult) int {
	var n int
	for _, name := range harvest.AllFields {
		if result.Field(name).Filled() {
			n++
		}
	}
	return n
}

// fill writes a value into the named field only when no earlier stage has
// filled it. Empty values are ignored.
func fill(result *harvest.ExtractionResult, name harvest.FieldName, value string, stage harvest.StageName, confidence float64) bool {
	field := result.Field(name)
	if field == nil || field.Filled() || value == "" {
		return false
	}
	*field = harvest.Field{Value: value, Source: stage, Confidence: confidence}
	metrics.ObserveFieldExtraction(string(name), true)
	return true
}

// observeMisses records fields the whole pipeline left empty. Called by the
// scorer after the last stage.
func observeMisses(result *harvest.ExtractionResult) {
	for _, name := range result.MissingFields() {
		metrics.ObserveFieldExtraction(string(name), false)
	}
}

var _ harvest.Extractor = (*Pipeline)(nil)

// stage confidence levels, in priority order
const (
	confJSONLD    = 0.92
	confMeta      = 0.7
	confSelectors = 0.75
	confLabels    = 0.6
	confRegex     = 0.5
	confAICap     = 0.8
)

// aiStageTimeout bounds one model call inside the pipeline.
const aiStageTimeout = 20 * time.Second
