package extract

import (
	"context"
	"strings"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// Legacy is the pre-pipeline extractor kept as the rollout fallback. It
// reads the title tag and a handful of meta tags, assumes every routed page
// is a posting, and reports flat confidence.
type Legacy struct {
	clock harvest.Clock
}

// NewLegacy builds the legacy extractor.
func NewLegacy(clock harvest.Clock) *Legacy {
	return &Legacy{clock: clock}
}

const confLegacy = 0.55

// Extract implements harvest.Extractor.
func (l *Legacy) Extract(_ context.Context, html []byte, url string) (harvest.ExtractionResult, error) {
	doc := NewDocument(url, html)
	result := harvest.ExtractionResult{
		URL:         url,
		IsJob:       true,
		Pipeline:    harvest.PipelineLegacy,
		ExtractedAt: l.clock.Now(),
		StagesFired: []harvest.StageName{harvest.StageLegacy},
	}

	parsed, err := doc.Parsed()
	if err != nil {
		return result, err
	}

	title := clean(parsed.Find("title").First().Text())
	if idx := strings.LastIndexAny(title, "|–"); idx > 0 {
		title = clean(title[:idx])
	}
	fill(&result, harvest.FieldTitle, title, harvest.StageLegacy, confLegacy)

	if site, ok := parsed.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
		fill(&result, harvest.FieldEmployer, clean(site), harvest.StageLegacy, confLegacy)
	}
	if desc, ok := parsed.Find(`meta[name="description"]`).Attr("content"); ok {
		fill(&result, harvest.FieldDescription, clean(desc), harvest.StageLegacy, confLegacy)
	}
	fill(&result, harvest.FieldApplyURL, url, harvest.StageLegacy, confLegacy)

	var sum float64
	for _, name := range harvest.CriticalFields {
		if field := result.Field(name); field.Filled() {
			sum += field.Confidence
		}
	}
	result.OverallConfidence = sum / float64(len(harvest.CriticalFields))
	result.NeedsReview = result.OverallConfidence < 0.5
	return result, nil
}

var _ harvest.Extractor = (*Legacy)(nil)
