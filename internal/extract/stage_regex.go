package extract

import (
	"context"
	"regexp"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// RegexStage is the last deterministic fallback: shape-based matches over
// the page text for dates and location phrases. It runs after every
// structured stage, so it only ever fills fields nothing else produced.
type RegexStage struct{}

// NewRegexStage builds the regex-fallback stage.
func NewRegexStage() *RegexStage {
	return &RegexStage{}
}

// Name implements Stage.
func (s *RegexStage) Name() harvest.StageName {
	return harvest.StageRegex
}

var (
	// "Deadline: 1 December 2025", "closing date 2025-12-01", "apply by Dec 1, 2025"
	deadlinePattern = regexp.MustCompile(`(?i)(?:deadline|closing date|apply by|applications? (?:close|due))[:\s]+((?:\d{1,2}\s+)?(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)[a-z]*\.?\s+\d{1,2}?,?\s*\d{4}|\d{4}-\d{2}-\d{2}|\d{1,2}[/.]\d{1,2}[/.]\d{4})`)

	// ISO dates anywhere, used for posted-on only when labeled
	postedPattern = regexp.MustCompile(`(?i)(?:posted|published)(?:\s+on)?[:\s]+(\d{4}-\d{2}-\d{2}|\d{1,2}\s+\w+\s+\d{4})`)

	// "based in Nairobi, Kenya", "location: Geneva"
	locationPattern = regexp.MustCompile(`(?i)(?:based in|duty station[:\s]+|location[:\s]+)([A-Z][A-Za-z .'-]+(?:,\s*[A-Z][A-Za-z .'-]+)?)`)
)

// Run implements Stage.
func (s *RegexStage) Run(_ context.Context, doc *Document, result *harvest.ExtractionResult) error {
	text := doc.Text()
	if text == "" {
		return nil
	}

	if m := deadlinePattern.FindStringSubmatch(text); m != nil {
		fill(result, harvest.FieldDeadline, clean(m[1]), harvest.StageRegex, confRegex)
	}
	if m := postedPattern.FindStringSubmatch(text); m != nil {
		fill(result, harvest.FieldPostedOn, clean(m[1]), harvest.StageRegex, confRegex)
	}
	if m := locationPattern.FindStringSubmatch(text); m != nil {
		fill(result, harvest.FieldLocation, clean(m[1]), harvest.StageRegex, confRegex)
	}
	return nil
}
