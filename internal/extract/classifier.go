package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Classifier scores how likely a page is a single job posting. The score is
// a bounded accumulation of structural and lexical signals; pages scoring
// below the threshold short-circuit the pipeline.
type Classifier struct {
	threshold float64
}

// NewClassifier builds a classifier with the given short-circuit threshold.
func NewClassifier(threshold float64) *Classifier {
	return &Classifier{threshold: threshold}
}

// Threshold returns the short-circuit score.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// strong signals worth more than generic vocabulary hits
var strongJobSignals = []string{
	"apply now",
	"apply for this job",
	"how to apply",
	"job description",
	"closing date",
	"application deadline",
	"terms of reference",
}

var weakJobSignals = []string{
	"vacancy",
	"vacancies",
	"responsibilities",
	"qualifications",
	"requirements",
	"duty station",
	"contract type",
	"salary",
	"deadline",
	"job title",
	"position",
}

// listingSignals indicate an index of many postings rather than one posting.
var listingSignals = []string{
	"all vacancies",
	"search jobs",
	"filter by",
	"jobs found",
	"results per page",
}

// Score computes the is-job score in [0, 1].
func (c *Classifier) Score(doc *Document) float64 {
	text := strings.ToLower(doc.Text())
	if text == "" {
		return 0
	}

	var score float64

	if parsed, err := doc.Parsed(); err == nil {
		parsed.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if strings.Contains(sel.Text(), `"JobPosting"`) {
				score += 0.5
				return false
			}
			return true
		})
	}

	for _, signal := range strongJobSignals {
		if strings.Contains(text, signal) {
			score += 0.15
		}
	}
	for _, signal := range weakJobSignals {
		if strings.Contains(text, signal) {
			score += 0.05
		}
	}
	for _, signal := range listingSignals {
		if strings.Contains(text, signal) {
			score -= 0.2
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
