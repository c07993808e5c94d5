package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// LabelStage matches "Label: value" structures common on hand-built career
// pages: definition lists, table rows, and bold-label paragraphs.
type LabelStage struct{}

// NewLabelStage builds the label-heuristics stage.
func NewLabelStage() *LabelStage {
	return &LabelStage{}
}

// Name implements Stage.
func (s *LabelStage) Name() harvest.StageName {
	return harvest.StageLabels
}

// fieldLabels maps lowercase label text to the field it fills.
var fieldLabels = map[string]harvest.FieldName{
	"job title":            harvest.FieldTitle,
	"position":             harvest.FieldTitle,
	"position title":       harvest.FieldTitle,
	"organization":         harvest.FieldEmployer,
	"organisation":         harvest.FieldEmployer,
	"employer":             harvest.FieldEmployer,
	"location":             harvest.FieldLocation,
	"duty station":         harvest.FieldLocation,
	"country":              harvest.FieldLocation,
	"deadline":             harvest.FieldDeadline,
	"closing date":         harvest.FieldDeadline,
	"application deadline": harvest.FieldDeadline,
	"apply":                harvest.FieldApplyURL,
	"apply here":           harvest.FieldApplyURL,
	"how to apply":         harvest.FieldApplyURL,
	"requirements":         harvest.FieldRequirements,
	"qualifications":       harvest.FieldRequirements,
	"posted":               harvest.FieldPostedOn,
	"posted on":            harvest.FieldPostedOn,
	"date posted":          harvest.FieldPostedOn,
}

var labelLinePattern = regexp.MustCompile(`(?m)^\s*([A-Za-z][A-Za-z /]{2,30}?)\s*:\s+(.{2,200})$`)

// Run implements Stage.
func (s *LabelStage) Run(_ context.Context, doc *Document, result *harvest.ExtractionResult) error {
	parsed, err := doc.Parsed()
	if err != nil {
		return err
	}

	// Definition lists: <dt>Label</dt><dd>Value</dd>
	parsed.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		name, ok := lookupLabel(dt.Text())
		if !ok {
			return
		}
		dd := dt.NextFiltered("dd")
		applyLabelValue(doc, result, name, dd)
	})

	// Two-cell table rows: <tr><th|td>Label</..><td>Value</td></tr>
	parsed.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("th, td")
		if cells.Length() != 2 {
			return
		}
		name, ok := lookupLabel(cells.First().Text())
		if !ok {
			return
		}
		applyLabelValue(doc, result, name, cells.Last())
	})

	// Inline "Label: value" lines in running text.
	raw := parsed.Find("li, p, div").Text()
	for _, match := range labelLinePattern.FindAllStringSubmatch(raw, -1) {
		name, ok := lookupLabel(match[1])
		if !ok || name == harvest.FieldApplyURL {
			continue
		}
		fill(result, name, clean(match[2]), harvest.StageLabels, confLabels)
	}
	return nil
}

func lookupLabel(text string) (harvest.FieldName, bool) {
	label := strings.ToLower(clean(text))
	label = strings.TrimSuffix(label, ":")
	name, ok := fieldLabels[label]
	return name, ok
}

func applyLabelValue(doc *Document, result *harvest.ExtractionResult, name harvest.FieldName, value *goquery.Selection) {
	if name == harvest.FieldApplyURL {
		if href, ok := value.Find("a[href]").First().Attr("href"); ok {
			fill(result, name, resolveHref(doc.URL, href), harvest.StageLabels, confLabels)
		}
		return
	}
	fill(result, name, clean(value.Text()), harvest.StageLabels, confLabels)
}
