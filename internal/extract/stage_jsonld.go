package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// JSONLDStage reads Schema.org JobPosting blocks. Structured data is the
// highest-trust source, so it runs first after the classifier.
type JSONLDStage struct{}

// NewJSONLDStage builds the JSON-LD stage.
func NewJSONLDStage() *JSONLDStage {
	return &JSONLDStage{}
}

// Name implements Stage.
func (s *JSONLDStage) Name() harvest.StageName {
	return harvest.StageJSONLD
}

// jobPosting models the subset of Schema.org JobPosting the pipeline reads.
// Publishers are sloppy, so most members are decoded leniently.
type jobPosting struct {
	Type               any            `json:"@type"`
	Title              string         `json:"title"`
	Name               string         `json:"name"`
	Description        string         `json:"description"`
	DatePosted         string         `json:"datePosted"`
	ValidThrough       string         `json:"validThrough"`
	URL                string         `json:"url"`
	HiringOrganization map[string]any `json:"hiringOrganization"`
	JobLocation        any            `json:"jobLocation"`
	Qualifications     string         `json:"qualifications"`
	DirectApply        any            `json:"directApply"`
	ApplicationContact map[string]any `json:"applicationContact"`
	Graph              []jobPosting   `json:"@graph"`
}

// Run implements Stage.
func (s *JSONLDStage) Run(_ context.Context, doc *Document, result *harvest.ExtractionResult) error {
	parsed, err := doc.Parsed()
	if err != nil {
		return err
	}

	var posting *jobPosting
	parsed.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if p := decodePosting(sel.Text()); p != nil {
			posting = p
			return false
		}
		return true
	})
	if posting == nil {
		return nil
	}

	title := posting.Title
	if title == "" {
		title = posting.Name
	}
	fill(result, harvest.FieldTitle, clean(title), harvest.StageJSONLD, confJSONLD)
	fill(result, harvest.FieldEmployer, orgName(posting.HiringOrganization), harvest.StageJSONLD, confJSONLD)
	fill(result, harvest.FieldLocation, locationName(posting.JobLocation), harvest.StageJSONLD, confJSONLD)
	fill(result, harvest.FieldDeadline, clean(posting.ValidThrough), harvest.StageJSONLD, confJSONLD)
	fill(result, harvest.FieldPostedOn, clean(posting.DatePosted), harvest.StageJSONLD, confJSONLD)
	fill(result, harvest.FieldDescription, clean(stripTags(posting.Description)), harvest.StageJSONLD, confJSONLD)
	fill(result, harvest.FieldRequirements, clean(stripTags(posting.Qualifications)), harvest.StageJSONLD, confJSONLD)

	applyURL := posting.URL
	if applyURL == "" {
		applyURL = doc.URL
	}
	fill(result, harvest.FieldApplyURL, clean(applyURL), harvest.StageJSONLD, confJSONLD)
	return nil
}

// decodePosting parses one ld+json block and digs out a JobPosting, looking
// inside @graph arrays and top-level arrays too.
func decodePosting(raw string) *jobPosting {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var single jobPosting
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		if p := pickPosting(single); p != nil {
			return p
		}
	}

	var many []jobPosting
	if err := json.Unmarshal([]byte(raw), &many); err == nil {
		for _, item := range many {
			if p := pickPosting(item); p != nil {
				return p
			}
		}
	}
	return nil
}

func pickPosting(p jobPosting) *jobPosting {
	if isJobPostingType(p.Type) {
		return &p
	}
	for _, item := range p.Graph {
		if isJobPostingType(item.Type) {
			return &item
		}
	}
	return nil
}

func isJobPostingType(t any) bool {
	switch v := t.(type) {
	case string:
		return v == "JobPosting"
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == "JobPosting" {
				return true
			}
		}
	}
	return false
}

func orgName(org map[string]any) string {
	if org == nil {
		return ""
	}
	if name, ok := org["name"].(string); ok {
		return clean(name)
	}
	return ""
}

// locationName handles both a single Place and an array of Places, reading
// address.addressLocality/addressCountry or the place name.
func locationName(loc any) string {
	switch v := loc.(type) {
	case map[string]any:
		return placeName(v)
	case []any:
		for _, item := range v {
			if place, ok := item.(map[string]any); ok {
				if name := placeName(place); name != "" {
					return name
				}
			}
		}
	}
	return ""
}

func placeName(place map[string]any) string {
	if addr, ok := place["address"].(map[string]any); ok {
		locality, _ := addr["addressLocality"].(string)
		country, _ := addr["addressCountry"].(string)
		switch {
		case locality != "" && country != "":
			return clean(locality + ", " + country)
		case locality != "":
			return clean(locality)
		case country != "":
			return clean(country)
		}
	}
	if name, ok := place["name"].(string); ok {
		return clean(name)
	}
	if addr, ok := place["address"].(string); ok {
		return clean(addr)
	}
	return ""
}

// clean collapses whitespace runs and trims the result.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// stripTags removes markup from description-style values that embed HTML.
func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}
