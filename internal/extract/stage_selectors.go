package extract

import (
	"context"
	"net/url"
	"strings"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// SelectorStage applies per-host DOM selectors from the domain policy store.
// A configured selector that matches carries more trust than generic
// heuristics because an operator tuned it for the site.
type SelectorStage struct {
	policies harvest.DomainPolicyStore
}

// NewSelectorStage builds the site-selector stage.
func NewSelectorStage(policies harvest.DomainPolicyStore) *SelectorStage {
	return &SelectorStage{policies: policies}
}

// Name implements Stage.
func (s *SelectorStage) Name() harvest.StageName {
	return harvest.StageSelectors
}

// Run implements Stage.
func (s *SelectorStage) Run(ctx context.Context, doc *Document, result *harvest.ExtractionResult) error {
	u, err := url.Parse(doc.URL)
	if err != nil {
		return nil
	}
	policy, err := s.policies.GetPolicy(ctx, strings.ToLower(u.Hostname()))
	if err != nil {
		// No policy for the host is the normal case.
		return nil
	}
	if len(policy.Selectors) == 0 {
		return nil
	}

	parsed, err := doc.Parsed()
	if err != nil {
		return err
	}

	for _, name := range harvest.AllFields {
		selector, ok := policy.Selectors[name]
		if !ok {
			continue
		}
		sel := parsed.Find(selector).First()
		value := clean(sel.Text())
		if name == harvest.FieldApplyURL {
			if href, ok := sel.Attr("href"); ok {
				value = resolveHref(doc.URL, href)
			}
		}
		fill(result, name, value, harvest.StageSelectors, confSelectors)
	}
	return nil
}

// resolveHref absolutizes a link against the page URL.
func resolveHref(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
