package extract

import (
	"context"
	"strings"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// MetaStage reads OpenGraph and standard meta tags. Social-card titles are
// usually the job title on posting pages, but the trust is moderate.
type MetaStage struct{}

// NewMetaStage builds the meta/OpenGraph stage.
func NewMetaStage() *MetaStage {
	return &MetaStage{}
}

// Name implements Stage.
func (s *MetaStage) Name() harvest.StageName {
	return harvest.StageMeta
}

// Run implements Stage.
func (s *MetaStage) Run(_ context.Context, doc *Document, result *harvest.ExtractionResult) error {
	parsed, err := doc.Parsed()
	if err != nil {
		return err
	}

	meta := func(names ...string) string {
		for _, name := range names {
			sel := parsed.Find(`meta[property="` + name + `"], meta[name="` + name + `"]`).First()
			if content, ok := sel.Attr("content"); ok && strings.TrimSpace(content) != "" {
				return clean(content)
			}
		}
		return ""
	}

	title := meta("og:title", "twitter:title")
	// Many sites append "| Org Name" to social titles.
	if idx := strings.LastIndexAny(title, "|–"); idx > 0 {
		title = clean(title[:idx])
	}
	fill(result, harvest.FieldTitle, title, harvest.StageMeta, confMeta)
	fill(result, harvest.FieldEmployer, meta("og:site_name"), harvest.StageMeta, confMeta)
	fill(result, harvest.FieldDescription, meta("og:description", "description", "twitter:description"), harvest.StageMeta, confMeta)
	fill(result, harvest.FieldApplyURL, meta("og:url"), harvest.StageMeta, confMeta)
	return nil
}
