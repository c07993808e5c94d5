package worker

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// jobPathHints mark hrefs that look like individual posting pages.
var jobPathHints = []string{
	"/job",
	"/jobs/",
	"/vacanc",
	"/career",
	"/position",
	"/opening",
	"/recruit",
	"/opportunit",
}

// DiscoverJobLinks pulls candidate posting URLs out of a careers index page.
// Only same-host links are kept, deduplicated in document order, capped at
// limit.
func DiscoverJobLinks(html []byte, pageURL string, limit int) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		resolved := base.ResolveReference(ref)
		if !strings.EqualFold(resolved.Hostname(), base.Hostname()) {
			return true
		}
		if !looksLikeJobPath(strings.ToLower(resolved.Path)) {
			return true
		}
		resolved.Fragment = ""
		candidate := resolved.String()
		if candidate == pageURL {
			return true
		}
		if _, dup := seen[candidate]; dup {
			return true
		}
		seen[candidate] = struct{}{}
		links = append(links, candidate)
		return limit <= 0 || len(links) < limit
	})
	return links
}

func looksLikeJobPath(path string) bool {
	for _, hint := range jobPathHints {
		if strings.Contains(path, hint) {
			return true
		}
	}
	return false
}
