// Package extract turns fetched HTML into typed, confidence-scored job
// fields through an ordered stage pipeline.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Document wraps one fetched page. The goquery parse is deferred until a
// stage needs it and then shared across stages.
type Document struct {
	URL  string
	HTML []byte

	once    sync.Once
	doc     *goquery.Document
	docErr  error
	text    string
	textSet bool
}

// NewDocument wraps raw HTML for extraction.
func NewDocument(url string, html []byte) *Document {
	return &Document{URL: url, HTML: html}
}

// Parsed returns the shared goquery document, parsing on first use.
func (d *Document) Parsed() (*goquery.Document, error) {
	d.once.Do(func() {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(d.HTML))
		if err != nil {
			d.docErr = fmt.Errorf("parsing html: %w", err)
			return
		}
		d.doc = doc
	})
	return d.doc, d.docErr
}

// Text returns the page's visible text with scripts and styles removed,
// whitespace-collapsed. Used by the classifier and the regex stage.
func (d *Document) Text() string {
	if d.textSet {
		return d.text
	}
	doc, err := d.Parsed()
	if err != nil {
		d.text = ""
		d.textSet = true
		return d.text
	}
	clone := doc.Clone()
	clone.Find("script, style, noscript").Remove()
	d.text = strings.Join(strings.Fields(clone.Find("body").Text()), " ")
	d.textSet = true
	return d.text
}
