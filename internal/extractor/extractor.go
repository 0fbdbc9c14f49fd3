// Package extractor turns a fetched page into a staged-content candidate
// and the in-scope links it points to.
package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/domain"
)

// cleanupSelector lists elements stripped from the content before taking text.
const cleanupSelector = "script, style, nav, footer, .comments, .sidebar"

// Config holds extractor settings.
type Config struct {
	// MinBodyLength rejects bodies shorter than this many characters as NoContent.
	MinBodyLength int `env:"EXTRACTOR_MIN_BODY_LENGTH" yaml:"min_body_length"`
	// RequireTitle rejects pages with no title from any fallback as NoContent.
	RequireTitle bool `env:"EXTRACTOR_REQUIRE_TITLE" yaml:"require_title"`
}

// Candidate is the structured record pulled from one page.
type Candidate struct {
	// URL is the canonical URL of the content.
	URL string
	// PageURL is the URL that was fetched.
	PageURL       string
	Title         string
	Body          string
	Author        string
	PublishedDate *time.Time
	RawHTML       string
	Metadata      domain.JSONBMap
}

// Extractor applies compiled selectors to HTML.
type Extractor struct {
	cfg Config
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract applies sel to the page body. Discovered links are returned even
// when the page yields no candidate, so listing pages still feed the frontier.
func (e *Extractor) Extract(pageURL string, body []byte, sel *Selectors, rules LinkRules) (*Candidate, []string, error) {
	if sel == nil {
		return nil, nil, &ExtractionError{URL: pageURL, Kind: KindMalformedSelector, Err: errNotCompiled}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil, &ExtractionError{URL: pageURL, Kind: KindNoContent, Err: fmt.Errorf("parse page url: %w", err)}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, &ExtractionError{URL: pageURL, Kind: KindNoContent, Err: fmt.Errorf("parse html: %w", err)}
	}

	var links []string
	if rules.FollowLinks {
		links = discoverLinks(doc, base, rules)
	}

	content := doc.FindMatcher(sel.content).First()
	if content.Length() == 0 {
		return nil, links, &ExtractionError{URL: pageURL, Kind: KindNoContent, Err: errNoContentMatch}
	}

	rawHTML, _ := goquery.OuterHtml(content)
	title := e.title(doc, content, sel)
	if title == "" && e.cfg.RequireTitle {
		return nil, links, &ExtractionError{URL: pageURL, Kind: KindNoContent, Err: errNoTitle}
	}

	content.Find(cleanupSelector).Remove()
	text := collapseWhitespace(content.Text())
	if text == "" || len([]rune(text)) < e.cfg.MinBodyLength {
		return nil, links, &ExtractionError{URL: pageURL, Kind: KindNoContent, Err: errBodyTooShort}
	}

	canonical, canonicalSource := canonicalURL(doc, base)

	meta, err := Metadata{
		WordCount:        len(strings.Fields(text)),
		ExtractionMethod: ExtractionMethod,
		Description:      metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`),
		CanonicalSource:  canonicalSource,
		ContentSelector:  sel.raw.Content,
	}.Map()
	if err != nil {
		return nil, links, err
	}

	return &Candidate{
		URL:           canonical,
		PageURL:       pageURL,
		Title:         title,
		Body:          text,
		Author:        author(doc, sel),
		PublishedDate: publishedDate(doc, sel),
		RawHTML:       rawHTML,
		Metadata:      meta,
	}, links, nil
}

// title tries the title selector inside the content, then on the whole
// document, then <title>, then og:title.
func (e *Extractor) title(doc *goquery.Document, content *goquery.Selection, sel *Selectors) string {
	if t := collapseWhitespace(content.FindMatcher(sel.title).First().Text()); t != "" {
		return t
	}
	if t := collapseWhitespace(doc.FindMatcher(sel.title).First().Text()); t != "" {
		return t
	}
	if t := collapseWhitespace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return metaContent(doc, `meta[property="og:title"]`)
}

func author(doc *goquery.Document, sel *Selectors) string {
	if sel.author != nil {
		if a := collapseWhitespace(doc.FindMatcher(sel.author).First().Text()); a != "" {
			return a
		}
	}
	return metaContent(doc, `meta[name="author"]`)
}

// publishedDate reads the date selector's datetime attribute or text and
// parses it leniently. Anything unparseable is nil.
func publishedDate(doc *goquery.Document, sel *Selectors) *time.Time {
	var raw string
	if sel.date != nil {
		el := doc.FindMatcher(sel.date).First()
		if dt, ok := el.Attr("datetime"); ok && strings.TrimSpace(dt) != "" {
			raw = dt
		} else {
			raw = el.Text()
		}
	}
	if strings.TrimSpace(raw) == "" {
		raw = metaContent(doc, `meta[property="article:published_time"]`)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func canonicalURL(doc *goquery.Document, base *url.URL) (string, string) {
	candidates := []struct {
		source string
		value  string
	}{
		{CanonicalFromLink, attr(doc, `link[rel="canonical"]`, "href")},
		{CanonicalFromOG, attr(doc, `meta[property="og:url"]`, "content")},
	}

	for _, c := range candidates {
		if c.value == "" {
			continue
		}
		ref, err := url.Parse(c.value)
		if err != nil {
			continue
		}
		if normalized, err := normalize(base.ResolveReference(ref)); err == nil {
			return normalized, c.source
		}
	}

	if normalized, err := normalize(cloneURL(base)); err == nil {
		return normalized, CanonicalFromPage
	}
	return base.String(), CanonicalFromPage
}

func attr(doc *goquery.Document, selector, name string) string {
	v, _ := doc.Find(selector).First().Attr(name)
	return strings.TrimSpace(v)
}

// metaContent returns the first non-empty content attribute among selectors.
func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, s := range selectors {
		if v := attr(doc, s, "content"); v != "" {
			return collapseWhitespace(v)
		}
	}
	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
