package extractor

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkRules controls which discovered links are returned.
type LinkRules struct {
	FollowLinks bool
	// Include and Exclude are URL substrings. A link matching any exclude
	// pattern is dropped even if it also matches an include pattern. When
	// Include is non-empty a link must match one of its patterns.
	Include []string
	Exclude []string
}

// Allows reports whether rawURL passes the include and exclude patterns.
func (r LinkRules) Allows(rawURL string) bool {
	for _, p := range r.Exclude {
		if p != "" && strings.Contains(rawURL, p) {
			return false
		}
	}

	if len(r.Include) == 0 {
		return true
	}
	for _, p := range r.Include {
		if p != "" && strings.Contains(rawURL, p) {
			return true
		}
	}
	return false
}

// trackingParams are query parameters that never change page content.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"msclkid":      {},
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

var errNotHTTP = errors.New("normalize url: not an http(s) url")

// NormalizeURL returns a canonical form of rawURL so equivalent links compare
// equal: lowercase scheme and host, no default port, no fragment, dot-segments
// resolved, tracking parameters stripped and the query sorted. A trailing
// slash is preserved because robots rules and include patterns often depend on it.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("normalize url: %w", err)
	}
	return normalize(u)
}

func normalize(u *url.URL) (string, error) {
	u.Scheme = strings.ToLower(u.Scheme)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errNotHTTP
	}

	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPorts[u.Scheme] {
		host += ":" + port
	}
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = cleanQuery(u.Query())
	u.Path = cleanPath(u.Path)
	u.RawPath = ""

	return u.String(), nil
}

func cleanPath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

func cleanQuery(values url.Values) string {
	for key := range values {
		if _, tracking := trackingParams[strings.ToLower(key)]; tracking {
			values.Del(key)
		}
	}
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		for _, val := range values[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}
	return b.String()
}

// discoverLinks returns normalized same-host links in document order,
// de-duplicated and filtered through rules. The page itself is excluded.
func discoverLinks(doc *goquery.Document, base *url.URL, rules LinkRules) []string {
	self, _ := normalize(cloneURL(base))

	seen := map[string]struct{}{self: {}}
	var links []string

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if !strings.EqualFold(abs.Hostname(), base.Hostname()) {
			return
		}

		normalized, err := normalize(abs)
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup {
			return
		}
		seen[normalized] = struct{}{}

		if rules.Allows(normalized) {
			links = append(links, normalized)
		}
	})

	return links
}

func cloneURL(u *url.URL) *url.URL {
	c := *u
	return &c
}
