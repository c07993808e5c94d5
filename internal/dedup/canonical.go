// Package dedup computes canonical identities for job postings and decides
// whether an extraction becomes an insert, an update, a restore, or a skip.
package dedup

import (
	"net/url"
	"sort"
	"strings"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// trackingParams are query parameters stripped during URL normalization so
// campaign decoration does not split one posting into many identities.
var trackingParams = map[string]struct{}{
	"gclid":   {},
	"fbclid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"source":  {},
}

// NormalizeTitle lowercases the title and collapses runs of whitespace.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// NormalizeApplyURL rewrites an apply URL into a stable form: lowercase
// scheme and host, default ports stripped, fragment dropped, tracking
// parameters removed, remaining query parameters sorted, and trailing
// slashes trimmed from non-root paths. Unparsable input is returned
// trimmed but otherwise untouched.
func NormalizeApplyURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if _, drop := trackingParams[strings.ToLower(key)]; drop {
				q.Del(key)
				continue
			}
			if strings.HasPrefix(strings.ToLower(key), "utm_") {
				q.Del(key)
			}
		}
		u.RawQuery = encodeSorted(q)
	}

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String()
}

// CanonicalHash derives the dedup identity of a posting from its normalized
// title and apply URL.
func CanonicalHash(h harvest.Hasher, title, applyURL string) (string, error) {
	return h.Hash([]byte(NormalizeTitle(title) + "|" + NormalizeApplyURL(applyURL)))
}

// encodeSorted renders query values with keys in lexical order. url.Values
// already sorts keys in Encode, but repeated values keep insertion order, so
// sort those too for a fully stable form.
func encodeSorted(q url.Values) string {
	for _, vs := range q {
		sort.Strings(vs)
	}
	return q.Encode()
}
