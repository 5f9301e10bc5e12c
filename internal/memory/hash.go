package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	urlPattern        = regexp.MustCompile(`https?://[^\s<>"']+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// ContentHash produces the deduplication key for a piece of content.
// The content is canonicalized first so trivially different renderings
// of the same item (tracking parameters, whitespace, letter case in
// URLs) hash identically.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(CanonicalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// CanonicalizeContent lowercases, collapses whitespace, and rewrites
// every embedded URL into canonical form.
func CanonicalizeContent(content string) string {
	normalized := urlPattern.ReplaceAllStringFunc(content, CanonicalizeURL)
	normalized = whitespacePattern.ReplaceAllString(normalized, " ")
	return strings.ToLower(strings.TrimSpace(normalized))
}

// CanonicalizeURL strips the parts of a URL that vary without changing
// the resource: scheme and host case, default ports, fragments, utm_*
// tracking parameters. Remaining query parameters are sorted so order
// does not matter. Unparseable input is returned unchanged.
func CanonicalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if strings.HasPrefix(strings.ToLower(key), "utm_") {
				q.Del(key)
			}
		}
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var parts []string
		for _, key := range keys {
			values := q[key]
			sort.Strings(values)
			for _, v := range values {
				parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
