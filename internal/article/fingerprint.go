package article

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// trackingParams are query parameters stripped during link canonicalization.
// Prefix matching covers the utm_* family.
var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"mc_cid":   true,
	"mc_eid":   true,
	"ref":      true,
	"source":   true,
	"icid":     true,
	"cmpid":    true,
	"_hsenc":   true,
	"_hsmi":    true,
	"spm":      true,
	"share_id": true,
}

func isTrackingParam(name string) bool {
	n := strings.ToLower(name)
	return trackingParams[n] || strings.HasPrefix(n, "utm_")
}

// canonicalLink normalizes an article URL so syndicated copies of the same
// link fingerprint identically: scheme/host/path lowercased, default ports
// and trailing slash dropped, tracking parameters and fragment removed,
// remaining query re-encoded in sorted order. Returns false for anything that
// is not an absolute http(s) URL.
func canonicalLink(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		return "", false
	}
	switch scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}

	path := strings.TrimSuffix(strings.ToLower(u.EscapedPath()), "/")

	q := u.Query()
	for name := range q {
		if isTrackingParam(name) {
			q.Del(name)
		}
	}

	canon := scheme + "://" + host + path
	if enc := q.Encode(); enc != "" {
		canon += "?" + enc
	}
	return canon, true
}

// The two fingerprint forms hash disjoint input namespaces ("link:" vs
// "meta:") so a fallback fingerprint can never collide with a link one.

func linkFingerprint(raw string) (string, bool) {
	canon, ok := canonicalLink(raw)
	if !ok {
		return "", false
	}
	return digest("link:" + canon), true
}

func metaFingerprint(source, title string, published time.Time, hasDate bool) string {
	date := "unknown"
	if hasDate {
		date = published.Format("2006-01-02")
	}
	return digest("meta:" + source + "\n" + strings.ToLower(title) + "\n" + date)
}

// ContentHash identifies the article text that summaries are derived from. A
// cache entry whose stored hash no longer matches is stale and regenerated.
func ContentHash(title, excerpt string) string {
	return digest("content:" + title + "\n" + excerpt)
}

func digest(input string) string {
	h := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", h[:16])
}
