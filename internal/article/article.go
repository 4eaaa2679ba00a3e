// Package article converts raw feed entries into the canonical Article shape
// and assigns each one a fingerprint stable across sources and runs.
package article

import (
	"log/slog"
	"strings"
	"time"

	"newsdigest/internal/config"
	"newsdigest/internal/feed"
)

const maxExcerptLen = 600

// Article is the canonical, deduplicable form of a feed entry. Two articles
// with the same Fingerprint are the same real-world article no matter which
// feed produced them.
type Article struct {
	Fingerprint string
	ContentHash string
	Category    string
	Title       string
	Link        string
	Published   time.Time
	HasDate     bool
	Excerpt     string
	Source      string
}

// Normalize maps one raw entry and its source into an Article. Missing fields
// are tolerated: an absent publish date leaves HasDate false (such articles
// sort after dated ones), an absent excerpt falls back to title-only
// summarization input.
func Normalize(e feed.Entry, src config.Source, logger *slog.Logger) Article {
	a := Article{
		Category: src.Category,
		Title:    collapseSpace(e.Title),
		Link:     strings.TrimSpace(e.Link),
		Excerpt:  truncate(stripHTML(e.Description), maxExcerptLen),
		Source:   src.Name,
	}
	if e.Published != nil {
		a.Published = *e.Published
		a.HasDate = true
	}

	if fp, ok := linkFingerprint(a.Link); ok {
		a.Fingerprint = fp
	} else {
		a.Fingerprint = metaFingerprint(a.Source, a.Title, a.Published, a.HasDate)
		if logger != nil {
			logger.Warn("no usable link, fingerprinting by source/title/date",
				"source", a.Source, "title", a.Title)
		}
	}
	a.ContentHash = ContentHash(a.Title, a.Excerpt)
	return a
}

// NormalizeAll flattens per-source fetch results in registry order, keeping
// each source's own entry order.
func NormalizeAll(results []feed.Result, logger *slog.Logger) []Article {
	var out []Article
	for _, r := range results {
		for _, e := range r.Entries {
			out = append(out, Normalize(e, r.Source, logger))
		}
	}
	return out
}

// Dedup keeps exactly one article per fingerprint: the first encountered in
// source-registry iteration order. Returns the survivors and the drop count.
func Dedup(articles []Article) ([]Article, int) {
	seen := make(map[string]bool, len(articles))
	out := articles[:0:0]
	for _, a := range articles {
		if seen[a.Fingerprint] {
			continue
		}
		seen[a.Fingerprint] = true
		out = append(out, a)
	}
	return out, len(articles) - len(out)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func stripHTML(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
