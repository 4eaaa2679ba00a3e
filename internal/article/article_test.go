package article

import (
	"testing"
	"time"

	"newsdigest/internal/config"
	"newsdigest/internal/feed"
)

func TestCanonicalLink(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", "https://example.com/post", "https://example.com/post", true},
		{"uppercase host and path", "HTTPS://Example.COM/Post/One", "https://example.com/post/one", true},
		{"trailing slash dropped", "https://example.com/post/", "https://example.com/post", true},
		{"root slash dropped", "https://example.com/", "https://example.com", true},
		{"bare host", "https://example.com", "https://example.com", true},
		{"default port dropped", "https://example.com:443/post", "https://example.com/post", true},
		{"http default port dropped", "http://example.com:80/post", "http://example.com/post", true},
		{"non-default port kept", "http://example.com:443/post", "http://example.com:443/post", true},
		{"utm params stripped", "https://example.com/post?utm_source=rss&utm_medium=feed", "https://example.com/post", true},
		{"fbclid stripped", "https://example.com/post?fbclid=abc123", "https://example.com/post", true},
		{"real params kept sorted", "https://example.com/post?b=2&a=1", "https://example.com/post?a=1&b=2", true},
		{"mixed params", "https://example.com/post?id=7&utm_campaign=x", "https://example.com/post?id=7", true},
		{"fragment dropped", "https://example.com/post#section", "https://example.com/post", true},
		{"relative link rejected", "/post/one", "", false},
		{"non-http rejected", "ftp://example.com/post", "", false},
		{"empty rejected", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := canonicalLink(tt.in)
			if ok != tt.ok {
				t.Fatalf("canonicalLink(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if got != tt.want {
				t.Errorf("canonicalLink(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFingerprintStableAcrossSources(t *testing.T) {
	// The same article syndicated with different tracking params must
	// fingerprint identically.
	fp1, ok1 := linkFingerprint("https://example.com/story?utm_source=feedA")
	fp2, ok2 := linkFingerprint("https://Example.com/story/?utm_source=feedB")
	if !ok1 || !ok2 {
		t.Fatal("expected both links to fingerprint")
	}
	if fp1 != fp2 {
		t.Errorf("syndicated links fingerprint differently: %s vs %s", fp1, fp2)
	}
	if len(fp1) != 32 {
		t.Errorf("expected 32-char hex fingerprint, got %d chars", len(fp1))
	}
}

func TestMetaFingerprintFallback(t *testing.T) {
	pub := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	a := metaFingerprint("Science Daily", "Big Discovery", pub, true)
	b := metaFingerprint("Science Daily", "Big Discovery", pub.Add(3*time.Hour), true)
	if a != b {
		t.Error("same source/title/day should fingerprint identically")
	}

	c := metaFingerprint("Science Daily", "Big Discovery", time.Time{}, false)
	if a == c {
		t.Error("dated and undated fallbacks should differ")
	}

	d := metaFingerprint("Other Source", "Big Discovery", pub, true)
	if a == d {
		t.Error("different sources should fingerprint differently")
	}
}

func TestLinkAndMetaNamespacesDisjoint(t *testing.T) {
	// A crafted title can never collide with a link fingerprint because the
	// hash inputs carry distinct prefixes.
	fp, ok := linkFingerprint("https://example.com/x")
	if !ok {
		t.Fatal("expected link fingerprint")
	}
	meta := metaFingerprint("https://example.com/x", "", time.Time{}, false)
	if fp == meta {
		t.Error("link and meta fingerprints collided")
	}
}

func TestContentHashChangesWithContent(t *testing.T) {
	h1 := ContentHash("Title", "excerpt one")
	h2 := ContentHash("Title", "excerpt two")
	h3 := ContentHash("Corrected Title", "excerpt one")
	if h1 == h2 {
		t.Error("excerpt change should change content hash")
	}
	if h1 == h3 {
		t.Error("title change should change content hash")
	}
	if h1 != ContentHash("Title", "excerpt one") {
		t.Error("content hash not deterministic")
	}
}

func testSource(name, category string) config.Source {
	return config.Source{Name: name, URL: "https://" + name + ".test/feed", Category: category, Enabled: true}
}

func TestNormalize(t *testing.T) {
	pub := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	e := feed.Entry{
		Title:       "  A   Big\nStory ",
		Link:        "https://example.com/story?utm_source=rss",
		Description: "<p>Some <b>HTML</b>   text.</p>",
		Published:   &pub,
	}
	a := Normalize(e, testSource("sciencedaily", "Science"), nil)

	if a.Title != "A Big Story" {
		t.Errorf("title not collapsed: %q", a.Title)
	}
	if a.Excerpt != "Some HTML text." {
		t.Errorf("excerpt not stripped: %q", a.Excerpt)
	}
	if !a.HasDate || !a.Published.Equal(pub) {
		t.Errorf("published not carried: %v (hasDate=%v)", a.Published, a.HasDate)
	}
	if a.Category != "Science" {
		t.Errorf("category = %q", a.Category)
	}
	want, _ := linkFingerprint("https://example.com/story?utm_source=rss")
	if a.Fingerprint != want {
		t.Errorf("expected link-based fingerprint")
	}
}

func TestNormalizeMissingFields(t *testing.T) {
	e := feed.Entry{Title: "No Link Or Date"}
	a := Normalize(e, testSource("src", "Tech"), nil)

	if a.HasDate {
		t.Error("expected HasDate false for undated entry")
	}
	if a.Excerpt != "" {
		t.Errorf("expected empty excerpt, got %q", a.Excerpt)
	}
	if a.Fingerprint == "" {
		t.Error("expected meta fallback fingerprint")
	}
	if a.Fingerprint != metaFingerprint("src", "no link or date", time.Time{}, false) {
		t.Error("fallback fingerprint mismatch")
	}
}

func TestDedupFirstWins(t *testing.T) {
	pub := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	mk := func(link, source, title string) Article {
		return Normalize(feed.Entry{Title: title, Link: link, Published: &pub}, testSource(source, "Science"), nil)
	}

	articles := []Article{
		mk("https://example.com/a", "first", "Story A"),
		mk("https://example.com/b", "first", "Story B"),
		mk("https://example.com/a?utm_source=x", "second", "Story A Again"),
		mk("https://example.com/c", "second", "Story C"),
	}

	deduped, dropped := Dedup(articles)
	if dropped != 1 {
		t.Fatalf("expected 1 duplicate dropped, got %d", dropped)
	}
	if len(deduped) != 3 {
		t.Fatalf("expected 3 survivors, got %d", len(deduped))
	}
	// First-encountered wins: the copy from source "first" survives.
	if deduped[0].Source != "first" || deduped[0].Title != "Story A" {
		t.Errorf("wrong dedup winner: %+v", deduped[0])
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"this is a long string", 10, "this is..."},
		{"abc", 3, "abc"},
		{"abcd", 3, "abc"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"<p>Hello</p>", "Hello"},
		{"<b>Bold</b> and <i>italic</i>", "Bold and italic"},
		{"No tags here", "No tags here"},
		{"<div>  Multiple   spaces  </div>", "Multiple spaces"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stripHTML(tt.input); got != tt.want {
			t.Errorf("stripHTML(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
