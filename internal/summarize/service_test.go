package summarize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"newsdigest/internal/article"
	"newsdigest/internal/cache"
)

// fakeClient scripts per-call outcomes: errs[i] is returned for call i, calls
// beyond the script succeed.
type fakeClient struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	summary string
}

func (f *fakeClient) Summarize(ctx context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return f.summary, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testService(c Client) *Service {
	return NewService(c, Options{
		MaxConcurrent:  2,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		RequestTimeout: time.Second,
		RequestsPerSec: 1000,
		MaxWords:       40,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func testArticle(fp, title string) article.Article {
	return article.Article{
		Fingerprint: fp,
		ContentHash: article.ContentHash(title, "an excerpt for "+title),
		Category:    "Science",
		Title:       title,
		Excerpt:     "an excerpt for " + title,
		Source:      "test",
	}
}

func TestResolveCacheHitSkipsClient(t *testing.T) {
	c := &fakeClient{summary: "fresh summary"}
	svc := testService(c)
	store := cache.New()

	a := testArticle("fp1", "Cached Story")
	store.Put(a.Fingerprint, a.ContentHash, "cached summary", time.Now())

	resolved, stats := svc.Resolve(context.Background(), []article.Article{a}, store)

	if c.callCount() != 0 {
		t.Errorf("cached article reached the client (%d calls)", c.callCount())
	}
	if stats.Hits != 1 || stats.Summarized != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if !resolved[0].FromCache || resolved[0].Summary != "cached summary" {
		t.Errorf("resolved = %+v", resolved[0])
	}
}

func TestResolveMissCallsAndWritesThrough(t *testing.T) {
	c := &fakeClient{summary: "generated summary"}
	svc := testService(c)
	store := cache.New()
	a := testArticle("fp1", "New Story")

	resolved, stats := svc.Resolve(context.Background(), []article.Article{a}, store)

	if c.callCount() != 1 {
		t.Fatalf("expected 1 call, got %d", c.callCount())
	}
	if resolved[0].Summary != "generated summary" || resolved[0].FromCache || resolved[0].Fallback {
		t.Errorf("resolved = %+v", resolved[0])
	}
	if stats.Summarized != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if _, ok := store.Lookup(a.Fingerprint, a.ContentHash, time.Now()); !ok {
		t.Error("summary not written through to cache")
	}
}

func TestResolveStaleEntryResummarizes(t *testing.T) {
	c := &fakeClient{summary: "regenerated"}
	svc := testService(c)
	store := cache.New()

	a := testArticle("fp1", "Corrected Story")
	store.Put(a.Fingerprint, "stale-content-hash", "outdated summary", time.Now())

	resolved, _ := svc.Resolve(context.Background(), []article.Article{a}, store)

	if c.callCount() != 1 {
		t.Fatalf("stale entry should force a fresh call, got %d calls", c.callCount())
	}
	if resolved[0].Summary != "regenerated" {
		t.Errorf("summary = %q", resolved[0].Summary)
	}
	e, ok := store.Lookup(a.Fingerprint, a.ContentHash, time.Now())
	if !ok || e.Summary != "regenerated" {
		t.Error("cache not overwritten with fresh summary")
	}
}

func TestRetriesTransientThenSucceeds(t *testing.T) {
	c := &fakeClient{
		summary: "eventually",
		errs: []error{
			&APIError{Provider: "claude", StatusCode: 429, Body: "rate limited"},
			&APIError{Provider: "claude", StatusCode: 503, Body: "overloaded"},
		},
	}
	svc := testService(c)
	store := cache.New()
	a := testArticle("fp1", "Flaky Story")

	resolved, stats := svc.Resolve(context.Background(), []article.Article{a}, store)

	if c.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d", c.callCount())
	}
	if resolved[0].Summary != "eventually" || resolved[0].Fallback {
		t.Errorf("resolved = %+v", resolved[0])
	}
	if stats.Summarized != 1 || stats.Fallbacks != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestExhaustedRetriesFallBackAndSkipCache(t *testing.T) {
	transient := &APIError{Provider: "claude", StatusCode: 500, Body: "err"}
	c := &fakeClient{errs: []error{transient, transient, transient, transient}}
	svc := testService(c)
	store := cache.New()
	a := testArticle("fp1", "Doomed Story")

	resolved, stats := svc.Resolve(context.Background(), []article.Article{a}, store)

	// Retry ceiling: exactly MaxAttempts calls, no more.
	if c.callCount() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", c.callCount())
	}
	if !resolved[0].Fallback {
		t.Error("expected fallback summary")
	}
	if resolved[0].Summary != FallbackSummary(a) {
		t.Errorf("summary = %q", resolved[0].Summary)
	}
	if stats.Fallbacks != 1 {
		t.Errorf("stats = %+v", stats)
	}
	// Not cached, so a later run retries fresh.
	if _, ok := store.Lookup(a.Fingerprint, a.ContentHash, time.Now()); ok {
		t.Error("failed article must not be written to cache")
	}
}

func TestPermanentErrorDoesNotRetry(t *testing.T) {
	c := &fakeClient{errs: []error{&APIError{Provider: "claude", StatusCode: 400, Body: "bad request"}}}
	svc := testService(c)
	store := cache.New()
	a := testArticle("fp1", "Rejected Story")

	resolved, _ := svc.Resolve(context.Background(), []article.Article{a}, store)

	if c.callCount() != 1 {
		t.Errorf("permanent error retried: %d calls", c.callCount())
	}
	if !resolved[0].Fallback {
		t.Error("expected fallback after permanent error")
	}
}

func TestNilClientFallsBack(t *testing.T) {
	svc := testService(nil)
	store := cache.New()

	cached := testArticle("fp1", "Cached Story")
	store.Put(cached.Fingerprint, cached.ContentHash, "cached summary", time.Now())
	fresh := testArticle("fp2", "Fresh Story")

	resolved, stats := svc.Resolve(context.Background(), []article.Article{cached, fresh}, store)

	if resolved[0].Summary != "cached summary" || !resolved[0].FromCache {
		t.Errorf("cached article should still hit: %+v", resolved[0])
	}
	if !resolved[1].Fallback {
		t.Error("miss should fall back without a client")
	}
	if stats.Hits != 1 || stats.Fallbacks != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if store.Len() != 1 {
		t.Errorf("disabled summarizer must not add cache entries, len = %d", store.Len())
	}
}

func TestResolvePreservesInputOrder(t *testing.T) {
	c := &fakeClient{summary: "s"}
	svc := testService(c)
	store := cache.New()

	articles := []article.Article{
		testArticle("fp1", "One"),
		testArticle("fp2", "Two"),
		testArticle("fp3", "Three"),
	}
	resolved, _ := svc.Resolve(context.Background(), articles, store)

	for i, a := range articles {
		if resolved[i].Article.Fingerprint != a.Fingerprint {
			t.Errorf("slot %d holds %s, want %s", i, resolved[i].Article.Fingerprint, a.Fingerprint)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"429", &APIError{StatusCode: 429}, true},
		{"503", &APIError{StatusCode: 503}, true},
		{"408", &APIError{StatusCode: 408}, true},
		{"400", &APIError{StatusCode: 400}, false},
		{"401", &APIError{StatusCode: 401}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("nope"), false},
	}
	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFallbackSummary(t *testing.T) {
	a := testArticle("fp", "T")
	a.Excerpt = "The finding is significant because of reasons. More detail follows here."
	if got := FallbackSummary(a); got != "The finding is significant because of reasons." {
		t.Errorf("expected first sentence, got %q", got)
	}

	a.Excerpt = ""
	a.Title = "Just A Headline"
	if got := FallbackSummary(a); got != "Just A Headline" {
		t.Errorf("expected title fallback, got %q", got)
	}
}
