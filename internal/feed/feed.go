// Package feed retrieves and parses RSS/Atom sources. Each source is fetched
// independently: a failure is recorded on that source's result and never
// aborts the others.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"newsdigest/internal/config"
)

const userAgent = "newsdigest/1.0 (+https://github.com/newsdigest)"

// FetchError marks a network or HTTP-level failure for one source.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetching %s: %v", e.Source, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// ParseError marks a malformed feed body for one source.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parsing %s: %v", e.Source, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// Entry is a raw feed item in the feed's own order. Published is nil when the
// feed carries no usable date.
type Entry struct {
	Title       string
	Link        string
	Description string
	Published   *time.Time
}

type Fetcher interface {
	Fetch(ctx context.Context, src config.Source) ([]Entry, error)
}

// RSSFetcher fetches a feed over HTTP and parses it with gofeed. The GET and
// the parse are separate steps so network failures and malformed bodies
// classify as distinct error kinds.
type RSSFetcher struct {
	client *http.Client
	parser *gofeed.Parser
	maxAge time.Duration
	now    func() time.Time
}

func NewRSSFetcher(timeout, maxAge time.Duration) *RSSFetcher {
	return &RSSFetcher{
		client: &http.Client{Timeout: timeout},
		parser: gofeed.NewParser(),
		maxAge: maxAge,
		now:    time.Now,
	}
}

func (f *RSSFetcher) Fetch(ctx context.Context, src config.Source) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, &FetchError{Source: src.Name, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: src.Name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: src.Name, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	doc, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, &ParseError{Source: src.Name, Err: err}
	}

	var cutoff time.Time
	if f.maxAge > 0 {
		cutoff = f.now().Add(-f.maxAge)
	}

	entries := make([]Entry, 0, len(doc.Items))
	for _, item := range doc.Items {
		if item.Title == "" && item.Link == "" {
			continue
		}

		var pub *time.Time
		if item.PublishedParsed != nil {
			pub = item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			pub = item.UpdatedParsed
		}

		// Skip dated entries outside the ingestion window; undated ones stay.
		if pub != nil && !cutoff.IsZero() && pub.Before(cutoff) {
			continue
		}

		desc := item.Description
		if desc == "" {
			desc = item.Content
		}

		entries = append(entries, Entry{
			Title:       item.Title,
			Link:        item.Link,
			Description: desc,
			Published:   pub,
		})

		if src.MaxArticles > 0 && len(entries) >= src.MaxArticles {
			break
		}
	}
	return entries, nil
}

// Result pairs one source with its entries (feed order) or its failure.
type Result struct {
	Source  config.Source
	Entries []Entry
	Err     error
}

// FetchAll fans sources out over a bounded worker pool and collects every
// result before returning. Results are indexed by registry order, not
// completion order, so downstream dedup is deterministic.
func FetchAll(ctx context.Context, f Fetcher, sources []config.Source, workers int) []Result {
	results := make([]Result, len(sources))

	var g errgroup.Group
	limit := workers
	if limit <= 0 || limit > len(sources) {
		limit = len(sources)
	}
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			entries, err := f.Fetch(ctx, src)
			results[i] = Result{Source: src, Entries: entries, Err: err}
			return nil
		})
	}
	g.Wait()

	return results
}
