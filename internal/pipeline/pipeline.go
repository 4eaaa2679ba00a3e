// Package pipeline wires the run together: fetch → normalize/dedup → cache
// lookup → summarize → cache flush → digest assembly → output.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"newsdigest/internal/archive"
	"newsdigest/internal/article"
	"newsdigest/internal/cache"
	"newsdigest/internal/config"
	"newsdigest/internal/digest"
	"newsdigest/internal/feed"
	"newsdigest/internal/summarize"
)

// ErrNoArticles is the single fatal run condition: every source failed or
// nothing survived dedup. Individual source failures are not fatal.
var ErrNoArticles = errors.New("no articles retrieved from any source")

// Options overrides pipeline collaborators. Fetcher and Client exist so tests
// can substitute fakes; production runs leave them nil.
type Options struct {
	OutputPath        string // "" writes the digest to stdout
	CachePath         string
	ArchivePath       string // "" disables the run archive
	DisableSummarizer bool
	Logger            *slog.Logger
	Fetcher           feed.Fetcher
	Client            summarize.Client
	Now               func() time.Time
}

// Report summarizes what one run did.
type Report struct {
	Sources        int
	SourceFailures int
	Fetched        int
	Duplicates     int
	Articles       int
	CacheHits      int
	Summarized     int
	Fallbacks      int
	CacheEvicted   int
}

// Run executes one full pipeline pass. The run degrades rather than aborts:
// failed sources yield zero entries, exhausted summarizations fall back to
// excerpts, and the run-level timeout moves on to assembly with whatever
// resolved. Only a config problem, an empty result set, or a failed cache
// flush surface as errors.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeoutDuration())
	defer cancel()

	sources := cfg.EnabledSources()
	if len(sources) == 0 {
		return nil, errors.New("no sources enabled")
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = feed.NewRSSFetcher(cfg.FetchTimeout(), cfg.FetchMaxAge())
	}

	report := &Report{Sources: len(sources)}

	results := feed.FetchAll(ctx, fetcher, sources, cfg.FetchWorkers())
	for _, r := range results {
		if r.Err != nil {
			report.SourceFailures++
			logger.Warn("source failed", "source", r.Source.Name, "kind", errorKind(r.Err), "error", r.Err)
			continue
		}
		report.Fetched += len(r.Entries)
	}

	articles := article.NormalizeAll(results, logger)
	deduped, dropped := article.Dedup(articles)
	report.Duplicates = dropped
	report.Articles = len(deduped)

	if len(deduped) == 0 {
		return report, ErrNoArticles
	}

	store, err := cache.Load(opts.CachePath, cfg.RetentionDuration(), now())
	if err != nil {
		// Cold-cache run: more API spend this time, but not fatal.
		logger.Warn("cache unavailable, proceeding cold", "error", err)
	}
	report.CacheEvicted = store.Evicted()

	client, err := buildClient(cfg, opts, logger)
	if err != nil {
		return report, err
	}

	svc := summarize.NewService(client, summarize.Options{
		MaxConcurrent:  cfg.SummarizeConcurrency(),
		MaxAttempts:    cfg.SummarizeAttempts(),
		InitialBackoff: cfg.SummarizeBackoff(),
		RequestTimeout: cfg.SummarizeRequestTimeout(),
		RequestsPerSec: cfg.SummarizeRate(),
		MaxWords:       cfg.SummaryMaxWords(),
		Logger:         logger,
	})

	resolved, stats := svc.Resolve(ctx, deduped, store)
	report.CacheHits = stats.Hits
	report.Summarized = stats.Summarized
	report.Fallbacks = stats.Fallbacks

	// Losing the cache silently would mean unbounded repeat API spend, so a
	// flush failure is a run-level failure.
	if err := store.Flush(opts.CachePath); err != nil {
		return report, fmt.Errorf("flushing summary cache: %w", err)
	}

	doc := digest.Build(now(), resolved, cfg.Categories)
	if err := writeDigest(opts.OutputPath, doc); err != nil {
		return report, fmt.Errorf("writing digest: %w", err)
	}

	if opts.ArchivePath != "" {
		if err := recordArchive(opts.ArchivePath, now(), resolved); err != nil {
			logger.Warn("archiving run failed", "error", err)
		}
	}

	logger.Info("run complete",
		"sources", report.Sources,
		"source_failures", report.SourceFailures,
		"articles", report.Articles,
		"duplicates", report.Duplicates,
		"cache_hits", report.CacheHits,
		"summarized", report.Summarized,
		"fallbacks", report.Fallbacks)

	return report, nil
}

func buildClient(cfg *config.Config, opts Options, logger *slog.Logger) (summarize.Client, error) {
	if opts.DisableSummarizer {
		logger.Info("summarization disabled, using excerpt fallbacks")
		return nil, nil
	}
	if opts.Client != nil {
		return opts.Client, nil
	}
	if !cfg.SummarizerEnabled() {
		logger.Info("no summarization API key configured, using excerpt fallbacks")
		return nil, nil
	}
	return summarize.NewClient(cfg.Summarizer.Provider, cfg.Summarizer.Model, cfg.APIKey(), cfg.SummarizeRequestTimeout())
}

func errorKind(err error) string {
	var fetchErr *feed.FetchError
	if errors.As(err, &fetchErr) {
		return "fetch"
	}
	var parseErr *feed.ParseError
	if errors.As(err, &parseErr) {
		return "parse"
	}
	return "unknown"
}

// writeDigest emits the digest document as JSON, atomically when writing to a
// file so the external publisher never reads a half-written digest.
func writeDigest(path string, doc digest.Digest) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func recordArchive(path string, runAt time.Time, resolved []summarize.Resolved) error {
	db, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	items := make([]archive.Item, len(resolved))
	for i, r := range resolved {
		items[i] = archive.Item{
			Fingerprint: r.Article.Fingerprint,
			Source:      r.Article.Source,
			Category:    r.Article.Category,
			Title:       r.Article.Title,
			Link:        r.Article.Link,
			Published:   r.Article.Published,
			HasDate:     r.Article.HasDate,
			Summary:     r.Summary,
			FromCache:   r.FromCache,
		}
	}
	return db.Record(runAt, items)
}
