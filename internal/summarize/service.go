package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"newsdigest/internal/article"
	"newsdigest/internal/cache"
)

// ExhaustedError marks an article whose summarization failed after every
// retry. Article-scoped and non-fatal: the caller substitutes a fallback
// summary and leaves the cache untouched so a later run retries fresh.
type ExhaustedError struct {
	Fingerprint string
	Attempts    int
	Err         error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("summarization exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Options tunes the summarization stage. Zero values pick safe defaults.
type Options struct {
	MaxConcurrent  int
	MaxAttempts    int
	InitialBackoff time.Duration
	RequestTimeout time.Duration
	RequestsPerSec float64
	MaxWords       int
	Logger         *slog.Logger
}

// Service resolves articles to summaries: cache hits are returned for free,
// misses go through the client under a concurrency cap, a request rate limit,
// and an exponential-backoff retry policy. A nil client disables the API
// entirely; every miss then gets the excerpt fallback and no cache write.
type Service struct {
	client         Client
	limiter        *rate.Limiter
	maxConcurrent  int
	maxAttempts    int
	initialBackoff time.Duration
	requestTimeout time.Duration
	maxWords       int
	logger         *slog.Logger
	now            func() time.Time
}

func NewService(client Client, opts Options) *Service {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 1
	}
	if opts.MaxWords <= 0 {
		opts.MaxWords = 40
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		client:         client,
		limiter:        rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		maxConcurrent:  opts.MaxConcurrent,
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
		requestTimeout: opts.RequestTimeout,
		maxWords:       opts.MaxWords,
		logger:         opts.Logger,
		now:            time.Now,
	}
}

// Resolved pairs an article with its summary and where it came from.
type Resolved struct {
	Article   article.Article
	Summary   string
	FromCache bool
	Fallback  bool
}

// Stats counts what one Resolve pass did.
type Stats struct {
	Hits       int
	Summarized int
	Fallbacks  int
}

// Resolve produces a summary for every article, in input order. Articles
// fresh in the store never reach the client. Successful API summaries are
// written through to the store; fallbacks are not, so they retry next run.
func (s *Service) Resolve(ctx context.Context, articles []article.Article, store *cache.Store) ([]Resolved, Stats) {
	resolved := make([]Resolved, len(articles))

	var (
		mu    sync.Mutex
		stats Stats
		g     errgroup.Group
	)
	g.SetLimit(s.maxConcurrent)

	for i, a := range articles {
		if e, ok := store.Lookup(a.Fingerprint, a.ContentHash, s.now()); ok {
			resolved[i] = Resolved{Article: a, Summary: e.Summary, FromCache: true}
			stats.Hits++
			continue
		}

		if s.client == nil {
			resolved[i] = Resolved{Article: a, Summary: FallbackSummary(a), Fallback: true}
			stats.Fallbacks++
			continue
		}

		i, a := i, a
		g.Go(func() error {
			summary, err := s.summarizeWithRetry(ctx, a)
			if err != nil {
				s.logger.Warn("summarization failed, using excerpt fallback",
					"source", a.Source, "fingerprint", a.Fingerprint, "error", err)
				resolved[i] = Resolved{Article: a, Summary: FallbackSummary(a), Fallback: true}
				mu.Lock()
				stats.Fallbacks++
				mu.Unlock()
				return nil
			}
			store.Put(a.Fingerprint, a.ContentHash, summary, s.now())
			resolved[i] = Resolved{Article: a, Summary: summary}
			mu.Lock()
			stats.Summarized++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return resolved, stats
}

// summarizeWithRetry runs one summarization call under the retry policy:
// exponential backoff, at most maxAttempts attempts, transient errors only.
func (s *Service) summarizeWithRetry(ctx context.Context, a article.Article) (string, error) {
	var (
		summary  string
		attempts int
	)

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()

		text, err := s.client.Summarize(reqCtx, Request{
			Title:    a.Title,
			Excerpt:  a.Excerpt,
			MaxWords: s.maxWords,
		})
		if err != nil {
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		summary = text
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return "", &ExhaustedError{Fingerprint: a.Fingerprint, Attempts: attempts, Err: err}
	}
	return summary, nil
}

// retryable classifies client errors: request timeouts, transport failures,
// and 408/429/5xx responses are transient; everything else is permanent.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// FallbackSummary substitutes for an article that could not be summarized:
// the excerpt's first sentence, or a truncation, or the bare title.
func FallbackSummary(a article.Article) string {
	desc := a.Excerpt
	if desc == "" {
		return a.Title
	}
	for i, c := range desc {
		if c == '.' && i > 20 {
			return desc[:i+1]
		}
	}
	runes := []rune(desc)
	if len(runes) > 150 {
		return string(runes[:150]) + "..."
	}
	return desc
}
