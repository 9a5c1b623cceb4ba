// Package resolve implements the TokenResolver: a serializing queue in
// front of a slow network-backed oracle, with a cheap regex fast path.
package resolve

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
	"tokenpulse/internal/ratelimit"
	"tokenpulse/pkg/logger"
	"tokenpulse/pkg/retry"
)

// symbolPattern matches a word-boundaried $TICKER token of 2-5 uppercase
// letters.
var symbolPattern = regexp.MustCompile(`\$([A-Z]{2,5})\b`)

// DefaultOracleTimeout bounds a single oracle call attempt.
const DefaultOracleTimeout = 10 * time.Second

// Resolver serializes calls to the oracle behind a global concurrency-1
// semaphore (the oracle rate-limits aggressively) and memoizes results by
// post id so a post is never resolved twice.
type Resolver struct {
	oracle      repository.TokenOracle
	store       repository.ScrapeStore
	metrics     repository.Metrics
	log         *logger.Logger
	retryPolicy retry.Policy
	commentsK   int

	limiter      *ratelimit.Limiter
	refillPerSec float64
	timeout      time.Duration

	sem    chan struct{}
	memoMu sync.Mutex
	memo   map[int64]string
}

// Option configures a Resolver beyond its required collaborators.
type Option func(*Resolver)

// WithRateLimiter paces oracle calls through l on top of the concurrency-1
// semaphore, so a burst of queued posts still drains at refillPerSec calls
// per second at most.
func WithRateLimiter(l *ratelimit.Limiter, refillPerSec float64) Option {
	return func(r *Resolver) {
		if l != nil && refillPerSec > 0 {
			r.limiter = l
			r.refillPerSec = refillPerSec
		}
	}
}

// WithTimeout bounds each individual oracle call attempt.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New builds a Resolver. commentsK bounds how many joined comments feed the
// oracle prompt.
func New(oracle repository.TokenOracle, store repository.ScrapeStore, metrics repository.Metrics, log *logger.Logger, commentsK int, opts ...Option) *Resolver {
	if commentsK <= 0 {
		commentsK = 5
	}
	r := &Resolver{
		oracle:      oracle,
		store:       store,
		metrics:     metrics,
		log:         log,
		retryPolicy: retry.Default(),
		commentsK:   commentsK,
		timeout:     DefaultOracleTimeout,
		sem:         make(chan struct{}, 1),
		memo:        make(map[int64]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the token symbol for post, consulting the regex fast
// path first and falling back to the oracle under the global semaphore. A
// resolved symbol is persisted back onto the post's ScrapeStore record. An
// empty return with a nil error means the post stays symbol-less.
func (r *Resolver) Resolve(ctx context.Context, post models.Post) (string, error) {
	if symbol, ok := r.memoized(post.ID); ok {
		return symbol, nil
	}

	start := time.Now()
	if symbol, ok := fastPath(post.Title); ok {
		r.metrics.RecordResolverLatency("fast", time.Since(start).Seconds())
		r.remember(post.ID, symbol)
		r.persist(ctx, post.ID, symbol)
		return symbol, nil
	}

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-r.sem }()

	if err := r.waitLimiter(ctx); err != nil {
		return "", err
	}

	r.metrics.RecordResolverQueueDepth(len(r.sem))

	prompt := r.buildPrompt(post)
	var symbol string
	err := retry.Do(ctx, r.retryPolicy, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		s, err := r.oracle.Identify(callCtx, prompt)
		if err != nil {
			return err
		}
		symbol = s
		return nil
	})
	r.metrics.RecordResolverLatency("oracle", time.Since(start).Seconds())
	if err != nil {
		r.log.Warn("resolver: oracle identification failed, leaving post unresolved",
			logger.Int64("postId", post.ID), logger.Error(err))
		r.remember(post.ID, "")
		return "", nil
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	r.remember(post.ID, symbol)
	if symbol != "" {
		r.persist(ctx, post.ID, symbol)
	}
	return symbol, nil
}

// waitLimiter blocks until the configured rate limiter grants a token for
// the oracle, or ctx is cancelled. A nil limiter grants immediately.
func (r *Resolver) waitLimiter(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	for !r.limiter.Allow("oracle", 1, r.refillPerSec) {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Resolver) buildPrompt(post models.Post) string {
	comments := post.Comments
	if len(comments) > r.commentsK {
		comments = comments[:r.commentsK]
	}
	return fmt.Sprintf("title: %s\ncontent: %s\ncomments: %s", post.Title, post.Content, strings.Join(comments, " | "))
}

func (r *Resolver) persist(ctx context.Context, postID int64, symbol string) {
	if err := r.store.UpdateSymbol(ctx, postID, symbol); err != nil {
		r.log.Error("resolver: failed to persist resolved symbol", logger.Int64("postId", postID), logger.Error(err))
	}
}

func (r *Resolver) memoized(postID int64) (string, bool) {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	symbol, ok := r.memo[postID]
	return symbol, ok
}

func (r *Resolver) remember(postID int64, symbol string) {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	r.memo[postID] = symbol
}

// fastPath applies the $TICKER regex over title. It succeeds only when
// exactly one distinct symbol is matched.
func fastPath(title string) (string, bool) {
	matches := symbolPattern.FindAllStringSubmatch(title, -1)
	if len(matches) == 0 {
		return "", false
	}
	distinct := make(map[string]struct{})
	for _, m := range matches {
		distinct[m[1]] = struct{}{}
	}
	if len(distinct) != 1 {
		return "", false
	}
	return matches[0][1], true
}
