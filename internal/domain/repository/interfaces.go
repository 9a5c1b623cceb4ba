package repository

import (
	"context"
	"time"

	"tokenpulse/internal/domain/models"
)

// PageFetcher is the abstract browser-automation transport a scrape Worker
// drives to load and read a listing page. Its implementation (a real
// headless browser or similar) is outside this module's scope.
type PageFetcher interface {
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, script string) (any, error)
	Close() error
}

// Candidate is a single listing-page item a Worker extracted, before it has
// been assigned a Post id or deduplicated against the SeenSet.
type Candidate struct {
	Source       string
	Platform     string
	Title        string
	Content      string
	Author       string
	Timestamp    time.Time
	PostAge      string
	Upvotes      int
	CommentCount int
	Link         string
	HasComments  bool
}

// Worker drives one source's PageFetcher through one scrape pass. A source
// descriptor is opaque to the Coordinator; it only needs a Worker.
type Worker interface {
	// SourceTag identifies this worker's source for SeenSet keys and log
	// attribution (e.g. a subreddit name).
	SourceTag() string

	// FetchListing returns the candidates visible on the current listing
	// page, in page order. ok is false once there is nothing further to
	// scroll to.
	FetchListing(ctx context.Context, page int) (candidates []Candidate, ok bool, err error)

	// FetchComments returns up to limit comment bodies for a candidate that
	// reported HasComments.
	FetchComments(ctx context.Context, c Candidate, limit int) ([]string, error)
}

// TokenOracle is the slow network-backed symbol-identification service the
// TokenResolver falls back to when the regex fast path is inconclusive.
type TokenOracle interface {
	Identify(ctx context.Context, prompt string) (symbol string, err error)
}

// ScoreFunc is the injected pure sentiment scorer: text in, a score in
// [-1, 1] out. Its implementation is outside this module's scope.
type ScoreFunc func(text string) float64

// MarketProvider is one link in the MarketEnricher's ordered fallback
// chain.
type MarketProvider interface {
	// Name identifies the provider for cooldown tracking, cache keys, and
	// log attribution.
	Name() string

	// Lookup returns whatever subset of market fields this provider has
	// for symbol. A miss returns a zero-value, empty PartialMarketInfo
	// and a nil error; a non-nil error signals a transient failure the
	// caller should retry or cool down on.
	Lookup(ctx context.Context, symbol string) (models.PartialMarketInfo, error)
}

// RateLimitError is returned by a MarketProvider (or TokenOracle) to signal
// the caller should start a cooldown instead of retrying immediately.
type RateLimitError struct {
	Provider string
}

func (e *RateLimitError) Error() string {
	return "rate limited by provider " + e.Provider
}

// ScrapeStore is the persistent, append/replace-semantics document backing
// the ScrapeCoordinator and TokenResolver.
type ScrapeStore interface {
	// Seen reports whether key has already been recorded, consulting both
	// the in-memory SeenSet and (on first touch) the backing file.
	Seen(key models.PostKey) bool

	// Append adds a new post, returns false if it was already present
	// (caller should treat as a no-op, not an error).
	Append(ctx context.Context, p models.Post) (bool, error)

	// UpdateSymbol performs the read-modify-write that attaches a resolved
	// token symbol to an already-stored post.
	UpdateSymbol(ctx context.Context, postID int64, symbol string) error

	// Reset overwrites the store with an empty array (used by
	// /api/scraper/start).
	Reset(ctx context.Context) error

	// All returns every stored post, in the order used to seed the
	// in-memory SeenSet at startup.
	All(ctx context.Context) ([]models.Post, error)

	// NextID returns the next process-wide monotonic post id.
	NextID() int64
}

// SentimentStore is the full-replacement document produced by the
// SentimentAggregator.
type SentimentStore interface {
	Replace(ctx context.Context, records []models.TokenRecord) error
	All(ctx context.Context) ([]models.TokenRecord, error)
}

// CoinStore is the full-replacement document produced by the
// MarketEnricher.
type CoinStore interface {
	Replace(ctx context.Context, coins []models.CoinEntry) error
	All(ctx context.Context) ([]models.CoinEntry, error)
	Count(ctx context.Context) (int, error)
}

// Metrics is the Prometheus-backed recorder interface injected into every
// component so counters/histograms stay out of business logic.
type Metrics interface {
	RecordScrapePost(source string)
	RecordScrapeError(source, kind string)
	RecordResolverQueueDepth(depth int)
	RecordResolverLatency(path string, seconds float64)
	RecordProviderLatency(provider string, seconds float64)
	RecordProviderCooldown(provider string)
	RecordPipelineStageDuration(stage string, seconds float64)
	RecordEventDropped(reason string)
}
