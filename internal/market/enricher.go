// Package market implements the MarketEnricher: attaching on-chain data to
// each TokenRecord via an ordered fallback chain of providers.
package market

import (
	"context"
	"sync"
	"time"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/domain/repository"
	"tokenpulse/internal/ratelimit"
	"tokenpulse/internal/sentiment"
	"tokenpulse/pkg/cache"
	"tokenpulse/pkg/logger"
	"tokenpulse/pkg/queue"
	"tokenpulse/pkg/retry"
)

// DefaultParallelism is the default number of symbols enriched
// concurrently.
const DefaultParallelism = 4

// DefaultProviderTimeout bounds a single provider call.
const DefaultProviderTimeout = 10 * time.Second

// DefaultCooldown is the minimum interval a rate-limited provider is
// skipped before being consulted again.
const DefaultCooldown = 30 * time.Second

// Enricher attempts an ordered provider chain for every TokenRecord and
// produces a CoinEntry for each, even on total enrichment failure.
type Enricher struct {
	providers   []repository.MarketProvider
	cooldowns   *ratelimit.CooldownTracker
	metrics     repository.Metrics
	log         *logger.Logger
	cache       cache.Service // optional, nil-safe
	backlog     *queue.RedisQueue // optional, nil-safe best-effort miss backlog
	parallelism int
	timeout     time.Duration
	retryPolicy retry.Policy
}

// Option configures an Enricher.
type Option func(*Enricher)

func WithCache(c cache.Service) Option {
	return func(e *Enricher) { e.cache = c }
}

func WithMissBacklog(q *queue.RedisQueue) Option {
	return func(e *Enricher) { e.backlog = q }
}

func WithParallelism(p int) Option {
	return func(e *Enricher) {
		if p > 0 {
			e.parallelism = p
		}
	}
}

func WithProviderTimeout(d time.Duration) Option {
	return func(e *Enricher) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(e *Enricher) { e.cooldowns = ratelimit.NewCooldownTracker(d) }
}

// New builds an Enricher over an ordered provider chain (earliest wins on
// field conflicts).
func New(providers []repository.MarketProvider, metrics repository.Metrics, log *logger.Logger, opts ...Option) *Enricher {
	e := &Enricher{
		providers:   providers,
		cooldowns:   ratelimit.NewCooldownTracker(DefaultCooldown),
		metrics:     metrics,
		log:         log,
		parallelism: DefaultParallelism,
		timeout:     DefaultProviderTimeout,
		retryPolicy: retry.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run enriches every TokenRecord in parallel (bounded by e.parallelism) and
// returns one CoinEntry per record, preserving input order.
func (e *Enricher) Run(ctx context.Context, records []models.TokenRecord) []models.CoinEntry {
	coins := make([]models.CoinEntry, len(records))
	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup

	for i, rec := range records {
		i, rec := i, rec
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			coins[i] = e.enrichOne(ctx, rec)
		}()
	}
	wg.Wait()
	return coins
}

func (e *Enricher) enrichOne(ctx context.Context, rec models.TokenRecord) models.CoinEntry {
	entry := models.FromTokenRecord(rec)
	if latest, err := sentiment.LatestPost(rec.Posts); err == nil {
		entry.LatestPost = &latest
	}

	// Later providers are consulted only while market fields are still
	// missing; once every field is filled the rest of the chain is
	// skipped. A provider miss never short-circuits the chain, and a
	// later provider may still fill fields (notably logoUrl) the earlier
	// ones left empty.
	for _, provider := range e.providers {
		if marketComplete(&entry) {
			break
		}
		if e.cooldowns.Active(provider.Name()) {
			continue
		}
		if info, ok := e.lookupCached(ctx, provider, rec.Symbol, true); ok {
			info.MergeInto(&entry)
		}
	}

	return entry
}

// Refresh re-runs the provider chain for entry's symbol and merges any
// newly available market fields. Misses are not re-recorded on the
// backlog, so a refresh never re-enqueues the work that triggered it.
// Reports whether anything new was merged.
func (e *Enricher) Refresh(ctx context.Context, entry *models.CoinEntry) bool {
	before := *entry
	for _, provider := range e.providers {
		if marketComplete(entry) {
			break
		}
		if e.cooldowns.Active(provider.Name()) {
			continue
		}
		if info, ok := e.lookupCached(ctx, provider, entry.Symbol, false); ok {
			info.MergeInto(entry)
		}
	}
	return entry.Address != before.Address || entry.Chain != before.Chain ||
		entry.LogoURL != before.LogoURL ||
		(entry.PriceUsd != nil) != (before.PriceUsd != nil) ||
		(entry.Change24h != nil) != (before.Change24h != nil) ||
		(entry.Decimals != nil) != (before.Decimals != nil)
}

// marketComplete reports whether every market field a provider could
// supply is already present on entry.
func marketComplete(entry *models.CoinEntry) bool {
	return entry.Address != "" && entry.Chain != "" && entry.PriceUsd != nil &&
		entry.Change24h != nil && entry.LogoURL != "" && entry.Decimals != nil
}

func (e *Enricher) lookupCached(ctx context.Context, provider repository.MarketProvider, symbol string, recordMisses bool) (models.PartialMarketInfo, bool) {
	cacheKey := provider.Name() + ":" + symbol
	if e.cache != nil {
		var cached models.PartialMarketInfo
		if err := e.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached, true
		}
	}

	start := time.Now()
	var info models.PartialMarketInfo
	err := retry.Do(ctx, e.retryPolicy, func(ctx context.Context, attempt int) error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		result, err := provider.Lookup(callCtx, symbol)
		if err != nil {
			if _, ok := err.(*repository.RateLimitError); ok {
				e.cooldowns.Trip(provider.Name())
				e.metrics.RecordProviderCooldown(provider.Name())
				return retry.ErrRateLimited
			}
			return err
		}
		info = result
		return nil
	})
	e.metrics.RecordProviderLatency(provider.Name(), time.Since(start).Seconds())

	if err != nil {
		e.log.Warn("market: provider lookup failed", logger.String("provider", provider.Name()),
			logger.String("symbol", symbol), logger.Error(err))
		if recordMisses {
			e.recordMiss(ctx, provider.Name(), symbol)
		}
		return models.PartialMarketInfo{}, false
	}
	if info.IsEmpty() {
		if recordMisses {
			e.recordMiss(ctx, provider.Name(), symbol)
		}
		return info, false
	}

	if e.cache != nil {
		_ = e.cache.Set(ctx, cacheKey, info, 5*time.Minute)
	}
	return info, true
}

func (e *Enricher) recordMiss(ctx context.Context, provider, symbol string) {
	if e.backlog == nil {
		return
	}
	_ = e.backlog.Enqueue(ctx, MissType, MissPayload{Provider: provider, Symbol: symbol})
}
